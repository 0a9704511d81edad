package upapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// ErrNotCollection reports a document whose data member is missing or not an array.
var ErrNotCollection = errors.New("upapi: data is not a collection")

// Links are the pagination links of a collection document.
type Links struct {
	Prev *string `json:"prev"`
	Next *string `json:"next"`
}

// Document is the raw payload of one endpoint. Data is kept undecoded so a
// surprising shape degrades instead of failing the request.
type Document struct {
	Data  json.RawMessage `json:"data"`
	Links *Links          `json:"links,omitempty"`
}

// NewDocument wraps resources in a collection document.
func NewDocument(resources ...Resource) Document {
	if resources == nil {
		resources = []Resource{}
	}
	b, _ := json.Marshal(resources)
	return Document{Data: b}
}

// Resources decodes the data array. Elements that are not resource objects are
// skipped and counted.
func (d Document) Resources() (resources []Resource, skipped int, err error) {
	raw := bytes.TrimSpace(d.Data)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, 0, ErrNotCollection
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, 0, ErrNotCollection
	}
	resources = make([]Resource, 0, len(elems))
	for _, e := range elems {
		var r Resource
		if bytes.Equal(bytes.TrimSpace(e), []byte("null")) {
			skipped++
			continue
		}
		if err := json.Unmarshal(e, &r); err != nil {
			skipped++
			continue
		}
		resources = append(resources, r)
	}
	return resources, skipped, nil
}

// Resource is one JSON:API resource object. Identity is typed; everything
// else is kept as raw JSON and read through the accessors below.
type Resource struct {
	Type          string          `json:"type"`
	ID            string          `json:"id"`
	Attributes    json.RawMessage `json:"attributes,omitempty"`
	Relationships json.RawMessage `json:"relationships,omitempty"`
	Links         json.RawMessage `json:"links,omitempty"`
}

// DisplayName is attributes.displayName.
func (r Resource) DisplayName() string { return stringAt(r.Attributes, "displayName") }

// AccountType is attributes.accountType (SAVER, TRANSACTIONAL, HOME_LOAN).
func (r Resource) AccountType() string { return stringAt(r.Attributes, "accountType") }

// OwnershipType is attributes.ownershipType (INDIVIDUAL, JOINT).
func (r Resource) OwnershipType() string { return stringAt(r.Attributes, "ownershipType") }

// Description is attributes.description.
func (r Resource) Description() string { return stringAt(r.Attributes, "description") }

// CreatedAt is attributes.createdAt, verbatim.
func (r Resource) CreatedAt() string { return stringAt(r.Attributes, "createdAt") }

// Balance returns attributes.balance.value as text. The API sends a decimal
// string; a bare JSON number is accepted too.
func (r Resource) Balance() (string, bool) { return scalarAt(r.Attributes, "balance", "value") }

// Amount returns attributes.amount.value as text.
func (r Resource) Amount() (string, bool) { return scalarAt(r.Attributes, "amount", "value") }

// CategoryID is relationships.category.data.id, empty when uncategorised.
func (r Resource) CategoryID() string {
	v, _ := scalarAt(r.Relationships, "category", "data", "id")
	return v
}

// TagIDs lists relationships.tags.data[].id in order. The result is never nil.
func (r Resource) TagIDs() []string {
	ids := []string{}
	raw, ok := lookup(r.Relationships, "tags", "data")
	if !ok {
		return ids
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return ids
	}
	for _, e := range elems {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(e, &obj); err != nil || obj == nil {
			continue
		}
		id, _ := scalarAt(e, "id")
		ids = append(ids, id)
	}
	return ids
}

func stringAt(raw json.RawMessage, path ...string) string {
	v, _ := scalarAt(raw, path...)
	return v
}

// lookup walks nested objects along path.
func lookup(raw json.RawMessage, path ...string) (json.RawMessage, bool) {
	cur := raw
	for _, key := range path {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(cur, &obj); err != nil || obj == nil {
			return nil, false
		}
		next, ok := obj[key]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, len(cur) > 0
}

// scalarAt returns the string or number found at path as text.
func scalarAt(raw json.RawMessage, path ...string) (string, bool) {
	v, ok := lookup(raw, path...)
	if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s, true
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		return strings.TrimSpace(n.String()), true
	}
	return "", false
}
