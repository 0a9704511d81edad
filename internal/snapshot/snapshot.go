// Package snapshot turns the raw documents of one refresh cycle into an
// immutable Snapshot with derived totals.
package snapshot

import (
	"time"

	"upsnapshot/internal/upapi"
)

// Summary holds the aggregates derived from a snapshot's collections.
type Summary struct {
	TotalBalance     float64 `json:"total_balance"`
	AccountCount     int     `json:"account_count"`
	TransactionCount int     `json:"transaction_count"`
}

// Snapshot is the fully built result of one successful cycle. It is never
// modified after Build returns; share it by pointer.
type Snapshot struct {
	Accounts     []upapi.Resource `json:"accounts"`
	Transactions []upapi.Resource `json:"transactions"` // most recent first
	Categories   []upapi.Resource `json:"categories"`
	Tags         []upapi.Resource `json:"tags"`
	Summary      Summary          `json:"summary"`
	FetchedAt    time.Time        `json:"fetched_at"`

	// Degradations lists what was absorbed while building.
	Degradations []Degradation `json:"degradations,omitempty"`
}

// Collection names a snapshot collection.
type Collection string

const (
	CollectionAccounts     Collection = "accounts"
	CollectionTransactions Collection = "transactions"
	CollectionCategories   Collection = "categories"
	CollectionTags         Collection = "tags"
)

// DegradationKind classifies a non-fatal problem found while building.
type DegradationKind string

const (
	// DegradedCollection: data was missing or not an array; treated as empty.
	DegradedCollection DegradationKind = "collection"
	// DegradedEntity: an element of data was not a resource object; skipped.
	DegradedEntity DegradationKind = "entity"
	// DegradedBalance: an account balance could not be parsed; left out of the total.
	DegradedBalance DegradationKind = "balance"
)

// Degradation is one absorbed problem. It never fails a build.
type Degradation struct {
	Kind       DegradationKind `json:"kind"`
	Collection Collection      `json:"collection"`
	ID         string          `json:"id,omitempty"`
	Detail     string          `json:"detail"`
}

// Degraded reports whether anything was absorbed while building s.
func (s *Snapshot) Degraded() bool { return s != nil && len(s.Degradations) > 0 }
