package views

import (
	"strings"
	"unicode"

	"upsnapshot/internal/snapshot"
)

const (
	Currency           = "AUD"
	DeviceName         = "Up Bank"
	DeviceManufacturer = "Up"

	defaultAccountName = "Up Account"
)

// Device groups every sensor of one entry.
type Device struct {
	Identifier   string `json:"identifier"`
	Name         string `json:"name"`
	Manufacturer string `json:"manufacturer"`
}

// Sensor is one display entity. Value is nil when unavailable; otherwise a
// float64, int or string.
type Sensor struct {
	UniqueID string `json:"unique_id"`
	EntityID string `json:"entity_id"`
	Name     string `json:"name"`
	Icon     string `json:"icon"`
	Unit     string `json:"unit,omitempty"`
	Value    any    `json:"value"`
	Device   Device `json:"device"`
}

// Sensors lists the display catalogue for entry over snap: one balance per
// account, then the totals, then the latest transaction fields.
func Sensors(entryID string, snap *snapshot.Snapshot) []Sensor {
	var out []Sensor
	if snap != nil {
		for _, a := range snap.Accounts {
			if a.ID == "" {
				continue
			}
			name := a.DisplayName()
			if name == "" {
				name = defaultAccountName
			}
			slug := Slugify(name)
			if slug == "" {
				slug = a.ID
			}
			s := Sensor{
				UniqueID: entryID + "_acct_" + a.ID + "_balance",
				EntityID: "sensor." + slug + "_balance",
				Name:     name + " Balance",
				Icon:     "mdi:bank",
				Unit:     Currency,
			}
			if v, ok := balance(a); ok {
				s.Value = v
			}
			out = append(out, s)
		}
	}

	var total, accounts, transactions any
	if snap != nil {
		total = snap.Summary.TotalBalance
		accounts = len(snap.Accounts)
		transactions = len(snap.Transactions)
	}
	out = append(out,
		Sensor{
			UniqueID: entryID + "_total_balance",
			EntityID: "sensor.up_total_balance",
			Name:     "Up Total Balance",
			Icon:     "mdi:cash-multiple",
			Unit:     Currency,
			Value:    total,
		},
		summarySensor(entryID, "account_count", "Up Account Count", accounts),
		summarySensor(entryID, "transaction_count", "Up Transaction Count", transactions),
	)

	lt, ok := LatestTransaction(snap)
	latest := func(suffix, key, icon, unit string, value func() any) Sensor {
		s := Sensor{
			UniqueID: entryID + "_latest_txn_" + key,
			Name:     "Up Latest Transaction " + suffix,
			Icon:     icon,
			Unit:     unit,
		}
		s.EntityID = "sensor." + Slugify(s.Name)
		if ok {
			s.Value = value()
		}
		return s
	}
	out = append(out,
		latest("Description", "description", "mdi:text", "", func() any { return lt.Description }),
		latest("Amount", "amount", "mdi:cash", Currency, func() any {
			if lt.Amount == nil {
				return nil
			}
			return *lt.Amount
		}),
		latest("Time", "time", "mdi:clock-outline", "", func() any { return lt.CreatedAt }),
		latest("Category", "category", "mdi:shape-outline", "", func() any { return lt.CategoryID }),
		latest("Tags", "tags", "mdi:tag-multiple", "", func() any { return lt.Tags }),
	)

	dev := Device{Identifier: entryID, Name: DeviceName, Manufacturer: DeviceManufacturer}
	for i := range out {
		out[i].Device = dev
	}
	return out
}

func summarySensor(entryID, key, name string, value any) Sensor {
	return Sensor{
		UniqueID: entryID + "_" + key,
		EntityID: "sensor." + Slugify(name),
		Name:     name,
		Icon:     "mdi:counter",
		Value:    value,
	}
}

// Slugify lower-cases name and collapses every run of other characters into
// a single underscore, trimming them from the ends.
func Slugify(name string) string {
	var b strings.Builder
	pending := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String()
}
