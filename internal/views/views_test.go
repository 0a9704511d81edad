package views_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"upsnapshot/internal/snapshot"
	"upsnapshot/internal/upapi"
	"upsnapshot/internal/views"
)

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func account(t *testing.T, id, name, balance string) upapi.Resource {
	return upapi.Resource{
		Type: "accounts",
		ID:   id,
		Attributes: raw(t, map[string]any{
			"displayName":   name,
			"accountType":   "TRANSACTIONAL",
			"ownershipType": "INDIVIDUAL",
			"balance":       map[string]string{"currencyCode": "AUD", "value": balance},
		}),
	}
}

func transaction(t *testing.T, id, desc, amount string, tags ...string) upapi.Resource {
	tagData := make([]map[string]string, 0, len(tags))
	for _, tag := range tags {
		tagData = append(tagData, map[string]string{"type": "tags", "id": tag})
	}
	return upapi.Resource{
		Type: "transactions",
		ID:   id,
		Attributes: raw(t, map[string]any{
			"description": desc,
			"amount":      map[string]string{"currencyCode": "AUD", "value": amount},
			"createdAt":   "2025-03-01T10:00:00+11:00",
		}),
		Relationships: raw(t, map[string]any{
			"category": map[string]any{"data": map[string]string{"type": "categories", "id": "groceries"}},
			"tags":     map[string]any{"data": tagData},
		}),
	}
}

func build(t *testing.T) *snapshot.Snapshot {
	t.Helper()
	return snapshot.BuildAt(time.Unix(0, 0).UTC(),
		upapi.NewDocument(
			account(t, "acc-1", "Spending", "10.50"),
			account(t, "acc-2", "Rainy Day!", "-3.20"),
			account(t, "acc-3", "Broken", "not-a-number"),
		),
		upapi.NewDocument(
			transaction(t, "tx-2", "Woolworths", "-12.34", "a", "b"),
			transaction(t, "tx-1", "Salary", "1000.00"),
		),
		upapi.NewDocument(),
		upapi.NewDocument(),
	)
}

func TestAccountBalance(t *testing.T) {
	t.Parallel()

	snap := build(t)

	v, ok := views.AccountBalance(snap, "acc-1")
	require.True(t, ok)
	require.InDelta(t, 10.50, v, 1e-9)

	_, ok = views.AccountBalance(snap, "acc-3")
	require.False(t, ok, "unparsable balance is absent")

	_, ok = views.AccountBalance(snap, "missing")
	require.False(t, ok)

	_, ok = views.AccountBalance(nil, "acc-1")
	require.False(t, ok)
}

func TestAccounts(t *testing.T) {
	t.Parallel()

	got := views.Accounts(build(t))
	require.Len(t, got, 3)
	require.Equal(t, "Spending", got[0].DisplayName)
	require.Equal(t, "TRANSACTIONAL", got[0].AccountType)
	require.Equal(t, "INDIVIDUAL", got[0].OwnershipType)
	require.NotNil(t, got[1].Balance)
	require.InDelta(t, -3.20, *got[1].Balance, 1e-9)
	require.Nil(t, got[2].Balance)

	require.Empty(t, views.Accounts(nil))
}

func TestSummary(t *testing.T) {
	t.Parallel()

	snap := build(t)
	require.InDelta(t, 7.30, views.TotalBalance(snap), 1e-9)
	require.Equal(t, 3, views.AccountCount(snap))
	require.Equal(t, 2, views.TransactionCount(snap))
	require.Equal(t, views.Summary{}, views.Summarize(nil))
}

func TestLatestTransaction(t *testing.T) {
	t.Parallel()

	// Act
	lt, ok := views.LatestTransaction(build(t))

	// Assert
	require.True(t, ok)
	require.Equal(t, "tx-2", lt.ID)
	require.Equal(t, "Woolworths", lt.Description)
	require.NotNil(t, lt.Amount)
	require.InDelta(t, -12.34, *lt.Amount, 1e-9)
	require.Equal(t, "2025-03-01T10:00:00+11:00", lt.CreatedAt)
	require.Equal(t, "groceries", lt.CategoryID)
	require.Equal(t, "a, b", lt.Tags)

	_, ok = views.LatestTransaction(nil)
	require.False(t, ok)
}

func TestTagList(t *testing.T) {
	t.Parallel()

	require.Equal(t, "a, b", views.TagList(transaction(t, "tx", "d", "1.00", "a", "b")))
	require.Equal(t, "", views.TagList(transaction(t, "tx", "d", "1.00")))
	require.Equal(t, "", views.TagList(upapi.Resource{ID: "bare"}))
}

func TestSlugify(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"Spending":         "spending",
		"Rainy Day!":       "rainy_day",
		"  2Up -- Joint  ": "2up_joint",
		"!!!":              "",
	}
	for in, want := range tests {
		require.Equal(t, want, views.Slugify(in), in)
	}
}

func TestSensors(t *testing.T) {
	t.Parallel()

	// Act
	got := views.Sensors("entry1", build(t))

	// Assert: 3 accounts + 3 totals + 5 latest-transaction fields
	require.Len(t, got, 11)
	byID := map[string]views.Sensor{}
	for _, s := range got {
		require.NotContains(t, byID, s.UniqueID, "unique ids")
		byID[s.UniqueID] = s
	}

	acct := byID["entry1_acct_acc-2_balance"]
	require.Equal(t, "sensor.rainy_day_balance", acct.EntityID)
	require.Equal(t, "Rainy Day! Balance", acct.Name)
	require.Equal(t, "mdi:bank", acct.Icon)
	require.Equal(t, "AUD", acct.Unit)
	require.InDelta(t, -3.20, acct.Value, 1e-9)
	require.Nil(t, byID["entry1_acct_acc-3_balance"].Value)
	require.Equal(t, views.Device{Identifier: "entry1", Name: "Up Bank", Manufacturer: "Up"}, acct.Device)

	total := byID["entry1_total_balance"]
	require.Equal(t, "sensor.up_total_balance", total.EntityID)
	require.Equal(t, "mdi:cash-multiple", total.Icon)
	require.InDelta(t, 7.30, total.Value, 1e-9)

	require.Equal(t, 3, byID["entry1_account_count"].Value)
	require.Equal(t, 2, byID["entry1_transaction_count"].Value)
	require.Equal(t, "a, b", byID["entry1_latest_txn_tags"].Value)
	require.Equal(t, "mdi:tag-multiple", byID["entry1_latest_txn_tags"].Icon)
	require.Equal(t, "Up Latest Transaction Category", byID["entry1_latest_txn_category"].Name)
	require.Equal(t, "sensor.up_latest_transaction_time", byID["entry1_latest_txn_time"].EntityID)
}

func TestSensors_NoSnapshot(t *testing.T) {
	t.Parallel()

	got := views.Sensors("entry1", nil)
	require.Len(t, got, 8)
	for _, s := range got {
		require.Nil(t, s.Value, s.UniqueID)
		require.Equal(t, "entry1", s.Device.Identifier)
	}
}
