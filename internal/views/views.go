// Package views derives display values from a snapshot. Every function is
// nil-safe and reads only the snapshot it is given.
package views

import (
	"strings"

	"upsnapshot/internal/snapshot"
	"upsnapshot/internal/upapi"
)

// Account is the display form of one account.
type Account struct {
	ID            string   `json:"id"`
	DisplayName   string   `json:"display_name"`
	AccountType   string   `json:"account_type,omitempty"`
	OwnershipType string   `json:"ownership_type,omitempty"`
	Balance       *float64 `json:"balance"`
}

// Transaction is the display form of one transaction.
type Transaction struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Amount      *float64 `json:"amount"`
	CreatedAt   string   `json:"created_at"`
	CategoryID  string   `json:"category_id"`
	Tags        string   `json:"tags"`
}

// Summary bundles the aggregate values.
type Summary struct {
	TotalBalance     float64 `json:"total_balance"`
	AccountCount     int     `json:"account_count"`
	TransactionCount int     `json:"transaction_count"`
}

// AccountBalance returns the balance of the account with id. It is absent
// when there is no such account or its balance does not parse.
func AccountBalance(snap *snapshot.Snapshot, id string) (float64, bool) {
	if snap == nil {
		return 0, false
	}
	for _, a := range snap.Accounts {
		if a.ID == id {
			return balance(a)
		}
	}
	return 0, false
}

func Accounts(snap *snapshot.Snapshot) []Account {
	if snap == nil {
		return []Account{}
	}
	out := make([]Account, 0, len(snap.Accounts))
	for _, a := range snap.Accounts {
		acc := Account{
			ID:            a.ID,
			DisplayName:   a.DisplayName(),
			AccountType:   a.AccountType(),
			OwnershipType: a.OwnershipType(),
		}
		if v, ok := balance(a); ok {
			acc.Balance = &v
		}
		out = append(out, acc)
	}
	return out
}

func TotalBalance(snap *snapshot.Snapshot) float64 {
	if snap == nil {
		return 0
	}
	return snap.Summary.TotalBalance
}

func AccountCount(snap *snapshot.Snapshot) int {
	if snap == nil {
		return 0
	}
	return snap.Summary.AccountCount
}

func TransactionCount(snap *snapshot.Snapshot) int {
	if snap == nil {
		return 0
	}
	return snap.Summary.TransactionCount
}

func Summarize(snap *snapshot.Snapshot) Summary {
	return Summary{
		TotalBalance:     TotalBalance(snap),
		AccountCount:     AccountCount(snap),
		TransactionCount: TransactionCount(snap),
	}
}

// LatestTransaction reads the first transaction; the API lists newest first.
func LatestTransaction(snap *snapshot.Snapshot) (Transaction, bool) {
	if snap == nil || len(snap.Transactions) == 0 {
		return Transaction{}, false
	}
	tx := snap.Transactions[0]
	lt := Transaction{
		ID:          tx.ID,
		Description: tx.Description(),
		CreatedAt:   tx.CreatedAt(),
		CategoryID:  tx.CategoryID(),
		Tags:        TagList(tx),
	}
	if raw, ok := tx.Amount(); ok {
		if v, err := snapshot.ParseDecimal(raw); err == nil {
			f := v.InexactFloat64()
			lt.Amount = &f
		}
	}
	return lt, true
}

// TagList joins a transaction's tag ids with ", ". No tags gives "".
func TagList(tx upapi.Resource) string {
	return strings.Join(tx.TagIDs(), ", ")
}

func balance(a upapi.Resource) (float64, bool) {
	v, err := snapshot.ParseMoney(a)
	if err != nil {
		return 0, false
	}
	return v.InexactFloat64(), true
}
