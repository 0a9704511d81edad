package snapshot

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"upsnapshot/internal/upapi"
)

// Build assembles a Snapshot from the four raw documents of a cycle,
// stamped with the current time.
func Build(accounts, transactions, categories, tags upapi.Document) *Snapshot {
	return BuildAt(time.Now().UTC(), accounts, transactions, categories, tags)
}

// BuildAt is Build with an explicit timestamp. It has no side effects and
// never fails: unexpected shapes become empty collections and unparsable
// balances are skipped, each recorded as a Degradation.
func BuildAt(now time.Time, accounts, transactions, categories, tags upapi.Document) *Snapshot {
	s := &Snapshot{FetchedAt: now}

	s.Accounts = s.collect(CollectionAccounts, accounts)
	s.Transactions = s.collect(CollectionTransactions, transactions)
	s.Categories = s.collect(CollectionCategories, categories)
	s.Tags = s.collect(CollectionTags, tags)

	total := decimal.Zero
	for _, a := range s.Accounts {
		v, err := ParseMoney(a)
		if err != nil {
			s.Degradations = append(s.Degradations, Degradation{
				Kind:       DegradedBalance,
				Collection: CollectionAccounts,
				ID:         a.ID,
				Detail:     err.Error(),
			})
			continue
		}
		total = total.Add(v)
	}

	s.Summary = Summary{
		TotalBalance:     total.InexactFloat64(),
		AccountCount:     len(s.Accounts),
		TransactionCount: len(s.Transactions),
	}
	return s
}

func (s *Snapshot) collect(name Collection, doc upapi.Document) []upapi.Resource {
	resources, skipped, err := doc.Resources()
	if err != nil {
		s.Degradations = append(s.Degradations, Degradation{
			Kind:       DegradedCollection,
			Collection: name,
			Detail:     err.Error(),
		})
		return []upapi.Resource{}
	}
	if skipped > 0 {
		s.Degradations = append(s.Degradations, Degradation{
			Kind:       DegradedEntity,
			Collection: name,
			Detail:     fmt.Sprintf("skipped %d malformed element(s)", skipped),
		})
	}
	return resources
}

// ParseMoney reads an account's balance as an exact decimal.
func ParseMoney(account upapi.Resource) (decimal.Decimal, error) {
	raw, ok := account.Balance()
	if !ok {
		return decimal.Zero, fmt.Errorf("balance missing")
	}
	return ParseDecimal(raw)
}

// ParseDecimal parses a money value such as "-3.20".
func ParseDecimal(raw string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("unparsable amount %q", raw)
	}
	return v, nil
}
