package upapi

import "context"

// Fetcher is the read surface of the Up API a refresh cycle needs.
// Implementations issue one request per call and never retry.
type Fetcher interface {
	FetchAccounts(ctx context.Context) (Document, error)
	FetchTransactions(ctx context.Context, pageSize int) (Document, error)
	FetchCategories(ctx context.Context) (Document, error)
	FetchTags(ctx context.Context) (Document, error)
}

var _ Fetcher = (*Client)(nil)
