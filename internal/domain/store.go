package domain

import "context"

// OpportunityStore persists detected opportunities. Insert runs in its own
// transaction and returns an error wrapping ErrAlreadyExists when the unique
// index on the normalized fields rejects the row; any other failure wraps
// ErrStorage.
type OpportunityStore interface {
	Exists(ctx context.Context, rec OpportunityRecord) (bool, error)
	Insert(ctx context.Context, rec OpportunityRecord) (OpportunityRecord, error)
	ListRecent(ctx context.Context, limit int) ([]OpportunityRecord, error)
	Count(ctx context.Context) (int64, error)
}
