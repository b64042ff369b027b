package interfaces

import (
	"context"

	"github.com/m-mizutani/atelier/pkg/model"
)

// Opener opens the persistence of one history namespace. Implementations
// create the underlying storage and schema on first open.
type Opener interface {
	Open(ctx context.Context, namespace string) (Persistence, error)
}

// Persistence is a key-value store of rows keyed by ID with an ordering on
// Timestamp
type Persistence interface {
	// Put saves a row, replacing any row with the same ID
	Put(ctx context.Context, row *model.Row) error

	// Get retrieves a row by ID, or an error tagged model.TagNotFound
	Get(ctx context.Context, id string) (*model.Row, error)

	// List retrieves all rows ordered by Timestamp, newest first
	List(ctx context.Context) ([]*model.Row, error)

	// Delete removes a row. Deleting a missing row is not an error
	Delete(ctx context.Context, id string) error

	// Clear removes all rows
	Clear(ctx context.Context) error

	// Count returns the number of rows
	Count(ctx context.Context) (int, error)
}
