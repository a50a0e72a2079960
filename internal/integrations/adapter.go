// Package integrations adapts external sensor and prediction exports into
// fixtures the stores can ingest.
package integrations

import (
	"context"

	"binroute/internal/store"
)

// FeedAdapter defines the minimal interface for a bin data source.
type FeedAdapter interface {
	Name() string
	Fetch(ctx context.Context) (store.Fixture, error)
}

// Ingest fetches from a and seeds dst with the result.
func Ingest(ctx context.Context, a FeedAdapter, dst store.Seeder) (store.Fixture, error) {
	f, err := a.Fetch(ctx)
	if err != nil {
		return store.Fixture{}, err
	}
	if err := f.Validate(); err != nil {
		return store.Fixture{}, err
	}
	return f, dst.Seed(ctx, f)
}
