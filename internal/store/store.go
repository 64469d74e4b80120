// Package store persists listings and the activity log. Listings are
// whole-record JSON blobs keyed by id; merge happens in the orchestrator
// before upsert, never here.
package store

import (
	"context"

	"github.com/doorstep-labs/doorstep/internal/model"
)

// activityCap bounds the activity log. Appends beyond the cap silently
// drop the oldest entries.
const activityCap = 500

// Store is the result store plus the bounded activity log sink.
type Store interface {
	// GetListing returns the stored record, or faults.ErrNotFound.
	GetListing(ctx context.Context, id string) (*model.Listing, error)

	// UpsertListing replaces the whole record for the listing's id.
	UpsertListing(ctx context.Context, l *model.Listing) error

	// DeleteListing removes and returns the record, or faults.ErrNotFound.
	DeleteListing(ctx context.Context, id string) (*model.Listing, error)

	// AppendActivity adds one log entry, trimming past the cap.
	AppendActivity(ctx context.Context, e model.ActivityEntry) error

	// ListActivity returns the newest entries, newest first.
	ListActivity(ctx context.Context, limit int) ([]model.ActivityEntry, error)

	// Migrate creates or upgrades the schema.
	Migrate(ctx context.Context) error

	Close() error
}
