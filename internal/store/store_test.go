package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doorstep-labs/doorstep/internal/faults"
	"github.com/doorstep-labs/doorstep/internal/model"
)

func sampleListing(id string) *model.Listing {
	price := 425000
	street := "Downing Street"
	return &model.Listing{
		ID:    id,
		URL:   "https://www.example-homes.co.uk/properties/" + id,
		Price: &price,
		Address: model.Address{
			Display: "12 Downing Street, London",
			Street:  &street,
		},
		ScrapedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestMemory_ListingRoundTrip(t *testing.T) {
	t.Parallel()

	s := NewMemory()
	ctx := context.Background()

	_, err := s.GetListing(ctx, "missing")
	assert.True(t, faults.IsNotFound(err))

	want := sampleListing("42")
	require.NoError(t, s.UpsertListing(ctx, want))

	got, err := s.GetListing(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, want.URL, got.URL)
	require.NotNil(t, got.Price)
	assert.Equal(t, 425000, *got.Price)

	// Upsert replaces the whole record.
	replacement := sampleListing("42")
	replacement.Price = nil
	require.NoError(t, s.UpsertListing(ctx, replacement))
	got, err = s.GetListing(ctx, "42")
	require.NoError(t, err)
	assert.Nil(t, got.Price)

	deleted, err := s.DeleteListing(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "42", deleted.ID)
	_, err = s.GetListing(ctx, "42")
	assert.True(t, faults.IsNotFound(err))
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	t.Parallel()

	s := NewMemory()
	ctx := context.Background()
	require.NoError(t, s.UpsertListing(ctx, sampleListing("7")))

	got, err := s.GetListing(ctx, "7")
	require.NoError(t, err)
	got.URL = "mutated"

	again, err := s.GetListing(ctx, "7")
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", again.URL)
}

func TestMemory_ActivityCapDropsOldest(t *testing.T) {
	t.Parallel()

	s := NewMemory()
	ctx := context.Background()

	for i := 0; i < activityCap+25; i++ {
		require.NoError(t, s.AppendActivity(ctx, model.ActivityEntry{
			ID:        uuid.NewString(),
			Timestamp: time.Now(),
			Level:     model.ActivityInfo,
			Message:   fmt.Sprintf("entry %d", i),
			Source:    "test",
		}))
	}

	got, err := s.ListActivity(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, activityCap)
	assert.Equal(t, fmt.Sprintf("entry %d", activityCap+24), got[0].Message,
		"newest first")
	assert.Equal(t, "entry 25", got[len(got)-1].Message,
		"the oldest 25 entries were dropped")
}

func TestMemory_ListActivityLimit(t *testing.T) {
	t.Parallel()

	s := NewMemory()
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, s.AppendActivity(ctx, model.ActivityEntry{
			ID: uuid.NewString(), Message: fmt.Sprintf("m%d", i),
		}))
	}

	got, err := s.ListActivity(ctx, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "m9", got[0].Message)
}
