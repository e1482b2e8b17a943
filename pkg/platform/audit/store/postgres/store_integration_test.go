//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "irisvault/pkg/platform/audit"
	"irisvault/pkg/testutil/containers"
)

func TestStore_AppendAndList(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	ctx := context.Background()

	db, err := Open(ctx, pg.DSN)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := New(db)
	require.NoError(t, store.EnsureSchema(ctx))
	require.NoError(t, store.EnsureSchema(ctx), "schema creation is idempotent")

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	eventID := uuid.NewString()
	first := audit.Event{
		ID:            eventID,
		Timestamp:     base,
		Action:        audit.EventVerificationFailed,
		AccountNumber: "ACC1",
		Reason:        "no match",
		Details:       map[string]any{"attempt": float64(1)},
	}
	require.NoError(t, store.Append(ctx, first))
	require.NoError(t, store.Append(ctx, first), "duplicate ids are ignored")
	require.NoError(t, store.Append(ctx, audit.Event{
		Timestamp:     base.Add(time.Second),
		Action:        audit.EventFallbackEscalated,
		AccountNumber: "ACC1",
	}))

	events, err := store.ListByAccount(ctx, "ACC1")
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, eventID, events[0].ID)
	assert.Equal(t, audit.CategorySecurity, events[0].Category)
	assert.Equal(t, "no match", events[0].Reason)
	assert.Equal(t, float64(1), events[0].Details["attempt"])
	assert.True(t, base.Equal(events[0].Timestamp))
	assert.Equal(t, audit.EventFallbackEscalated, events[1].Action)

	none, err := store.ListByAccount(ctx, "ACC9")
	require.NoError(t, err)
	assert.Empty(t, none)
}
