package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "irisvault/pkg/platform/audit"
)

func TestInMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	require.NoError(t, store.Append(ctx, audit.Event{Action: audit.EventEnrollmentSuccess, AccountNumber: "ACC1"}))
	require.NoError(t, store.Append(ctx, audit.Event{Action: audit.EventVerificationFailed, AccountNumber: "ACC2"}))
	require.NoError(t, store.Append(ctx, audit.Event{Action: audit.EventVerificationSuccess, AccountNumber: "ACC1"}))

	t.Run("list by account keeps append order", func(t *testing.T) {
		events, err := store.ListByAccount(ctx, "ACC1")
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, audit.EventEnrollmentSuccess, events[0].Action)
		assert.Equal(t, audit.EventVerificationSuccess, events[1].Action)
	})

	t.Run("list recent caps to limit", func(t *testing.T) {
		events, err := store.ListRecent(ctx, 2)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "ACC2", events[0].AccountNumber)
	})

	t.Run("returned slice is a copy", func(t *testing.T) {
		events, _ := store.ListByAccount(ctx, "ACC1")
		events[0].Reason = "mutated"
		again, _ := store.ListByAccount(ctx, "ACC1")
		assert.Empty(t, again[0].Reason)
	})

	t.Run("clear", func(t *testing.T) {
		store.Clear()
		events, err := store.ListRecent(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, events)
	})
}
