package publisher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "irisvault/pkg/platform/audit"
	"irisvault/pkg/platform/audit/store/memory"
	"irisvault/pkg/requestcontext"
)

const chromeLinux = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

func TestPublisher_SyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)
	ctx = requestcontext.WithRequestID(ctx, "req-1")
	ctx = requestcontext.WithClientMetadata(ctx, "10.0.0.5", chromeLinux)

	err := pub.Emit(ctx, audit.Event{
		Action:        audit.EventVerificationFailed,
		AccountNumber: "ACC1",
	})
	require.NoError(t, err)

	events, err := pub.List(context.Background(), "ACC1")
	require.NoError(t, err)
	require.Len(t, events, 1)

	got := events[0]
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, now, got.Timestamp)
	assert.Equal(t, audit.CategorySecurity, got.Category)
	assert.Equal(t, "req-1", got.RequestID)
	assert.Equal(t, "10.0.0.5", got.ClientIP)
	assert.Contains(t, got.DeviceInfo, "Chrome")
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(100))

	for range 10 {
		err := pub.Emit(context.Background(), audit.Event{
			Action:        audit.EventEnrollmentSuccess,
			AccountNumber: "ACC2",
		})
		require.NoError(t, err)
	}

	pub.Close()

	events, err := store.ListByAccount(context.Background(), "ACC2")
	require.NoError(t, err)
	assert.Len(t, events, 10)
	assert.Equal(t, audit.CategoryCompliance, events[0].Category)
}

func TestDescribeUserAgent(t *testing.T) {
	assert.Equal(t, "unknown", DescribeUserAgent(""))
	desc := DescribeUserAgent(chromeLinux)
	assert.Contains(t, desc, "Chrome 126")
	assert.Contains(t, desc, "Linux")
}
