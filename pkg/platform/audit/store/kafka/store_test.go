package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "irisvault/pkg/platform/audit"
	"irisvault/pkg/platform/audit/store/memory"
)

type fakeProducer struct {
	records []*kgo.Record
	err     error
}

func (f *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	var results kgo.ProduceResults
	for _, r := range rs {
		if f.err == nil {
			f.records = append(f.records, r)
		}
		results = append(results, kgo.ProduceResult{Record: r, Err: f.err})
	}
	return results
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, "audit")
	require.Error(t, err)

	_, err = New(&fakeProducer{}, "")
	require.Error(t, err)
}

func TestStore_AppendProducesKeyedRecord(t *testing.T) {
	producer := &fakeProducer{}
	mirror := memory.NewInMemoryStore()
	store, err := New(producer, "irisvault.audit", WithMirror(mirror))
	require.NoError(t, err)

	event := audit.Event{
		ID:            "evt-1",
		Timestamp:     time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
		Action:        audit.EventFallbackSuccess,
		AccountNumber: "ACC1",
		UserID:        "user-7",
		Success:       true,
	}
	require.NoError(t, store.Append(context.Background(), event))

	require.Len(t, producer.records, 1)
	record := producer.records[0]
	assert.Equal(t, "irisvault.audit", record.Topic)
	assert.Equal(t, []byte("ACC1"), record.Key)

	decoded, err := Decode(record)
	require.NoError(t, err)
	assert.Equal(t, audit.CategorySecurity, decoded.Category)
	assert.Equal(t, event.Timestamp, decoded.Timestamp)
	assert.Equal(t, "user-7", decoded.UserID)
	assert.True(t, decoded.Success)

	mirrored, err := store.ListByAccount(context.Background(), "ACC1")
	require.NoError(t, err)
	assert.Len(t, mirrored, 1)
}

func TestStore_ProduceFailureSkipsMirror(t *testing.T) {
	producer := &fakeProducer{err: errors.New("broker down")}
	mirror := memory.NewInMemoryStore()
	store, err := New(producer, "irisvault.audit", WithMirror(mirror))
	require.NoError(t, err)

	err = store.Append(context.Background(), audit.Event{Action: audit.EventDeviceError, AccountNumber: "ACC1"})
	require.ErrorContains(t, err, "broker down")

	mirrored, _ := mirror.ListByAccount(context.Background(), "ACC1")
	assert.Empty(t, mirrored)
}
