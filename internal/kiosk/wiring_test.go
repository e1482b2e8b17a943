package kiosk

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"irisvault/internal/platform/config"
	audit "irisvault/pkg/platform/audit"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewAuditPublisher_Memory(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default().Audit
	cfg.BufferSize = 0

	pub, cleanup, err := NewAuditPublisher(ctx, cfg, discardLogger())
	require.NoError(t, err)
	defer cleanup()

	require.NoError(t, pub.Emit(ctx, audit.Event{Action: audit.EventEnrollmentSuccess, AccountNumber: "ACC1"}))
	events, err := pub.List(ctx, "ACC1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.CategoryCompliance, events[0].Category)
}

func TestNewAuditPublisher_UnknownSink(t *testing.T) {
	_, cleanup, err := NewAuditPublisher(context.Background(), config.Audit{Sink: "s3"}, discardLogger())
	require.Error(t, err)
	assert.NotNil(t, cleanup)
}

func TestNewGateway_InProcessCache(t *testing.T) {
	rc, cleanup, err := OpenRedis(context.Background(), config.Default().Redis)
	require.NoError(t, err)
	defer cleanup()
	assert.Nil(t, rc)

	client, err := NewGateway(config.Default(), rc, discardLogger(), nil)
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestOpenRedis_BadURL(t *testing.T) {
	cfg := config.Default().Redis
	cfg.URL = "not a url"
	_, _, err := OpenRedis(context.Background(), cfg)
	require.Error(t, err)
}

func TestNewRateLimiter(t *testing.T) {
	mw, err := NewRateLimiter(config.Default().RateLimit, nil, discardLogger(), nil)
	require.NoError(t, err)
	assert.NotNil(t, mw)

	_, err = NewRateLimiter(config.RateLimit{Window: time.Minute}, nil, discardLogger(), nil)
	require.Error(t, err)

	mw, err = NewRateLimiter(config.RateLimit{Disabled: true}, nil, discardLogger(), nil)
	require.NoError(t, err)
	assert.NotNil(t, mw)
}
