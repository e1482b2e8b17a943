// Package publisher emits audit events to a Store, either inline or through
// a bounded background queue.
package publisher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/mssola/useragent"

	audit "irisvault/pkg/platform/audit"
	"irisvault/pkg/requestcontext"
)

// Publisher enriches events with request metadata and appends them to the
// store. In async mode Emit never blocks on the store; a full queue drops
// the event and logs it.
type Publisher struct {
	store  audit.Store
	logger *slog.Logger

	queue chan audit.Event
	wg    sync.WaitGroup
	once  sync.Once
}

type Option func(*Publisher)

// WithAsyncBuffer enables background delivery with a queue of size n.
func WithAsyncBuffer(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.queue = make(chan audit.Event, n)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.queue != nil {
		p.wg.Add(1)
		go p.drain()
	}
	return p
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for event := range p.queue {
		if err := p.store.Append(context.Background(), event); err != nil {
			p.logger.Error("failed to persist audit event",
				"action", event.Action,
				"account_number", event.AccountNumber,
				"error", err,
			)
		}
	}
}

// Emit records event. Missing ID, timestamp, category, and request metadata
// are filled from ctx.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	p.enrich(ctx, &event)
	if p.queue == nil {
		if err := p.store.Append(ctx, event); err != nil {
			return fmt.Errorf("append audit event: %w", err)
		}
		return nil
	}
	select {
	case p.queue <- event:
	default:
		p.logger.WarnContext(ctx, "audit queue full, dropping event",
			"action", event.Action,
			"account_number", event.AccountNumber,
		)
	}
	return nil
}

func (p *Publisher) enrich(ctx context.Context, event *audit.Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.Category == "" {
		event.Category = event.Action.Category()
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.ClientIP == "" {
		event.ClientIP = requestcontext.ClientIP(ctx)
	}
	if event.DeviceInfo == "" {
		event.DeviceInfo = DescribeUserAgent(requestcontext.UserAgent(ctx))
	}
}

// DescribeUserAgent condenses a User-Agent header into "Browser Version on
// OS". An empty header yields "unknown".
func DescribeUserAgent(header string) string {
	if header == "" {
		return "unknown"
	}
	ua := useragent.New(header)
	name, version := ua.Browser()
	desc := name
	if version != "" {
		desc += " " + version
	}
	if os := ua.OS(); os != "" {
		desc += " on " + os
	}
	if ua.Mobile() {
		desc += " (mobile)"
	}
	return desc
}

// List returns the events recorded for an account.
func (p *Publisher) List(ctx context.Context, accountNumber string) ([]audit.Event, error) {
	return p.store.ListByAccount(ctx, accountNumber)
}

// Close drains the async queue. Emit must not be called after Close.
func (p *Publisher) Close() {
	p.once.Do(func() {
		if p.queue != nil {
			close(p.queue)
			p.wg.Wait()
		}
	})
}
