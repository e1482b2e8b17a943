// Package kiosk assembles enrollment and login flows from configuration so
// the HTTP server and the CLI build them the same way.
package kiosk

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"irisvault/internal/capture"
	"irisvault/internal/capture/device"
	"irisvault/internal/capture/sequencer"
	"irisvault/internal/enrollment"
	"irisvault/internal/platform/config"
	"irisvault/internal/platform/metrics"
	"irisvault/internal/verification"
)

// Gateway is every collaborator call the two flows make.
type Gateway interface {
	enrollment.Enroller
	verification.Gateway
}

// AuditPublisher is shared by both flows.
type AuditPublisher interface {
	enrollment.AuditPublisher
}

// Factory builds flows bound to one camera and one gateway.
type Factory struct {
	camera  device.Camera
	gateway Gateway
	capture config.Capture
	verify  config.Verification

	allowInsecure bool
	audit         AuditPublisher
	tokens        verification.TokenIssuer
	logger        *slog.Logger
	metrics       *metrics.Metrics
}

type Option func(*Factory)

func WithAuditPublisher(p AuditPublisher) Option {
	return func(f *Factory) {
		f.audit = p
	}
}

func WithTokenIssuer(t verification.TokenIssuer) Option {
	return func(f *Factory) {
		f.tokens = t
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(f *Factory) {
		f.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Factory) {
		f.metrics = m
	}
}

// AllowInsecureOrigin skips the camera's secure-origin check.
func AllowInsecureOrigin(allow bool) Option {
	return func(f *Factory) {
		f.allowInsecure = allow
	}
}

// NewFactory validates the capture settings once so flow construction
// cannot fail on configuration later.
func NewFactory(camera device.Camera, gateway Gateway, cfg config.Config, opts ...Option) (*Factory, error) {
	if camera == nil {
		return nil, errors.New("camera is required")
	}
	if gateway == nil {
		return nil, errors.New("gateway is required")
	}
	if _, err := ParseMode(cfg.Capture.Mode); err != nil {
		return nil, err
	}
	f := &Factory{
		camera:  camera,
		gateway: gateway,
		capture: cfg.Capture,
		verify:  cfg.Verification,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// ParseMode maps a configured capture mode name.
func ParseMode(mode string) (sequencer.Mode, error) {
	switch mode {
	case "", "automatic":
		return sequencer.ModeAutomatic, nil
	case "manual":
		return sequencer.ModeManual, nil
	default:
		return 0, fmt.Errorf("unknown capture mode %q", mode)
	}
}

func (f *Factory) captureOptions(origin string, target int) capture.Options {
	mode, _ := ParseMode(f.capture.Mode)
	cons := device.DefaultConstraints()
	if f.capture.Width > 0 && f.capture.Height > 0 {
		cons.Width, cons.Height = f.capture.Width, f.capture.Height
	}
	deviceOpts := []device.Option{
		device.WithOrigin(origin),
		device.WithConstraints(cons),
		device.WithQuality(f.capture.Quality),
	}
	if f.allowInsecure {
		deviceOpts = append(deviceOpts, device.AllowInsecureOrigin())
	}
	return capture.Options{
		Camera: f.camera,
		Device: deviceOpts,
		Sequence: sequencer.Config{
			Target:   target,
			Interval: f.capture.Interval,
			Mode:     mode,
		},
		Logger:  f.logger,
		Metrics: f.metrics,
	}
}

// NewEnrollment returns an enrollment flow whose camera sessions check
// origin.
func (f *Factory) NewEnrollment(origin string, opts ...enrollment.Option) (*enrollment.Flow, error) {
	base := []enrollment.Option{
		enrollment.WithLogger(f.logger),
		enrollment.WithMetrics(f.metrics),
	}
	if f.audit != nil {
		base = append(base, enrollment.WithAuditPublisher(f.audit))
	}
	return enrollment.New(f.gateway, f.captureOptions(origin, f.capture.EnrollmentFrames), append(base, opts...)...)
}

// NewLogin returns a verification flow whose camera sessions check origin.
func (f *Factory) NewLogin(origin string, opts ...verification.Option) (*verification.Flow, error) {
	base := []verification.Option{
		verification.WithLogger(f.logger),
		verification.WithMetrics(f.metrics),
		verification.WithFailureThreshold(f.verify.FailureThreshold),
		verification.WithCredentialMaxLength(f.verify.CredentialMaxLength),
	}
	if f.audit != nil {
		base = append(base, verification.WithAuditPublisher(f.audit))
	}
	if f.tokens != nil {
		base = append(base, verification.WithTokenIssuer(f.tokens))
	}
	return verification.New(f.gateway, f.captureOptions(origin, f.capture.VerificationFrames), append(base, opts...)...)
}

// NewCamera builds the configured camera source.
func NewCamera(cfg config.Camera) (device.Camera, error) {
	switch cfg.Source {
	case "", "synthetic":
		return &device.SyntheticCamera{Seed: cfg.Seed}, nil
	case "snapshot":
		if cfg.SnapshotURL == "" {
			return nil, errors.New("snapshot camera requires a snapshot URL")
		}
		return device.NewSnapshotCamera(cfg.SnapshotURL), nil
	default:
		return nil, fmt.Errorf("unknown camera source %q", cfg.Source)
	}
}
