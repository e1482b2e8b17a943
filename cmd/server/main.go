package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"irisvault/internal/handoff"
	"irisvault/internal/kiosk"
	"irisvault/internal/platform/config"
	"irisvault/internal/platform/httpserver"
	"irisvault/internal/platform/logger"
	"irisvault/internal/platform/metrics"
	httptransport "irisvault/internal/transport/http"
)

// main wires the kiosk API: collaborator client, audit sink, handoff issuer,
// and the flow handlers. Flow logic lives in internal/enrollment and
// internal/verification.
func main() {
	cfg, err := config.Load(os.Getenv("IRISVAULT_CONFIG"))
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.UsesDevSigningKey() {
		log.Warn("handoff tokens are signed with the development key; set IRISVAULT_HANDOFF_SIGNING_KEY")
	}
	if cfg.Server.AllowInsecureOrigin {
		log.Warn("camera secure-origin check disabled")
	}

	m := metrics.New()

	rc, closeRedis, err := kiosk.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer closeRedis()

	gw, err := kiosk.NewGateway(cfg, rc, log, m)
	if err != nil {
		return err
	}

	limiter, err := kiosk.NewRateLimiter(cfg.RateLimit, rc, log, m)
	if err != nil {
		return err
	}

	pub, closeAudit, err := kiosk.NewAuditPublisher(ctx, cfg.Audit, log)
	if err != nil {
		return err
	}
	defer closeAudit()

	issuer, err := handoff.NewIssuer(cfg.Handoff.SigningKey, handoff.WithTTL(cfg.Handoff.TTL))
	if err != nil {
		return err
	}

	camera, err := kiosk.NewCamera(cfg.Camera)
	if err != nil {
		return err
	}
	factory, err := kiosk.NewFactory(camera, gw, cfg,
		kiosk.WithAuditPublisher(pub),
		kiosk.WithTokenIssuer(issuer),
		kiosk.WithLogger(log),
		kiosk.WithMetrics(m),
		kiosk.AllowInsecureOrigin(cfg.Server.AllowInsecureOrigin),
	)
	if err != nil {
		return err
	}

	handler, err := httptransport.New(factory,
		httptransport.WithLogger(log),
		httptransport.WithMetrics(m),
		httptransport.WithPrincipalValidator(issuer),
		httptransport.WithAuditTrail(pub, cfg.Server.AdminToken),
		httptransport.WithRateLimiter(limiter),
		httptransport.WithFlowIdleTTL(cfg.Server.FlowIdleTTL),
	)
	if err != nil {
		return err
	}
	defer handler.Close()

	api := httpserver.New(cfg.Server.Addr, httptransport.NewRouter(handler))
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := httpserver.New(cfg.Server.MetricsAddr, metricsMux)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting irisvault kiosk API",
			"addr", cfg.Server.Addr,
			"camera", cfg.Camera.Source,
			"capture_mode", cfg.Capture.Mode,
			"audit_sink", cfg.Audit.Sink,
		)
		return httpserver.Run(gctx, api)
	})
	g.Go(func() error {
		log.Info("starting metrics server", "addr", cfg.Server.MetricsAddr)
		return httpserver.Run(gctx, metricsSrv)
	})
	err = g.Wait()
	log.Info("kiosk API stopped")
	return err
}
