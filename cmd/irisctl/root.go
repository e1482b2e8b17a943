package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"irisvault/internal/capture/device"
	"irisvault/internal/gateway/fake"
	"irisvault/internal/handoff"
	"irisvault/internal/kiosk"
	"irisvault/internal/platform/config"
	"irisvault/internal/platform/logger"
)

type globalFlags struct {
	configPath string
	logLevel   string
	offline    bool
	seed       int64
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	cmd := &cobra.Command{
		Use:   "irisctl",
		Short: "Drive the irisvault kiosk flows from a terminal",
		Long: `irisctl runs the enrollment and login flows headlessly with a synthetic
camera, either against the configured biometric backend or, with --offline,
against an in-process fake of it.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// a missing .env is fine
			_ = godotenv.Load()
		},
	}
	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&flags.offline, "offline", false, "use an in-process fake backend")
	cmd.PersistentFlags().Int64Var(&flags.seed, "seed", 42, "synthetic eye seed")

	cmd.AddCommand(
		newSynthCmd(),
		newEnrollCmd(flags),
		newLoginCmd(flags),
		newDemoCmd(flags),
	)
	return cmd
}

// driver holds what the headless commands share.
type driver struct {
	factory *kiosk.Factory
	issuer  *handoff.Issuer
	logger  *slog.Logger
	cleanup []func()
}

func (d *driver) Close() {
	for i := len(d.cleanup) - 1; i >= 0; i-- {
		d.cleanup[i]()
	}
}

// newDriver builds a factory in manual capture mode over a synthetic camera.
func newDriver(ctx context.Context, flags *globalFlags) (*driver, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	cfg.Capture.Mode = "manual"
	cfg.Camera = config.Camera{Source: "synthetic", Seed: flags.seed}
	log := logger.New(flags.logLevel, "text")

	d := &driver{logger: log}
	if flags.offline {
		baseURL, err := fake.New().Listen(ctx)
		if err != nil {
			return nil, err
		}
		cfg.Gateway.BaseURL = baseURL
		cfg.Redis.URL = ""
		cfg.Audit = config.Default().Audit
	}

	rc, closeRedis, err := kiosk.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	d.cleanup = append(d.cleanup, closeRedis)

	gw, err := kiosk.NewGateway(cfg, rc, log, nil)
	if err != nil {
		d.Close()
		return nil, err
	}

	pub, closeAudit, err := kiosk.NewAuditPublisher(ctx, cfg.Audit, log)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.cleanup = append(d.cleanup, closeAudit)

	d.issuer, err = handoff.NewIssuer(cfg.Handoff.SigningKey, handoff.WithTTL(cfg.Handoff.TTL))
	if err != nil {
		d.Close()
		return nil, err
	}
	d.factory, err = kiosk.NewFactory(&device.SyntheticCamera{Seed: flags.seed}, gw, cfg,
		kiosk.WithAuditPublisher(pub),
		kiosk.WithTokenIssuer(d.issuer),
		kiosk.WithLogger(log),
		kiosk.AllowInsecureOrigin(true),
	)
	if err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func printf(cmd *cobra.Command, format string, args ...any) {
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
