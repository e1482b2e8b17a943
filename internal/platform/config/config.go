// Package config loads the kiosk configuration from defaults, an optional
// YAML file, and IRISVAULT_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full kiosk configuration tree.
type Config struct {
	Server       Server       `yaml:"server"`
	Log          Log          `yaml:"log"`
	Gateway      Gateway      `yaml:"gateway"`
	Camera       Camera       `yaml:"camera"`
	Capture      Capture      `yaml:"capture"`
	Verification Verification `yaml:"verification"`
	Redis        RedisConfig  `yaml:"redis"`
	RateLimit    RateLimit    `yaml:"rate_limit"`
	Audit        Audit        `yaml:"audit"`
	Handoff      Handoff      `yaml:"handoff"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr        string `yaml:"addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	// AllowInsecureOrigin lets lab kiosks without TLS use the camera.
	AllowInsecureOrigin bool `yaml:"allow_insecure_origin"`
	// AdminToken guards the audit trail routes; empty disables them.
	AdminToken string `yaml:"admin_token"`
	// FlowIdleTTL closes flows no request has touched for this long,
	// releasing their camera. Zero keeps flows until deleted.
	FlowIdleTTL time.Duration `yaml:"flow_idle_ttl"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Gateway locates the biometric collaborators. BaseURL includes the /api
// prefix. A zero Timeout leaves calls unbounded.
type Gateway struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type Camera struct {
	// Source is "synthetic" or "snapshot".
	Source      string `yaml:"source"`
	SnapshotURL string `yaml:"snapshot_url"`
	Seed        int64  `yaml:"seed"`
}

type Capture struct {
	// Mode is "automatic" or "manual".
	Mode               string        `yaml:"mode"`
	EnrollmentFrames   int           `yaml:"enrollment_frames"`
	VerificationFrames int           `yaml:"verification_frames"`
	Interval           time.Duration `yaml:"interval"`
	Width              int           `yaml:"width"`
	Height             int           `yaml:"height"`
	Quality            int           `yaml:"quality"`
}

type Verification struct {
	FailureThreshold    int `yaml:"failure_threshold"`
	CredentialMaxLength int `yaml:"credential_max_length"`
}

// RedisConfig configures the account lookup cache. An empty URL selects the
// in-process cache.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	AccountTTL   time.Duration `yaml:"account_ttl"`
}

// RateLimit bounds requests per client address within Window. Counters
// live in Redis when it is configured.
type RateLimit struct {
	Disabled       bool          `yaml:"disabled"`
	Window         time.Duration `yaml:"window"`
	FlowCreates    int           `yaml:"flow_creates"`
	AccountLookups int           `yaml:"account_lookups"`
	Credentials    int           `yaml:"credentials"`
}

// Audit selects the audit sink: "memory", "postgres", or "kafka".
type Audit struct {
	Sink         string   `yaml:"sink"`
	DatabaseURL  string   `yaml:"database_url"`
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
	BufferSize   int      `yaml:"buffer_size"`
}

type Handoff struct {
	SigningKey string        `yaml:"signing_key"`
	TTL        time.Duration `yaml:"ttl"`
}

const devSigningKey = "dev-handoff-key-change-in-production"

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Server: Server{
			Addr:        ":8080",
			MetricsAddr: ":9090",
			FlowIdleTTL: 2 * time.Minute,
		},
		Log: Log{
			Level:  "info",
			Format: "json",
		},
		Gateway: Gateway{
			BaseURL: "http://localhost:8000/api",
		},
		Camera: Camera{
			Source: "synthetic",
		},
		Capture: Capture{
			Mode:               "automatic",
			EnrollmentFrames:   5,
			VerificationFrames: 3,
			Interval:           800 * time.Millisecond,
			Width:              640,
			Height:             480,
			Quality:            80,
		},
		Verification: Verification{
			FailureThreshold:    2,
			CredentialMaxLength: 6,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			AccountTTL:   30 * time.Second,
		},
		RateLimit: RateLimit{
			Window:         time.Minute,
			FlowCreates:    30,
			AccountLookups: 10,
			Credentials:    10,
		},
		Audit: Audit{
			Sink:       "memory",
			KafkaTopic: "irisvault.audit",
			BufferSize: 256,
		},
		Handoff: Handoff{
			SigningKey: devSigningKey,
			TTL:        5 * time.Minute,
		},
	}
}

// FromEnv applies environment overrides to the defaults.
func FromEnv() (Config, error) {
	cfg := Default()
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Load reads a YAML file over the defaults, then applies environment
// overrides. An empty path is the same as FromEnv.
func Load(path string) (Config, error) {
	if path == "" {
		return FromEnv()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate rejects combinations that would fail at startup.
func (c Config) Validate() error {
	var errs []error
	if c.Gateway.BaseURL == "" {
		errs = append(errs, errors.New("gateway base URL is required"))
	}
	switch c.Camera.Source {
	case "synthetic":
	case "snapshot":
		if c.Camera.SnapshotURL == "" {
			errs = append(errs, errors.New("snapshot camera requires a snapshot URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown camera source %q", c.Camera.Source))
	}
	if c.Capture.Mode != "automatic" && c.Capture.Mode != "manual" {
		errs = append(errs, fmt.Errorf("unknown capture mode %q", c.Capture.Mode))
	}
	if c.Capture.EnrollmentFrames < 1 || c.Capture.VerificationFrames < 1 {
		errs = append(errs, errors.New("capture frame counts must be at least 1"))
	}
	if c.Server.FlowIdleTTL < 0 {
		errs = append(errs, errors.New("flow idle TTL must not be negative"))
	}
	if c.Verification.FailureThreshold < 1 {
		errs = append(errs, errors.New("failure threshold must be at least 1"))
	}
	if !c.RateLimit.Disabled {
		rl := c.RateLimit
		if rl.Window <= 0 || rl.FlowCreates < 1 || rl.AccountLookups < 1 || rl.Credentials < 1 {
			errs = append(errs, errors.New("rate limits must be positive unless disabled"))
		}
	}
	switch c.Audit.Sink {
	case "memory":
	case "postgres":
		if c.Audit.DatabaseURL == "" {
			errs = append(errs, errors.New("postgres audit sink requires a database URL"))
		}
	case "kafka":
		if len(c.Audit.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("kafka audit sink requires brokers"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown audit sink %q", c.Audit.Sink))
	}
	if c.Handoff.SigningKey == "" {
		errs = append(errs, errors.New("handoff signing key is required"))
	}
	return errors.Join(errs...)
}

// UsesDevSigningKey reports whether the handoff key was left at its default.
func (c Config) UsesDevSigningKey() bool {
	return c.Handoff.SigningKey == devSigningKey
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("IRISVAULT_ADDR", &c.Server.Addr)
	str("IRISVAULT_METRICS_ADDR", &c.Server.MetricsAddr)
	flag("IRISVAULT_ALLOW_INSECURE_ORIGIN", &c.Server.AllowInsecureOrigin)
	str("IRISVAULT_ADMIN_TOKEN", &c.Server.AdminToken)
	dur("IRISVAULT_FLOW_IDLE_TTL", &c.Server.FlowIdleTTL)
	str("IRISVAULT_LOG_LEVEL", &c.Log.Level)
	str("IRISVAULT_LOG_FORMAT", &c.Log.Format)
	str("IRISVAULT_GATEWAY_URL", &c.Gateway.BaseURL)
	dur("IRISVAULT_GATEWAY_TIMEOUT", &c.Gateway.Timeout)
	str("IRISVAULT_CAMERA", &c.Camera.Source)
	str("IRISVAULT_SNAPSHOT_URL", &c.Camera.SnapshotURL)
	str("IRISVAULT_CAPTURE_MODE", &c.Capture.Mode)
	dur("IRISVAULT_CAPTURE_INTERVAL", &c.Capture.Interval)
	num("IRISVAULT_FAILURE_THRESHOLD", &c.Verification.FailureThreshold)
	str("IRISVAULT_REDIS_URL", &c.Redis.URL)
	dur("IRISVAULT_ACCOUNT_CACHE_TTL", &c.Redis.AccountTTL)
	flag("IRISVAULT_RATE_LIMIT_DISABLED", &c.RateLimit.Disabled)
	dur("IRISVAULT_RATE_LIMIT_WINDOW", &c.RateLimit.Window)
	str("IRISVAULT_AUDIT_SINK", &c.Audit.Sink)
	str("IRISVAULT_DATABASE_URL", &c.Audit.DatabaseURL)
	str("IRISVAULT_KAFKA_TOPIC", &c.Audit.KafkaTopic)
	if v, ok := lookup("IRISVAULT_KAFKA_BROKERS"); ok && v != "" {
		c.Audit.KafkaBrokers = splitList(v)
	}
	str("IRISVAULT_HANDOFF_SIGNING_KEY", &c.Handoff.SigningKey)
	dur("IRISVAULT_HANDOFF_TTL", &c.Handoff.TTL)

	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
