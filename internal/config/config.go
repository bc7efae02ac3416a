package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	WorkerPort         string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string
	HTTPBodyLimitBytes int64

	PublicBaseURL  string
	BackendBaseURL string

	CMI     CMI
	Payment Payment
	Sweep   Sweep
	Mail    Mail
	Obs     Obs
}

// CMI carries the merchant credentials and gateway settings.
type CMI struct {
	ClientID   string
	StoreKey   string
	GatewayURL string
	Lang       string
}

// Payment tunes the public payment endpoints.
type Payment struct {
	CallbackReplayTTL time.Duration
	RateLimit         string
}

// Sweep configures the reservation auto-complete job.
type Sweep struct {
	Interval    time.Duration
	StartDelay  time.Duration
	GracePeriod time.Duration
	Anchor      string
	LockTTL     time.Duration
	Timezone    string
}

// Mail configures gift card delivery through an HTTP mail API.
type Mail struct {
	From     string
	APIURL   string
	APIToken string
	Timeout  time.Duration
}

// Obs configures logging, metrics and tracing.
type Obs struct {
	LogFormat        string
	LogLevel         string
	MetricsNamespace string
	MetricsEnabled   bool
	MetricsBuckets   string
	TracingEnabled   bool
	TracingExporter  string
	OTLPEndpoint     string
	SamplingRatio    float64
	SlowQuery        time.Duration
}

// Load reads configuration from environment variables and optional .env files.
// DATABASE_URL and REDIS_URL are required by every process.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	public := strings.TrimRight(strings.TrimSpace(k.String("PUBLIC_BASE_URL")), "/")
	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "3001"),
		WorkerPort:         valueOrDefault(k.String("WORKER_PORT"), "9091"),
		DatabaseURL:        strings.TrimSpace(k.String("DATABASE_URL")),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		HTTPBodyLimitBytes: parseInt64(k.String("HTTP_BODY_LIMIT_BYTES"), 1<<20),
		PublicBaseURL:      public,
		BackendBaseURL:     strings.TrimRight(valueOrDefault(k.String("BACKEND_BASE_URL"), public), "/"),
		CMI: CMI{
			ClientID:   strings.TrimSpace(k.String("CMI_CLIENT_ID")),
			StoreKey:   k.String("CMI_STORE_KEY"),
			GatewayURL: strings.TrimSpace(k.String("CMI_GATEWAY_URL")),
			Lang:       valueOrDefault(k.String("CMI_LANG"), "fr"),
		},
		Payment: Payment{
			CallbackReplayTTL: parseDuration(k.String("PAYMENT_CALLBACK_REPLAY_TTL"), "24h"),
			RateLimit:         valueOrDefault(k.String("PAYMENT_RATE_LIMIT"), "20-M"),
		},
		Sweep: Sweep{
			Interval:    parseDuration(k.String("SWEEP_INTERVAL"), "1h"),
			StartDelay:  parseDuration(k.String("SWEEP_START_DELAY"), "10s"),
			GracePeriod: parseDuration(k.String("SWEEP_GRACE_PERIOD"), "3h"),
			Anchor:      strings.ToLower(valueOrDefault(k.String("SWEEP_ANCHOR"), "start")),
			LockTTL:     parseDuration(k.String("SWEEP_LOCK_TTL"), "5m"),
			Timezone:    valueOrDefault(k.String("SWEEP_TIMEZONE"), "Africa/Casablanca"),
		},
		Mail: Mail{
			From:     valueOrDefault(k.String("MAIL_FROM"), "no-reply@localhost"),
			APIURL:   strings.TrimSpace(k.String("MAIL_API_URL")),
			APIToken: k.String("MAIL_API_TOKEN"),
			Timeout:  parseDuration(k.String("MAIL_TIMEOUT"), "10s"),
		},
		Obs: Obs{
			LogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
			LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
			MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "spa"),
			MetricsEnabled:   parseBool(k.String("OBS_ENABLE_PROMETHEUS"), true),
			MetricsBuckets:   k.String("OBS_METRICS_BUCKETS_MS"),
			TracingEnabled:   parseBool(k.String("OBS_ENABLE_TRACING"), false),
			TracingExporter:  valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
			OTLPEndpoint:     strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
			SamplingRatio:    parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1),
			SlowQuery:        parseDuration(k.String("OBS_SLOW_QUERY"), "500ms"),
		},
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.Sweep.Anchor != "start" && cfg.Sweep.Anchor != "end" {
		return nil, fmt.Errorf("SWEEP_ANCHOR must be start or end, got %q", cfg.Sweep.Anchor)
	}
	if _, err := time.LoadLocation(cfg.Sweep.Timezone); err != nil {
		return nil, fmt.Errorf("SWEEP_TIMEZONE: %w", err)
	}
	return cfg, nil
}

// ValidateAPI checks the settings only the HTTP API needs. Gateway credentials
// have no defaults.
func (c *Config) ValidateAPI() error {
	var missing []string
	if c.CMI.ClientID == "" {
		missing = append(missing, "CMI_CLIENT_ID")
	}
	if c.CMI.StoreKey == "" {
		missing = append(missing, "CMI_STORE_KEY")
	}
	if c.PublicBaseURL == "" {
		missing = append(missing, "PUBLIC_BASE_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s required", strings.Join(missing, ", "))
	}
	return nil
}

// Location resolves the zone reservation dates and times are expressed in.
func (s Sweep) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	return listenAddr(c.Port, "3001")
}

// WorkerAddr returns the address of the worker's health and metrics listener.
func (c *Config) WorkerAddr() string {
	return listenAddr(c.WorkerPort, "9091")
}

func listenAddr(port, fallback string) string {
	port = strings.TrimSpace(port)
	if port == "" {
		port = fallback
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseInt64(value string, fallback int64) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func parseFloat(value string, fallback float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return v
}

// LoadForTests overrides environment variables for the duration of Load and
// restores them afterwards. An empty value unsets the variable.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]*string, len(env))
	for key := range env {
		if prev, ok := os.LookupEnv(key); ok {
			original[key] = &prev
		} else {
			original[key] = nil
		}
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]*string) error {
	var errs []string
	for key, value := range values {
		var err error
		if value == nil {
			err = os.Unsetenv(key)
		} else {
			err = os.Setenv(key, *value)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
