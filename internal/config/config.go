package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the Conductor server.
type Config struct {
	Port    int
	Version string

	Catalog   CatalogConfig
	Oracle    OracleConfig
	Planner   PlannerConfig
	Executor  ExecutorConfig
	Tracing   TracingConfig
	Telemetry TelemetryConfig
}

type CatalogConfig struct {
	// RegistryURL is the base URL of the external capability registry.
	// Empty means no remote source; the catalog serves seeded capabilities only.
	RegistryURL     string
	RefreshInterval time.Duration
	FetchTimeout    time.Duration
}

type OracleConfig struct {
	BaseURL           string
	DecomposeTimeout  time.Duration
	SynthesizeTimeout time.Duration
}

type PlannerConfig struct {
	// ComposabilityWeight is the fixed composability term in candidate
	// scoring. It is a named constant, not a computed metric.
	ComposabilityWeight float64

	// MinCoverage is the coverage threshold below which a selected plan
	// is reported but not marked executable. 0 executes any plan with steps.
	MinCoverage float64
}

type ExecutorConfig struct {
	InvocationTimeout time.Duration
	MaxAttempts       int
	BaseDelay         time.Duration
}

type TracingConfig struct {
	// RetainTraces caps how many finalized traces the in-memory store keeps.
	RetainTraces int
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("CONDUCTOR_PORT", 8080),
		Version: envStr("CONDUCTOR_VERSION", "0.1.0"),
		Catalog: CatalogConfig{
			RegistryURL:     envStr("CONDUCTOR_REGISTRY_URL", ""),
			RefreshInterval: envDur("CONDUCTOR_REGISTRY_REFRESH_INTERVAL", 30*time.Second),
			FetchTimeout:    envDur("CONDUCTOR_REGISTRY_FETCH_TIMEOUT", 10*time.Second),
		},
		Oracle: OracleConfig{
			BaseURL:           envStr("CONDUCTOR_ORACLE_URL", "http://localhost:8090"),
			DecomposeTimeout:  envDur("CONDUCTOR_ORACLE_DECOMPOSE_TIMEOUT", 60*time.Second),
			SynthesizeTimeout: envDur("CONDUCTOR_ORACLE_SYNTHESIZE_TIMEOUT", 30*time.Second),
		},
		Planner: PlannerConfig{
			ComposabilityWeight: envFloat("CONDUCTOR_COMPOSABILITY_WEIGHT", 1.0),
			MinCoverage:         envFloat("CONDUCTOR_MIN_COVERAGE", 0),
		},
		Executor: ExecutorConfig{
			InvocationTimeout: envDur("CONDUCTOR_INVOCATION_TIMEOUT", 30*time.Second),
			MaxAttempts:       envInt("CONDUCTOR_MAX_ATTEMPTS", 3),
			BaseDelay:         envDur("CONDUCTOR_BASE_DELAY", time.Second),
		},
		Tracing: TracingConfig{
			RetainTraces: envInt("CONDUCTOR_RETAIN_TRACES", 100),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "conductor"),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
