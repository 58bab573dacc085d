// Package config loads bergamot's runtime configuration from environment
// variables, with sensible defaults for a single local-user instance.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the bergamot ingestion core.
type Config struct {
	Port              int
	Version           string
	StoragePath       string
	DiscoveryFilePath string

	Queue      QueueConfig
	Orphan     OrphanConfig
	Classifier ClassifierConfig
	Telemetry  TelemetryConfig
}

// QueueConfig configures the bounded visit queue (§4.2).
type QueueConfig struct {
	Capacity int
}

// OrphanConfig configures the orphan deferral table and retry timer
// (§4.3, §4.4).
type OrphanConfig struct {
	RetryInterval time.Duration
	MaxAge        time.Duration
	MaxRetries    int
}

// ClassifierConfig configures the classifier pipeline (§4.5).
type ClassifierConfig struct {
	LMWorkerPoolSize           int
	LMTimeout                  time.Duration
	LMMaxAttempts              int
	AllowedTypes               []string
	MinConfidence              float64
	EpisodicK                  int
	EpisodicAgreementThreshold int
	OpenAIAPIKey               string
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible
// defaults.
func Load() *Config {
	return &Config{
		Port:              envInt("BERGAMOT_PORT", 5000),
		Version:           envStr("BERGAMOT_VERSION", "0.1.0"),
		StoragePath:       envStr("STORAGE_PATH", defaultStoragePath()),
		DiscoveryFilePath: envStr("BERGAMOT_DISCOVERY_FILE", defaultDiscoveryPath()),
		Queue: QueueConfig{
			Capacity: envInt("BERGAMOT_QUEUE_CAPACITY", 1024),
		},
		Orphan: OrphanConfig{
			RetryInterval: envDuration("BERGAMOT_ORPHAN_RETRY_INTERVAL", 5*time.Second),
			MaxAge:        envDuration("BERGAMOT_ORPHAN_MAX_AGE", 60*time.Second),
			MaxRetries:    envInt("BERGAMOT_ORPHAN_MAX_RETRIES", 5),
		},
		Classifier: ClassifierConfig{
			LMWorkerPoolSize:           envInt("BERGAMOT_LM_POOL_SIZE", 4),
			LMTimeout:                  envDuration("BERGAMOT_LM_TIMEOUT", 20*time.Second),
			LMMaxAttempts:              envInt("BERGAMOT_LM_MAX_ATTEMPTS", 3),
			AllowedTypes:               envList("BERGAMOT_ALLOWED_TYPES", []string{"knowledge"}),
			MinConfidence:              envFloat("BERGAMOT_MIN_CONFIDENCE", 0.5),
			EpisodicK:                  envInt("BERGAMOT_EPISODIC_K", 5),
			EpisodicAgreementThreshold: envInt("BERGAMOT_EPISODIC_AGREEMENT_THRESHOLD", 3),
			OpenAIAPIKey:               os.Getenv("OPENAI_API_KEY"),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "bergamot-core"),
		},
	}
}

func defaultStoragePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bergamot"
	}
	return home + "/.bergamot"
}

func defaultDiscoveryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bergamot/port.json"
	}
	return home + "/.bergamot/port.json"
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

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	start := 0
	for i := 0; i <= len(v); i++ {
		if i == len(v) || v[i] == ',' {
			if i > start {
				out = append(out, v[start:i])
			}
			start = i + 1
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
