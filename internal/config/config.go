// Package config loads the ammonia desk's single Config struct from YAML
// and applies environment-variable overrides afterward, following the
// teacher's internal/config pattern (parse file, then walk known env vars).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ScannerConfig configures the remote-document-store scanner subprocess.
type ScannerConfig struct {
	BinaryPath       string        `yaml:"binary_path"`
	TenantID         string        `yaml:"tenant_id"`
	ClientID         string        `yaml:"client_id"`
	ClientSecretEnv  string        `yaml:"client_secret_env"`
	TokenURL         string        `yaml:"token_url"`
	DriveID          string        `yaml:"drive_id"`
	RootFolder       string        `yaml:"root_folder"`
	CommandTimeout   time.Duration `yaml:"command_timeout"`
	RestartBackoffMin time.Duration `yaml:"restart_backoff_min"`
	RestartBackoffMax time.Duration `yaml:"restart_backoff_max"`
}

// SolverConfig configures the LP-solver subprocess.
type SolverConfig struct {
	BinaryPath        string        `yaml:"binary_path"`
	SolveTimeout      time.Duration `yaml:"solve_timeout"`
	MonteCarloTimeout time.Duration `yaml:"monte_carlo_timeout"`
}

// LLMConfig configures the clause cross-check second pass.
type LLMConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	Model       string        `yaml:"model"`
	Timeout     time.Duration `yaml:"timeout"`
	Concurrency int           `yaml:"concurrency"`
}

// StoreConfig configures the ContractStore's change-feed transport.
type StoreConfig struct {
	RedisURL        string `yaml:"redis_url"`
	ChangeFeedPrefix string `yaml:"change_feed_prefix"`
	SpoolCapacity   int    `yaml:"spool_capacity"`
}

// PersistConfig configures the durable write-ahead log.
type PersistConfig struct {
	LogDir          string `yaml:"log_dir"`
	RotateHourUTC   int    `yaml:"rotate_hour_utc"`
	CompressSealed  bool   `yaml:"compress_sealed"`
	WriteQueueDepth int    `yaml:"write_queue_depth"`
}

// LoggingConfig configures the logrus bootstrap.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	File   string `yaml:"file"`
}

// ReviewConfig maps reviewer usernames to roles (trader, risk, ops).
type ReviewConfig struct {
	RoleAssignments map[string]string `yaml:"role_assignments"`
}

// ReadinessConfig sets the staleness thresholds the ReadinessGate checks
// against per upstream source.
type ReadinessConfig struct {
	MaxDocumentAge   time.Duration `yaml:"max_document_age"`
	MaxVerificationAge time.Duration `yaml:"max_verification_age"`
	MaxSAPAge        time.Duration `yaml:"max_sap_age"`
}

// IngestConfig bounds the Ingestor's pipelined file processing.
type IngestConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// Config is the full process configuration.
type Config struct {
	Scanner   ScannerConfig   `yaml:"scanner"`
	Solver    SolverConfig    `yaml:"solver"`
	LLM       LLMConfig       `yaml:"llm"`
	Store     StoreConfig     `yaml:"store"`
	Persist   PersistConfig   `yaml:"persist"`
	Logging   LoggingConfig   `yaml:"logging"`
	Review    ReviewConfig    `yaml:"review"`
	Readiness ReadinessConfig `yaml:"readiness"`
	Ingest    IngestConfig    `yaml:"ingest"`
}

// Default returns a Config with the spec's stated defaults, to be
// overridden by a loaded file and then by environment variables.
func Default() Config {
	return Config{
		Scanner: ScannerConfig{
			ClientSecretEnv:   "SCANNER_CLIENT_SECRET",
			CommandTimeout:    120 * time.Second,
			RestartBackoffMin: 1 * time.Second,
			RestartBackoffMax: 30 * time.Second,
		},
		Solver: SolverConfig{
			SolveTimeout:      5 * time.Second,
			MonteCarloTimeout: 30 * time.Second,
		},
		LLM: LLMConfig{
			APIKeyEnv:   "LLM_API_KEY",
			Timeout:     120 * time.Second,
			Concurrency: 3,
		},
		Store: StoreConfig{
			ChangeFeedPrefix: "ammoniadesk:contract",
			SpoolCapacity:    256,
		},
		Persist: PersistConfig{
			LogDir:          "./data/wal",
			RotateHourUTC:   0,
			CompressSealed:  true,
			WriteQueueDepth: 128,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Readiness: ReadinessConfig{
			MaxDocumentAge:     24 * time.Hour,
			MaxVerificationAge: 6 * time.Hour,
			MaxSAPAge:          24 * time.Hour,
		},
		Ingest: IngestConfig{Concurrency: 4},
	}
}

// Load reads and parses a YAML config file over the defaults, then applies
// environment variable overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides walks the known override set, matching the teacher's
// parse-then-override pattern in internal/config/config.go.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SCANNER_BINARY_PATH"); v != "" {
		cfg.Scanner.BinaryPath = v
	}
	if v := os.Getenv("SCANNER_TENANT_ID"); v != "" {
		cfg.Scanner.TenantID = v
	}
	if v := os.Getenv("SCANNER_CLIENT_ID"); v != "" {
		cfg.Scanner.ClientID = v
	}
	if v := os.Getenv("SOLVER_BINARY_PATH"); v != "" {
		cfg.Solver.BinaryPath = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Store.RedisURL = v
	}
	if v := os.Getenv("PERSIST_LOG_DIR"); v != "" {
		cfg.Persist.LogDir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("INGEST_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ingest.Concurrency = n
		}
	}
}

// ClientSecret resolves the scanner's OAuth2 client secret from the
// environment variable named in ClientSecretEnv.
func (c ScannerConfig) ClientSecret() string {
	return os.Getenv(c.ClientSecretEnv)
}

// APIKey resolves the LLM API key from the environment variable named in
// APIKeyEnv.
func (c LLMConfig) APIKey() string {
	return os.Getenv(c.APIKeyEnv)
}
