package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	SPD       SPDConfig       `yaml:"spd"`
	Query     QueryConfig     `yaml:"query"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Auth      AuthConfig      `yaml:"auth"`
	ACL       ACLConfig       `yaml:"acl"`
	Worker    WorkerConfig    `yaml:"worker"`
	Backup    BackupConfig    `yaml:"backup"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// StoreConfig locates the database root directory.
type StoreConfig struct {
	Root string `yaml:"root"`
}

// SPDConfig holds the numeric knobs that enter the attested config. Any
// change here changes config_hash and therefore db_root.
type SPDConfig struct {
	Dim        int     `yaml:"dim"`
	KNeighbors int     `yaml:"k_neighbors"`
	LambdaG    float64 `yaml:"lambda_g"`
	LambdaC    float64 `yaml:"lambda_c"`
	LambdaQ    float64 `yaml:"lambda_q"`
	Tol        float64 `yaml:"tol"`
	MaxIter    int     `yaml:"max_iter"`
}

// QueryConfig contains routing/composition defaults and backpressure.
type QueryConfig struct {
	RouteK      int      `yaml:"route_k"`
	ComposeKC   int      `yaml:"compose_kc"`
	Epsilon     float64  `yaml:"epsilon"`
	Tau         float64  `yaml:"tau"`
	MaxInFlight int64    `yaml:"max_in_flight"`
	ManifestTTL Duration `yaml:"manifest_ttl"`
}

// EmbeddingConfig contains embedding adapter settings.
type EmbeddingConfig struct {
	APIKey   string `yaml:"-"` // env-only, never in YAML
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	Revision string `yaml:"revision"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// ACLConfig controls capability gating over lattices.
type ACLConfig struct {
	StrictClaims bool `yaml:"strict_claims"`
}

// WorkerConfig contains background worker settings.
type WorkerConfig struct {
	ScanInterval Duration `yaml:"scan_interval"`
	WatchDir     string   `yaml:"watch_dir"`
}

// BackupConfig contains S3-compatible backup settings. An empty bucket
// keeps the system local-only.
type BackupConfig struct {
	Interval  Duration `yaml:"interval"`
	Endpoint  string   `yaml:"endpoint"`
	Bucket    string   `yaml:"bucket"`
	AccessKey string   `yaml:"-"` // env-only, never in YAML
	SecretKey string   `yaml:"-"` // env-only, never in YAML
	UseSSL    bool     `yaml:"use_ssl"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("LATTICEDB_CONFIG_PATH", "config/latticedb.yaml")

	// Load YAML file if it exists (missing file is not an error)
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Store: StoreConfig{
			Root: "data/latticedb",
		},
		SPD: SPDConfig{
			Dim:        32,
			KNeighbors: 4,
			LambdaG:    1.0,
			LambdaC:    0.5,
			LambdaQ:    4.0,
			Tol:        1e-5,
			MaxIter:    256,
		},
		Query: QueryConfig{
			RouteK:      8,
			ComposeKC:   4,
			Epsilon:     1e-4,
			Tau:         1e-6,
			MaxInFlight: 64,
			ManifestTTL: Duration(2 * time.Second),
		},
		Embedding: EmbeddingConfig{
			Provider: "local",
			Model:    "bge-small-en-v1.5",
			Revision: "main",
		},
		Worker: WorkerConfig{
			ScanInterval: Duration(30 * time.Second),
		},
		Backup: BackupConfig{
			Interval: Duration(1 * time.Hour),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
// Missing file is not an error; we just use defaults.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("LATTICEDB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LATTICEDB_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = Duration(d)
		}
	}
	if v := os.Getenv("LATTICEDB_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = Duration(d)
		}
	}
	if v := os.Getenv("LATTICEDB_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ShutdownTimeout = Duration(d)
		}
	}

	// Store
	if v := os.Getenv("LATTICEDB_ROOT"); v != "" {
		cfg.Store.Root = v
	}

	// SPD
	if v := os.Getenv("LATTICEDB_DIM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SPD.Dim = n
		}
	}
	if v := os.Getenv("LATTICEDB_K_NEIGHBORS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SPD.KNeighbors = n
		}
	}
	if v := os.Getenv("LATTICEDB_TOL"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.SPD.Tol = f
		}
	}
	if v := os.Getenv("LATTICEDB_MAX_ITER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SPD.MaxIter = n
		}
	}

	// Query
	if v := os.Getenv("LATTICEDB_MAX_IN_FLIGHT"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Query.MaxInFlight = n
		}
	}

	// Embedding (OPENAI_API_KEY is industry convention)
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("LATTICEDB_EMBEDDING_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := os.Getenv("LATTICEDB_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("LATTICEDB_EMBEDDING_REVISION"); v != "" {
		cfg.Embedding.Revision = v
	}

	// Auth
	if v := os.Getenv("LATTICEDB_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}

	// ACL
	if v := os.Getenv("LATTICEDB_ACL_STRICT_CLAIMS"); v != "" {
		cfg.ACL.StrictClaims = v == "true" || v == "1"
	}

	// Worker
	if v := os.Getenv("LATTICEDB_SCAN_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Worker.ScanInterval = Duration(d)
		}
	}
	if v := os.Getenv("LATTICEDB_WATCH_DIR"); v != "" {
		cfg.Worker.WatchDir = v
	}

	// Backup
	if v := os.Getenv("LATTICEDB_BACKUP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Backup.Interval = Duration(d)
		}
	}
	if v := os.Getenv("LATTICEDB_BACKUP_ENDPOINT"); v != "" {
		cfg.Backup.Endpoint = v
	}
	if v := os.Getenv("LATTICEDB_BACKUP_BUCKET"); v != "" {
		cfg.Backup.Bucket = v
	}
	if v := os.Getenv("LATTICEDB_BACKUP_ACCESS_KEY"); v != "" {
		cfg.Backup.AccessKey = v
	}
	if v := os.Getenv("LATTICEDB_BACKUP_SECRET_KEY"); v != "" {
		cfg.Backup.SecretKey = v
	}
	if v := os.Getenv("LATTICEDB_BACKUP_USE_SSL"); v != "" {
		cfg.Backup.UseSSL = v == "true" || v == "1"
	}

	// Log
	if v := os.Getenv("LATTICEDB_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LATTICEDB_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// validate checks that required configuration values are set.
// In dev mode (LATTICEDB_DEV_MODE=true), API key validation is skipped.
func (c *Config) validate() error {
	if c.SPD.Dim <= 0 {
		return errors.New("spd.dim must be positive")
	}
	if c.SPD.KNeighbors <= 0 {
		return errors.New("spd.k_neighbors must be positive")
	}
	if c.SPD.LambdaG <= 0 || c.SPD.LambdaC <= 0 || c.SPD.LambdaQ <= 0 {
		return errors.New("spd lambda regularizers must be positive")
	}
	if c.SPD.MaxIter <= 0 {
		return errors.New("spd.max_iter must be positive")
	}

	// Dev mode bypasses API key validation
	if os.Getenv("LATTICEDB_DEV_MODE") == "true" {
		return nil
	}
	if c.Auth.APIKey == "" {
		return errors.New("LATTICEDB_API_KEY is required")
	}
	if c.Embedding.Provider == "openai" && c.Embedding.APIKey == "" {
		return errors.New("OPENAI_API_KEY is required for the openai embedding provider")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
