// Package config loads the service configuration from a YAML file and
// PARTNERCORE_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"partnercore/internal/blob"
	"partnercore/internal/core"
	"partnercore/internal/logging"
	"partnercore/internal/notify"
)

// Config is the complete service configuration.
type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	Blob       blob.Config      `yaml:"blob"`
	NATS       NATSConfig       `yaml:"nats"`
	Matrix     MatrixConfig     `yaml:"matrix"`
	Locks      LockConfig       `yaml:"locks"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	// RefData is the reference data seed file. Tenants listed below are added
	// when the seed does not already declare them.
	RefData string            `yaml:"refdata"`
	Tenants map[string]string `yaml:"tenants"`
	HTTP    HTTPConfig        `yaml:"http"`
	Log     logging.Config    `yaml:"log"`
}

// StorageConfig selects the document store.
type StorageConfig struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Options converts to the core storage options.
func (s StorageConfig) Options() core.StorageOptions {
	return core.StorageOptions{Driver: core.StorageDriver(s.Driver), SQLitePath: s.SQLitePath, PostgresDSN: s.PostgresDSN}
}

// NATSConfig configures the broker. An empty URL logs notifications instead.
type NATSConfig struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

// MatrixConfig points at the role-rule file. An empty path uses the built-in rules.
type MatrixConfig struct {
	Rules    string        `yaml:"rules"`
	Watch    bool          `yaml:"watch"`
	Debounce time.Duration `yaml:"debounce"`
}

// LockConfig bounds the wait for a document lock.
type LockConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// DispatcherConfig tunes notification delivery.
type DispatcherConfig struct {
	Workers        int           `yaml:"workers"`
	QueueSize      int           `yaml:"queue_size"`
	MaxRetries     uint64        `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	DedupeSize     int           `yaml:"dedupe_size"`
}

// Notify converts to the dispatcher configuration.
func (d DispatcherConfig) Notify() notify.DispatcherConfig {
	return notify.DispatcherConfig{
		Workers:        d.Workers,
		QueueSize:      d.QueueSize,
		MaxRetries:     d.MaxRetries,
		InitialBackoff: d.InitialBackoff,
		MaxBackoff:     d.MaxBackoff,
		DedupeSize:     d.DedupeSize,
	}
}

// HTTPConfig configures the status API listener.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns a configuration that runs without external services.
func Default() Config {
	d := notify.DefaultDispatcherConfig()
	return Config{
		Storage: StorageConfig{Driver: string(core.StorageSQLite), SQLitePath: "partnercore.db"},
		Blob:    blob.Config{Driver: string(blob.DriverFilesystem), FSRoot: "blobdata"},
		NATS:    NATSConfig{Name: "partnercore"},
		Matrix:  MatrixConfig{Debounce: 250 * time.Millisecond},
		Locks:   LockConfig{Timeout: 5 * time.Second},
		Dispatcher: DispatcherConfig{
			Workers:        d.Workers,
			QueueSize:      d.QueueSize,
			MaxRetries:     d.MaxRetries,
			InitialBackoff: d.InitialBackoff,
			MaxBackoff:     d.MaxBackoff,
			DedupeSize:     d.DedupeSize,
		},
		HTTP: HTTPConfig{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Log:  logging.Config{Level: "info", Format: "json", Service: "partnercore"},
	}
}

// Load reads path over the defaults and then applies environment overrides.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overlays PARTNERCORE_* variables read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	str("PARTNERCORE_STORAGE_DRIVER", &c.Storage.Driver)
	str("PARTNERCORE_SQLITE_PATH", &c.Storage.SQLitePath)
	str("PARTNERCORE_POSTGRES_DSN", &c.Storage.PostgresDSN)
	str("PARTNERCORE_BLOB_DRIVER", &c.Blob.Driver)
	str("PARTNERCORE_BLOB_FS_ROOT", &c.Blob.FSRoot)
	str("PARTNERCORE_BLOB_S3_BUCKET", &c.Blob.S3.Bucket)
	str("PARTNERCORE_BLOB_S3_REGION", &c.Blob.S3.Region)
	str("PARTNERCORE_BLOB_S3_ENDPOINT", &c.Blob.S3.Endpoint)
	str("PARTNERCORE_BLOB_S3_ACCESS_KEY_ID", &c.Blob.S3.AccessKeyID)
	str("PARTNERCORE_BLOB_S3_SECRET_ACCESS_KEY", &c.Blob.S3.SecretAccessKey)
	str("PARTNERCORE_NATS_URL", &c.NATS.URL)
	str("PARTNERCORE_MATRIX_RULES", &c.Matrix.Rules)
	str("PARTNERCORE_REFDATA", &c.RefData)
	str("PARTNERCORE_HTTP_ADDR", &c.HTTP.Addr)
	str("PARTNERCORE_LOG_LEVEL", &c.Log.Level)
	str("PARTNERCORE_LOG_FORMAT", &c.Log.Format)
	if v, ok := lookup("PARTNERCORE_BLOB_S3_PATH_STYLE"); ok {
		c.Blob.S3.PathStyle = strings.EqualFold(v, "true")
	}
	if v, ok := lookup("PARTNERCORE_MATRIX_WATCH"); ok {
		watch, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("PARTNERCORE_MATRIX_WATCH: %w", err)
		}
		c.Matrix.Watch = watch
	}
	if v, ok := lookup("PARTNERCORE_LOCK_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("PARTNERCORE_LOCK_TIMEOUT: %w", err)
		}
		c.Locks.Timeout = d
	}
	return nil
}

// Validate rejects unknown drivers and non-positive timeouts.
func (c Config) Validate() error {
	var errs []error
	switch core.StorageDriver(c.Storage.Driver) {
	case "", core.StorageMemory, core.StorageSQLite:
	case core.StoragePostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not one of memory, sqlite, postgres", c.Storage.Driver))
	}
	switch blob.Driver(c.Blob.Driver) {
	case "", blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if c.Blob.S3.Bucket == "" {
			errs = append(errs, errors.New("blob.s3.bucket is required for the s3 driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("blob.driver %q is not one of fs, s3, memory", c.Blob.Driver))
	}
	if c.Locks.Timeout <= 0 {
		errs = append(errs, errors.New("locks.timeout must be positive"))
	}
	if c.Matrix.Watch && c.Matrix.Rules == "" {
		errs = append(errs, errors.New("matrix.watch needs matrix.rules"))
	}
	if c.Matrix.Debounce < 0 {
		errs = append(errs, errors.New("matrix.debounce must not be negative"))
	}
	if c.Dispatcher.InitialBackoff <= 0 || c.Dispatcher.MaxBackoff <= 0 {
		errs = append(errs, errors.New("dispatcher backoff intervals must be positive"))
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("http.shutdown_timeout must be positive"))
	}
	for code, short := range c.Tenants {
		if code == "" || len(short) != 3 {
			errs = append(errs, fmt.Errorf("tenant %q needs a three letter short code, got %q", code, short))
		}
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
