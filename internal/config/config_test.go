package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partnercore/internal/core"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "partnercore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  driver: memory
locks:
  timeout: 2s
dispatcher:
  max_retries: 7
tenants:
  ke: KEN
log:
  level: debug
`), 0o600))
	t.Setenv("PARTNERCORE_HTTP_ADDR", ":9090")
	t.Setenv("PARTNERCORE_LOCK_TIMEOUT", "750ms")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, string(core.StorageMemory), cfg.Storage.Driver)
	assert.Equal(t, 750*time.Millisecond, cfg.Locks.Timeout)
	assert.Equal(t, uint64(7), cfg.Dispatcher.MaxRetries)
	assert.Equal(t, 200*time.Millisecond, cfg.Dispatcher.InitialBackoff)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, "KEN", cfg.Tenants["ke"])
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, uint64(7), cfg.Dispatcher.Notify().MaxRetries)
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(env(map[string]string{
		"PARTNERCORE_STORAGE_DRIVER":     "postgres",
		"PARTNERCORE_POSTGRES_DSN":       "postgres://localhost/partnercore",
		"PARTNERCORE_BLOB_DRIVER":        "s3",
		"PARTNERCORE_BLOB_S3_BUCKET":     "attachments",
		"PARTNERCORE_BLOB_S3_PATH_STYLE": "TRUE",
		"PARTNERCORE_NATS_URL":           "nats://localhost:4222",
		"PARTNERCORE_MATRIX_RULES":       "/etc/partnercore/rules.yaml",
		"PARTNERCORE_MATRIX_WATCH":       "true",
	})))
	require.NoError(t, cfg.Validate())
	opts := cfg.Storage.Options()
	assert.Equal(t, core.StoragePostgres, opts.Driver)
	assert.True(t, cfg.Blob.S3.PathStyle)
	assert.True(t, cfg.Matrix.Watch)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)

	bad := Default()
	assert.Error(t, bad.ApplyEnv(env(map[string]string{"PARTNERCORE_LOCK_TIMEOUT": "soon"})))
	assert.Error(t, bad.ApplyEnv(env(map[string]string{"PARTNERCORE_MATRIX_WATCH": "maybe"})))
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"storage driver":   func(c *Config) { c.Storage.Driver = "mongo" },
		"postgres dsn":     func(c *Config) { c.Storage.Driver = "postgres" },
		"blob driver":      func(c *Config) { c.Blob.Driver = "ftp" },
		"s3 bucket":        func(c *Config) { c.Blob.Driver = "s3" },
		"lock timeout":     func(c *Config) { c.Locks.Timeout = 0 },
		"watch no rules":   func(c *Config) { c.Matrix.Watch = true },
		"backoff":          func(c *Config) { c.Dispatcher.InitialBackoff = -time.Second },
		"shutdown timeout": func(c *Config) { c.HTTP.ShutdownTimeout = 0 },
		"tenant short":     func(c *Config) { c.Tenants = map[string]string{"ke": "KENYA"} },
		"log level":        func(c *Config) { c.Log.Level = "loud" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
