package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "1", cfg.Version)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "chronicle", cfg.Database.Schema)
	assert.Equal(t, 30*24*time.Hour, cfg.Archive.MaxAge)
	assert.Equal(t, 24*time.Hour, cfg.Archive.SafetyMargin)
	assert.Equal(t, int64(1000), cfg.Snapshots.EventThreshold)
	assert.Equal(t, 5, cfg.Snapshots.Retention)
	assert.Equal(t, "info", cfg.Telemetry.LogLevel)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name       string
		modify     func(*Config)
		wantErrors int
	}{
		{
			name:       "valid default config with postgres URL",
			modify:     func(c *Config) { c.Database.URL = "postgres://localhost/db" },
			wantErrors: 0,
		},
		{
			name:       "valid memory driver",
			modify:     func(c *Config) { c.Database.Driver = DriverMemory },
			wantErrors: 0,
		},
		{
			name:       "missing driver",
			modify:     func(c *Config) { c.Database.Driver = "" },
			wantErrors: 1,
		},
		{
			name:       "invalid driver",
			modify:     func(c *Config) { c.Database.Driver = "mysql" },
			wantErrors: 1,
		},
		{
			name:       "postgres without URL",
			modify:     func(c *Config) { c.Database.URL = "" },
			wantErrors: 1,
		},
		{
			name: "bad archive policy",
			modify: func(c *Config) {
				c.Database.Driver = DriverMemory
				c.Archive.Path = " "
				c.Archive.MaxAge = 0
				c.Archive.SafetyMargin = -time.Hour
				c.Archive.RollupInterval = 0
			},
			wantErrors: 4,
		},
		{
			name: "bad snapshot policy",
			modify: func(c *Config) {
				c.Database.Driver = DriverMemory
				c.Snapshots.MinEvents = 0
				c.Snapshots.EventThreshold = -1
				c.Snapshots.Retention = 0
			},
			wantErrors: 3,
		},
		{
			name: "unknown snapshot encoding",
			modify: func(c *Config) {
				c.Database.Driver = DriverMemory
				c.Snapshots.Encoding = "protobuf"
			},
			wantErrors: 1,
		},
		{
			name: "bad monitor and log level",
			modify: func(c *Config) {
				c.Database.Driver = DriverMemory
				c.Monitor.Interval = 0
				c.Telemetry.LogLevel = "verbose"
			},
			wantErrors: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			errors := cfg.Validate()
			assert.Equal(t, tt.wantErrors, len(errors), "errors: %v", errors)
		})
	}
}

func TestConfig_SaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Database.Driver = DriverMemory
	cfg.Archive.MaxAge = 7 * 24 * time.Hour
	cfg.Notify.KafkaBrokers = []string{"broker1:9092", "broker2:9092"}

	require.NoError(t, cfg.Save(tmpDir))
	assert.True(t, Exists(tmpDir))

	loaded, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadFile_PartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  driver: memory
archive:
  max_age: 168h
`), 0644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, 168*time.Hour, cfg.Archive.MaxAge)
	assert.Equal(t, 24*time.Hour, cfg.Archive.SafetyMargin)
	assert.Equal(t, "chronicle", cfg.Database.Schema)
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, os.IsNotExist(err))

	path := filepath.Join(t.TempDir(), ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte("database: [not a map"), 0644))
	_, err = LoadFile(path)
	assert.Error(t, err)
}

func TestGenerateYAML_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(GenerateYAML(DefaultConfig())), 0644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	want := DefaultConfig()
	assert.Equal(t, want.Archive, cfg.Archive)
	assert.Equal(t, want.Snapshots, cfg.Snapshots)
	assert.Equal(t, want.Monitor, cfg.Monitor)
	assert.Equal(t, "${DATABASE_URL}", cfg.Database.URL)
}

func TestConfig_ApplyEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://db/game")
	t.Setenv("CHRONICLE_ARCHIVE_MAX_AGE", "72h")
	t.Setenv("CHRONICLE_SNAPSHOT_RETENTION", "9")
	t.Setenv("CHRONICLE_NOTIFY_KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("CHRONICLE_TRACE", "true")

	cfg := DefaultConfig()
	cfg.Database.URL = "${DATABASE_URL}"
	require.NoError(t, cfg.ApplyEnv())

	assert.Equal(t, "postgres://db/game", cfg.Database.URL)
	assert.Equal(t, 72*time.Hour, cfg.Archive.MaxAge)
	assert.Equal(t, 9, cfg.Snapshots.Retention)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Notify.KafkaBrokers)
	assert.True(t, cfg.Telemetry.Trace)

	// Unset variables keep file values.
	assert.Equal(t, 24*time.Hour, cfg.Archive.SafetyMargin)

	t.Run("invalid value", func(t *testing.T) {
		t.Setenv("CHRONICLE_SNAPSHOT_RETENTION", "many")
		err := DefaultConfig().ApplyEnv()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse env")
	})
}

func TestResolve(t *testing.T) {
	t.Run("explicit path", func(t *testing.T) {
		dir := t.TempDir()
		cfg := DefaultConfig()
		cfg.Database.Driver = DriverMemory
		require.NoError(t, cfg.Save(dir))

		t.Setenv("CHRONICLE_DATABASE_SCHEMA", "override")
		got, gotDir, err := Resolve(filepath.Join(dir, ConfigFileName))
		require.NoError(t, err)
		assert.Equal(t, dir, gotDir)
		assert.Equal(t, DriverMemory, got.Database.Driver)
		assert.Equal(t, "override", got.Database.Schema)
	})

	t.Run("searches parent directories", func(t *testing.T) {
		root := t.TempDir()
		nested := filepath.Join(root, "a", "b")
		require.NoError(t, os.MkdirAll(nested, 0755))

		cfg := DefaultConfig()
		cfg.Archive.Path = "cold.db"
		require.NoError(t, cfg.Save(root))

		origWd, err := os.Getwd()
		require.NoError(t, err)
		require.NoError(t, os.Chdir(nested))
		t.Cleanup(func() { _ = os.Chdir(origWd) })

		got, gotDir, err := Resolve("")
		require.NoError(t, err)
		assert.Equal(t, "cold.db", got.Archive.Path)

		wantDir, err := filepath.EvalSymlinks(root)
		require.NoError(t, err)
		gotDirResolved, err := filepath.EvalSymlinks(gotDir)
		require.NoError(t, err)
		assert.Equal(t, wantDir, gotDirResolved)
	})

	t.Run("missing file yields defaults", func(t *testing.T) {
		origWd, err := os.Getwd()
		require.NoError(t, err)
		require.NoError(t, os.Chdir(t.TempDir()))
		t.Cleanup(func() { _ = os.Chdir(origWd) })

		got, gotDir, err := Resolve("")
		require.NoError(t, err)
		assert.Empty(t, gotDir)
		assert.Equal(t, DefaultConfig().Archive, got.Archive)
	})
}
