package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
store:
  driver: sqlite
  dsn: file:govwatch.db
  max_conns: 2
search:
  api_key: rapid-key
  min_likes: 50
  page_size: 10
  requests_per_second: 0.5
classifier:
  api_key: openai-key
  model: gpt-4o
  temperature: 0
  platform: Instagram
ingest:
  max_records: 500
  concurrency: 3
schedule:
  interval: 30m
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
archive:
  provider: local
  base_dir: /tmp/pages
logging:
  development: false
  level: warn
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, DriverSQLite, cfg.Store.Driver)
	require.Equal(t, "file:govwatch.db", cfg.Store.DSN)
	require.Equal(t, 50, cfg.Search.MinLikes)
	require.Equal(t, 20, cfg.Search.MinRetweets)
	require.Equal(t, 10, cfg.Search.PageSize)
	require.InDelta(t, 0.5, cfg.Search.RequestsPerSecond, 0.0001)
	require.Equal(t, "gpt-4o", cfg.Classifier.Model)
	require.Equal(t, "Instagram", cfg.Classifier.Platform)
	require.Zero(t, cfg.Classifier.Temperature)
	require.EqualValues(t, 500, cfg.Ingest.MaxRecords)
	require.Equal(t, 3, cfg.Ingest.Concurrency)
	require.Equal(t, 30*time.Minute, cfg.Schedule.Interval)
	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, ArchiveLocal, cfg.Archive.Provider)
	require.False(t, cfg.Logging.Development)
	require.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadDefaultsWithEnv(t *testing.T) {
	t.Setenv("GOVWATCH_STORE_DRIVER", "memory")
	t.Setenv("GOVWATCH_SEARCH_API_KEY", "rapid-key")
	t.Setenv("GOVWATCH_CLASSIFIER_API_KEY", "openai-key")

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, DriverMemory, cfg.Store.Driver)
	require.Equal(t, "rapid-key", cfg.Search.APIKey)
	require.Equal(t, "twitter154.p.rapidapi.com", cfg.Search.Host)
	require.Equal(t, "top", cfg.Search.Section)
	require.Equal(t, "2025-01-01", cfg.Search.StartDate)
	require.Equal(t, "en", cfg.Search.Language)
	require.Equal(t, 20, cfg.Search.PageSize)
	require.Equal(t, "gpt-4o-mini", cfg.Classifier.Model)
	require.InDelta(t, 0.2, cfg.Classifier.Temperature, 0.0001)
	require.Equal(t, "TikTok", cfg.Classifier.Platform)
	require.EqualValues(t, 100000, cfg.Ingest.MaxRecords)
	require.Equal(t, 1, cfg.Ingest.Concurrency)
	require.Equal(t, time.Hour, cfg.Schedule.Interval)
	require.Equal(t, 30*time.Second, cfg.SearchTimeout())
	require.Equal(t, time.Minute, cfg.ClassifierTimeout())
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Store:      StoreConfig{Driver: DriverMemory},
		Search:     SearchConfig{URL: "http://search", APIKey: "k", PageSize: 20, TimeoutSeconds: 5, RequestsPerSecond: 1},
		Classifier: ClassifierConfig{APIKey: "k", Model: "gpt-4o-mini", TimeoutSeconds: 5},
		Ingest:     IngestConfig{MaxRecords: 10, Concurrency: 1},
		Schedule:   ScheduleConfig{Interval: time.Hour},
		Server:     ServerConfig{Enabled: true, Port: 8080},
	}
	require.NoError(t, base.Validate())

	pg := base
	pg.Store = StoreConfig{Driver: DriverPostgres, DSN: "postgres://db", MaxConns: 4}
	require.NoError(t, pg.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown driver", func(c *Config) { c.Store.Driver = "mongo" }, "store.driver"},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = DriverPostgres }, "store.dsn"},
		{"postgres without pool size", func(c *Config) { c.Store.Driver, c.Store.DSN = DriverPostgres, "postgres://db" }, "store.max_conns"},
		{"negative pool size", func(c *Config) {
			c.Store.Driver, c.Store.DSN, c.Store.MaxConns = DriverPostgres, "postgres://db", -1
		}, "store.max_conns"},
		{"missing search key", func(c *Config) { c.Search.APIKey = "" }, "search.api_key"},
		{"zero page size", func(c *Config) { c.Search.PageSize = 0 }, "search.page_size"},
		{"zero rate", func(c *Config) { c.Search.RequestsPerSecond = 0 }, "search.requests_per_second"},
		{"missing classifier key", func(c *Config) { c.Classifier.APIKey = "" }, "classifier.api_key"},
		{"zero ceiling", func(c *Config) { c.Ingest.MaxRecords = 0 }, "ingest.max_records"},
		{"zero concurrency", func(c *Config) { c.Ingest.Concurrency = 0 }, "ingest.concurrency"},
		{"zero interval", func(c *Config) { c.Schedule.Interval = 0 }, "schedule.interval"},
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"gcs without bucket", func(c *Config) { c.Archive.Provider = ArchiveGCS }, "archive.gcs_bucket"},
		{"pubsub without topic", func(c *Config) { c.PubSub.Enabled = true }, "pubsub"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}
