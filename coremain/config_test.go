package coremain

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Origin = "example.com"
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr bool
	}{
		{"default with origin", func(c *Config) {}, false},
		{"ipv4 origin", func(c *Config) { c.Origin = "10.0.0.1" }, false},
		{"ipv6 origin", func(c *Config) { c.Origin = "[2001:db8::1]" }, false},
		{"empty origin", func(c *Config) { c.Origin = "" }, true},
		{"origin with scheme", func(c *Config) { c.Origin = "https://example.com" }, true},
		{"origin with port", func(c *Config) { c.Origin = "example.com:443" }, true},
		{"origin with path", func(c *Config) { c.Origin = "example.com/foo" }, true},
		{"ipv6 origin with port", func(c *Config) { c.Origin = "[::1]:443" }, true},
		{"bad listen", func(c *Config) { c.Listen = "localhost" }, true},
		{"port zero", func(c *Config) { c.Listen = "localhost:0" }, true},
		{"port too large", func(c *Config) { c.Listen = "localhost:70000" }, true},
		{"port not a number", func(c *Config) { c.Listen = "localhost:http" }, true},
		{"zero ttl", func(c *Config) { c.Cache.TTL = 0 }, true},
		{"negative ttl", func(c *Config) { c.Cache.TTL = -time.Second }, true},
		{"shards not power of 2", func(c *Config) { c.Cache.Shards = 6 }, true},
		{"negative max entries", func(c *Config) { c.Cache.MaxEntries = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfig_file(t *testing.T) {
	f := filepath.Join(t.TempDir(), "proxy.yaml")
	require.NoError(t, os.WriteFile(f, []byte(`
origin: example.com
listen: 127.0.0.1:9000
cache:
  ttl: 1m
  max_entries: 1000
upstream:
  timeout: 3s
  http3: true
`), 0o644))

	cfg, used, err := loadConfig(f)
	require.NoError(t, err)
	assert.Equal(t, f, used)
	assert.Equal(t, "example.com", cfg.Origin)
	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.Equal(t, time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 1000, cfg.Cache.MaxEntries)
	assert.Equal(t, 16, cfg.Cache.Shards)
	assert.Equal(t, time.Minute, cfg.Cache.CleanerInterval)
	assert.Equal(t, 3*time.Second, cfg.Upstream.Timeout)
	assert.True(t, cfg.Upstream.HTTP3)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_unknownKey(t *testing.T) {
	f := filepath.Join(t.TempDir(), "proxy.yaml")
	require.NoError(t, os.WriteFile(f, []byte("origin: example.com\nunknown_key: 1\n"), 0o644))
	_, _, err := loadConfig(f)
	assert.Error(t, err)
}

func TestLoadConfig_missingFile(t *testing.T) {
	_, _, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_defaultsAndEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("MOSPROXY_ORIGIN", "env.example.com")
	t.Setenv("MOSPROXY_CACHE_TTL", "45s")

	cfg, used, err := loadConfig("")
	require.NoError(t, err)
	assert.Empty(t, used)
	assert.Equal(t, "env.example.com", cfg.Origin)
	assert.Equal(t, 45*time.Second, cfg.Cache.TTL)
	assert.Equal(t, "localhost:8080", cfg.Listen)
}

func TestApplyFlags(t *testing.T) {
	cfg := DefaultConfig()
	applyFlags(cfg, &serverFlags{}, nil)
	assert.Equal(t, DefaultConfig(), cfg)

	applyFlags(cfg, &serverFlags{ttl: 5 * time.Second}, []string{"example.com", "9090"})
	assert.Equal(t, "example.com", cfg.Origin)
	assert.Equal(t, "localhost:9090", cfg.Listen)
	assert.Equal(t, 5*time.Second, cfg.Cache.TTL)
}

func TestConfigCmd(t *testing.T) {
	out := new(bytes.Buffer)
	rootCmd.SetOut(out)
	rootCmd.SetArgs([]string{"config"})
	defer rootCmd.SetArgs(nil)
	require.NoError(t, rootCmd.Execute())

	assert.Contains(t, out.String(), "ttl: 30s")
	assert.Contains(t, out.String(), "listen: localhost:8080")
}
