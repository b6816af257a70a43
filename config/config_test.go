package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentmind/core"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil, WithSearchPaths(t.TempDir()))
	require.NoError(t, err)

	assert.Equal(t, "", cfg.File)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "", cfg.Server.GRPCAddr())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 30*time.Second, cfg.Startup.ActivationTimeout)
	assert.Equal(t, "sqlite", cfg.Persistence.Driver)
	assert.Equal(t, "system", cfg.Persistence.DefaultActor)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 8, cfg.Async.Workers)
	assert.Equal(t, 100, cfg.Async.QueueSize)

	set := cfg.Capabilities.Set()
	assert.Equal(t, core.ActivationOrder(), set.List(), "all capabilities default to enabled")
}

func TestLoad_FlagsOverrideFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", `
server:
  port: 9000
  host: 127.0.0.1
logging:
  level: warn
`)
	t.Setenv("CONTENTMIND_SERVER_PORT", "9100")
	t.Setenv("CONTENTMIND_LOGGING_LEVEL", "error")

	cfg, err := Load([]string{"--port=8081"}, WithSearchPaths(dir))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "config.yaml"), cfg.File)
	assert.Equal(t, 8081, cfg.Server.Port, "flag wins over env and file")
	assert.Equal(t, "error", cfg.Logging.Level, "env wins over file")
	assert.Equal(t, "127.0.0.1", cfg.Server.Host, "file wins over default")
}

func TestLoad_UnknownArgsTolerated(t *testing.T) {
	cfg, err := Load([]string{"--spring.main.banner-mode=off", "serve", "--port", "8085", "extra"},
		WithSearchPaths(t.TempDir()))
	require.NoError(t, err)

	assert.Equal(t, 8085, cfg.Server.Port)
	assert.Equal(t, []string{"--spring.main.banner-mode=off", "serve", "extra"}, cfg.Args)
}

func TestLoad_UnknownFlagsForwardedWithValues(t *testing.T) {
	cfg, err := Load([]string{
		"--port=8080",
		"--spring.profiles.active=dev",
		"--server.servlet.context-path", "/api",
		"pos",
		"--", "--port", "9999",
	}, WithSearchPaths(t.TempDir()))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port, "flags after -- are not interpreted")
	assert.Equal(t, []string{
		"--spring.profiles.active=dev",
		"--server.servlet.context-path", "/api",
		"pos",
		"--port", "9999",
	}, cfg.Args)
}

func TestLoad_HelpRequested(t *testing.T) {
	for _, args := range [][]string{{"--help"}, {"--port=8080", "-h"}} {
		_, err := Load(args, WithSearchPaths(t.TempDir()))
		assert.ErrorIs(t, err, ErrHelp, "%v", args)
	}
}

func TestLoad_ExplicitConfigMissing(t *testing.T) {
	_, err := Load([]string{"--config", filepath.Join(t.TempDir(), "nope.yaml")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestLoad_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "server: [unterminated\n")

	_, err := Load(nil, WithSearchPaths(dir))
	require.Error(t, err)
}

func TestLoad_ProfileOverlay(t *testing.T) {
	dir := t.TempDir()
	base := writeFile(t, dir, "config.yaml", `
cache:
  backend: memory
  default_ttl: 1m
async:
  workers: 2
`)
	writeFile(t, dir, "config.prod.yaml", `
cache:
  backend: redis
  redis:
    addr: redis.internal:6379
`)

	cfg, err := Load([]string{"--config", base, "--profile", "prod"})
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.Profile)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, "redis.internal:6379", cfg.Cache.Redis.Addr)
	assert.Equal(t, time.Minute, cfg.Cache.DefaultTTL, "base values survive the overlay")
	assert.Equal(t, 2, cfg.Async.Workers)
}

func TestLoad_ProfileFromEnv(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.staging.yaml", "server:\n  port: 7070\n")
	t.Setenv("CONTENTMIND_PROFILE", "staging")

	cfg, err := Load(nil, WithSearchPaths(dir))
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestLoad_MissingProfile(t *testing.T) {
	_, err := Load([]string{"--profile", "ghost"}, WithSearchPaths(t.TempDir()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config.ghost.yaml")
}

func TestLoad_CapabilityToggles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", `
capabilities:
  response_caching: false
  async_execution: false
`)
	cfg, err := Load(nil, WithSearchPaths(dir))
	require.NoError(t, err)

	set := cfg.Capabilities.Set()
	assert.Equal(t, []core.Capability{core.PersistenceAuditing, core.TransactionManagement}, set.List())
}

func TestLoad_InvalidCoreSectionFails(t *testing.T) {
	_, err := Load([]string{"--log-level", "verbose"}, WithSearchPaths(t.TempDir()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}

func TestLoad_CacheMisconfigurationDeferredToActivation(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "cache:\n  backend: memcached\n")

	cfg, err := Load(nil, WithSearchPaths(dir))
	require.NoError(t, err, "capability sections are validated when the capability activates")

	err = cfg.ValidateCache()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache.backend must be one of [memory redis]")
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.NoError(t, cfg.ValidatePersistence())
	require.NoError(t, cfg.ValidateTransactions())
	require.NoError(t, cfg.ValidateCache())
	require.NoError(t, cfg.ValidateAsync())
}
