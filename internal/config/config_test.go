package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range envBindings {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(Options{EnvFiles: []string{}})
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, ":8080", cfg.Server.Addr())
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "./contacts.db", cfg.Database.URL)
	assert.Equal(t, 10, cfg.Database.MaxOpenConns)
	assert.Equal(t, 5*time.Second, cfg.Database.BusyTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_URL", "postgres://localhost/contacts")
	t.Setenv("DATABASE_BUSY_TIMEOUT", "250ms")
	t.Setenv("LOG_FORMAT", "console")

	cfg, err := Load(Options{EnvFiles: []string{}})
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres://localhost/contacts", cfg.Database.URL)
	assert.Equal(t, 250*time.Millisecond, cfg.Database.BusyTimeout)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoadFileEnvFileAndFlags(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
server:
  port: 7000
  write-timeout: 30s
database:
  url: /var/lib/contacts.db
log:
  level: debug
`), 0o600))

	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("LOG_LEVEL=warn\n"), 0o600))

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("port", 0, "")
	flags.String("database-url", "", "")
	require.NoError(t, flags.Parse([]string{"--port", "7100"}))

	cfg, err := Load(Options{File: file, EnvFiles: []string{envFile}, Flags: flags})
	require.NoError(t, err)

	assert.Equal(t, 7100, cfg.Server.Port, "flag beats file")
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, "/var/lib/contacts.db", cfg.Database.URL, "unset flag does not clobber file")
	assert.Equal(t, "warn", cfg.Log.Level, ".env beats file")
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(Options{File: filepath.Join(t.TempDir(), "missing.yaml"), EnvFiles: []string{}})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	clearEnv(t)

	t.Setenv("PORT", "70000")
	_, err := Load(Options{EnvFiles: []string{}})
	assert.Error(t, err)

	t.Setenv("PORT", "8080")
	t.Setenv("LOG_FORMAT", "xml")
	_, err = Load(Options{EnvFiles: []string{}})
	assert.Error(t, err)
}
