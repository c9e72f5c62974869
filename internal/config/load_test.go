package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tidb-datatables.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func loadWithArgs(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	defineFlags(fs)
	require.NoError(t, fs.Parse(args))
	return load(fs)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfigFile(t, "server:\n  port: 8080\n")

	cfg, err := loadWithArgs(t, "--config", path)
	require.NoError(t, err)

	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, 4000, cfg.Database.Port)
	assert.Equal(t, 30*time.Second, cfg.Database.QueryTimeout)
	assert.True(t, cfg.Database.VerifyViews)
	assert.False(t, cfg.Server.ExportEnabled)
	assert.Equal(t, 10000, cfg.Server.ExportMaxRows)
	assert.Equal(t, "tidb-datatables", cfg.Observability.ServiceName)
	assert.Equal(t, []string{"GET", "POST", "OPTIONS"}, cfg.Server.CORSAllowedMethods)
	assert.Empty(t, cfg.Views)
}

func TestLoad_Precedence(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 9000
  read_timeout: 20s
database:
  host: filehost
`)
	t.Setenv("TIDT_SERVER_PORT", "9100")
	t.Setenv("TIDT_DATABASE_HOST", "envhost")

	cfg, err := loadWithArgs(t, "--config", path, "--server.port", "9200")
	require.NoError(t, err)

	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, "envhost", cfg.Database.Host)
	assert.Equal(t, 20*time.Second, cfg.Server.ReadTimeout)
}

func TestLoad_InlineViews(t *testing.T) {
	path := writeConfigFile(t, `
views:
  - name: people
    table: app.people
    columns: [name, "{first} {last}", age]
    titles: [Name, Full name, Age]
views_dirs: [/srv/views]
`)

	cfg, err := loadWithArgs(t, "--config", path)
	require.NoError(t, err)

	require.Len(t, cfg.Views, 1)
	view := cfg.Views[0]
	assert.Equal(t, "people", view.Name)
	assert.Equal(t, "app.people", view.Table)
	assert.Equal(t, []string{"name", "{first} {last}", "age"}, view.Columns)
	assert.Equal(t, []string{"Full name"}, view.Titles[1:2])
	assert.Equal(t, []string{"/srv/views"}, cfg.ViewsDirs)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := writeConfigFile(t, "server:\n  page_cache_size: 5\n")

	_, err := loadWithArgs(t, "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page_cache_size")
}

func TestLoad_SecretFiles(t *testing.T) {
	dir := t.TempDir()
	pwdFile := filepath.Join(dir, "password")
	require.NoError(t, os.WriteFile(pwdFile, []byte("s3cret\n"), 0o600))
	dsnFile := filepath.Join(dir, "dsn")
	require.NoError(t, os.WriteFile(dsnFile, []byte("app:pw@tcp(db:4000)/shop\n"), 0o600))

	path := writeConfigFile(t, "database:\n  password_file: "+pwdFile+"\n  dsn_file: "+dsnFile+"\n")
	cfg, err := loadWithArgs(t, "--config", path)
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Database.Password)
	assert.Equal(t, "app:pw@tcp(db:4000)/shop", cfg.Database.ConnectionString)
}

func TestLoad_MissingExplicitConfigFile(t *testing.T) {
	_, err := loadWithArgs(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoad_StringSliceFromEnv(t *testing.T) {
	path := writeConfigFile(t, "server:\n  port: 8080\n")
	t.Setenv("TIDT_SERVER_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := loadWithArgs(t, "--config", path)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSAllowedOrigins)
}

func TestValidateSingleStdinFileSource(t *testing.T) {
	v := viper.New()
	v.Set("database.dsn_file", "@-")
	v.Set("database.password_file", "/tmp/password")
	require.NoError(t, validateSingleStdinFileSource(v))

	v.Set("database.password_file", " @- ")
	err := validateSingleStdinFileSource(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.dsn_file")
	assert.Contains(t, err.Error(), "database.password_file")
}

func TestLoad_IgnoresProcessFlags(t *testing.T) {
	path := writeConfigFile(t, "server:\n  port: 8081\n")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	defineFlags(fs)
	fs.Bool("check", false, "")
	fs.Bool("version", false, "")
	require.NoError(t, fs.Parse([]string{"--config", path, "--check", "--version"}))

	cfg, err := load(fs)
	require.NoError(t, err)
	assert.Equal(t, 8081, cfg.Server.Port)
}
