package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
storage:
  root: /var/lib/scanpipe
tokens:
  secret: shhh
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, int64(32<<20), cfg.Storage.MaxUploadBytes)
	assert.Equal(t, []string{".jpg", ".jpeg", ".png"}, cfg.Storage.AllowedExtensions)
	assert.Equal(t, 24*time.Hour, cfg.Tokens.AccessTTL.Std())
	assert.Equal(t, 4, cfg.Worker.Concurrency)
}

func TestLoadParsesDurations(t *testing.T) {
	path := writeConfig(t, `
storage:
  root: /var/lib/scanpipe
tokens:
  secret: shhh
  accessTTL: 12h
  taskTTL: 90
analyzer:
  timeout: 45s
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 12*time.Hour, cfg.Tokens.AccessTTL.Std())
	// Bare numbers are seconds.
	assert.Equal(t, 90*time.Second, cfg.Tokens.TaskTTL.Std())
	assert.Equal(t, 45*time.Second, cfg.Analyzer.Timeout.Std())
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: oracle
storage:
  root: /tmp/x
tokens:
  secret: shhh
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRequiresSecretAndRoot(t *testing.T) {
	path := writeConfig(t, `
storage:
  root: /tmp/x
`)
	_, err := Load(path)
	assert.Error(t, err)

	path = writeConfig(t, `
tokens:
  secret: shhh
`)
	_, err = Load(path)
	assert.Error(t, err)
}

func TestDSNHelpers(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: postgres
  host: db.internal
  port: 5432
  user: scanpipe
  password: pw
  name: scans
storage:
  root: /tmp/x
tokens:
  secret: shhh
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t,
		"host=db.internal port=5432 user=scanpipe password=pw dbname=scans sslmode=disable",
		cfg.PostgresDSN())
	assert.Equal(t,
		"scanpipe:pw@tcp(db.internal:5432)/scans?parseTime=true&charset=utf8mb4&loc=UTC",
		cfg.MySQLDSN())
}
