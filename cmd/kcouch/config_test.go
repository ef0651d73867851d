package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestReadConfigEnvironmentOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kcouch.yaml")
	data := "servers:\n  main:\n    host: db.internal\n    port: 6984\n    timeout: 10s\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("KCOUCH_SERVERS_MAIN_PASSWORD", "secret")
	t.Setenv("KCOUCH_SERVERS_MAIN_DATABASE_PREFIX", "test_")
	t.Setenv("KCOUCH_SERVERS_BACKUP_HOST", "backup.internal")
	t.Setenv("KCOUCH_SERVERS_BACKUP_PORT", "7000")

	cfg, err := readConfig(path)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(cfg.Servers), 2)

	primary := cfg.Servers["main"]
	assert.Equal(t, primary.Host, "db.internal")
	assert.Equal(t, primary.Port, 6984)
	assert.Equal(t, primary.Timeout, 10*time.Second)
	assert.Equal(t, primary.Password, "secret")
	assert.Equal(t, primary.DatabasePrefix, "test_")

	backup := cfg.Servers["backup"]
	assert.Equal(t, backup.Host, "backup.internal")
	assert.Equal(t, backup.Port, 7000)
	assert.Equal(t, backup.URL(), "http://backup.internal:7000")
}

func TestReadConfigWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := readConfig("")
	assert.Equal(t, err, nil)
	assert.Equal(t, len(cfg.Servers), 1)
	assert.Equal(t, cfg.Servers["default"].URL(), "http://localhost:5984")

	_, err = readConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.NotEqual(t, err, nil)
}

func TestEnvAliases(t *testing.T) {
	aliases := envAliases([]string{
		"KCOUCH_SERVERS_MAIN_JWT_SECRET=x",
		"KCOUCH_SERVERS_OLD_DB_HOST=y",
		"KCOUCH_SERVERS_HOST=z",
		"KCOUCH_OTHER=1",
		"PATH=/bin",
	})
	assert.Equal(t, aliases, []string{"main", "old_db"})
	assert.Equal(t, envName("main", "jwt_secret"), "KCOUCH_SERVERS_MAIN_JWT_SECRET")
}
