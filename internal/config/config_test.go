package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/atlas/internal/salience"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	want := Default()
	assert.Equal(t, want.Ledger, cfg.Ledger)
	assert.Equal(t, want.Confidence, cfg.Confidence)
	assert.Equal(t, want.Conflict, cfg.Conflict)
	assert.Equal(t, want.Salience.Weights, cfg.Salience.Weights)
	assert.Equal(t, want.Salience.Thresholds, cfg.Salience.Thresholds)
	assert.Equal(t, 10*time.Minute, cfg.Observer.MaxDuration)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
home: /var/lib/atlas
ledger:
  dir: events
validation:
  mode: lenient
confidence:
  base: 0.4
  recency_half_life: 2h
conflict:
  fingerprint_window: 30m
salience:
  thresholds:
    surfaced: 0.6
`)
	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/atlas", cfg.Home)
	assert.Equal(t, "events", cfg.Ledger.Dir)
	assert.Equal(t, "events.jsonl", cfg.Ledger.FileName, "unset keys keep defaults")
	assert.Equal(t, "lenient", cfg.Validation.Mode)
	assert.InDelta(t, 0.4, cfg.Confidence.Base, 1e-9)
	assert.Equal(t, 2*time.Hour, cfg.Confidence.RecencyHalfLife)
	assert.Equal(t, 30*time.Minute, cfg.Conflict.FingerprintWindow)
	assert.InDelta(t, 0.6, cfg.Salience.Thresholds.Surfaced, 1e-9)
	assert.InDelta(t, 0.85, cfg.Salience.Thresholds.Interrupt, 1e-9)
	assert.Equal(t, "/var/lib/atlas/events", cfg.LedgerDir())
}

func TestLoadEnvBeatsFile(t *testing.T) {
	path := writeFile(t, "ledger:\n  dir: from-file\n")
	t.Setenv("ATLAS_LEDGER_DIR", "from-env")
	t.Setenv("ATLAS_SALIENCE_WEIGHTS_RISK", "2.5")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Ledger.Dir)
	assert.InDelta(t, 2.5, cfg.Salience.Weights[salience.Risk], 1e-9)
}

func TestLoadOverridesBeatEnv(t *testing.T) {
	t.Setenv("ATLAS_LOG_LEVEL", "warn")
	cfg, err := Load("", map[string]any{"log.level": "debug", "home": "/tmp/h"})
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/tmp/h", cfg.Home)
}

func TestLoadRejectsInvalid(t *testing.T) {
	_, err := Load(writeFile(t, "validation:\n  mode: sloppy\n"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation.mode")

	_, err = Load(writeFile(t, "observer:\n  concurrency: 0\n"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "observer.concurrency")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.Error(t, err)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Home = ""
	cfg.Snapshot.Path = ""
	cfg.Confidence.Base = -1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "home is required")
	assert.Contains(t, err.Error(), "snapshot.path")
	assert.Contains(t, err.Error(), "base")
}

func TestPathResolution(t *testing.T) {
	cfg := Default()
	cfg.Home = "/srv/atlas"
	assert.Equal(t, "/srv/atlas/snapshot/snapshot.json", cfg.SnapshotPath())
	assert.Equal(t, "/srv/atlas/index.db", cfg.IndexPath())
	assert.Equal(t, "/srv/atlas/rejected.jsonl", cfg.RejectLogPath())
	assert.Equal(t, "", cfg.RegistryPath())

	cfg.Snapshot.Path = "/elsewhere/snap.json"
	assert.Equal(t, "/elsewhere/snap.json", cfg.SnapshotPath())
}

func TestYAMLRoundTrip(t *testing.T) {
	out, err := Default().YAML()
	require.NoError(t, err)

	path := writeFile(t, string(out))
	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, Default().Conflict, cfg.Conflict)
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("ATLAS_HOME", "/data/atlas")
	t.Setenv("ATLAS_CONFIG", "")
	e, err := LoadEnv()
	require.NoError(t, err)
	assert.Equal(t, "/data/atlas", e.Home)

	file, required := e.ConfigFile("", e.Home)
	assert.Equal(t, "/data/atlas/config.yaml", file)
	assert.False(t, required)

	file, required = e.ConfigFile("/etc/atlas.yaml", e.Home)
	assert.Equal(t, "/etc/atlas.yaml", file)
	assert.True(t, required)

	e.Config = "/opt/atlas.yaml"
	file, required = e.ConfigFile("", e.Home)
	assert.Equal(t, "/opt/atlas.yaml", file)
	assert.True(t, required)
}
