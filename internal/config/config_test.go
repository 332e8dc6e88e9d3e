package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolateEnv(t *testing.T) {
	t.Helper()
	t.Setenv("HIDS_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
}

func TestLoadDefaults(t *testing.T) {
	isolateEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.ScanThreshold)
	assert.Equal(t, 10*time.Second, cfg.ScanWindow)
	assert.Equal(t, time.Second, cfg.ConnPollInterval)
	assert.Equal(t, time.Second, cfg.FileDedupWindow)
	assert.Equal(t, 5*time.Second, cfg.ProcessPollInterval)
	assert.Equal(t, 80.0, cfg.CPUThreshold)
	assert.Equal(t, 80.0, cfg.MemoryThreshold)
	assert.Equal(t, 3, cfg.StreakThreshold)
	assert.Equal(t, 3, cfg.BellCount)
	assert.True(t, cfg.RequireRoot)
	assert.Contains(t, cfg.SuspiciousPatterns, "xmrig")
	assert.Len(t, cfg.SuspiciousPatterns, len(DefaultSuspiciousPatterns))
}

func TestLoadEnvOverrides(t *testing.T) {
	isolateEnv(t)
	t.Setenv("HIDS_SCAN_THRESHOLD", "7")
	t.Setenv("HIDS_SCAN_WINDOW_SEC", "20")
	t.Setenv("HIDS_FILE_DEDUP_MS", "250")
	t.Setenv("HIDS_WATCH_PATHS", "/srv/a, ,/srv/b")
	t.Setenv("HIDS_DISABLE_PACKETS", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.ScanThreshold)
	assert.Equal(t, 20*time.Second, cfg.ScanWindow)
	assert.Equal(t, 250*time.Millisecond, cfg.FileDedupWindow)
	assert.Equal(t, []string{"/srv/a", "/srv/b"}, cfg.WatchPaths)
	assert.False(t, cfg.EnablePackets)
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "hids.env")
	require.NoError(t, os.WriteFile(envFile, []byte("HIDS_STREAK_THRESHOLD=9\n"), 0o600))
	t.Setenv("HIDS_ENV_FILE", envFile)
	t.Cleanup(func() { os.Unsetenv("HIDS_STREAK_THRESHOLD") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.StreakThreshold)
}

func TestLoadRejectsInvalid(t *testing.T) {
	isolateEnv(t)
	t.Setenv("HIDS_NOTIFY", "carrier-pigeon")

	_, err := Load()
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "notify_mode", verr.Field)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		isolateEnv(t)
		cfg, err := Load()
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		field   string
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "zero scan threshold", mutate: func(c *Config) { c.ScanThreshold = 0 }, field: "scan_threshold", wantErr: true},
		{name: "slow connection poll", mutate: func(c *Config) { c.ConnPollInterval = 2 * time.Second }, field: "conn_poll_interval", wantErr: true},
		{name: "negative dedup", mutate: func(c *Config) { c.FileDedupWindow = -time.Second }, field: "file_dedup_window", wantErr: true},
		{name: "zero streak", mutate: func(c *Config) { c.StreakThreshold = 0 }, field: "streak_threshold", wantErr: true},
		{name: "empty host", mutate: func(c *Config) { c.HostID = "" }, field: "host_id", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestDefaultWatchPaths(t *testing.T) {
	assert.Nil(t, DefaultWatchPaths(""))
	assert.Equal(t, []string{"/home/u/Documents", "/home/u/Downloads", "/home/u/Desktop"}, DefaultWatchPaths("/home/u"))
}
