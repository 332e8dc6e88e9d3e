package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePolicy = `
scan:
  threshold: 8
  window_sec: 30
connections:
  poll_ms: 500
files:
  watch_paths: ["/var/www", "/etc"]
  dedup_ms: 2000
processes:
  cpu_threshold: 95.5
  streak_threshold: 4
  suspicious: ["XMRig", " ncat "]
`

func TestParsePolicyApply(t *testing.T) {
	policy, err := ParsePolicy([]byte(samplePolicy))
	require.NoError(t, err)

	cfg := &Config{MemoryThreshold: 80, SuspiciousPatterns: DefaultSuspiciousPatterns}
	policy.Apply(cfg)

	assert.Equal(t, 8, cfg.ScanThreshold)
	assert.Equal(t, 30*time.Second, cfg.ScanWindow)
	assert.Equal(t, 500*time.Millisecond, cfg.ConnPollInterval)
	assert.Equal(t, []string{"/var/www", "/etc"}, cfg.WatchPaths)
	assert.Equal(t, 2*time.Second, cfg.FileDedupWindow)
	assert.Equal(t, 95.5, cfg.CPUThreshold)
	assert.Equal(t, 80.0, cfg.MemoryThreshold)
	assert.Equal(t, 4, cfg.StreakThreshold)
	assert.Equal(t, []string{"xmrig", "ncat"}, cfg.SuspiciousPatterns)
}

func TestParsePolicyExtraSuspicious(t *testing.T) {
	policy, err := ParsePolicy([]byte("processes:\n  extra_suspicious: [chisel]\n"))
	require.NoError(t, err)

	cfg := &Config{SuspiciousPatterns: []string{"nmap"}}
	policy.Apply(cfg)
	assert.Equal(t, []string{"nmap", "chisel"}, cfg.SuspiciousPatterns)
}

func TestParsePolicyRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "unknown section", yaml: "firewall:\n  enabled: true\n"},
		{name: "unknown key", yaml: "scan:\n  ports: 5\n"},
		{name: "zero threshold", yaml: "scan:\n  threshold: 0\n"},
		{name: "poll above one second", yaml: "connections:\n  poll_ms: 5000\n"},
		{name: "wrong type", yaml: "processes:\n  cpu_threshold: high\n"},
		{name: "malformed yaml", yaml: "scan: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePolicy([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestParsePolicyEmpty(t *testing.T) {
	policy, err := ParsePolicy([]byte(""))
	require.NoError(t, err)

	cfg := &Config{ScanThreshold: 5}
	policy.Apply(cfg)
	assert.Equal(t, 5, cfg.ScanThreshold)
}

func TestLoadWithPolicyFile(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(samplePolicy), 0o600))
	t.Setenv("HIDS_POLICY_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.ScanThreshold)
}
