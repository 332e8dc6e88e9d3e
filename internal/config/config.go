package config

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultSuspiciousPatterns are matched as lower-case substrings of process names
var DefaultSuspiciousPatterns = []string{
	"nc", "netcat", "nmap", "masscan", "hping",
	"metasploit", "msfconsole", "armitage",
	"mimikatz", "procdump", "pwdump",
	"keylogger", "logger",
	"cryptominer", "xmrig", "minergate",
	"backdoor", "trojan", "rootkit",
}

// Config holds the agent configuration
type Config struct {
	HostID      string `json:"host_id"`
	LogDir      string `json:"log_dir"`
	LogLevel    string `json:"log_level"`
	LogMaxBytes int64  `json:"log_max_bytes"`
	PolicyFile  string `json:"policy_file,omitempty"`
	RequireRoot bool   `json:"require_root"`

	// Packet capture / scan detection
	EnablePackets bool          `json:"enable_packets"`
	Interface     string        `json:"interface"`
	BPFFilter     string        `json:"bpf_filter"`
	ScanThreshold int           `json:"scan_threshold"`
	ScanWindow    time.Duration `json:"scan_window"`

	// Connection classification
	EnableConnections bool          `json:"enable_connections"`
	ConnPollInterval  time.Duration `json:"conn_poll_interval"`
	ConnCacheSize     int           `json:"conn_cache_size"`

	// File events
	EnableFiles     bool          `json:"enable_files"`
	WatchPaths      []string      `json:"watch_paths"`
	FileDedupWindow time.Duration `json:"file_dedup_window"`
	FileCacheSize   int           `json:"file_cache_size"`

	// Process watching
	EnableProcesses      bool          `json:"enable_processes"`
	ProcessPollInterval  time.Duration `json:"process_poll_interval"`
	CPUThreshold         float64       `json:"cpu_threshold"`
	MemoryThreshold      float64       `json:"memory_threshold"`
	StreakThreshold      int           `json:"streak_threshold"`
	ProcessAlertExisting bool          `json:"process_alert_existing"`
	SuspiciousPatterns   []string      `json:"suspicious_patterns"`

	// Alert channels
	BellCount      int    `json:"bell_count"`
	SoundCommand   string `json:"sound_command"`
	NotifyMode     string `json:"notify_mode"`
	AlertQueueSize int    `json:"alert_queue_size"`
	RecentAlerts   int    `json:"recent_alerts"`

	// Status API and forwarding
	HTTPAddress      string        `json:"http_address"`
	NATSURL          string        `json:"nats_url"`
	NATSSubject      string        `json:"nats_subject"`
	WatchdogInterval time.Duration `json:"watchdog_interval"`
}

// ValidationError reports a single invalid setting
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// Load loads configuration from the environment, an optional .env file and
// an optional YAML policy file, then validates it.
func Load() (*Config, error) {
	envFile := getEnv("HIDS_ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
	}

	cfg := &Config{
		HostID:      getEnv("HIDS_HOST_ID", hostname()),
		LogDir:      getEnv("HIDS_LOG_DIR", "logs"),
		LogLevel:    getEnv("HIDS_LOG_LEVEL", "info"),
		LogMaxBytes: getInt64Env("HIDS_LOG_MAX_BYTES", 64<<20),
		PolicyFile:  getEnv("HIDS_POLICY_FILE", ""),
		RequireRoot: getBoolEnv("HIDS_REQUIRE_ROOT", true),

		EnablePackets: !getBoolEnv("HIDS_DISABLE_PACKETS", false),
		Interface:     getEnv("HIDS_INTERFACE", "any"),
		BPFFilter:     getEnv("HIDS_BPF_FILTER", "tcp or udp"),
		ScanThreshold: getIntEnv("HIDS_SCAN_THRESHOLD", 5),
		ScanWindow:    getDurationEnv("HIDS_SCAN_WINDOW_SEC", 10*time.Second),

		EnableConnections: !getBoolEnv("HIDS_DISABLE_CONNECTIONS", false),
		ConnPollInterval:  getMillisEnv("HIDS_CONN_POLL_MS", time.Second),
		ConnCacheSize:     getIntEnv("HIDS_CONN_CACHE", 65536),

		EnableFiles:     !getBoolEnv("HIDS_DISABLE_FILES", false),
		WatchPaths:      getListEnv("HIDS_WATCH_PATHS", DefaultWatchPaths(homeDir())),
		FileDedupWindow: getMillisEnv("HIDS_FILE_DEDUP_MS", time.Second),
		FileCacheSize:   getIntEnv("HIDS_FILE_CACHE", 16384),

		EnableProcesses:      !getBoolEnv("HIDS_DISABLE_PROCESSES", false),
		ProcessPollInterval:  getDurationEnv("HIDS_PROCESS_POLL_SEC", 5*time.Second),
		CPUThreshold:         getFloat64Env("HIDS_CPU_THRESHOLD", 80.0),
		MemoryThreshold:      getFloat64Env("HIDS_MEMORY_THRESHOLD", 80.0),
		StreakThreshold:      getIntEnv("HIDS_STREAK_THRESHOLD", 3),
		ProcessAlertExisting: getBoolEnv("HIDS_PROCESS_ALERT_EXISTING", false),
		SuspiciousPatterns:   append([]string(nil), DefaultSuspiciousPatterns...),

		BellCount:      getIntEnv("HIDS_BELL_COUNT", 3),
		SoundCommand:   getEnv("HIDS_SOUND_COMMAND", "paplay /usr/share/sounds/freedesktop/stereo/alarm-clock-elapsed.oga"),
		NotifyMode:     getEnv("HIDS_NOTIFY", "auto"),
		AlertQueueSize: getIntEnv("HIDS_ALERT_QUEUE", 1000),
		RecentAlerts:   getIntEnv("HIDS_RECENT_ALERTS", 500),

		HTTPAddress:      getEnv("HIDS_HTTP_ADDR", "127.0.0.1:9477"),
		NATSURL:          getEnv("HIDS_NATS_URL", ""),
		NATSSubject:      getEnv("HIDS_NATS_SUBJECT", "hids.alerts"),
		WatchdogInterval: getDurationEnv("HIDS_WATCHDOG_SEC", 30*time.Second),
	}

	if cfg.PolicyFile != "" {
		policy, err := LoadPolicy(cfg.PolicyFile)
		if err != nil {
			return nil, err
		}
		policy.Apply(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.HostID == "" {
		return &ValidationError{Field: "host_id", Message: "cannot be empty"}
	}
	if c.LogDir == "" {
		return &ValidationError{Field: "log_dir", Message: "cannot be empty"}
	}
	if c.LogMaxBytes <= 0 {
		return &ValidationError{Field: "log_max_bytes", Message: "must be positive"}
	}
	if c.ScanThreshold <= 0 {
		return &ValidationError{Field: "scan_threshold", Message: "must be positive"}
	}
	if c.ScanWindow <= 0 {
		return &ValidationError{Field: "scan_window", Message: "must be positive"}
	}
	if c.ConnPollInterval <= 0 || c.ConnPollInterval > time.Second {
		return &ValidationError{Field: "conn_poll_interval", Message: "must be between 1ms and 1s"}
	}
	if c.ConnCacheSize <= 0 {
		return &ValidationError{Field: "conn_cache_size", Message: "must be positive"}
	}
	if c.FileDedupWindow < 0 {
		return &ValidationError{Field: "file_dedup_window", Message: "cannot be negative"}
	}
	if c.FileCacheSize <= 0 {
		return &ValidationError{Field: "file_cache_size", Message: "must be positive"}
	}
	if c.ProcessPollInterval <= 0 {
		return &ValidationError{Field: "process_poll_interval", Message: "must be positive"}
	}
	if c.CPUThreshold <= 0 || c.MemoryThreshold <= 0 {
		return &ValidationError{Field: "resource_threshold", Message: "must be positive"}
	}
	if c.StreakThreshold <= 0 {
		return &ValidationError{Field: "streak_threshold", Message: "must be positive"}
	}
	if c.BellCount < 0 {
		return &ValidationError{Field: "bell_count", Message: "cannot be negative"}
	}
	switch c.NotifyMode {
	case "auto", "desktop", "wsl", "none":
	default:
		return &ValidationError{Field: "notify_mode", Message: "must be one of auto, desktop, wsl, none"}
	}
	if c.AlertQueueSize <= 0 {
		return &ValidationError{Field: "alert_queue_size", Message: "must be positive"}
	}
	if c.RecentAlerts <= 0 {
		return &ValidationError{Field: "recent_alerts", Message: "must be positive"}
	}
	return nil
}

// DefaultWatchPaths returns the user folders watched when none are configured
func DefaultWatchPaths(home string) []string {
	if home == "" {
		return nil
	}
	return []string{
		filepath.Join(home, "Documents"),
		filepath.Join(home, "Downloads"),
		filepath.Join(home, "Desktop"),
	}
}

// homeDir prefers the invoking user's home when running under sudo
func homeDir() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return name
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv gets an integer environment variable with a default value
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getInt64Env gets an int64 environment variable with a default value
func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getDurationEnv reads a whole number of seconds
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

// getMillisEnv reads a whole number of milliseconds
func getMillisEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}

// getFloat64Env gets a float64 environment variable with a default value
func getFloat64Env(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getBoolEnv gets a bool environment variable with a default value
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getListEnv splits a comma separated variable, dropping empty items
func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
