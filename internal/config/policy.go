package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed policy.schema.json
var policySchema []byte

// Policy is the detection policy file. Unset fields keep the environment value.
type Policy struct {
	Scan struct {
		Threshold *int `yaml:"threshold"`
		WindowSec *int `yaml:"window_sec"`
	} `yaml:"scan"`
	Connections struct {
		PollMs    *int `yaml:"poll_ms"`
		CacheSize *int `yaml:"cache_size"`
	} `yaml:"connections"`
	Files struct {
		WatchPaths []string `yaml:"watch_paths"`
		DedupMs    *int     `yaml:"dedup_ms"`
		CacheSize  *int     `yaml:"cache_size"`
	} `yaml:"files"`
	Processes struct {
		PollSec         *int     `yaml:"poll_sec"`
		CPUThreshold    *float64 `yaml:"cpu_threshold"`
		MemoryThreshold *float64 `yaml:"memory_threshold"`
		StreakThreshold *int     `yaml:"streak_threshold"`
		AlertExisting   *bool    `yaml:"alert_existing"`
		Suspicious      []string `yaml:"suspicious"`
		ExtraSuspicious []string `yaml:"extra_suspicious"`
	} `yaml:"processes"`
}

// LoadPolicy reads, schema-validates and decodes a YAML policy file
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file %s: %w", path, err)
	}
	return ParsePolicy(data)
}

// ParsePolicy validates raw YAML against the embedded schema and decodes it
func ParsePolicy(data []byte) (*Policy, error) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse policy YAML: %w", err)
	}
	if doc == nil {
		doc = map[string]interface{}{}
	}

	if err := validatePolicy(doc); err != nil {
		return nil, err
	}

	var policy Policy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("failed to decode policy: %w", err)
	}
	return &policy, nil
}

func validatePolicy(doc map[string]interface{}) error {
	jsonData, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal policy: %w", err)
	}

	schemaLoader := gojsonschema.NewBytesLoader(policySchema)
	documentLoader := gojsonschema.NewBytesLoader(jsonData)
	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("policy schema validation error: %w", err)
	}

	if !result.Valid() {
		var errors []string
		for _, desc := range result.Errors() {
			errors = append(errors, desc.String())
		}
		return &ValidationError{Field: "policy", Message: "is invalid: " + strings.Join(errors, "; ")}
	}
	return nil
}

// Apply overlays the policy on cfg
func (p *Policy) Apply(cfg *Config) {
	if p.Scan.Threshold != nil {
		cfg.ScanThreshold = *p.Scan.Threshold
	}
	if p.Scan.WindowSec != nil {
		cfg.ScanWindow = time.Duration(*p.Scan.WindowSec) * time.Second
	}

	if p.Connections.PollMs != nil {
		cfg.ConnPollInterval = time.Duration(*p.Connections.PollMs) * time.Millisecond
	}
	if p.Connections.CacheSize != nil {
		cfg.ConnCacheSize = *p.Connections.CacheSize
	}

	if len(p.Files.WatchPaths) > 0 {
		cfg.WatchPaths = expandHome(p.Files.WatchPaths)
	}
	if p.Files.DedupMs != nil {
		cfg.FileDedupWindow = time.Duration(*p.Files.DedupMs) * time.Millisecond
	}
	if p.Files.CacheSize != nil {
		cfg.FileCacheSize = *p.Files.CacheSize
	}

	if p.Processes.PollSec != nil {
		cfg.ProcessPollInterval = time.Duration(*p.Processes.PollSec) * time.Second
	}
	if p.Processes.CPUThreshold != nil {
		cfg.CPUThreshold = *p.Processes.CPUThreshold
	}
	if p.Processes.MemoryThreshold != nil {
		cfg.MemoryThreshold = *p.Processes.MemoryThreshold
	}
	if p.Processes.StreakThreshold != nil {
		cfg.StreakThreshold = *p.Processes.StreakThreshold
	}
	if p.Processes.AlertExisting != nil {
		cfg.ProcessAlertExisting = *p.Processes.AlertExisting
	}
	if len(p.Processes.Suspicious) > 0 {
		cfg.SuspiciousPatterns = normalizePatterns(p.Processes.Suspicious)
	}
	if len(p.Processes.ExtraSuspicious) > 0 {
		cfg.SuspiciousPatterns = append(cfg.SuspiciousPatterns, normalizePatterns(p.Processes.ExtraSuspicious)...)
	}
}

func normalizePatterns(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func expandHome(paths []string) []string {
	home := homeDir()
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if home != "" && (p == "~" || strings.HasPrefix(p, "~/")) {
			p = home + strings.TrimPrefix(p, "~")
		}
		out = append(out, p)
	}
	return out
}
