// Package config provides configuration management for sitrep.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// DefaultWorkerPort is the default HTTP port for the worker service.
	DefaultWorkerPort = 38800

	// DefaultMLClusterURL is the default address of the ML clustering
	// sidecar. An empty health probe against it selects the keyword
	// fallback strategy.
	DefaultMLClusterURL = "http://localhost:8000"
)

// Config holds the application configuration.
type Config struct {
	// Worker settings
	WorkerPort int `json:"worker_port"`

	// Database settings
	DatabaseDSN string `json:"database_dsn"`
	MaxConns    int    `json:"max_conns"`

	// ML clustering service settings
	MLClusterURL     string        `json:"ml_cluster_url"`
	MLClusterTimeout time.Duration `json:"ml_cluster_timeout"`

	// Batch clustering settings
	LookbackDays int `json:"lookback_days"`
	BatchLimit   int `json:"batch_limit"`

	// Similarity thresholds, all normalized so higher means more similar.
	MatchThreshold  float64 `json:"match_threshold"`
	GroupThreshold  float64 `json:"group_threshold"`
	RepairThreshold float64 `json:"repair_threshold"`

	// Repair settings
	RepairMaxRelink        int `json:"repair_max_relink"`
	RepairWindowSlackHours int `json:"repair_window_slack_hours"`

	// Embedding sync settings
	EmbeddingSyncEnabled bool `json:"embedding_sync_enabled"`
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// DataDir returns the data directory path (~/.sitrep).
func DataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".sitrep")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.json")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0750)
}

// EnsureSettings creates a default settings file if it doesn't exist.
func EnsureSettings() error {
	path := SettingsPath()

	if _, err := os.Stat(path); err == nil {
		return nil // File exists
	}

	defaultSettings := `{
  "SITREP_WORKER_PORT": 38800,
  "SITREP_ML_CLUSTER_URL": "http://localhost:8000",
  "SITREP_LOOKBACK_DAYS": 7,
  "SITREP_BATCH_LIMIT": 500
}
`
	return os.WriteFile(path, []byte(defaultSettings), 0600)
}

// EnsureAll ensures all required directories and files exist.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	if err := EnsureSettings(); err != nil {
		return err
	}
	return nil
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		WorkerPort:             DefaultWorkerPort,
		DatabaseDSN:            os.Getenv("DATABASE_DSN"),
		MaxConns:               4,
		MLClusterURL:           DefaultMLClusterURL,
		MLClusterTimeout:       30 * time.Second,
		LookbackDays:           7,
		BatchLimit:             500,
		MatchThreshold:         0.60,
		GroupThreshold:         0.45,
		RepairThreshold:        0.22,
		RepairMaxRelink:        75,
		RepairWindowSlackHours: 24,
		EmbeddingSyncEnabled:   true,
	}
}

// Load loads configuration from the settings file, merging with defaults.
// Environment variables take precedence over file settings.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(SettingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}

	// Load settings into a map to preserve unknown fields
	var settings map[string]interface{}
	if err := json.Unmarshal(data, &settings); err != nil {
		applyEnv(cfg)
		return cfg, nil // Return defaults on parse error
	}

	if v, ok := settings["SITREP_WORKER_PORT"].(float64); ok && v > 0 {
		cfg.WorkerPort = int(v)
	}
	if v, ok := settings["SITREP_DATABASE_DSN"].(string); ok && v != "" {
		cfg.DatabaseDSN = v
	}
	if v, ok := settings["SITREP_MAX_CONNS"].(float64); ok && v > 0 {
		cfg.MaxConns = int(v)
	}
	if v, ok := settings["SITREP_ML_CLUSTER_URL"].(string); ok && v != "" {
		cfg.MLClusterURL = v
	}
	if v, ok := settings["SITREP_ML_CLUSTER_TIMEOUT_SECONDS"].(float64); ok && v > 0 {
		cfg.MLClusterTimeout = time.Duration(v) * time.Second
	}
	if v, ok := settings["SITREP_LOOKBACK_DAYS"].(float64); ok && v > 0 {
		cfg.LookbackDays = int(v)
	}
	if v, ok := settings["SITREP_BATCH_LIMIT"].(float64); ok && v > 0 {
		cfg.BatchLimit = int(v)
	}
	if v, ok := settings["SITREP_MATCH_THRESHOLD"].(float64); ok && v > 0 && v <= 1 {
		cfg.MatchThreshold = v
	}
	if v, ok := settings["SITREP_GROUP_THRESHOLD"].(float64); ok && v > 0 && v <= 1 {
		cfg.GroupThreshold = v
	}
	if v, ok := settings["SITREP_REPAIR_THRESHOLD"].(float64); ok && v > 0 && v <= 1 {
		cfg.RepairThreshold = v
	}
	if v, ok := settings["SITREP_REPAIR_MAX_RELINK"].(float64); ok && v > 0 {
		cfg.RepairMaxRelink = int(v)
	}
	if v, ok := settings["SITREP_REPAIR_WINDOW_SLACK_HOURS"].(float64); ok && v >= 0 {
		cfg.RepairWindowSlackHours = int(v)
	}
	if v, ok := settings["SITREP_EMBEDDING_SYNC_ENABLED"].(bool); ok {
		cfg.EmbeddingSyncEnabled = v
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overlays environment variables onto cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.DatabaseDSN = v
	}
	if v := os.Getenv("SITREP_ML_CLUSTER_URL"); v != "" {
		cfg.MLClusterURL = v
	}
	if v := os.Getenv("SITREP_WORKER_PORT"); v != "" {
		var p int
		if err := json.Unmarshal([]byte(v), &p); err == nil && p > 0 {
			cfg.WorkerPort = p
		}
	}
}

// Get returns the global configuration, loading it if necessary.
func Get() *Config {
	configOnce.Do(func() {
		var err error
		globalConfig, err = Load()
		if err != nil {
			globalConfig = Default()
		}
	})

	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

// GetWorkerPort returns the worker port from environment or config.
func GetWorkerPort() int {
	if port := os.Getenv("SITREP_WORKER_PORT"); port != "" {
		var p int
		if err := json.Unmarshal([]byte(port), &p); err == nil && p > 0 {
			return p
		}
	}
	return Get().WorkerPort
}
