// Package config loads kodu settings from JSONC files and the environment,
// and agent definitions from YAML.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/tidwall/jsonc"
)

// Config is the merged runtime configuration.
type Config struct {
	// APIURL is the model-serving endpoint.
	APIURL string `json:"apiUrl,omitempty"`
	APIKey string `json:"apiKey,omitempty"`

	// TasksDir overrides where task state is persisted. Empty selects
	// ~/.kodu/tasks.
	TasksDir string `json:"tasksDir,omitempty"`

	RequestLimit int `json:"requestLimit,omitempty"`

	AlwaysAllowReadOnly  bool     `json:"alwaysAllowReadOnly,omitempty"`
	AlwaysAllowWriteOnly bool     `json:"alwaysAllowWriteOnly,omitempty"`
	AllowedWriteGlobs    []string `json:"allowedWriteGlobs,omitempty"`
	DeniedWriteGlobs     []string `json:"deniedWriteGlobs,omitempty"`

	LogLevel string `json:"logLevel,omitempty"`

	// ServerAddr is where the HTTP/SSE bridge listens.
	ServerAddr string `json:"serverAddr,omitempty"`

	// AgentsDir holds YAML agent definitions.
	AgentsDir string `json:"agentsDir,omitempty"`
}

// Load merges configuration in priority order: global config (~/.kodu/),
// project config (<dir>/.kodu/), the KODU_CONFIG file override, then
// environment variables. Missing files are skipped silently.
func Load(directory string) (*Config, error) {
	config := &Config{}

	if home, err := os.UserHomeDir(); err == nil {
		globalDir := filepath.Join(home, ".kodu")
		loadFile(filepath.Join(globalDir, "settings.json"), config)
		loadFile(filepath.Join(globalDir, "settings.jsonc"), config)
	}

	if directory != "" {
		projectDir := filepath.Join(directory, ".kodu")
		loadFile(filepath.Join(projectDir, "settings.json"), config)
		loadFile(filepath.Join(projectDir, "settings.jsonc"), config)
	}

	if path := os.Getenv("KODU_CONFIG"); path != "" {
		if err := loadFile(path, config); err != nil {
			return nil, fmt.Errorf("load KODU_CONFIG %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)
	applyDefaults(config)
	return config, nil
}

// loadFile merges one JSONC settings file into config.
func loadFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	data = jsonc.ToJSON(data)
	data = interpolate(data)

	var fileConfig Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	merge(config, &fileConfig)
	return nil
}

var envPattern = regexp.MustCompile(`\{env:([^}]+)\}`)

// interpolate expands {env:VAR} placeholders.
func interpolate(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

func merge(dst, src *Config) {
	if src.APIURL != "" {
		dst.APIURL = src.APIURL
	}
	if src.APIKey != "" {
		dst.APIKey = src.APIKey
	}
	if src.TasksDir != "" {
		dst.TasksDir = src.TasksDir
	}
	if src.RequestLimit != 0 {
		dst.RequestLimit = src.RequestLimit
	}
	if src.AlwaysAllowReadOnly {
		dst.AlwaysAllowReadOnly = true
	}
	if src.AlwaysAllowWriteOnly {
		dst.AlwaysAllowWriteOnly = true
	}
	if len(src.AllowedWriteGlobs) > 0 {
		dst.AllowedWriteGlobs = src.AllowedWriteGlobs
	}
	if len(src.DeniedWriteGlobs) > 0 {
		dst.DeniedWriteGlobs = src.DeniedWriteGlobs
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.ServerAddr != "" {
		dst.ServerAddr = src.ServerAddr
	}
	if src.AgentsDir != "" {
		dst.AgentsDir = src.AgentsDir
	}
}

func applyEnvOverrides(config *Config) {
	if v := os.Getenv("KODU_API_URL"); v != "" {
		config.APIURL = v
	}
	if v := os.Getenv("KODU_API_KEY"); v != "" {
		config.APIKey = v
	}
	if v := os.Getenv("KODU_TASKS_DIR"); v != "" {
		config.TasksDir = v
	}
	if v := os.Getenv("KODU_LOG_LEVEL"); v != "" {
		config.LogLevel = v
	}
	if v := os.Getenv("KODU_REQUEST_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.RequestLimit = n
		}
	}
}

func applyDefaults(config *Config) {
	if config.TasksDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			config.TasksDir = filepath.Join(home, ".kodu", "tasks")
		}
	}
	if config.RequestLimit == 0 {
		config.RequestLimit = 25
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.ServerAddr == "" {
		config.ServerAddr = "127.0.0.1:7770"
	}
}
