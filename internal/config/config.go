package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/toolgate/toolgate/internal/mcp"
	"github.com/toolgate/toolgate/internal/reconnect"
)

// Config is the full toolgate configuration after merging all sources.
type Config struct {
	Schema   string `json:"$schema,omitempty"`
	LogLevel string `json:"logLevel,omitempty"`

	// Servers maps server name to provider connection settings.
	Servers map[string]ServerConfig `json:"servers,omitempty"`

	// Reconnect overrides the default reconnection strategy.
	Reconnect *ReconnectConfig `json:"reconnect,omitempty"`
}

// ServerConfig is the file-level shape of one provider entry. Enabled is a
// pointer so that an absent key defaults to enabled.
type ServerConfig struct {
	Type        string            `json:"type,omitempty"`
	Command     []string          `json:"command,omitempty"`
	URL         string            `json:"url,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	Enabled     *bool             `json:"enabled,omitempty"`
	Timeout     int               `json:"timeout,omitempty"` // milliseconds
}

// ToMCP converts a file entry into the client's connection config.
func (s ServerConfig) ToMCP() *mcp.Config {
	enabled := true
	if s.Enabled != nil {
		enabled = *s.Enabled
	}
	return &mcp.Config{
		Enabled:     enabled,
		Type:        mcp.TransportType(s.Type),
		URL:         s.URL,
		Headers:     s.Headers,
		Command:     s.Command,
		Environment: s.Environment,
		Timeout:     s.Timeout,
	}
}

// ReconnectConfig is a partial strategy override; absent fields keep the
// built-in defaults.
type ReconnectConfig struct {
	MaxRetries  *int     `json:"maxRetries,omitempty"`
	BaseDelayMs *int     `json:"baseDelayMs,omitempty"`
	MaxDelayMs  *int     `json:"maxDelayMs,omitempty"`
	Multiplier  *float64 `json:"multiplier,omitempty"`
	Jitter      *bool    `json:"jitter,omitempty"`
}

// Patch converts the file-level override into a strategy patch.
func (r *ReconnectConfig) Patch() reconnect.StrategyPatch {
	patch := reconnect.StrategyPatch{
		MaxRetries: r.MaxRetries,
		Multiplier: r.Multiplier,
		Jitter:     r.Jitter,
	}
	if r.BaseDelayMs != nil {
		d := time.Duration(*r.BaseDelayMs) * time.Millisecond
		patch.BaseDelay = &d
	}
	if r.MaxDelayMs != nil {
		d := time.Duration(*r.MaxDelayMs) * time.Millisecond
		patch.MaxDelay = &d
	}
	return patch
}

// Load loads configuration from multiple sources (priority order):
// 1. Global config (~/.config/toolgate/)
// 2. Project config (toolgate.json, .toolgate/toolgate.json)
// 3. TOOLGATE_CONFIG file
// 4. TOOLGATE_CONFIG_CONTENT inline JSON
// 5. Environment variables
func Load(directory string) (*Config, error) {
	config := &Config{
		Servers: make(map[string]ServerConfig),
	}

	loaded := make(map[string]bool)

	loadOnce := func(path string, baseDir string) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return
		}
		if loaded[absPath] {
			return
		}
		if loadConfigFile(path, config, baseDir) == nil {
			loaded[absPath] = true
		}
	}

	// 1. Global config
	globalPath := GetPaths().Config
	loadOnce(GlobalConfigPath(), globalPath)
	loadOnce(filepath.Join(globalPath, "toolgate.jsonc"), globalPath)

	// 2. Project config
	if directory != "" {
		projectConfigDir := filepath.Join(directory, ".toolgate")
		loadOnce(filepath.Join(directory, "toolgate.json"), directory)
		loadOnce(filepath.Join(directory, "toolgate.jsonc"), directory)
		loadOnce(ProjectConfigPath(directory), projectConfigDir)
		loadOnce(filepath.Join(projectConfigDir, "toolgate.jsonc"), projectConfigDir)
	}

	// 3. TOOLGATE_CONFIG file override
	if configPath := os.Getenv("TOOLGATE_CONFIG"); configPath != "" {
		loadOnce(configPath, filepath.Dir(configPath))
	}

	// 4. TOOLGATE_CONFIG_CONTENT inline JSON
	if configContent := os.Getenv("TOOLGATE_CONFIG_CONTENT"); configContent != "" {
		var inline Config
		if err := json.Unmarshal(jsonc.ToJSON([]byte(configContent)), &inline); err == nil {
			mergeConfig(config, &inline)
		}
	}

	// 5. Environment variables (highest priority)
	applyEnvOverrides(config)

	return config, nil
}

// LoadFile loads a single config file without merging other sources.
func LoadFile(path string) (*Config, error) {
	config := &Config{Servers: make(map[string]ServerConfig)}
	if err := loadConfigFile(path, config, filepath.Dir(path)); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks every server entry, collecting all failures instead of
// stopping at the first.
func (c *Config) Validate() error {
	var problems []string
	for name, server := range c.Servers {
		if err := server.ToMCP().Validate(); err != nil {
			problems = append(problems, fmt.Sprintf("server %q: %v", name, err))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  %s", strings.Join(problems, "\n  "))
	}
	return nil
}

// loadConfigFile loads a single config file with interpolation support.
func loadConfigFile(path string, config *Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err // File doesn't exist, skip
	}

	data = jsonc.ToJSON(data)
	data = interpolate(data, baseDir)

	var fileConfig Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return err
	}

	mergeConfig(config, &fileConfig)
	return nil
}

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := string(data)

	envPattern := regexp.MustCompile(`\{env:([^}]+)\}`)
	str = envPattern.ReplaceAllStringFunc(str, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})

	// ${VAR} shorthand
	dollarPattern := regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	str = dollarPattern.ReplaceAllStringFunc(str, func(match string) string {
		varName := dollarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})

	filePattern := regexp.MustCompile(`\{file:([^}]+)\}`)
	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]

		if strings.HasPrefix(filePath, "~/") {
			home := os.Getenv("HOME")
			filePath = filepath.Join(home, filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match // Keep original if file not found
		}

		escaped := strings.ReplaceAll(string(content), "\\", "\\\\")
		escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
		escaped = strings.ReplaceAll(escaped, "\n", "\\n")
		escaped = strings.ReplaceAll(escaped, "\r", "\\r")
		escaped = strings.ReplaceAll(escaped, "\t", "\\t")

		return escaped
	})

	return []byte(str)
}

// mergeConfig merges source config into target.
func mergeConfig(target, source *Config) {
	if source.Schema != "" {
		target.Schema = source.Schema
	}
	if source.LogLevel != "" {
		target.LogLevel = source.LogLevel
	}
	if source.Servers != nil {
		if target.Servers == nil {
			target.Servers = make(map[string]ServerConfig)
		}
		for k, v := range source.Servers {
			target.Servers[k] = v
		}
	}
	if source.Reconnect != nil {
		if target.Reconnect == nil {
			target.Reconnect = source.Reconnect
		} else {
			mergeReconnect(target.Reconnect, source.Reconnect)
		}
	}
}

func mergeReconnect(target, source *ReconnectConfig) {
	if source.MaxRetries != nil {
		target.MaxRetries = source.MaxRetries
	}
	if source.BaseDelayMs != nil {
		target.BaseDelayMs = source.BaseDelayMs
	}
	if source.MaxDelayMs != nil {
		target.MaxDelayMs = source.MaxDelayMs
	}
	if source.Multiplier != nil {
		target.Multiplier = source.Multiplier
	}
	if source.Jitter != nil {
		target.Jitter = source.Jitter
	}
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(config *Config) {
	if level := os.Getenv("TOOLGATE_LOG_LEVEL"); level != "" {
		config.LogLevel = level
	}
}

// Save writes the configuration to a file.
func Save(config *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
