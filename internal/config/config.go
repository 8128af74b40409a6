// Package config loads jsbox settings from defaults, ~/.jsbox/config.yaml
// and JSBOX_* environment variables.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the root of the application configuration.
type Config struct {
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Sandbox SandboxConfig `mapstructure:"sandbox" yaml:"sandbox"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Repl    ReplConfig    `mapstructure:"repl" yaml:"repl"`
}

// LogConfig configures pkg/logger.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

// SandboxConfig configures the sandboxes the CLI creates.
type SandboxConfig struct {
	DedicatedRealm bool     `mapstructure:"dedicated_realm" yaml:"dedicated_realm"`
	ModuleDirs     []string `mapstructure:"module_dirs" yaml:"module_dirs"`
	// Watch evicts cached modules when their files change.
	Watch        bool     `mapstructure:"watch" yaml:"watch"`
	AllowedPaths []string `mapstructure:"allowed_paths" yaml:"allowed_paths"`
	MaxWriteSize int64    `mapstructure:"max_write_size" yaml:"max_write_size"`
}

// StorageConfig locates the database behind the kv module.
type StorageConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// ReplConfig configures the interactive repl.
type ReplConfig struct {
	HistoryFile string `mapstructure:"history_file" yaml:"history_file"`
	Prompt      string `mapstructure:"prompt" yaml:"prompt"`
}

var (
	globalConfig *Config
	configPath   string
	mu           sync.RWMutex
)

// Load reads the configuration. Precedence: env > config file > defaults.
// A missing file is not an error; a malformed one is.
func Load(path string) (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	SetDefaults()

	viper.SetEnvPrefix("JSBOX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if path != "" {
		expandedPath, err := ExpandPath(path)
		if err != nil {
			return nil, err
		}
		configPath = expandedPath

		viper.SetConfigFile(expandedPath)
		if err := viper.ReadInConfig(); err != nil {
			var parseErr viper.ConfigParseError
			if errors.As(err, &parseErr) {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	globalConfig = &cfg
	return &cfg, nil
}

// GetConfig returns the last loaded configuration.
func GetConfig() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return globalConfig
}

// Get returns the raw value of key.
func Get(key string) any {
	return viper.Get(key)
}

// GetString returns key as a string.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetBool returns key as a bool.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// Set updates key and persists the file if one was loaded.
func Set(key string, value any) error {
	mu.Lock()
	defer mu.Unlock()

	viper.Set(key, value)

	if configPath != "" {
		return save()
	}
	return nil
}

// Save writes the current settings to the loaded config file.
func Save() error {
	mu.Lock()
	defer mu.Unlock()
	return save()
}

// save requires mu to be held.
func save() error {
	if configPath == "" {
		return errors.New("config path not set")
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(viper.AllSettings())
	if err != nil {
		return err
	}
	return os.WriteFile(configPath, data, 0644)
}

// Reset clears loaded state; used by tests.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = nil
	configPath = ""
	viper.Reset()
}
