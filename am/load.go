package am

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/teranos/qaflow/errors"
)

var globalConfig *Config
var viperInstance *viper.Viper

// explicitConfigPath is set by --config and replaces file discovery
var explicitConfigPath string

// SetConfigFile makes Load read only the given file (plus env vars).
func SetConfigFile(path string) {
	explicitConfigPath = path
	Reset()
}

// Load reads the qaflow configuration using Viper and validates it
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	cfg, err := LoadWithViper(initViper())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	globalConfig = cfg
	return globalConfig, nil
}

// GetViper returns the Viper instance for flag binding
func GetViper() *viper.Viper {
	return initViper()
}

// LoadWithViper loads configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &config, nil
}

// LoadFromFile loads configuration from a specific file path over the defaults
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	return LoadWithViper(v)
}

// Reset clears the cached configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viperInstance = nil
}

func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := viper.New()

	v.SetEnvPrefix("QAFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	BindSensitiveEnvVars(v)

	SetDefaults(v)

	if explicitConfigPath != "" {
		mergeConfigFile(v, explicitConfigPath)
	} else {
		for _, path := range configSearchPaths() {
			mergeConfigFile(v, path)
		}
	}

	viperInstance = v
	return v
}

// configSearchPaths lists config files from lowest to highest precedence
func configSearchPaths() []string {
	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".qaflow", "qaflow.toml"))
	}
	return append(paths, "qaflow.toml")
}

func mergeConfigFile(v *viper.Viper, path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	fileViper := viper.New()
	fileViper.SetConfigFile(path)
	fileViper.SetConfigType("toml")
	if err := fileViper.ReadInConfig(); err != nil {
		return
	}
	// MergeConfigMap keeps sibling keys that the file does not mention.
	_ = v.MergeConfigMap(fileViper.AllSettings())
}
