package am

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/teranos/qaflow/errors"
)

// DefaultConfig returns the configuration produced by SetDefaults alone
func DefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadWithViper(v)
	if err != nil {
		// Defaults always decode; reaching here is a programming error.
		panic(err)
	}
	return cfg
}

// WriteConfig serialises cfg as TOML at path. Existing files are left
// untouched unless overwrite is set.
func WriteConfig(path string, cfg *Config, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return errors.WithHint(
				errors.Newf("config file %s already exists", path),
				"pass --force to overwrite it",
			)
		}
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
			return errors.Wrapf(err, "failed to create %s", dir)
		}
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}

// Redacted returns a copy of cfg safe for printing
func (c Config) Redacted() Config {
	if c.OpenRouter.APIKey != "" {
		c.OpenRouter.APIKey = "********"
	}
	if c.Database.DSN != "" {
		c.Database.DSN = "********"
	}
	return c
}

// Encode renders cfg as TOML
func (c Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}
