package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load loads and validates configuration from:
// 1. Default values
// 2. The config file at path (optional)
// 3. ZB_* environment variables
func Load(path string) (*Config, error) {
	setDefaults()

	if err := readConfig(path); err != nil {
		return nil, fmt.Errorf("%w: failed to load config file: %v", ErrConfiguration, err)
	}

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrConfiguration, err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if err := validateAccounts(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	return cfg, nil
}

// readConfig initializes viper with the config file and environment overrides.
// A missing config file is not an error; defaults and env vars still apply.
func readConfig(path string) error {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("ZB")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file: %v", err)
		}
	}

	return nil
}

// validateAccounts checks per-account constraints the struct validator cannot
// express (nested optional ChannelConfig fields).
func validateAccounts(cfg *Config) error {
	v := validator.New()
	for id, acct := range cfg.Accounts {
		if acct.Profile == "" {
			return fmt.Errorf("account %q: profile is required", id)
		}
		if err := v.Struct(acct.Config); err != nil {
			return fmt.Errorf("account %q: %v", id, err)
		}
		if acct.Config.TextChunkLimit > MaxTextChunkLimit {
			return fmt.Errorf("account %q: text_chunk_limit %d exceeds provider maximum %d",
				id, acct.Config.TextChunkLimit, MaxTextChunkLimit)
		}
	}
	if cfg.Defaults.TextChunkLimit > MaxTextChunkLimit {
		return fmt.Errorf("defaults.text_chunk_limit %d exceeds provider maximum %d",
			cfg.Defaults.TextChunkLimit, MaxTextChunkLimit)
	}
	return nil
}
