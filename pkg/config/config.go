/*
 * Copyright 2025 Medscan Digital, LLC.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package config loads the patientsync service configuration from JSON
// files with environment-variable overrides for credentials.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/medscan/patientsync/pkg/logger"
	"github.com/medscan/patientsync/pkg/models"
)

// Config holds the configuration loading dependencies.
type Config struct {
	defaultLoader ConfigLoader
	logger        logger.Logger
}

// NewConfig initializes a new Config instance with a default file loader.
// If log is nil a no-op logger is used.
func NewConfig(log logger.Logger) *Config {
	if log == nil {
		log = logger.NewTestLogger()
	}

	return &Config{
		defaultLoader: &FileConfigLoader{},
		logger:        log,
	}
}

// ValidateConfig validates a configuration if it implements Validator.
func ValidateConfig(cfg interface{}) error {
	v, ok := cfg.(Validator)
	if !ok {
		return nil
	}

	return v.Validate()
}

// LoadAndValidate loads a configuration and validates it.
func (c *Config) LoadAndValidate(ctx context.Context, path string, cfg interface{}) error {
	if err := c.defaultLoader.Load(ctx, path, cfg); err != nil {
		return err
	}

	return ValidateConfig(cfg)
}

// LoadCore loads the root service config, overlays environment
// credentials, and fills defaults.
func (c *Config) LoadCore(ctx context.Context, path string) (*models.CoreConfig, error) {
	var cfg models.CoreConfig

	if err := c.defaultLoader.Load(ctx, path, &cfg); err != nil {
		return nil, err
	}

	overlayEnv(&cfg)
	ApplyDefaults(&cfg)

	if err := validateCore(&cfg); err != nil {
		return nil, err
	}

	c.logger.Info().
		Str("config_path", path).
		Str("db_host", cfg.Database.Host).
		Str("db_name", cfg.Database.Database).
		Msg("Loaded configuration")

	return &cfg, nil
}

// overlayEnv lets deploys keep secrets out of the config file.
func overlayEnv(cfg *models.CoreConfig) {
	if v := os.Getenv("PATIENTSYNC_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}

	if v := os.Getenv("PATIENTSYNC_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}

	if v := os.Getenv("PATIENTSYNC_DB_NAME"); v != "" {
		cfg.Database.Database = v
	}

	if v := os.Getenv("PATIENTSYNC_DB_USER"); v != "" {
		cfg.Database.Username = v
	}

	if v := os.Getenv("PATIENTSYNC_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
}

func validateCore(cfg *models.CoreConfig) error {
	if cfg.Database.Host == "" {
		return fmt.Errorf("%w: database.host", errMissingField)
	}

	if cfg.Database.Database == "" {
		return fmt.Errorf("%w: database.database", errMissingField)
	}

	if cfg.Database.Username == "" {
		return fmt.Errorf("%w: database.username", errMissingField)
	}

	for i := range cfg.Referrers {
		r := cfg.Referrers[i]
		if r.Table == "" || r.Column == "" {
			return fmt.Errorf("%w: referrers[%d] needs both table and column", errMissingField, i)
		}
	}

	return nil
}
