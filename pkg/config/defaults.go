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

package config

import (
	"errors"
	"time"

	"github.com/medscan/patientsync/pkg/models"
)

var errMissingField = errors.New("config missing required field")

const (
	defaultDBPort           = 5432
	defaultMaxConnections   = int32(10)
	defaultMinConnections   = int32(2)
	defaultConnLifetime     = time.Hour
	defaultStatementTimeout = 30 * time.Second

	defaultEngineMaxRetries = 5
	defaultLockTimeout      = 30 * time.Second
	defaultBaseBackoff      = 150 * time.Millisecond

	defaultWorkers      = 4
	defaultPollInterval = 5 * time.Second
	defaultBatchSize    = 100
	defaultMaxAttempts  = 10

	defaultAdminAddr = ":8090"
)

// ApplyDefaults fills every zero-valued tunable with its documented default.
func ApplyDefaults(cfg *models.CoreConfig) {
	db := &cfg.Database

	if db.Port == 0 {
		db.Port = defaultDBPort
	}

	if db.SSLMode == "" {
		db.SSLMode = "prefer"
	}

	if db.ApplicationName == "" {
		db.ApplicationName = "patientsync"
	}

	if db.MaxConnections == 0 {
		db.MaxConnections = defaultMaxConnections
	}

	if db.MinConnections == 0 {
		db.MinConnections = defaultMinConnections
	}

	if db.MaxConnLifetime == 0 {
		db.MaxConnLifetime = models.Duration(defaultConnLifetime)
	}

	if db.StatementTimeout == 0 {
		db.StatementTimeout = models.Duration(defaultStatementTimeout)
	}

	eng := &cfg.Engine

	if eng.MaxRetries == 0 {
		eng.MaxRetries = defaultEngineMaxRetries
	}

	if eng.LockTimeout == 0 {
		eng.LockTimeout = models.Duration(defaultLockTimeout)
	}

	if eng.BaseBackoff == 0 {
		eng.BaseBackoff = models.Duration(defaultBaseBackoff)
	}

	w := &cfg.Worker

	if w.Workers == 0 {
		w.Workers = defaultWorkers
	}

	if w.PollInterval == 0 {
		w.PollInterval = models.Duration(defaultPollInterval)
	}

	if w.BatchSize == 0 {
		w.BatchSize = defaultBatchSize
	}

	if w.MaxAttempts == 0 {
		w.MaxAttempts = defaultMaxAttempts
	}

	if cfg.Admin.ListenAddr == "" {
		cfg.Admin.ListenAddr = defaultAdminAddr
	}
}
