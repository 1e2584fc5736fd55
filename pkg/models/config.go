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

package models

// Database configures the pgx pool for the canonical store.
type Database struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password"`
	SSLMode  string `json:"ssl_mode,omitempty"`

	ApplicationName string `json:"application_name,omitempty"`

	MaxConnections   int32    `json:"max_connections,omitempty"`
	MinConnections   int32    `json:"min_connections,omitempty"`
	MaxConnLifetime  Duration `json:"max_conn_lifetime,omitempty"`
	StatementTimeout Duration `json:"statement_timeout,omitempty"`
}

// EngineConfig tunes the reconciliation loop.
type EngineConfig struct {
	// MaxRetries caps restarts after retryable conflicts. Default 5.
	MaxRetries int `json:"max_retries,omitempty"`

	// LockTimeout bounds identity-lock acquisition. Default 30s.
	LockTimeout Duration `json:"lock_timeout,omitempty"`

	// BaseBackoff seeds the jittered exponential retry delay. Default 150ms.
	BaseBackoff Duration `json:"base_backoff,omitempty"`
}

// WorkerConfig tunes the staging backlog worker pool.
type WorkerConfig struct {
	Workers      int      `json:"workers,omitempty"`       // default 4
	PollInterval Duration `json:"poll_interval,omitempty"` // default 5s
	BatchSize    int      `json:"batch_size,omitempty"`    // default 100

	// MaxAttempts bounds requeues of one raw record before it is
	// dead-lettered. Default 10.
	MaxAttempts int `json:"max_attempts,omitempty"`
}

// AdminConfig configures the administrative HTTP surface.
type AdminConfig struct {
	ListenAddr string `json:"listen_addr,omitempty"` // default :8090
}

// Referrer names a (table, column) pair whose rows carry canonical ids.
// The mutator rewrites every configured referrer during a merge, so new
// downstream tables are added here, not in engine code.
type Referrer struct {
	Table  string `json:"table"`
	Column string `json:"column"`
}

// CoreConfig is the root configuration of the patientsync service.
type CoreConfig struct {
	Database Database     `json:"database"`
	Engine   EngineConfig `json:"engine"`
	Worker   WorkerConfig `json:"worker"`
	Admin    AdminConfig  `json:"admin"`

	// Referrers extends the built-in registry (raw_patient, protocols,
	// mobile_prereg) with additional canonical-id referencing tables.
	Referrers []Referrer `json:"referrers,omitempty"`

	Logging LogConfig `json:"logging"`
}

// LogConfig mirrors logger.Config so config decoding stays inside
// models; cmd wiring converts it when building the logger.
type LogConfig struct {
	Level      string `json:"level,omitempty"`
	Debug      bool   `json:"debug,omitempty"`
	Output     string `json:"output,omitempty"`
	TimeFormat string `json:"time_format,omitempty"`
}
