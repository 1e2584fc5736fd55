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

package db

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medscan/patientsync/pkg/logger"
	"github.com/medscan/patientsync/pkg/models"
)

const defaultPostgresPort = 5432

// NewPool dials the configured Postgres cluster and returns a pgx pool
// backing the canonical patient store.
func NewPool(ctx context.Context, cfg *models.Database, log logger.Logger) (*pgxpool.Pool, error) {
	if cfg == nil {
		return nil, nil
	}

	dbc := *cfg
	if dbc.Port == 0 {
		dbc.Port = defaultPostgresPort
	}

	connURL := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", dbc.Host, dbc.Port),
		Path:   "/" + dbc.Database,
	}

	if dbc.Username != "" {
		if dbc.Password != "" {
			connURL.User = url.UserPassword(dbc.Username, dbc.Password)
		} else {
			connURL.User = url.User(dbc.Username)
		}
	}

	query := connURL.Query()

	sslMode := dbc.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	query.Set("sslmode", sslMode)

	if dbc.ApplicationName != "" {
		query.Set("application_name", dbc.ApplicationName)
	}

	connURL.RawQuery = query.Encode()

	poolConfig, err := pgxpool.ParseConfig(connURL.String())
	if err != nil {
		return nil, fmt.Errorf("db: failed to parse connection string: %w", err)
	}

	if dbc.MaxConnections > 0 {
		poolConfig.MaxConns = dbc.MaxConnections
	}

	if dbc.MinConnections > 0 {
		poolConfig.MinConns = dbc.MinConnections
	}

	if dbc.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = time.Duration(dbc.MaxConnLifetime)
	}

	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = make(map[string]string)
	}

	if dbc.StatementTimeout > 0 {
		timeout := time.Duration(dbc.StatementTimeout) / time.Millisecond
		poolConfig.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprintf("%d", timeout)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("db: failed to initialize pool: %w", err)
	}

	if log != nil {
		log.Info().
			Str("host", dbc.Host).
			Int("port", dbc.Port).
			Int32("max_conns", poolConfig.MaxConns).
			Msg("connected to Postgres cluster")
	}

	return pool, nil
}
