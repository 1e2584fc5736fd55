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

// Package db implements the canonical patient store over Postgres.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medscan/patientsync/pkg/logger"
	"github.com/medscan/patientsync/pkg/models"
	"github.com/medscan/patientsync/pkg/registry"
)

// Store implements registry.Store over a pgx pool.
type Store struct {
	pool        *pgxpool.Pool
	logger      logger.Logger
	referrers   []models.Referrer
	lockTimeout time.Duration
}

var _ registry.Store = (*Store)(nil)

// NewStore builds a store. extraReferrers extends the built-in referrer
// registry; lockTimeout bounds identity-lock acquisition per transaction.
func NewStore(pool *pgxpool.Pool, extraReferrers []models.Referrer, lockTimeout time.Duration, log logger.Logger) (*Store, error) {
	referrers, err := buildReferrers(extraReferrers)
	if err != nil {
		return nil, err
	}

	return &Store{
		pool:        pool,
		logger:      log,
		referrers:   referrers,
		lockTimeout: lockTimeout,
	}, nil
}

// WithinTx runs fn inside a single transaction. Advisory locks taken via
// the Tx are transaction-scoped and released on commit or rollback.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx registry.Tx) error) error {
	pgTx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("db: begin transaction: %w", err)
	}

	wrapped := &storeTx{tx: pgTx, store: s}

	if err := fn(ctx, wrapped); err != nil {
		_ = pgTx.Rollback(ctx)
		return err
	}

	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("db: commit transaction: %w", err)
	}

	return nil
}

// storeTx adapts one pgx transaction to the registry.Tx surface.
type storeTx struct {
	tx    pgx.Tx
	store *Store
}

var _ registry.Tx = (*storeTx)(nil)
