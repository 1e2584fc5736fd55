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

// Package worker drains the raw-patient staging backlog through the
// reconciliation engine.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/medscan/patientsync/pkg/logger"
	"github.com/medscan/patientsync/pkg/models"
	"github.com/medscan/patientsync/pkg/registry"
)

// Engine is the reconciliation surface the pool drives.
type Engine interface {
	Reconcile(ctx context.Context, ev *models.ReconcileEvent) (*models.Result, error)
}

// Backlog is the staging-store surface the pool drains.
type Backlog interface {
	FetchUnprocessed(ctx context.Context, limit int) ([]*models.RawPatientRecord, error)
	InsertDeadLetter(ctx context.Context, r *models.RawPatientRecord, reason string, attempts int) error
}

const (
	attemptCacheSize = 4096
	attemptCacheTTL  = time.Hour
)

// Pool polls the staging table and fans records out to reconcile
// workers. Failed records stay unstamped and are retried on later
// polls until the attempt cap dead-letters them.
type Pool struct {
	engine  Engine
	backlog Backlog
	logger  logger.Logger

	workers      int
	pollInterval time.Duration
	batchSize    int
	maxAttempts  int

	// attempts tracks per-record failures between polls. TTL-bounded so
	// a record that stops arriving does not pin memory forever.
	attempts *expirable.LRU[int64, int]
}

// New builds a pool from config.
func New(engine Engine, backlog Backlog, cfg *models.WorkerConfig, log logger.Logger) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}

	pollInterval := time.Duration(cfg.PollInterval)
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}

	return &Pool{
		engine:       engine,
		backlog:      backlog,
		logger:       log,
		workers:      workers,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		maxAttempts:  maxAttempts,
		attempts:     expirable.NewLRU[int64, int](attemptCacheSize, nil, attemptCacheTTL),
	}
}

// Run polls until the context is canceled or the store fails
// non-transiently.
func (p *Pool) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	p.logger.Info().
		Int("workers", p.workers).
		Dur("poll_interval", p.pollInterval).
		Int("batch_size", p.batchSize).
		Msg("worker pool started")

	for {
		if err := p.DrainOnce(ctx); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// DrainOnce fetches one batch and reconciles it across the workers. A
// storage failure aborts the drain; everything else is handled per
// record.
func (p *Pool) DrainOnce(ctx context.Context) error {
	records, err := p.backlog.FetchUnprocessed(ctx, p.batchSize)
	if err != nil {
		return fmt.Errorf("worker: fetch backlog: %w", err)
	}

	if len(records) == 0 {
		return nil
	}

	jobs := make(chan *models.RawPatientRecord)
	failures := make(chan error, p.workers)

	var wg sync.WaitGroup

	for i := 0; i < p.workers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for raw := range jobs {
				if err := p.process(ctx, raw); err != nil {
					select {
					case failures <- err:
					default:
					}
				}
			}
		}()
	}

	for _, raw := range records {
		jobs <- raw
	}

	close(jobs)
	wg.Wait()
	close(failures)

	return <-failures
}

func (p *Pool) process(ctx context.Context, raw *models.RawPatientRecord) error {
	ev := &models.ReconcileEvent{Kind: models.EventInsert, Raw: raw}
	if raw.CanonicalID != nil {
		ev.Kind = models.EventUpdate
	}

	result, err := p.engine.Reconcile(ctx, ev)
	if err == nil {
		p.attempts.Remove(raw.RawID)

		p.logger.Debug().
			Str("his_number", raw.HISNumber).
			Str("source", string(raw.Source)).
			Str("match_type", string(result.Decision.MatchType)).
			Str("canonical_id", result.ResultingCanonicalID.String()).
			Msg("reconciled raw record")

		return nil
	}

	switch {
	case errors.Is(err, registry.ErrInvalidRaw):
		return p.deadLetter(ctx, raw, err, 1)
	case errors.Is(err, registry.ErrRetryableConflict),
		errors.Is(err, registry.ErrLockTimeout):
		return p.requeue(ctx, raw, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		// Non-transient store failure: stop draining instead of
		// burning through the backlog against a broken database.
		return fmt.Errorf("worker: reconcile raw %d: %w", raw.RawID, err)
	}
}

// requeue leaves the record unstamped for the next poll, dead-lettering
// once the attempt cap is hit.
func (p *Pool) requeue(ctx context.Context, raw *models.RawPatientRecord, cause error) error {
	attempts, _ := p.attempts.Get(raw.RawID)
	attempts++

	if attempts >= p.maxAttempts {
		p.attempts.Remove(raw.RawID)
		return p.deadLetter(ctx, raw, cause, attempts)
	}

	p.attempts.Add(raw.RawID, attempts)

	p.logger.Warn().
		Err(cause).
		Str("his_number", raw.HISNumber).
		Str("source", string(raw.Source)).
		Int("attempts", attempts).
		Int("max_attempts", p.maxAttempts).
		Msg("requeued raw record after conflict")

	return nil
}

func (p *Pool) deadLetter(ctx context.Context, raw *models.RawPatientRecord, cause error, attempts int) error {
	if err := p.backlog.InsertDeadLetter(ctx, raw, cause.Error(), attempts); err != nil {
		return fmt.Errorf("worker: dead-letter raw %d: %w", raw.RawID, err)
	}

	p.logger.Error().
		Err(cause).
		Str("his_number", raw.HISNumber).
		Str("source", string(raw.Source)).
		Int("attempts", attempts).
		Msg("dead-lettered raw record")

	return nil
}
