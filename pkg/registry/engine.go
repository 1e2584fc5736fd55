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

// Package registry implements the identity reconciliation engine: the
// matching rules, the transactional mutator, and the retry loop that
// folds per-HIS patient snapshots into the canonical registry.
package registry

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/medscan/patientsync/pkg/logger"
	"github.com/medscan/patientsync/pkg/models"
)

// ErrorClassifier inspects a store error and reports its SQLSTATE plus
// whether the transaction should be retried or treated as a lock
// timeout. The Postgres store provides the production implementation.
type ErrorClassifier func(err error) (code string, retryable, lockTimeout bool)

// Engine reconciles staged raw records into canonical patients.
type Engine struct {
	store    Store
	classify ErrorClassifier
	logger   logger.Logger
	stats    *Stats

	maxRetries  int
	baseBackoff time.Duration
}

// NewEngine builds an engine over the given store. classify maps store
// errors to retry behavior; nil means no error is considered retryable.
func NewEngine(store Store, cfg *models.EngineConfig, classify ErrorClassifier, log logger.Logger) *Engine {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}

	baseBackoff := time.Duration(cfg.BaseBackoff)
	if baseBackoff <= 0 {
		baseBackoff = 150 * time.Millisecond
	}

	if classify == nil {
		classify = func(error) (string, bool, bool) { return "", false, false }
	}

	return &Engine{
		store:       store,
		classify:    classify,
		logger:      log,
		stats:       &Stats{},
		maxRetries:  maxRetries,
		baseBackoff: baseBackoff,
	}
}

// Stats exposes the engine's health counters.
func (e *Engine) Stats() *Stats {
	return e.stats
}

// Reconcile processes one event to completion: acquire identity locks,
// match, mutate, and commit, retrying on transient conflicts up to the
// configured cap.
func (e *Engine) Reconcile(ctx context.Context, ev *models.ReconcileEvent) (*models.Result, error) {
	if ev == nil || ev.Raw == nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRaw, errNilEvent)
	}

	if err := ev.Raw.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRaw, err)
	}

	keys := EventLockKeys(ev)

	var lastErr error

	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		result, err := e.reconcileOnce(ctx, ev, keys)
		if err == nil {
			result.Attempts = attempt
			e.stats.observe(result)

			if attempt > 1 {
				e.stats.RetrySuccesses.Add(1)
			}

			return result, nil
		}

		lastErr = err
		code, retryable, lockTimeout := e.classify(err)

		if lockTimeout {
			e.stats.LockTimeouts.Add(1)

			return nil, fmt.Errorf("%w: %w", ErrLockTimeout, err)
		}

		if !retryable {
			return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
		}

		e.stats.Conflicts.Add(1)

		if attempt < e.maxRetries {
			delay := backoffDelay(e.baseBackoff, attempt)

			e.logger.Warn().
				Err(err).
				Str("sqlstate", code).
				Str("his_number", ev.Raw.HISNumber).
				Str("source", string(ev.Raw.Source)).
				Int("attempt", attempt).
				Int("max_attempts", e.maxRetries).
				Dur("backoff", delay).
				Msg("transient conflict, retrying reconcile")

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, fmt.Errorf("%w after %d attempts: %w: %w",
		ErrRetriesExhausted, e.maxRetries, ErrRetryableConflict, lastErr)
}

func (e *Engine) reconcileOnce(ctx context.Context, ev *models.ReconcileEvent, keys []string) (*models.Result, error) {
	var result *models.Result

	err := e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.AcquireLocks(ctx, keys); err != nil {
			return err
		}

		decision, err := Decide(ctx, tx, ev)
		if err != nil {
			return err
		}

		resulting, err := Apply(ctx, tx, ev, decision)
		if err != nil {
			return err
		}

		result = &models.Result{
			Decision:             *decision,
			ResultingCanonicalID: resulting,
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// MergeManual merges two canonical patients on operator request, outside
// any raw-record event. The winner/loser order is taken as given.
func (e *Engine) MergeManual(ctx context.Context, winnerID, loserID uuid.UUID) (*models.Result, error) {
	if winnerID == loserID {
		return nil, fmt.Errorf("%w: winner and loser are the same canonical", ErrInvalidRaw)
	}

	var result *models.Result

	err := e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.AcquireLocks(ctx, MergeLockKeys(winnerID, loserID)); err != nil {
			return err
		}

		winner, err := tx.GetCanonical(ctx, winnerID)
		if err != nil {
			return err
		}

		loser, err := tx.GetCanonical(ctx, loserID)
		if err != nil {
			return err
		}

		if winner == nil || loser == nil {
			return fmt.Errorf("%w: winner=%s loser=%s", ErrMergeTargetMissing, winnerID, loserID)
		}

		mergeManualCanonicals(winner, loser)

		if err := tx.RewriteReferences(ctx, loserID, winnerID); err != nil {
			return err
		}

		if err := tx.DeleteCanonical(ctx, loserID); err != nil {
			return err
		}

		// Delete before update: the winner may inherit slot values the
		// loser still holds under the partial unique indexes.
		if err := tx.UpdateCanonical(ctx, winner); err != nil {
			return err
		}

		entry := &models.MatchLogEntry{
			HISNumber:            manualMergeHISNumber(winner),
			Source:               winner.PrimarySource,
			MatchType:            models.MatchTypeMergedOnUpdate,
			ResultingCanonicalID: &winnerID,
			Details: models.MatchDetails{
				WinnerCanonicalID: &winnerID,
				LoserCanonicalID:  &loserID,
				Manual:            true,
			},
		}

		if err := tx.AppendMatchLog(ctx, entry); err != nil {
			return err
		}

		result = &models.Result{
			Decision: models.Decision{
				Kind:        models.DecisionMerge,
				MatchType:   models.MatchTypeMergedOnUpdate,
				CanonicalID: winnerID,
				WinnerID:    winnerID,
				LoserID:     loserID,
			},
			ResultingCanonicalID: winnerID,
			Attempts:             1,
		}

		return nil
	})
	if err != nil {
		if _, _, lockTimeout := e.classify(err); lockTimeout {
			return nil, fmt.Errorf("%w: %w", ErrLockTimeout, err)
		}

		return nil, err
	}

	e.stats.Merges.Add(1)

	return result, nil
}

// mergeManualCanonicals folds loser into winner with carryover-only
// semantics; there is no triggering raw record to overwrite from.
func mergeManualCanonicals(winner, loser *models.CanonicalPatient) {
	for _, src := range models.KnownSources {
		if winner.Slot(src).Empty() && !loser.Slot(src).Empty() {
			winner.SetSlot(src, loser.Slot(src))
		}
	}

	if !winner.HasDocument() && loser.HasDocument() {
		winner.DocType = loser.DocType
		winner.DocNumber = loser.DocNumber
	}

	fillDemographics(winner, loser.LastName, loser.FirstName, loser.MiddleName, loser.BirthDate)

	winner.RegisteredViaMobile = winner.RegisteredViaMobile || loser.RegisteredViaMobile
}

func manualMergeHISNumber(winner *models.CanonicalPatient) string {
	if n := winner.Slot(winner.PrimarySource).HISNumber; n != nil {
		return *n
	}

	for _, src := range models.KnownSources {
		if n := winner.Slot(src).HISNumber; n != nil {
			return *n
		}
	}

	return ""
}

// backoffDelay is exponential with randomized jitter to break lock
// acquisition synchronization between retrying transactions.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	backoff := base * time.Duration(1<<(attempt-1))

	return backoff + time.Duration(rand.Int63n(int64(base)))
}
