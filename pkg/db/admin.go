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
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/medscan/patientsync/pkg/models"
	"github.com/medscan/patientsync/pkg/registry"
)

// GetCanonicalByID fetches one canonical patient outside a reconcile
// transaction, for the admin read surface.
func (s *Store) GetCanonicalByID(ctx context.Context, id uuid.UUID) (*models.CanonicalPatient, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+canonicalColumns+` FROM canonical_patient WHERE canonical_id = $1`, id)

	p, err := scanCanonical(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrCanonicalNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("%w canonical by id: %w", ErrFailedToQuery, err)
	}

	return p, nil
}

// SetMatchingLocked flips the matching lock on a canonical patient.
// Locking freezes the record as a match target; unlocking clears the
// lock metadata. The toggle runs under the canonical's identity lock so
// it serializes against reconcile transactions touching the same
// patient.
func (s *Store) SetMatchingLocked(ctx context.Context, id uuid.UUID, locked bool, reason string) error {
	return s.WithinTx(ctx, func(ctx context.Context, rtx registry.Tx) error {
		if err := rtx.AcquireLocks(ctx, []string{registry.CanonicalLockKey(id)}); err != nil {
			return err
		}

		t, ok := rtx.(*storeTx)
		if !ok {
			return fmt.Errorf("db: unexpected transaction type %T", rtx)
		}

		var (
			tag pgconn.CommandTag
			err error
		)

		if locked {
			tag, err = t.tx.Exec(ctx, `
				UPDATE canonical_patient
				SET matching_locked = TRUE, locked_at = now(), lock_reason = $2, updated_at = now()
				WHERE canonical_id = $1`,
				id, reason)
		} else {
			tag, err = t.tx.Exec(ctx, `
				UPDATE canonical_patient
				SET matching_locked = FALSE, locked_at = NULL, lock_reason = NULL, updated_at = now()
				WHERE canonical_id = $1`,
				id)
		}

		if err != nil {
			return fmt.Errorf("db: set matching lock: %w", err)
		}

		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", ErrCanonicalNotFound, id)
		}

		return nil
	})
}
