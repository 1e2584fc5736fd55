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

	"github.com/medscan/patientsync/pkg/models"
)

const rawColumns = `
	raw_id,
	his_number,
	source,
	business_unit,
	last_name,
	first_name,
	middle_name,
	birth_date,
	doc_type,
	doc_number,
	email,
	phone,
	his_password,
	login_email,
	canonical_id,
	processed_at,
	created_at,
	updated_at`

func scanRaw(row pgx.Row) (*models.RawPatientRecord, error) {
	var r models.RawPatientRecord

	err := row.Scan(
		&r.RawID,
		&r.HISNumber,
		&r.Source,
		&r.BusinessUnit,
		&r.LastName,
		&r.FirstName,
		&r.MiddleName,
		&r.BirthDate,
		&r.DocType,
		&r.DocNumber,
		&r.Email,
		&r.Phone,
		&r.HISPassword,
		&r.LoginEmail,
		&r.CanonicalID,
		&r.ProcessedAt,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &r, nil
}

// FetchUnprocessed returns the oldest staged records without a
// processed_at stamp, up to limit. Dead-lettered records are excluded so
// they do not loop through the workers.
func (s *Store) FetchUnprocessed(ctx context.Context, limit int) ([]*models.RawPatientRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+rawColumns+` FROM raw_patient r
		 WHERE r.processed_at IS NULL
		   AND NOT EXISTS (SELECT 1 FROM dead_letter d WHERE d.raw_id = r.raw_id)
		 ORDER BY r.created_at
		 LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("%w unprocessed raw records: %w", ErrFailedToQuery, err)
	}
	defer rows.Close()

	var records []*models.RawPatientRecord

	for rows.Next() {
		r, err := scanRaw(rows)
		if err != nil {
			return nil, fmt.Errorf("%w raw record: %w", ErrFailedToScan, err)
		}

		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db: iterate raw records: %w", err)
	}

	return records, nil
}

// GetRaw fetches one staged record by id.
func (s *Store) GetRaw(ctx context.Context, rawID int64) (*models.RawPatientRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+rawColumns+` FROM raw_patient WHERE raw_id = $1`, rawID)

	r, err := scanRaw(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrRawNotFound, rawID)
	}

	if err != nil {
		return nil, fmt.Errorf("%w raw record: %w", ErrFailedToQuery, err)
	}

	return r, nil
}

// InsertRaw stages a new per-source snapshot and returns its id. Used by
// the ingest surface and integration tests; production adapters write
// the staging table directly.
func (s *Store) InsertRaw(ctx context.Context, r *models.RawPatientRecord) (int64, error) {
	var rawID int64

	err := s.pool.QueryRow(ctx, `
		INSERT INTO raw_patient (
			his_number, source, business_unit,
			last_name, first_name, middle_name, birth_date,
			doc_type, doc_number,
			email, phone, his_password, login_email
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING raw_id`,
		r.HISNumber, r.Source, r.BusinessUnit,
		r.LastName, r.FirstName, r.MiddleName, r.BirthDate,
		r.DocType, r.DocNumber,
		r.Email, r.Phone, r.HISPassword, r.LoginEmail,
	).Scan(&rawID)
	if err != nil {
		return 0, fmt.Errorf("%w raw record: %w", ErrFailedToInsert, err)
	}

	return rawID, nil
}

// StampRaw marks the record processed inside the reconcile transaction.
func (t *storeTx) StampRaw(ctx context.Context, rawID int64, canonicalID uuid.UUID) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE raw_patient
		SET canonical_id = $2, processed_at = now(), updated_at = now()
		WHERE raw_id = $1`,
		rawID, canonicalID)
	if err != nil {
		return fmt.Errorf("db: stamp raw record: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrRawNotFound, rawID)
	}

	return nil
}

// InsertDeadLetter parks a raw record that exhausted its attempts.
func (s *Store) InsertDeadLetter(ctx context.Context, r *models.RawPatientRecord, reason string, attempts int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dead_letter (raw_id, his_number, source, reason, attempts)
		VALUES ($1,$2,$3,$4,$5)`,
		r.RawID, r.HISNumber, r.Source, reason, attempts)
	if err != nil {
		return fmt.Errorf("%w dead letter: %w", ErrFailedToInsert, err)
	}

	return nil
}
