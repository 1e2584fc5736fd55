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

const preregColumns = `
	prereg_id,
	canonical_id,
	his_number_qms,
	his_number_infoclinica,
	created_at,
	updated_at`

func scanPrereg(row pgx.Row) (*models.MobilePrereg, error) {
	var m models.MobilePrereg

	err := row.Scan(
		&m.PreregID,
		&m.CanonicalID,
		&m.HISNumberQMS,
		&m.HISNumberInfoclinica,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &m, nil
}

func preregColumnFor(src models.Source) (string, error) {
	switch src {
	case models.SourceQMS:
		return "his_number_qms", nil
	case models.SourceInfoclinica:
		return "his_number_infoclinica", nil
	default:
		return "", fmt.Errorf("db: unknown source %q", src)
	}
}

func (t *storeTx) FindPrereg(ctx context.Context, src models.Source, hisNumber string) (*models.MobilePrereg, error) {
	column, err := preregColumnFor(src)
	if err != nil {
		return nil, err
	}

	row := t.tx.QueryRow(ctx,
		`SELECT `+preregColumns+` FROM mobile_prereg WHERE `+column+` = $1`, hisNumber)

	m, err := scanPrereg(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("%w mobile prereg: %w", ErrFailedToQuery, err)
	}

	return m, nil
}

// CreatePrereg reserves a canonical id for a mobile self-registration
// naming the HIS number the clinic issued during signup.
func (s *Store) CreatePrereg(ctx context.Context, src models.Source, hisNumber string) (*models.MobilePrereg, error) {
	column, err := preregColumnFor(src)
	if err != nil {
		return nil, err
	}

	canonicalID := uuid.New()

	row := s.pool.QueryRow(ctx,
		`INSERT INTO mobile_prereg (canonical_id, `+column+`) VALUES ($1, $2) RETURNING `+preregColumns,
		canonicalID, hisNumber)

	m, err := scanPrereg(row)
	if err != nil {
		return nil, fmt.Errorf("%w mobile prereg: %w", ErrFailedToInsert, err)
	}

	return m, nil
}
