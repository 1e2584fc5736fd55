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

const canonicalColumns = `
	canonical_id,
	doc_type,
	doc_number,
	last_name,
	first_name,
	middle_name,
	birth_date,
	hisnumber_qms,
	email_qms,
	phone_qms,
	his_password_qms,
	login_email_qms,
	hisnumber_infoclinica,
	email_infoclinica,
	phone_infoclinica,
	his_password_infoclinica,
	login_email_infoclinica,
	primary_source,
	registered_via_mobile,
	matching_locked,
	locked_at,
	lock_reason,
	created_at,
	updated_at`

const insertCanonicalSQL = `
INSERT INTO canonical_patient (
	canonical_id,
	doc_type,
	doc_number,
	last_name,
	first_name,
	middle_name,
	birth_date,
	hisnumber_qms,
	email_qms,
	phone_qms,
	his_password_qms,
	login_email_qms,
	hisnumber_infoclinica,
	email_infoclinica,
	phone_infoclinica,
	his_password_infoclinica,
	login_email_infoclinica,
	primary_source,
	registered_via_mobile,
	matching_locked,
	locked_at,
	lock_reason
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22
)`

const updateCanonicalSQL = `
UPDATE canonical_patient SET
	doc_type = $2,
	doc_number = $3,
	last_name = $4,
	first_name = $5,
	middle_name = $6,
	birth_date = $7,
	hisnumber_qms = $8,
	email_qms = $9,
	phone_qms = $10,
	his_password_qms = $11,
	login_email_qms = $12,
	hisnumber_infoclinica = $13,
	email_infoclinica = $14,
	phone_infoclinica = $15,
	his_password_infoclinica = $16,
	login_email_infoclinica = $17,
	primary_source = $18,
	registered_via_mobile = $19,
	matching_locked = $20,
	locked_at = $21,
	lock_reason = $22,
	updated_at = now()
WHERE canonical_id = $1`

func scanCanonical(row pgx.Row) (*models.CanonicalPatient, error) {
	var (
		p   models.CanonicalPatient
		qms models.SourceSlot
		ifc models.SourceSlot
	)

	err := row.Scan(
		&p.CanonicalID,
		&p.DocType,
		&p.DocNumber,
		&p.LastName,
		&p.FirstName,
		&p.MiddleName,
		&p.BirthDate,
		&qms.HISNumber,
		&qms.Email,
		&qms.Phone,
		&qms.HISPassword,
		&qms.LoginEmail,
		&ifc.HISNumber,
		&ifc.Email,
		&ifc.Phone,
		&ifc.HISPassword,
		&ifc.LoginEmail,
		&p.PrimarySource,
		&p.RegisteredViaMobile,
		&p.MatchingLocked,
		&p.LockedAt,
		&p.LockReason,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Slots = map[models.Source]models.SourceSlot{
		models.SourceQMS:         qms,
		models.SourceInfoclinica: ifc,
	}

	return &p, nil
}

func canonicalArgs(p *models.CanonicalPatient) []interface{} {
	qms := p.Slot(models.SourceQMS)
	ifc := p.Slot(models.SourceInfoclinica)

	return []interface{}{
		p.CanonicalID,
		p.DocType,
		p.DocNumber,
		p.LastName,
		p.FirstName,
		p.MiddleName,
		p.BirthDate,
		qms.HISNumber,
		qms.Email,
		qms.Phone,
		qms.HISPassword,
		qms.LoginEmail,
		ifc.HISNumber,
		ifc.Email,
		ifc.Phone,
		ifc.HISPassword,
		ifc.LoginEmail,
		p.PrimarySource,
		p.RegisteredViaMobile,
		p.MatchingLocked,
		p.LockedAt,
		p.LockReason,
	}
}

func (t *storeTx) GetCanonical(ctx context.Context, id uuid.UUID) (*models.CanonicalPatient, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+canonicalColumns+` FROM canonical_patient WHERE canonical_id = $1`, id)

	p, err := scanCanonical(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("%w canonical by id: %w", ErrFailedToQuery, err)
	}

	return p, nil
}

func (t *storeTx) FindCanonicalByHISNumber(ctx context.Context, src models.Source, hisNumber string) (*models.CanonicalPatient, error) {
	column, err := hisNumberColumn(src)
	if err != nil {
		return nil, err
	}

	// Locked canonicals are invisible to matching; their update events
	// still reach them through GetCanonical.
	row := t.tx.QueryRow(ctx,
		`SELECT `+canonicalColumns+` FROM canonical_patient WHERE `+column+` = $1 AND NOT matching_locked`,
		hisNumber)

	p, err := scanCanonical(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("%w canonical by his number: %w", ErrFailedToQuery, err)
	}

	return p, nil
}

func (t *storeTx) FindCanonicalByDocument(ctx context.Context, docType int16, docNumber int64) (*models.CanonicalPatient, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+canonicalColumns+` FROM canonical_patient
		 WHERE doc_type = $1 AND doc_number = $2 AND NOT matching_locked`,
		docType, docNumber)

	p, err := scanCanonical(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("%w canonical by document: %w", ErrFailedToQuery, err)
	}

	return p, nil
}

func (t *storeTx) InsertCanonical(ctx context.Context, p *models.CanonicalPatient) error {
	if _, err := t.tx.Exec(ctx, insertCanonicalSQL, canonicalArgs(p)...); err != nil {
		return fmt.Errorf("%w canonical patient: %w", ErrFailedToInsert, err)
	}

	return nil
}

func (t *storeTx) UpdateCanonical(ctx context.Context, p *models.CanonicalPatient) error {
	tag, err := t.tx.Exec(ctx, updateCanonicalSQL, canonicalArgs(p)...)
	if err != nil {
		return fmt.Errorf("db: update canonical patient: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrCanonicalNotFound, p.CanonicalID)
	}

	return nil
}

func (t *storeTx) DeleteCanonical(ctx context.Context, id uuid.UUID) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM canonical_patient WHERE canonical_id = $1`, id)
	if err != nil {
		return fmt.Errorf("db: delete canonical patient: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrCanonicalNotFound, id)
	}

	return nil
}

func hisNumberColumn(src models.Source) (string, error) {
	switch src {
	case models.SourceQMS:
		return "hisnumber_qms", nil
	case models.SourceInfoclinica:
		return "hisnumber_infoclinica", nil
	default:
		return "", fmt.Errorf("db: unknown source %q", src)
	}
}
