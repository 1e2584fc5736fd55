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

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrRawHISNumberMissing = errors.New("raw record his_number is required")
	ErrRawSourceUnknown    = errors.New("raw record source is not a configured HIS")
	ErrRawDocumentPair     = errors.New("doc_type and doc_number must both be set or both be null")
)

// RawPatientRecord is a per-source patient snapshot staged by an adapter.
// The engine stamps CanonicalID and ProcessedAt exactly once per observed
// state; adapters may re-emit the row with changed fields, which the
// engine treats as an update event.
type RawPatientRecord struct {
	RawID     int64  `json:"raw_id"`
	HISNumber string `json:"his_number"`
	Source    Source `json:"source"`

	BusinessUnit BusinessUnit `json:"business_unit"`

	LastName   *string    `json:"last_name,omitempty"`
	FirstName  *string    `json:"first_name,omitempty"`
	MiddleName *string    `json:"middle_name,omitempty"`
	BirthDate  *time.Time `json:"birth_date,omitempty"`

	DocType   *int16 `json:"doc_type,omitempty"`
	DocNumber *int64 `json:"doc_number,omitempty"`

	Email       *string `json:"email,omitempty"`
	Phone       *string `json:"phone,omitempty"`
	HISPassword *string `json:"-"`
	LoginEmail  *string `json:"login_email,omitempty"`

	CanonicalID *uuid.UUID `json:"canonical_id,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasDocument reports whether the identity-document pair is populated.
func (r *RawPatientRecord) HasDocument() bool {
	return r.DocType != nil && r.DocNumber != nil
}

// Slot projects the raw record's contact fields into a canonical slot.
func (r *RawPatientRecord) Slot() SourceSlot {
	his := r.HISNumber

	return SourceSlot{
		HISNumber:   &his,
		Email:       r.Email,
		Phone:       r.Phone,
		HISPassword: r.HISPassword,
		LoginEmail:  r.LoginEmail,
	}
}

// Validate checks the staging-schema invariants. A violation is fatal for
// the event: the record stays unstamped for human triage.
func (r *RawPatientRecord) Validate() error {
	if r.HISNumber == "" {
		return fmt.Errorf("%w: raw_id=%d", ErrRawHISNumberMissing, r.RawID)
	}

	if !r.Source.Valid() {
		return fmt.Errorf("%w: %q", ErrRawSourceUnknown, r.Source)
	}

	if (r.DocType == nil) != (r.DocNumber == nil) {
		return fmt.Errorf("%w: raw_id=%d", ErrRawDocumentPair, r.RawID)
	}

	return nil
}

// DocumentEquals reports whether both records carry the same document
// pair, treating two absent pairs as equal.
func (r *RawPatientRecord) DocumentEquals(other *RawPatientRecord) bool {
	if other == nil {
		return false
	}

	if (r.DocType == nil) != (other.DocType == nil) {
		return false
	}

	if r.DocType == nil {
		return true
	}

	return *r.DocType == *other.DocType && *r.DocNumber == *other.DocNumber
}
