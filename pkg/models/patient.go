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
	"time"

	"github.com/google/uuid"
)

// SourceSlot carries the per-HIS columns of a canonical patient.
// A slot is either entirely empty or holds at least the HIS number.
type SourceSlot struct {
	HISNumber   *string `json:"his_number,omitempty"`
	Email       *string `json:"email,omitempty"`
	Phone       *string `json:"phone,omitempty"`
	HISPassword *string `json:"-"`
	LoginEmail  *string `json:"login_email,omitempty"`
}

// Empty reports whether the slot carries no HIS identity.
func (s SourceSlot) Empty() bool {
	return s.HISNumber == nil || *s.HISNumber == ""
}

// CanonicalPatient is the single consolidated record for one real person.
// The canonical id is assigned at creation and never reassigned; on merge
// the losing record is deleted after every reference has been redirected.
type CanonicalPatient struct {
	CanonicalID uuid.UUID `json:"canonical_id"`

	DocType   *int16 `json:"doc_type,omitempty"`
	DocNumber *int64 `json:"doc_number,omitempty"`

	LastName   *string    `json:"last_name,omitempty"`
	FirstName  *string    `json:"first_name,omitempty"`
	MiddleName *string    `json:"middle_name,omitempty"`
	BirthDate  *time.Time `json:"birth_date,omitempty"`

	// Slots holds one entry per configured HIS, keyed by source.
	Slots map[Source]SourceSlot `json:"slots"`

	PrimarySource       Source `json:"primary_source"`
	RegisteredViaMobile bool   `json:"registered_via_mobile"`

	MatchingLocked bool       `json:"matching_locked"`
	LockedAt       *time.Time `json:"locked_at,omitempty"`
	LockReason     *string    `json:"lock_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Slot returns the slot for src, or the zero slot when unset.
func (c *CanonicalPatient) Slot(src Source) SourceSlot {
	if c.Slots == nil {
		return SourceSlot{}
	}

	return c.Slots[src]
}

// SetSlot replaces the slot for src.
func (c *CanonicalPatient) SetSlot(src Source, slot SourceSlot) {
	if c.Slots == nil {
		c.Slots = make(map[Source]SourceSlot, len(KnownSources))
	}

	c.Slots[src] = slot
}

// HasDocument reports whether the identity-document pair is populated.
func (c *CanonicalPatient) HasDocument() bool {
	return c.DocType != nil && c.DocNumber != nil
}
