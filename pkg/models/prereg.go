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

// MobilePrereg reserves a canonical id for a user who self-registered
// through the mobile app before either HIS produced a record. The engine
// adopts the reserved id when the matching HIS record arrives.
type MobilePrereg struct {
	PreregID    int64     `json:"prereg_id"`
	CanonicalID uuid.UUID `json:"canonical_id"`

	HISNumberQMS         *string `json:"his_number_qms,omitempty"`
	HISNumberInfoclinica *string `json:"his_number_infoclinica,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HISNumberFor returns the reserved HIS number for src, if any.
func (m *MobilePrereg) HISNumberFor(src Source) *string {
	switch src {
	case SourceQMS:
		return m.HISNumberQMS
	case SourceInfoclinica:
		return m.HISNumberInfoclinica
	default:
		return nil
	}
}
