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

// RegistryStats is the aggregate view served by the admin surface.
type RegistryStats struct {
	CanonicalPatients int64 `json:"canonical_patients"`
	LockedPatients    int64 `json:"locked_patients"`
	UnprocessedRaw    int64 `json:"unprocessed_raw"`
	DeadLetters       int64 `json:"dead_letters"`

	// PatientsBySource counts canonicals holding a slot for each HIS;
	// MultiSourcePatients counts those known to both.
	PatientsBySource    map[Source]int64 `json:"patients_by_source"`
	MultiSourcePatients int64            `json:"multi_source_patients"`

	MobilePreregs  int64 `json:"mobile_preregs"`
	AdoptedPreregs int64 `json:"adopted_preregs"`
	MobilePatients int64 `json:"mobile_patients"`

	LastProcessedAt *time.Time `json:"last_processed_at,omitempty"`

	MatchCounts map[MatchType]int64 `json:"match_counts"`
}

// DuplicateGroup is one cluster of canonical patients sharing full name
// and birth date: merge candidates surfaced to operators.
type DuplicateGroup struct {
	LastName  *string    `json:"last_name"`
	FirstName *string    `json:"first_name"`
	BirthDate *time.Time `json:"birth_date"`

	CanonicalIDs []uuid.UUID `json:"canonical_ids"`
}
