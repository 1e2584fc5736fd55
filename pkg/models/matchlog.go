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

// MatchType labels which rule produced a reconciliation decision.
type MatchType string

const (
	MatchTypeNewNoDocument   MatchType = "NEW_NO_DOCUMENT"
	MatchTypeNewWithDocument MatchType = "NEW_WITH_DOCUMENT"
	MatchTypeUpdatedExisting MatchType = "UPDATED_EXISTING"
	MatchTypeMatchedDocument MatchType = "MATCHED_DOCUMENT"
	MatchTypeMobileAppNew    MatchType = "MOBILE_APP_NEW"
	MatchTypeMobileAppUpdate MatchType = "MOBILE_APP_UPDATE"
	MatchTypeMergedOnUpdate  MatchType = "MERGED_ON_UPDATE"
	MatchTypeRegularUpdate   MatchType = "REGULAR_UPDATE"
	MatchTypeLockedSkip      MatchType = "LOCKED_SKIP"
)

// MatchDetails is the structured payload of a match-log entry.
type MatchDetails struct {
	IsMobileMatch bool `json:"is_mobile_match"`
	HasDocument   bool `json:"has_document"`

	WinnerCanonicalID *uuid.UUID `json:"winner_canonical_id,omitempty"`
	LoserCanonicalID  *uuid.UUID `json:"loser_canonical_id,omitempty"`

	// Manual marks merges initiated through the admin surface rather
	// than by a raw-record update.
	Manual bool `json:"manual,omitempty"`
}

// MatchLogEntry is one append-only audit record: the ground truth for
// what the engine decided and why. Entries are never updated or deleted.
type MatchLogEntry struct {
	EntryID   int64     `json:"entry_id"`
	HISNumber string    `json:"his_number"`
	Source    Source    `json:"source"`
	LoggedAt  time.Time `json:"logged_at"`

	MatchType MatchType `json:"match_type"`
	DocNumber *int64    `json:"doc_number,omitempty"`

	CreatedNewCanonical     bool       `json:"created_new_canonical"`
	MobilePreregCanonicalID *uuid.UUID `json:"mobile_prereg_canonical_id,omitempty"`
	ResultingCanonicalID    *uuid.UUID `json:"resulting_canonical_id,omitempty"`

	Details MatchDetails `json:"details"`
}
