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

import "github.com/google/uuid"

// EventKind says whether a reconcile event is a fresh staging insert or
// a re-emitted raw record with changed fields.
type EventKind string

const (
	EventInsert EventKind = "insert"
	EventUpdate EventKind = "update"
)

// ReconcileEvent is the single ingress unit of the reconciliation
// engine. For updates, OldRaw carries the previously observed state of
// the same staging row.
type ReconcileEvent struct {
	Kind   EventKind         `json:"kind"`
	Raw    *RawPatientRecord `json:"raw"`
	OldRaw *RawPatientRecord `json:"old_raw,omitempty"`
}

// DecisionKind enumerates what the mutator must do with a raw record.
type DecisionKind string

const (
	DecisionUseExisting DecisionKind = "use_existing"
	DecisionCreate      DecisionKind = "create"
	DecisionMerge       DecisionKind = "merge"
	DecisionLockedSkip  DecisionKind = "locked_skip"
)

// Decision is the outcome of the matching rules for one event.
//
// For DecisionUseExisting, CanonicalID names the target canonical (for
// mobile adoptions it is the prereg-reserved id, which may not exist as
// a canonical row yet). For DecisionCreate, CanonicalID is the freshly
// allocated id. For DecisionMerge, WinnerID survives and LoserID is
// deleted after reference rewriting.
type Decision struct {
	Kind      DecisionKind `json:"kind"`
	MatchType MatchType    `json:"match_type"`

	CanonicalID uuid.UUID `json:"canonical_id"`

	WinnerID uuid.UUID `json:"winner_id,omitempty"`
	LoserID  uuid.UUID `json:"loser_id,omitempty"`

	// Prereg is set when rule 1 (mobile pre-registration) matched.
	Prereg *MobilePrereg `json:"prereg,omitempty"`
}

// Result is the terminal outcome of one Reconcile invocation.
type Result struct {
	Decision             Decision  `json:"decision"`
	ResultingCanonicalID uuid.UUID `json:"resulting_canonical_id"`
	Attempts             int       `json:"attempts"`
}
