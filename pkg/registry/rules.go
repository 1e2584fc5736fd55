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

package registry

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/medscan/patientsync/pkg/models"
)

// Decide runs the matching rules for one event against the transactional
// view and returns what the mutator must do. It performs no writes.
//
// Insert events walk the rule chain in priority order: mobile
// pre-registration, same-source HIS number, identity-document pair,
// then create. Update events stay on their assigned canonical unless a
// changed document pair collides with another canonical, which forces a
// merge.
//
// Canonicals locked against matching never surface from the HIS-number
// and document lookups, so a new record that shares identity data with
// a locked patient gets a fresh canonical instead of attaching to it. A
// lock only produces a skip on records already attributed to the locked
// canonical: its own update events and mobile reservations that point
// at it.
func Decide(ctx context.Context, tx Tx, ev *models.ReconcileEvent) (*models.Decision, error) {
	if ev == nil || ev.Raw == nil {
		return nil, errNilEvent
	}

	if ev.Kind == models.EventUpdate && ev.Raw.CanonicalID != nil {
		return decideUpdate(ctx, tx, ev.Raw, ev.OldRaw)
	}

	return decideInsert(ctx, tx, ev.Raw)
}

func decideInsert(ctx context.Context, tx Tx, raw *models.RawPatientRecord) (*models.Decision, error) {
	// Rule 1: a mobile self-registration reserved this HIS number.
	prereg, err := tx.FindPrereg(ctx, raw.Source, raw.HISNumber)
	if err != nil {
		return nil, err
	}

	if prereg != nil {
		return decideMobile(ctx, tx, prereg)
	}

	// Rule 2: this HIS already produced a record for the same patient.
	existing, err := tx.FindCanonicalByHISNumber(ctx, raw.Source, raw.HISNumber)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		return &models.Decision{
			Kind:        models.DecisionUseExisting,
			MatchType:   models.MatchTypeUpdatedExisting,
			CanonicalID: existing.CanonicalID,
		}, nil
	}

	// Rule 3: the other HIS already knows this person by document.
	if raw.HasDocument() {
		byDoc, err := tx.FindCanonicalByDocument(ctx, *raw.DocType, *raw.DocNumber)
		if err != nil {
			return nil, err
		}

		if byDoc != nil {
			return &models.Decision{
				Kind:        models.DecisionUseExisting,
				MatchType:   models.MatchTypeMatchedDocument,
				CanonicalID: byDoc.CanonicalID,
			}, nil
		}
	}

	// Rule 4: nobody knows this person yet.
	matchType := models.MatchTypeNewNoDocument
	if raw.HasDocument() {
		matchType = models.MatchTypeNewWithDocument
	}

	return &models.Decision{
		Kind:        models.DecisionCreate,
		MatchType:   matchType,
		CanonicalID: uuid.New(),
	}, nil
}

func decideMobile(ctx context.Context, tx Tx, prereg *models.MobilePrereg) (*models.Decision, error) {
	existing, err := tx.GetCanonical(ctx, prereg.CanonicalID)
	if err != nil {
		return nil, err
	}

	if existing != nil && existing.MatchingLocked {
		return lockedSkip(existing.CanonicalID), nil
	}

	matchType := models.MatchTypeMobileAppNew
	if existing != nil {
		matchType = models.MatchTypeMobileAppUpdate
	}

	return &models.Decision{
		Kind:        models.DecisionUseExisting,
		MatchType:   matchType,
		CanonicalID: prereg.CanonicalID,
		Prereg:      prereg,
	}, nil
}

func decideUpdate(ctx context.Context, tx Tx, raw, old *models.RawPatientRecord) (*models.Decision, error) {
	current, err := tx.GetCanonical(ctx, *raw.CanonicalID)
	if err != nil {
		return nil, err
	}

	// The assigned canonical can be gone if an operator repaired data by
	// hand; fall back to the insert chain.
	if current == nil {
		return decideInsert(ctx, tx, raw)
	}

	if current.MatchingLocked {
		return lockedSkip(current.CanonicalID), nil
	}

	if raw.HasDocument() && !raw.DocumentEquals(old) {
		other, err := tx.FindCanonicalByDocument(ctx, *raw.DocType, *raw.DocNumber)
		if err != nil {
			return nil, err
		}

		if other != nil && other.CanonicalID != current.CanonicalID {
			winner, loser := pickMergeWinner(current, other)

			return &models.Decision{
				Kind:        models.DecisionMerge,
				MatchType:   models.MatchTypeMergedOnUpdate,
				CanonicalID: winner,
				WinnerID:    winner,
				LoserID:     loser,
			}, nil
		}
	}

	return &models.Decision{
		Kind:        models.DecisionUseExisting,
		MatchType:   models.MatchTypeRegularUpdate,
		CanonicalID: current.CanonicalID,
	}, nil
}

// pickMergeWinner applies the survivor tie-break: a mobile-registered
// canonical always wins; otherwise the lexicographically smaller id
// does, so both orderings of the same pair agree.
func pickMergeWinner(a, b *models.CanonicalPatient) (winner, loser uuid.UUID) {
	if a.RegisteredViaMobile != b.RegisteredViaMobile {
		if a.RegisteredViaMobile {
			return a.CanonicalID, b.CanonicalID
		}

		return b.CanonicalID, a.CanonicalID
	}

	if strings.Compare(a.CanonicalID.String(), b.CanonicalID.String()) < 0 {
		return a.CanonicalID, b.CanonicalID
	}

	return b.CanonicalID, a.CanonicalID
}

func lockedSkip(id uuid.UUID) *models.Decision {
	return &models.Decision{
		Kind:        models.DecisionLockedSkip,
		MatchType:   models.MatchTypeLockedSkip,
		CanonicalID: id,
	}
}
