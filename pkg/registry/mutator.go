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
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medscan/patientsync/pkg/models"
)

// ErrMergeTargetMissing means one side of a merge no longer exists.
var ErrMergeTargetMissing = errors.New("merge target canonical not found")

// Apply executes one decision inside the reconcile transaction: canonical
// writes, reference rewriting for merges, the processed stamp on the raw
// record, and the audit entry. The raw stamp goes last so a failed write
// leaves the record eligible for reprocessing.
func Apply(ctx context.Context, tx Tx, ev *models.ReconcileEvent, decision *models.Decision) (uuid.UUID, error) {
	switch decision.Kind {
	case models.DecisionCreate:
		return applyCreate(ctx, tx, ev.Raw, decision)
	case models.DecisionUseExisting:
		return applyUseExisting(ctx, tx, ev.Raw, decision)
	case models.DecisionMerge:
		return applyMerge(ctx, tx, ev.Raw, decision)
	case models.DecisionLockedSkip:
		return applyLockedSkip(ctx, tx, ev.Raw, decision)
	default:
		return uuid.Nil, fmt.Errorf("unknown decision kind %q", decision.Kind)
	}
}

func applyCreate(ctx context.Context, tx Tx, raw *models.RawPatientRecord, decision *models.Decision) (uuid.UUID, error) {
	patient := newCanonicalFromRaw(raw, decision.CanonicalID, false)

	if err := tx.InsertCanonical(ctx, patient); err != nil {
		return uuid.Nil, err
	}

	if err := tx.AppendMatchLog(ctx, logEntry(raw, decision, true)); err != nil {
		return uuid.Nil, err
	}

	if err := tx.StampRaw(ctx, raw.RawID, patient.CanonicalID); err != nil {
		return uuid.Nil, err
	}

	return patient.CanonicalID, nil
}

func applyUseExisting(ctx context.Context, tx Tx, raw *models.RawPatientRecord, decision *models.Decision) (uuid.UUID, error) {
	existing, err := tx.GetCanonical(ctx, decision.CanonicalID)
	if err != nil {
		return uuid.Nil, err
	}

	createdNew := false

	switch {
	case existing == nil && decision.Prereg != nil:
		// Mobile reservation with no canonical row yet: materialize it
		// under the reserved id.
		patient := newCanonicalFromRaw(raw, decision.CanonicalID, true)
		if err := tx.InsertCanonical(ctx, patient); err != nil {
			return uuid.Nil, err
		}

		createdNew = true
	case existing == nil:
		return uuid.Nil, fmt.Errorf("canonical %s disappeared mid-decision", decision.CanonicalID)
	default:
		if decision.MatchType == models.MatchTypeRegularUpdate {
			overwriteFromRaw(existing, raw)
		} else {
			fillFromRaw(existing, raw)
		}

		if decision.Prereg != nil {
			existing.RegisteredViaMobile = true
		}

		if err := tx.UpdateCanonical(ctx, existing); err != nil {
			return uuid.Nil, err
		}
	}

	if err := tx.AppendMatchLog(ctx, logEntry(raw, decision, createdNew)); err != nil {
		return uuid.Nil, err
	}

	if err := tx.StampRaw(ctx, raw.RawID, decision.CanonicalID); err != nil {
		return uuid.Nil, err
	}

	return decision.CanonicalID, nil
}

func applyMerge(ctx context.Context, tx Tx, raw *models.RawPatientRecord, decision *models.Decision) (uuid.UUID, error) {
	// The loser id only became known after matching, so its identity
	// lock is taken here, mid-transaction. Ordering is still sorted;
	// a cross-transaction inversion surfaces as a deadlock and the
	// engine retries.
	if err := tx.AcquireLocks(ctx, MergeLockKeys(decision.WinnerID, decision.LoserID)); err != nil {
		return uuid.Nil, err
	}

	winner, err := tx.GetCanonical(ctx, decision.WinnerID)
	if err != nil {
		return uuid.Nil, err
	}

	loser, err := tx.GetCanonical(ctx, decision.LoserID)
	if err != nil {
		return uuid.Nil, err
	}

	if winner == nil || loser == nil {
		return uuid.Nil, fmt.Errorf("%w: winner=%s loser=%s",
			ErrMergeTargetMissing, decision.WinnerID, decision.LoserID)
	}

	mergeCanonicals(winner, loser, raw)

	if err := tx.RewriteReferences(ctx, loser.CanonicalID, winner.CanonicalID); err != nil {
		return uuid.Nil, err
	}

	if err := tx.DeleteCanonical(ctx, loser.CanonicalID); err != nil {
		return uuid.Nil, err
	}

	// The loser must be gone before the winner takes over its slots:
	// the partial unique indexes check at statement time, not commit.
	if err := tx.UpdateCanonical(ctx, winner); err != nil {
		return uuid.Nil, err
	}

	entry := logEntry(raw, decision, false)
	entry.Details.WinnerCanonicalID = &decision.WinnerID
	entry.Details.LoserCanonicalID = &decision.LoserID

	if err := tx.AppendMatchLog(ctx, entry); err != nil {
		return uuid.Nil, err
	}

	if err := tx.StampRaw(ctx, raw.RawID, winner.CanonicalID); err != nil {
		return uuid.Nil, err
	}

	return winner.CanonicalID, nil
}

// applyLockedSkip records the skip and stamps the raw record against the
// locked canonical without touching the canonical row itself.
func applyLockedSkip(ctx context.Context, tx Tx, raw *models.RawPatientRecord, decision *models.Decision) (uuid.UUID, error) {
	if err := tx.AppendMatchLog(ctx, logEntry(raw, decision, false)); err != nil {
		return uuid.Nil, err
	}

	if err := tx.StampRaw(ctx, raw.RawID, decision.CanonicalID); err != nil {
		return uuid.Nil, err
	}

	return decision.CanonicalID, nil
}

// mergeCanonicals folds the loser into the winner. The triggering raw
// overwrites its own slot on the winner; everything else carries over
// only into empty fields.
func mergeCanonicals(winner, loser *models.CanonicalPatient, raw *models.RawPatientRecord) {
	winner.SetSlot(raw.Source, raw.Slot())

	for _, src := range models.KnownSources {
		if src == raw.Source {
			continue
		}

		if winner.Slot(src).Empty() && !loser.Slot(src).Empty() {
			winner.SetSlot(src, loser.Slot(src))
		}
	}

	if !winner.HasDocument() {
		if raw.HasDocument() {
			winner.DocType = raw.DocType
			winner.DocNumber = raw.DocNumber
		} else if loser.HasDocument() {
			winner.DocType = loser.DocType
			winner.DocNumber = loser.DocNumber
		}
	}

	fillDemographics(winner, loser.LastName, loser.FirstName, loser.MiddleName, loser.BirthDate)
	fillDemographics(winner, raw.LastName, raw.FirstName, raw.MiddleName, raw.BirthDate)

	winner.RegisteredViaMobile = winner.RegisteredViaMobile || loser.RegisteredViaMobile
}

func newCanonicalFromRaw(raw *models.RawPatientRecord, id uuid.UUID, viaMobile bool) *models.CanonicalPatient {
	p := &models.CanonicalPatient{
		CanonicalID:         id,
		DocType:             raw.DocType,
		DocNumber:           raw.DocNumber,
		LastName:            raw.LastName,
		FirstName:           raw.FirstName,
		MiddleName:          raw.MiddleName,
		BirthDate:           raw.BirthDate,
		PrimarySource:       raw.Source,
		RegisteredViaMobile: viaMobile,
	}

	p.SetSlot(raw.Source, raw.Slot())

	return p
}

// fillFromRaw applies insertion-path semantics: only empty canonical
// fields take the raw value.
func fillFromRaw(p *models.CanonicalPatient, raw *models.RawPatientRecord) {
	fillDemographics(p, raw.LastName, raw.FirstName, raw.MiddleName, raw.BirthDate)

	if !p.HasDocument() && raw.HasDocument() {
		p.DocType = raw.DocType
		p.DocNumber = raw.DocNumber
	}

	slot := p.Slot(raw.Source)
	incoming := raw.Slot()

	if slot.HISNumber == nil {
		slot.HISNumber = incoming.HISNumber
	}

	if slot.Email == nil {
		slot.Email = incoming.Email
	}

	if slot.Phone == nil {
		slot.Phone = incoming.Phone
	}

	if slot.HISPassword == nil {
		slot.HISPassword = incoming.HISPassword
	}

	if slot.LoginEmail == nil {
		slot.LoginEmail = incoming.LoginEmail
	}

	p.SetSlot(raw.Source, slot)
}

// overwriteFromRaw applies update-path semantics: the HIS re-emitted the
// record, so its values win outright for its own slot and demographics.
func overwriteFromRaw(p *models.CanonicalPatient, raw *models.RawPatientRecord) {
	p.LastName = raw.LastName
	p.FirstName = raw.FirstName
	p.MiddleName = raw.MiddleName
	p.BirthDate = raw.BirthDate

	if raw.HasDocument() {
		p.DocType = raw.DocType
		p.DocNumber = raw.DocNumber
	}

	p.SetSlot(raw.Source, raw.Slot())
}

func fillDemographics(p *models.CanonicalPatient, lastName, firstName, middleName *string, birthDate *time.Time) {
	if p.LastName == nil {
		p.LastName = lastName
	}

	if p.FirstName == nil {
		p.FirstName = firstName
	}

	if p.MiddleName == nil {
		p.MiddleName = middleName
	}

	if p.BirthDate == nil {
		p.BirthDate = birthDate
	}
}

func logEntry(raw *models.RawPatientRecord, decision *models.Decision, createdNew bool) *models.MatchLogEntry {
	entry := &models.MatchLogEntry{
		HISNumber:           raw.HISNumber,
		Source:              raw.Source,
		MatchType:           decision.MatchType,
		DocNumber:           raw.DocNumber,
		CreatedNewCanonical: createdNew,
		Details: models.MatchDetails{
			IsMobileMatch: decision.Prereg != nil,
			HasDocument:   raw.HasDocument(),
		},
	}

	resulting := decision.CanonicalID
	entry.ResultingCanonicalID = &resulting

	if decision.Prereg != nil {
		preregID := decision.Prereg.CanonicalID
		entry.MobilePreregCanonicalID = &preregID
	}

	return entry
}
