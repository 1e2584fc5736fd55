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
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/medscan/patientsync/pkg/logger"
	"github.com/medscan/patientsync/pkg/models"
)

func newTestEngine(store Store, classify ErrorClassifier) *Engine {
	cfg := &models.EngineConfig{
		MaxRetries:  3,
		BaseBackoff: models.Duration(time.Millisecond),
	}

	return NewEngine(store, cfg, classify, logger.NewTestLogger())
}

func qmsRaw(rawID int64, hisNumber string) *models.RawPatientRecord {
	return &models.RawPatientRecord{
		RawID:        rawID,
		HISNumber:    hisNumber,
		Source:       models.SourceQMS,
		BusinessUnit: models.BusinessUnitHadassah,
		LastName:     strPtr("Ivanova"),
		FirstName:    strPtr("Anna"),
		BirthDate:    datePtr(1987, time.March, 12),
		Email:        strPtr("anna@example.com"),
		Phone:        strPtr("+79990001122"),
	}
}

func insertEvent(raw *models.RawPatientRecord) *models.ReconcileEvent {
	return &models.ReconcileEvent{Kind: models.EventInsert, Raw: raw}
}

func updateEvent(raw, old *models.RawPatientRecord) *models.ReconcileEvent {
	return &models.ReconcileEvent{Kind: models.EventUpdate, Raw: raw, OldRaw: old}
}

func TestReconcileCreatesCanonicalForUnknownPatient(t *testing.T) {
	store := newMemStore()
	engine := newTestEngine(store, nil)

	raw := store.addRaw(qmsRaw(1, "Q-100"))
	raw.DocType = int16Ptr(1)
	raw.DocNumber = int64Ptr(4510123456)

	result, err := engine.Reconcile(context.Background(), insertEvent(raw))
	require.NoError(t, err)
	require.Equal(t, models.DecisionCreate, result.Decision.Kind)
	require.Equal(t, models.MatchTypeNewWithDocument, result.Decision.MatchType)
	require.Equal(t, 1, result.Attempts)

	created := store.canonicals[result.ResultingCanonicalID]
	require.NotNil(t, created)
	require.Equal(t, models.SourceQMS, created.PrimarySource)
	require.False(t, created.RegisteredViaMobile)
	require.Equal(t, "Q-100", *created.Slot(models.SourceQMS).HISNumber)
	require.True(t, created.HasDocument())

	require.NotNil(t, raw.ProcessedAt)
	require.Equal(t, result.ResultingCanonicalID, *raw.CanonicalID)

	entry := store.lastLog()
	require.NotNil(t, entry)
	require.Equal(t, models.MatchTypeNewWithDocument, entry.MatchType)
	require.True(t, entry.CreatedNewCanonical)
	require.True(t, entry.Details.HasDocument)
}

func TestReconcileMatchesSecondSourceByDocument(t *testing.T) {
	store := newMemStore()
	engine := newTestEngine(store, nil)

	first := store.addRaw(qmsRaw(1, "Q-100"))
	first.DocType = int16Ptr(1)
	first.DocNumber = int64Ptr(4510123456)

	created, err := engine.Reconcile(context.Background(), insertEvent(first))
	require.NoError(t, err)

	second := store.addRaw(&models.RawPatientRecord{
		RawID:        2,
		HISNumber:    "IC-200",
		Source:       models.SourceInfoclinica,
		BusinessUnit: models.BusinessUnitYauza,
		LastName:     strPtr("Ivanova"),
		FirstName:    strPtr("Anna"),
		MiddleName:   strPtr("Sergeevna"),
		DocType:      int16Ptr(1),
		DocNumber:    int64Ptr(4510123456),
		Phone:        strPtr("+79990003344"),
	})

	result, err := engine.Reconcile(context.Background(), insertEvent(second))
	require.NoError(t, err)
	require.Equal(t, models.DecisionUseExisting, result.Decision.Kind)
	require.Equal(t, models.MatchTypeMatchedDocument, result.Decision.MatchType)
	require.Equal(t, created.ResultingCanonicalID, result.ResultingCanonicalID)

	merged := store.canonicals[result.ResultingCanonicalID]
	require.Equal(t, "Q-100", *merged.Slot(models.SourceQMS).HISNumber)
	require.Equal(t, "IC-200", *merged.Slot(models.SourceInfoclinica).HISNumber)
	// Insertion path fills empty fields only: middle name was empty, so
	// the Infoclinica value lands; last name keeps the original.
	require.Equal(t, "Sergeevna", *merged.MiddleName)
	require.Equal(t, "Ivanova", *merged.LastName)
	require.Len(t, store.canonicals, 1)
}

func TestReconcileSameSourceReemitUpdatesInPlace(t *testing.T) {
	store := newMemStore()
	engine := newTestEngine(store, nil)

	raw := store.addRaw(qmsRaw(1, "Q-100"))

	created, err := engine.Reconcile(context.Background(), insertEvent(raw))
	require.NoError(t, err)

	old := *raw
	raw.Phone = strPtr("+79991112233")
	raw.LastName = strPtr("Petrova")

	result, err := engine.Reconcile(context.Background(), updateEvent(raw, &old))
	require.NoError(t, err)
	require.Equal(t, models.MatchTypeRegularUpdate, result.Decision.MatchType)
	require.Equal(t, created.ResultingCanonicalID, result.ResultingCanonicalID)

	updated := store.canonicals[result.ResultingCanonicalID]
	// Update path overwrites unconditionally.
	require.Equal(t, "Petrova", *updated.LastName)
	require.Equal(t, "+79991112233", *updated.Slot(models.SourceQMS).Phone)
}

func TestReconcileLateDocumentTriggersMerge(t *testing.T) {
	store := newMemStore()
	engine := newTestEngine(store, nil)

	// Infoclinica knows the patient with a document.
	icRaw := store.addRaw(&models.RawPatientRecord{
		RawID:     1,
		HISNumber: "IC-200",
		Source:    models.SourceInfoclinica,
		LastName:  strPtr("Ivanova"),
		FirstName: strPtr("Anna"),
		DocType:   int16Ptr(1),
		DocNumber: int64Ptr(4510123456),
	})
	icResult, err := engine.Reconcile(context.Background(), insertEvent(icRaw))
	require.NoError(t, err)

	// qMS produced the same person without a document: separate canonical.
	qRaw := store.addRaw(qmsRaw(2, "Q-100"))
	qResult, err := engine.Reconcile(context.Background(), insertEvent(qRaw))
	require.NoError(t, err)
	require.NotEqual(t, icResult.ResultingCanonicalID, qResult.ResultingCanonicalID)
	require.Len(t, store.canonicals, 2)

	// qMS re-emits with the document filled in: the two fold together.
	old := *qRaw
	qRaw.DocType = int16Ptr(1)
	qRaw.DocNumber = int64Ptr(4510123456)

	result, err := engine.Reconcile(context.Background(), updateEvent(qRaw, &old))
	require.NoError(t, err)
	require.Equal(t, models.DecisionMerge, result.Decision.Kind)
	require.Equal(t, models.MatchTypeMergedOnUpdate, result.Decision.MatchType)
	require.Len(t, store.canonicals, 1)

	winner := store.canonicals[result.ResultingCanonicalID]
	require.NotNil(t, winner)
	require.Equal(t, "Q-100", *winner.Slot(models.SourceQMS).HISNumber)
	require.Equal(t, "IC-200", *winner.Slot(models.SourceInfoclinica).HISNumber)
	require.True(t, winner.HasDocument())

	// Every reference to the loser moved to the winner.
	require.Len(t, store.rewrites, 1)
	require.Equal(t, result.ResultingCanonicalID, store.rewrites[0].winner)
	require.Equal(t, result.ResultingCanonicalID, *icRaw.CanonicalID)
	require.Equal(t, result.ResultingCanonicalID, *qRaw.CanonicalID)

	entry := store.lastLog()
	require.Equal(t, models.MatchTypeMergedOnUpdate, entry.MatchType)
	require.NotNil(t, entry.Details.WinnerCanonicalID)
	require.NotNil(t, entry.Details.LoserCanonicalID)
	require.False(t, entry.Details.Manual)
}

func TestReconcileAdoptsMobilePrereg(t *testing.T) {
	store := newMemStore()
	engine := newTestEngine(store, nil)

	reserved := uuid.New()
	store.preregs = append(store.preregs, &models.MobilePrereg{
		PreregID:     1,
		CanonicalID:  reserved,
		HISNumberQMS: strPtr("Q-100"),
	})

	raw := store.addRaw(qmsRaw(1, "Q-100"))

	result, err := engine.Reconcile(context.Background(), insertEvent(raw))
	require.NoError(t, err)
	require.Equal(t, models.MatchTypeMobileAppNew, result.Decision.MatchType)
	require.Equal(t, reserved, result.ResultingCanonicalID)

	adopted := store.canonicals[reserved]
	require.NotNil(t, adopted)
	require.True(t, adopted.RegisteredViaMobile)

	entry := store.lastLog()
	require.True(t, entry.Details.IsMobileMatch)
	require.Equal(t, reserved, *entry.MobilePreregCanonicalID)
	require.True(t, entry.CreatedNewCanonical)
}

func TestReconcileSkipsLockedCanonical(t *testing.T) {
	store := newMemStore()
	engine := newTestEngine(store, nil)

	raw := store.addRaw(qmsRaw(1, "Q-100"))

	created, err := engine.Reconcile(context.Background(), insertEvent(raw))
	require.NoError(t, err)

	locked := store.canonicals[created.ResultingCanonicalID]
	locked.MatchingLocked = true
	lockedBefore := *locked

	// Same source re-emits; the locked canonical must not change.
	old := *raw
	raw.LastName = strPtr("Changed")

	result, err := engine.Reconcile(context.Background(), updateEvent(raw, &old))
	require.NoError(t, err)
	require.Equal(t, models.DecisionLockedSkip, result.Decision.Kind)
	require.Equal(t, models.MatchTypeLockedSkip, result.Decision.MatchType)

	after := store.canonicals[created.ResultingCanonicalID]
	require.Equal(t, *lockedBefore.LastName, *after.LastName)
	require.NotNil(t, raw.ProcessedAt)

	entry := store.lastLog()
	require.Equal(t, models.MatchTypeLockedSkip, entry.MatchType)
}

func TestReconcileRetriesTransientConflicts(t *testing.T) {
	store := newMemStore()
	store.failFirst = 1
	store.failErr = errors.New("deadlock detected")

	classify := func(err error) (string, bool, bool) {
		if err != nil && err.Error() == "deadlock detected" {
			return "40P01", true, false
		}

		return "", false, false
	}

	engine := newTestEngine(store, classify)

	raw := store.addRaw(qmsRaw(1, "Q-100"))

	result, err := engine.Reconcile(context.Background(), insertEvent(raw))
	require.NoError(t, err)
	require.Equal(t, 2, result.Attempts)
	require.Equal(t, int64(1), engine.Stats().Conflicts.Load())
	require.Equal(t, int64(1), engine.Stats().RetrySuccesses.Load())
}

func TestReconcileExhaustsRetries(t *testing.T) {
	store := newMemStore()
	store.failFirst = 10
	store.failErr = errors.New("deadlock detected")

	classify := func(error) (string, bool, bool) { return "40P01", true, false }

	engine := newTestEngine(store, classify)

	raw := store.addRaw(qmsRaw(1, "Q-100"))

	_, err := engine.Reconcile(context.Background(), insertEvent(raw))
	require.Error(t, err)
	require.ErrorIs(t, err, ErrRetriesExhausted)
	require.ErrorIs(t, err, ErrRetryableConflict)
}

func TestReconcileLockTimeoutIsNotRetried(t *testing.T) {
	store := newMemStore()
	store.failFirst = 1
	store.failErr = errors.New("lock timeout")

	classify := func(error) (string, bool, bool) { return "55P03", false, true }

	engine := newTestEngine(store, classify)

	raw := store.addRaw(qmsRaw(1, "Q-100"))

	_, err := engine.Reconcile(context.Background(), insertEvent(raw))
	require.Error(t, err)
	require.ErrorIs(t, err, ErrLockTimeout)
	require.Equal(t, int64(1), engine.Stats().LockTimeouts.Load())
}

func TestReconcileRejectsInvalidRaw(t *testing.T) {
	engine := newTestEngine(newMemStore(), nil)

	_, err := engine.Reconcile(context.Background(), insertEvent(&models.RawPatientRecord{
		RawID:  1,
		Source: models.SourceQMS,
	}))
	require.ErrorIs(t, err, ErrInvalidRaw)

	// Mismatched document pair is fatal, not retryable.
	bad := qmsRaw(2, "Q-200")
	bad.DocType = int16Ptr(1)

	_, err = engine.Reconcile(context.Background(), insertEvent(bad))
	require.ErrorIs(t, err, ErrInvalidRaw)
}

func TestReconcileIsIdempotentOnReplay(t *testing.T) {
	store := newMemStore()
	engine := newTestEngine(store, nil)

	raw := store.addRaw(qmsRaw(1, "Q-100"))

	first, err := engine.Reconcile(context.Background(), insertEvent(raw))
	require.NoError(t, err)

	// Replaying the same insert matches by same-source HIS number and
	// lands on the same canonical without creating another.
	replay, err := engine.Reconcile(context.Background(), insertEvent(raw))
	require.NoError(t, err)
	require.Equal(t, first.ResultingCanonicalID, replay.ResultingCanonicalID)
	require.Equal(t, models.MatchTypeUpdatedExisting, replay.Decision.MatchType)
	require.Len(t, store.canonicals, 1)
}

func TestMergeManual(t *testing.T) {
	store := newMemStore()
	engine := newTestEngine(store, nil)

	winnerRaw := store.addRaw(qmsRaw(1, "Q-100"))
	winnerResult, err := engine.Reconcile(context.Background(), insertEvent(winnerRaw))
	require.NoError(t, err)

	loserRaw := store.addRaw(&models.RawPatientRecord{
		RawID:     2,
		HISNumber: "IC-200",
		Source:    models.SourceInfoclinica,
		LastName:  strPtr("Ivanova"),
		FirstName: strPtr("Anna"),
		DocType:   int16Ptr(1),
		DocNumber: int64Ptr(4510123456),
	})
	loserResult, err := engine.Reconcile(context.Background(), insertEvent(loserRaw))
	require.NoError(t, err)

	result, err := engine.MergeManual(context.Background(),
		winnerResult.ResultingCanonicalID, loserResult.ResultingCanonicalID)
	require.NoError(t, err)
	require.Equal(t, winnerResult.ResultingCanonicalID, result.ResultingCanonicalID)
	require.Len(t, store.canonicals, 1)

	winner := store.canonicals[result.ResultingCanonicalID]
	require.Equal(t, "IC-200", *winner.Slot(models.SourceInfoclinica).HISNumber)
	require.True(t, winner.HasDocument())

	entry := store.lastLog()
	require.True(t, entry.Details.Manual)
	require.Equal(t, models.MatchTypeMergedOnUpdate, entry.MatchType)

	_, err = engine.MergeManual(context.Background(),
		winnerResult.ResultingCanonicalID, winnerResult.ResultingCanonicalID)
	require.Error(t, err)
}

// uniqueClassifier maps the fake's statement-time unique violations to
// a retryable conflict, like the Postgres classifier does for 23505.
func uniqueClassifier(err error) (string, bool, bool) {
	if err != nil && strings.Contains(err.Error(), "23505") {
		return "23505", true, false
	}

	return "", false, false
}

func TestMergeCommitsOnFirstAttemptUnderUniqueSlots(t *testing.T) {
	store := newMemStore()
	engine := newTestEngine(store, uniqueClassifier)

	icRaw := store.addRaw(&models.RawPatientRecord{
		RawID:     1,
		HISNumber: "IC-200",
		Source:    models.SourceInfoclinica,
		LastName:  strPtr("Ivanova"),
		FirstName: strPtr("Anna"),
		DocType:   int16Ptr(1),
		DocNumber: int64Ptr(4510123456),
	})
	_, err := engine.Reconcile(context.Background(), insertEvent(icRaw))
	require.NoError(t, err)

	qRaw := store.addRaw(qmsRaw(2, "Q-100"))
	_, err = engine.Reconcile(context.Background(), insertEvent(qRaw))
	require.NoError(t, err)

	// The winner inherits the loser's slot and document while the store
	// checks uniqueness per statement; the merge must still commit
	// without burning a single retry.
	old := *qRaw
	qRaw.DocType = int16Ptr(1)
	qRaw.DocNumber = int64Ptr(4510123456)

	result, err := engine.Reconcile(context.Background(), updateEvent(qRaw, &old))
	require.NoError(t, err)
	require.Equal(t, models.DecisionMerge, result.Decision.Kind)
	require.Equal(t, 1, result.Attempts)
	require.Equal(t, int64(0), engine.Stats().Conflicts.Load())
	require.Len(t, store.canonicals, 1)

	survivor := store.canonicals[result.ResultingCanonicalID]
	require.Equal(t, "Q-100", *survivor.Slot(models.SourceQMS).HISNumber)
	require.Equal(t, "IC-200", *survivor.Slot(models.SourceInfoclinica).HISNumber)
	require.True(t, survivor.HasDocument())
}

func TestReconcileRetriesLostCreateRace(t *testing.T) {
	store := newMemStore()
	engine := newTestEngine(store, uniqueClassifier)

	// A rival transaction lands the same document just before our
	// insert; the unique check rejects it and the retry must settle on
	// the rival's canonical instead.
	rival := &models.CanonicalPatient{
		CanonicalID:   uuid.New(),
		DocType:       int16Ptr(1),
		DocNumber:     int64Ptr(4510123456),
		LastName:      strPtr("Ivanova"),
		FirstName:     strPtr("Anna"),
		PrimarySource: models.SourceInfoclinica,
	}
	rival.SetSlot(models.SourceInfoclinica, models.SourceSlot{HISNumber: strPtr("IC-200")})
	store.competeOnInsert = rival

	raw := store.addRaw(qmsRaw(1, "Q-100"))
	raw.DocType = int16Ptr(1)
	raw.DocNumber = int64Ptr(4510123456)

	result, err := engine.Reconcile(context.Background(), insertEvent(raw))
	require.NoError(t, err)
	require.Equal(t, 2, result.Attempts)
	require.Equal(t, models.DecisionUseExisting, result.Decision.Kind)
	require.Equal(t, models.MatchTypeMatchedDocument, result.Decision.MatchType)
	require.Equal(t, rival.CanonicalID, result.ResultingCanonicalID)
	require.Len(t, store.canonicals, 1)
	require.Equal(t, int64(1), engine.Stats().Conflicts.Load())
	require.Equal(t, int64(1), engine.Stats().RetrySuccesses.Load())
}

func TestConcurrentSameDocumentConvergesToOneCanonical(t *testing.T) {
	store := newMemStore()
	engine := newTestEngine(store, uniqueClassifier)

	qRaw := store.addRaw(qmsRaw(1, "Q-100"))
	qRaw.DocType = int16Ptr(1)
	qRaw.DocNumber = int64Ptr(4510123456)

	icRaw := store.addRaw(&models.RawPatientRecord{
		RawID:     2,
		HISNumber: "IC-200",
		Source:    models.SourceInfoclinica,
		LastName:  strPtr("Ivanova"),
		FirstName: strPtr("Anna"),
		DocType:   int16Ptr(1),
		DocNumber: int64Ptr(4510123456),
	})

	var wg sync.WaitGroup

	errCh := make(chan error, 2)

	for _, raw := range []*models.RawPatientRecord{qRaw, icRaw} {
		raw := raw

		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := engine.Reconcile(context.Background(), insertEvent(raw))
			errCh <- err
		}()
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		require.NoError(t, err)
	}

	require.Len(t, store.canonicals, 1)

	for _, p := range store.canonicals {
		require.Equal(t, "Q-100", *p.Slot(models.SourceQMS).HISNumber)
		require.Equal(t, "IC-200", *p.Slot(models.SourceInfoclinica).HISNumber)
	}

	require.Equal(t, *qRaw.CanonicalID, *icRaw.CanonicalID)
}

func TestReconcileOrderIndependentForDisjointIdentities(t *testing.T) {
	makeA := func() *models.RawPatientRecord {
		a := qmsRaw(1, "Q-100")
		a.DocType = int16Ptr(1)
		a.DocNumber = int64Ptr(4510123456)

		return a
	}
	makeB := func() *models.RawPatientRecord {
		return &models.RawPatientRecord{
			RawID:     2,
			HISNumber: "IC-200",
			Source:    models.SourceInfoclinica,
			LastName:  strPtr("Petrov"),
			FirstName: strPtr("Boris"),
			DocType:   int16Ptr(1),
			DocNumber: int64Ptr(9910555777),
		}
	}

	run := func(first, second *models.RawPatientRecord) *memStore {
		store := newMemStore()
		engine := newTestEngine(store, nil)

		store.addRaw(first)
		store.addRaw(second)

		_, err := engine.Reconcile(context.Background(), insertEvent(first))
		require.NoError(t, err)

		_, err = engine.Reconcile(context.Background(), insertEvent(second))
		require.NoError(t, err)

		return store
	}

	// Collect last name keyed by HIS number so the comparison is stable
	// across the randomly assigned canonical ids.
	survey := func(store *memStore) map[string]string {
		out := make(map[string]string)

		for _, p := range store.canonicals {
			for _, src := range models.KnownSources {
				if n := p.Slot(src).HISNumber; n != nil {
					out[*n] = *p.LastName
				}
			}
		}

		return out
	}

	ab := run(makeA(), makeB())
	ba := run(makeB(), makeA())

	require.Len(t, ab.canonicals, 2)
	require.Len(t, ba.canonicals, 2)
	require.Equal(t, survey(ab), survey(ba))
}

func TestInsertIgnoresLockedCanonicalByDocument(t *testing.T) {
	store := newMemStore()
	engine := newTestEngine(store, nil)

	icRaw := store.addRaw(&models.RawPatientRecord{
		RawID:     1,
		HISNumber: "IC-200",
		Source:    models.SourceInfoclinica,
		LastName:  strPtr("Ivanova"),
		FirstName: strPtr("Anna"),
		DocType:   int16Ptr(1),
		DocNumber: int64Ptr(4510123456),
	})
	first, err := engine.Reconcile(context.Background(), insertEvent(icRaw))
	require.NoError(t, err)

	store.canonicals[first.ResultingCanonicalID].MatchingLocked = true

	// A fresh record carrying the locked patient's document must get its
	// own canonical instead of attaching to the frozen one.
	qRaw := store.addRaw(qmsRaw(2, "Q-100"))
	qRaw.DocType = int16Ptr(1)
	qRaw.DocNumber = int64Ptr(4510123456)

	result, err := engine.Reconcile(context.Background(), insertEvent(qRaw))
	require.NoError(t, err)
	require.Equal(t, models.DecisionCreate, result.Decision.Kind)
	require.Equal(t, models.MatchTypeNewWithDocument, result.Decision.MatchType)
	require.NotEqual(t, first.ResultingCanonicalID, result.ResultingCanonicalID)
	require.Len(t, store.canonicals, 2)
	require.Equal(t, result.ResultingCanonicalID, *qRaw.CanonicalID)

	// The locked row itself did not move.
	locked := store.canonicals[first.ResultingCanonicalID]
	require.True(t, locked.MatchingLocked)
	require.True(t, locked.Slot(models.SourceQMS).Empty())
}

func TestBackoffDelayStaysWithinJitterBounds(t *testing.T) {
	base := 100 * time.Millisecond

	for attempt := 1; attempt <= 4; attempt++ {
		floor := base * time.Duration(1<<(attempt-1))

		for i := 0; i < 32; i++ {
			delay := backoffDelay(base, attempt)
			require.GreaterOrEqual(t, delay, floor)
			require.Less(t, delay, floor+base)
		}
	}
}
