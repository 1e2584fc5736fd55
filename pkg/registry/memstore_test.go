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
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medscan/patientsync/pkg/models"
)

// errUniqueViolation mimics the statement-time error the partial unique
// indexes raise on a duplicate HIS number or document pair.
var errUniqueViolation = errors.New("duplicate key value violates unique constraint (SQLSTATE 23505)")

// memStore is an in-memory Store/Tx used by the engine tests. Writes
// enforce the canonical uniqueness rules at statement time, like the
// real schema does; rollback is not simulated.
type memStore struct {
	mu sync.Mutex

	canonicals map[uuid.UUID]*models.CanonicalPatient
	preregs    []*models.MobilePrereg
	raws       map[int64]*models.RawPatientRecord
	matchLog   []*models.MatchLogEntry

	lockSets [][]string
	rewrites []rewrite

	// competeOnInsert, when set, lands a rival canonical right before
	// the next insert, as if a concurrent transaction committed first.
	competeOnInsert *models.CanonicalPatient

	// failFirst makes the first N transactions fail with failErr.
	failFirst int
	failErr   error
}

type rewrite struct {
	loser, winner uuid.UUID
}

func newMemStore() *memStore {
	return &memStore{
		canonicals: make(map[uuid.UUID]*models.CanonicalPatient),
		raws:       make(map[int64]*models.RawPatientRecord),
	}
}

func (s *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	if s.failFirst > 0 {
		s.failFirst--
		s.mu.Unlock()

		return s.failErr
	}
	s.mu.Unlock()

	return fn(ctx, &memTx{store: s})
}

// checkUnique mirrors the partial unique indexes: only canonicals that
// are not locked against matching participate. Caller holds mu.
func (s *memStore) checkUnique(p *models.CanonicalPatient) error {
	if p.MatchingLocked {
		return nil
	}

	for id, other := range s.canonicals {
		if id == p.CanonicalID || other.MatchingLocked {
			continue
		}

		for _, src := range models.KnownSources {
			n, o := p.Slot(src).HISNumber, other.Slot(src).HISNumber
			if n != nil && o != nil && *n == *o {
				return errUniqueViolation
			}
		}

		if p.HasDocument() && other.HasDocument() &&
			*p.DocType == *other.DocType && *p.DocNumber == *other.DocNumber {
			return errUniqueViolation
		}
	}

	return nil
}

type memTx struct {
	store *memStore
}

func (t *memTx) AcquireLocks(_ context.Context, keys []string) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	t.store.lockSets = append(t.store.lockSets, keys)

	return nil
}

func (t *memTx) GetCanonical(_ context.Context, id uuid.UUID) (*models.CanonicalPatient, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	return t.store.canonicals[id], nil
}

func (t *memTx) FindCanonicalByHISNumber(_ context.Context, src models.Source, hisNumber string) (*models.CanonicalPatient, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	for _, p := range t.store.canonicals {
		if p.MatchingLocked {
			continue
		}

		if n := p.Slot(src).HISNumber; n != nil && *n == hisNumber {
			return p, nil
		}
	}

	return nil, nil
}

func (t *memTx) FindCanonicalByDocument(_ context.Context, docType int16, docNumber int64) (*models.CanonicalPatient, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	for _, p := range t.store.canonicals {
		if p.MatchingLocked {
			continue
		}

		if p.HasDocument() && *p.DocType == docType && *p.DocNumber == docNumber {
			return p, nil
		}
	}

	return nil, nil
}

func (t *memTx) InsertCanonical(_ context.Context, p *models.CanonicalPatient) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if rival := t.store.competeOnInsert; rival != nil {
		t.store.competeOnInsert = nil
		t.store.canonicals[rival.CanonicalID] = rival
	}

	if err := t.store.checkUnique(p); err != nil {
		return err
	}

	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	t.store.canonicals[p.CanonicalID] = p

	return nil
}

func (t *memTx) UpdateCanonical(_ context.Context, p *models.CanonicalPatient) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if err := t.store.checkUnique(p); err != nil {
		return err
	}

	p.UpdatedAt = time.Now()
	t.store.canonicals[p.CanonicalID] = p

	return nil
}

func (t *memTx) DeleteCanonical(_ context.Context, id uuid.UUID) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	delete(t.store.canonicals, id)

	return nil
}

func (t *memTx) FindPrereg(_ context.Context, src models.Source, hisNumber string) (*models.MobilePrereg, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	for _, m := range t.store.preregs {
		if n := m.HISNumberFor(src); n != nil && *n == hisNumber {
			return m, nil
		}
	}

	return nil, nil
}

func (t *memTx) StampRaw(_ context.Context, rawID int64, canonicalID uuid.UUID) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if r, ok := t.store.raws[rawID]; ok {
		now := time.Now()
		r.CanonicalID = &canonicalID
		r.ProcessedAt = &now
	}

	return nil
}

func (t *memTx) AppendMatchLog(_ context.Context, entry *models.MatchLogEntry) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	entry.LoggedAt = time.Now()
	t.store.matchLog = append(t.store.matchLog, entry)

	return nil
}

func (t *memTx) RewriteReferences(_ context.Context, loser, winner uuid.UUID) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	t.store.rewrites = append(t.store.rewrites, rewrite{loser: loser, winner: winner})

	for _, r := range t.store.raws {
		if r.CanonicalID != nil && *r.CanonicalID == loser {
			w := winner
			r.CanonicalID = &w
		}
	}

	return nil
}

// helpers

func strPtr(s string) *string { return &s }

func int16Ptr(v int16) *int16 { return &v }

func int64Ptr(v int64) *int64 { return &v }

func datePtr(year int, month time.Month, day int) *time.Time {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return &t
}

func (s *memStore) addRaw(r *models.RawPatientRecord) *models.RawPatientRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.raws[r.RawID] = r

	return r
}

func (s *memStore) lastLog() *models.MatchLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.matchLog) == 0 {
		return nil
	}

	return s.matchLog[len(s.matchLog)-1]
}
