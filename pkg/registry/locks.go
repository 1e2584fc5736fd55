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
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/medscan/patientsync/pkg/models"
)

// Identity lock keys name the identities a transaction may touch. Every
// transaction sorts its key set before acquisition so two transactions
// over the same identities always lock in the same order.

func sourceLockKey(src models.Source, hisNumber string) string {
	return fmt.Sprintf("src:%s/his:%s", src, hisNumber)
}

func documentLockKey(docType int16, docNumber int64) string {
	return fmt.Sprintf("doc:%d/%d", docType, docNumber)
}

// CanonicalLockKey names the identity lock for one canonical patient.
// It is exported for callers that mutate a canonical outside the
// reconcile path, like the operator lock toggle.
func CanonicalLockKey(id uuid.UUID) string {
	return fmt.Sprintf("can:%s", id)
}

// EventLockKeys computes the sorted identity-lock set known before
// matching: the source identity, the document pair if present, and the
// already-assigned canonical for update events.
func EventLockKeys(ev *models.ReconcileEvent) []string {
	raw := ev.Raw

	keys := []string{sourceLockKey(raw.Source, raw.HISNumber)}

	if raw.HasDocument() {
		keys = append(keys, documentLockKey(*raw.DocType, *raw.DocNumber))
	}

	if raw.CanonicalID != nil {
		keys = append(keys, CanonicalLockKey(*raw.CanonicalID))
	}

	sort.Strings(keys)

	return keys
}

// MergeLockKeys computes the sorted canonical locks for a merge pair.
func MergeLockKeys(a, b uuid.UUID) []string {
	keys := []string{CanonicalLockKey(a), CanonicalLockKey(b)}
	sort.Strings(keys)

	return keys
}
