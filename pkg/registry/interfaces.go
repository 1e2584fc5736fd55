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

	"github.com/google/uuid"

	"github.com/medscan/patientsync/pkg/models"
)

// Tx is the transactional view the engine reconciles against. Lookups
// return (nil, nil) when nothing matches. FindCanonicalByHISNumber and
// FindCanonicalByDocument never return canonicals locked against
// matching; GetCanonical does, so the update and mobile paths can
// record a LOCKED_SKIP on records already attributed to them.
type Tx interface {
	// Identity locks. Keys are acquired in the given order and held
	// until the transaction ends.
	AcquireLocks(ctx context.Context, keys []string) error

	GetCanonical(ctx context.Context, id uuid.UUID) (*models.CanonicalPatient, error)
	FindCanonicalByHISNumber(ctx context.Context, src models.Source, hisNumber string) (*models.CanonicalPatient, error)
	FindCanonicalByDocument(ctx context.Context, docType int16, docNumber int64) (*models.CanonicalPatient, error)

	InsertCanonical(ctx context.Context, patient *models.CanonicalPatient) error
	UpdateCanonical(ctx context.Context, patient *models.CanonicalPatient) error
	DeleteCanonical(ctx context.Context, id uuid.UUID) error

	FindPrereg(ctx context.Context, src models.Source, hisNumber string) (*models.MobilePrereg, error)

	// StampRaw marks the raw record processed and records its canonical.
	StampRaw(ctx context.Context, rawID int64, canonicalID uuid.UUID) error

	AppendMatchLog(ctx context.Context, entry *models.MatchLogEntry) error

	// RewriteReferences points every configured referrer row from the
	// losing canonical to the winner.
	RewriteReferences(ctx context.Context, loser, winner uuid.UUID) error
}

// Store opens reconciliation transactions against the registry schema.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
