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

package db

import (
	"context"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/medscan/patientsync/pkg/models"
)

// defaultReferrers lists the tables the schema itself keeps pointed at
// canonical ids; config may extend this set for downstream tables.
func defaultReferrers() []models.Referrer {
	return []models.Referrer{
		{Table: "raw_patient", Column: "canonical_id"},
		{Table: "protocols", Column: "canonical_id"},
		{Table: "mobile_prereg", Column: "canonical_id"},
	}
}

var safeIdentifier = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func buildReferrers(extra []models.Referrer) ([]models.Referrer, error) {
	referrers := defaultReferrers()

	seen := make(map[models.Referrer]struct{}, len(referrers)+len(extra))
	for _, r := range referrers {
		seen[r] = struct{}{}
	}

	for _, r := range extra {
		if !safeIdentifier.MatchString(r.Table) || !safeIdentifier.MatchString(r.Column) {
			return nil, fmt.Errorf("%w: %s.%s", ErrReferrerUnsafeIdentifier, r.Table, r.Column)
		}

		if _, ok := seen[r]; ok {
			continue
		}

		seen[r] = struct{}{}
		referrers = append(referrers, r)
	}

	return referrers, nil
}

// RewriteReferences redirects every referrer row from loser to winner.
// Runs inside the merge transaction so a mid-rewrite failure rolls the
// whole merge back.
func (t *storeTx) RewriteReferences(ctx context.Context, loser, winner uuid.UUID) error {
	for _, r := range t.store.referrers {
		stmt := fmt.Sprintf(`UPDATE %s SET %s = $1 WHERE %s = $2`,
			pgx.Identifier{r.Table}.Sanitize(),
			pgx.Identifier{r.Column}.Sanitize(),
			pgx.Identifier{r.Column}.Sanitize())

		tag, err := t.tx.Exec(ctx, stmt, winner, loser)
		if err != nil {
			return fmt.Errorf("db: rewrite %s.%s: %w", r.Table, r.Column, err)
		}

		if t.store.logger != nil && tag.RowsAffected() > 0 {
			t.store.logger.Debug().
				Str("table", r.Table).
				Int64("rows", tag.RowsAffected()).
				Str("loser", loser.String()).
				Str("winner", winner.String()).
				Msg("rewrote canonical references")
		}
	}

	return nil
}
