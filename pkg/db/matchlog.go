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
	"encoding/json"
	"fmt"

	"github.com/medscan/patientsync/pkg/models"
)

func (t *storeTx) AppendMatchLog(ctx context.Context, entry *models.MatchLogEntry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("db: marshal match details: %w", err)
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO match_log (
			his_number, source, match_type, doc_number,
			created_new_canonical, mobile_prereg_canonical_id,
			resulting_canonical_id, details
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		entry.HISNumber, entry.Source, entry.MatchType, entry.DocNumber,
		entry.CreatedNewCanonical, entry.MobilePreregCanonicalID,
		entry.ResultingCanonicalID, json.RawMessage(details))
	if err != nil {
		return fmt.Errorf("%w match log entry: %w", ErrFailedToInsert, err)
	}

	return nil
}

// ListMatchLog returns the newest audit entries for one HIS record.
func (s *Store) ListMatchLog(ctx context.Context, src models.Source, hisNumber string, limit int) ([]*models.MatchLogEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT entry_id, his_number, source, logged_at, match_type, doc_number,
		       created_new_canonical, mobile_prereg_canonical_id,
		       resulting_canonical_id, details
		FROM match_log
		WHERE his_number = $1 AND source = $2
		ORDER BY logged_at DESC
		LIMIT $3`,
		hisNumber, src, limit)
	if err != nil {
		return nil, fmt.Errorf("%w match log: %w", ErrFailedToQuery, err)
	}
	defer rows.Close()

	var entries []*models.MatchLogEntry

	for rows.Next() {
		var (
			e       models.MatchLogEntry
			details []byte
		)

		err := rows.Scan(
			&e.EntryID, &e.HISNumber, &e.Source, &e.LoggedAt, &e.MatchType, &e.DocNumber,
			&e.CreatedNewCanonical, &e.MobilePreregCanonicalID,
			&e.ResultingCanonicalID, &details)
		if err != nil {
			return nil, fmt.Errorf("%w match log entry: %w", ErrFailedToScan, err)
		}

		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("db: unmarshal match details: %w", err)
			}
		}

		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db: iterate match log: %w", err)
	}

	return entries, nil
}
