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

	"github.com/medscan/patientsync/pkg/models"
)

// Stats aggregates registry counters for the admin surface.
func (s *Store) Stats(ctx context.Context) (*models.RegistryStats, error) {
	stats := &models.RegistryStats{
		MatchCounts:      make(map[models.MatchType]int64),
		PatientsBySource: make(map[models.Source]int64),
	}

	row := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM canonical_patient),
			(SELECT count(*) FROM canonical_patient WHERE matching_locked),
			(SELECT count(*) FROM raw_patient WHERE processed_at IS NULL),
			(SELECT count(*) FROM dead_letter),
			(SELECT count(*) FROM canonical_patient WHERE hisnumber_qms IS NOT NULL),
			(SELECT count(*) FROM canonical_patient WHERE hisnumber_infoclinica IS NOT NULL),
			(SELECT count(*) FROM canonical_patient
				WHERE hisnumber_qms IS NOT NULL AND hisnumber_infoclinica IS NOT NULL),
			(SELECT count(*) FROM mobile_prereg),
			(SELECT count(*) FROM mobile_prereg p
				WHERE EXISTS (SELECT 1 FROM canonical_patient c WHERE c.canonical_id = p.canonical_id)),
			(SELECT count(*) FROM canonical_patient WHERE registered_via_mobile),
			(SELECT max(processed_at) FROM raw_patient)`)

	var qmsPatients, infoclinicaPatients int64

	err := row.Scan(
		&stats.CanonicalPatients,
		&stats.LockedPatients,
		&stats.UnprocessedRaw,
		&stats.DeadLetters,
		&qmsPatients,
		&infoclinicaPatients,
		&stats.MultiSourcePatients,
		&stats.MobilePreregs,
		&stats.AdoptedPreregs,
		&stats.MobilePatients,
		&stats.LastProcessedAt)
	if err != nil {
		return nil, fmt.Errorf("%w registry stats: %w", ErrFailedToQuery, err)
	}

	stats.PatientsBySource[models.SourceQMS] = qmsPatients
	stats.PatientsBySource[models.SourceInfoclinica] = infoclinicaPatients

	rows, err := s.pool.Query(ctx, `SELECT match_type, count(*) FROM match_log GROUP BY match_type`)
	if err != nil {
		return nil, fmt.Errorf("%w match counts: %w", ErrFailedToQuery, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			matchType models.MatchType
			count     int64
		)

		if err := rows.Scan(&matchType, &count); err != nil {
			return nil, fmt.Errorf("%w match count: %w", ErrFailedToScan, err)
		}

		stats.MatchCounts[matchType] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db: iterate match counts: %w", err)
	}

	return stats, nil
}

// FindDuplicates surveys canonical patients that share full name and
// birth date: the operator-facing merge-candidate report.
func (s *Store) FindDuplicates(ctx context.Context, limit int) ([]*models.DuplicateGroup, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT last_name, first_name, birth_date,
		       array_agg(canonical_id ORDER BY canonical_id)
		FROM canonical_patient
		WHERE last_name IS NOT NULL AND first_name IS NOT NULL AND birth_date IS NOT NULL
		GROUP BY last_name, first_name, birth_date
		HAVING count(*) > 1
		ORDER BY count(*) DESC
		LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("%w duplicate survey: %w", ErrFailedToQuery, err)
	}
	defer rows.Close()

	var groups []*models.DuplicateGroup

	for rows.Next() {
		var g models.DuplicateGroup

		if err := rows.Scan(&g.LastName, &g.FirstName, &g.BirthDate, &g.CanonicalIDs); err != nil {
			return nil, fmt.Errorf("%w duplicate group: %w", ErrFailedToScan, err)
		}

		groups = append(groups, &g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db: iterate duplicate groups: %w", err)
	}

	return groups, nil
}
