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
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

var (

	// Core database errors.

	ErrFailedToScan   = errors.New("failed to scan")
	ErrFailedToQuery  = errors.New("failed to query")
	ErrFailedToInsert = errors.New("failed to insert")

	// Canonical store errors.

	ErrCanonicalNotFound = errors.New("canonical patient not found")
	ErrRawNotFound       = errors.New("raw patient record not found")

	// Validation errors.

	ErrReferrerUnsafeIdentifier = errors.New("referrer table or column is not a safe identifier")
)

// PostgreSQL SQLSTATE codes for errors with dedicated handling.
const (
	sqlstateDeadlockDetected    = "40P01" // Deadlock detected
	sqlstateSerializationFailed = "40001" // Serialization failure
	sqlstateStatementTimeout    = "57014" // Statement timeout
	sqlstateLockNotAvailable    = "55P03" // Lock timeout on pg_advisory_xact_lock
	sqlstateUniqueViolation     = "23505" // Unique constraint violation
)

// ClassifyError inspects a store error and returns its SQLSTATE code plus
// flags the engine acts on: retryable means restart the transaction,
// lockTimeout means identity-lock acquisition timed out.
func ClassifyError(err error) (code string, retryable, lockTimeout bool) {
	if err == nil {
		return "", false, false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlstateDeadlockDetected, sqlstateSerializationFailed, sqlstateUniqueViolation:
			return pgErr.Code, true, false
		case sqlstateLockNotAvailable:
			return pgErr.Code, false, true
		case sqlstateStatementTimeout:
			return pgErr.Code, true, false
		}

		return pgErr.Code, false, false
	}

	// Fallback to string matching for wrapped errors
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "40p01"), strings.Contains(msg, "deadlock detected"):
		return sqlstateDeadlockDetected, true, false
	case strings.Contains(msg, "40001"), strings.Contains(msg, "could not serialize access"):
		return sqlstateSerializationFailed, true, false
	case strings.Contains(msg, "23505"), strings.Contains(msg, "duplicate key value"):
		return sqlstateUniqueViolation, true, false
	case strings.Contains(msg, "55p03"), strings.Contains(msg, "lock timeout"):
		return sqlstateLockNotAvailable, false, true
	case strings.Contains(msg, "57014"), strings.Contains(msg, "statement timeout"):
		return sqlstateStatementTimeout, true, false
	default:
		return "", false, false
	}
}
