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

import "errors"

var (
	// ErrRetryableConflict marks a transaction that lost a race and can
	// be replayed from the top.
	ErrRetryableConflict = errors.New("retryable conflict")

	// ErrLockTimeout marks identity-lock acquisition that exceeded the
	// configured timeout.
	ErrLockTimeout = errors.New("identity lock timeout")

	// ErrInvalidRaw marks a raw record that violates staging invariants
	// and must be dead-lettered, not retried.
	ErrInvalidRaw = errors.New("invalid raw record")

	// ErrStorageFailure marks a non-transient store failure; the worker
	// stops draining rather than burn through the backlog.
	ErrStorageFailure = errors.New("storage failure")

	// ErrRetriesExhausted is returned when the retry cap is reached.
	ErrRetriesExhausted = errors.New("reconcile retries exhausted")

	errNilEvent = errors.New("reconcile event has no raw record")
)
