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
	"time"
)

// AcquireLocks takes transaction-scoped advisory locks for the given
// identity keys, in order. Callers sort the key set so concurrent
// transactions acquire in the same order. A lock held past the
// configured timeout surfaces as SQLSTATE 55P03.
func (t *storeTx) AcquireLocks(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	if t.store.lockTimeout > 0 {
		timeoutMs := t.store.lockTimeout / time.Millisecond
		if _, err := t.tx.Exec(ctx, fmt.Sprintf(`SET LOCAL lock_timeout = '%dms'`, timeoutMs)); err != nil {
			return fmt.Errorf("db: set lock timeout: %w", err)
		}
	}

	for _, key := range keys {
		if _, err := t.tx.Exec(ctx,
			`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
			return fmt.Errorf("db: acquire identity lock %q: %w", key, err)
		}
	}

	return nil
}
