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
	"sync/atomic"

	"github.com/medscan/patientsync/pkg/models"
)

// Stats holds the engine's in-process health counters.
type Stats struct {
	Processed      atomic.Int64
	Created        atomic.Int64
	Merges         atomic.Int64
	LockedSkips    atomic.Int64
	Conflicts      atomic.Int64
	RetrySuccesses atomic.Int64
	LockTimeouts   atomic.Int64
}

func (s *Stats) observe(result *models.Result) {
	s.Processed.Add(1)

	switch result.Decision.Kind {
	case models.DecisionCreate:
		s.Created.Add(1)
	case models.DecisionMerge:
		s.Merges.Add(1)
	case models.DecisionLockedSkip:
		s.LockedSkips.Add(1)
	case models.DecisionUseExisting:
		if result.Decision.Prereg != nil && result.Decision.MatchType == models.MatchTypeMobileAppNew {
			s.Created.Add(1)
		}
	}
}

// StatsSnapshot is the JSON-friendly view of Stats.
type StatsSnapshot struct {
	Processed      int64 `json:"processed"`
	Created        int64 `json:"created"`
	Merges         int64 `json:"merges"`
	LockedSkips    int64 `json:"locked_skips"`
	Conflicts      int64 `json:"conflicts"`
	RetrySuccesses int64 `json:"retry_successes"`
	LockTimeouts   int64 `json:"lock_timeouts"`
}

// Snapshot reads every counter once.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Processed:      s.Processed.Load(),
		Created:        s.Created.Load(),
		Merges:         s.Merges.Load(),
		LockedSkips:    s.LockedSkips.Load(),
		Conflicts:      s.Conflicts.Load(),
		RetrySuccesses: s.RetrySuccesses.Load(),
		LockTimeouts:   s.LockTimeouts.Load(),
	}
}
