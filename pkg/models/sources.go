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

// Package models defines the shared data types of the patient
// consolidation service: canonical patients, per-HIS raw records,
// mobile pre-registrations, match-log entries, and configuration.
package models

// Source identifies one of the upstream Hospital Information Systems.
type Source string

const (
	SourceQMS         Source = "qms"
	SourceInfoclinica Source = "infoclinica"
)

// KnownSources lists every configured HIS in a stable order.
//
//nolint:gochecknoglobals // shared configuration constant
var KnownSources = []Source{SourceQMS, SourceInfoclinica}

// Valid reports whether s is one of the configured HIS systems.
func (s Source) Valid() bool {
	for _, known := range KnownSources {
		if s == known {
			return true
		}
	}

	return false
}

// BusinessUnit is the clinic group a raw record originated from.
// The values mirror the upstream export and take no part in matching.
type BusinessUnit int16

const (
	BusinessUnitHadassah BusinessUnit = 1
	BusinessUnitMedscan  BusinessUnit = 2
	BusinessUnitYauza    BusinessUnit = 3
)
