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

import "strings"

// splitSQLStatements splits an embedded migration file into executable
// statements. The registry migrations are plain DDL: statements end at
// a semicolon, "--" opens a line comment, and single-quoted literals
// may contain either ('' escapes a quote inside a literal).
func splitSQLStatements(content string) []string {
	var (
		statements []string
		current    strings.Builder
		inLiteral  bool
		inComment  bool
	)

	flush := func() {
		if stmt := strings.TrimSpace(current.String()); stmt != "" {
			statements = append(statements, stmt)
		}

		current.Reset()
	}

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if inComment {
			if ch == '\n' {
				inComment = false
				current.WriteByte(ch)
			}

			continue
		}

		if inLiteral {
			current.WriteByte(ch)

			if ch == '\'' {
				if i+1 < len(content) && content[i+1] == '\'' {
					current.WriteByte('\'')
					i++

					continue
				}

				inLiteral = false
			}

			continue
		}

		switch ch {
		case '-':
			if i+1 < len(content) && content[i+1] == '-' {
				inComment = true
				i++

				continue
			}

			current.WriteByte(ch)
		case '\'':
			inLiteral = true

			current.WriteByte(ch)
		case ';':
			flush()
		default:
			current.WriteByte(ch)
		}
	}

	flush()

	return statements
}

// extractVersion turns a migration filename like "0001_init.up.sql"
// into its version prefix "0001".
func extractVersion(filename string) string {
	base := strings.TrimSuffix(filename, ".up.sql")
	if idx := strings.IndexByte(base, '_'); idx > 0 {
		return base[:idx]
	}

	return base
}
