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

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/medscan/patientsync/pkg/models"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "core.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadCoreAppliesDefaultsAndEnvOverlay(t *testing.T) {
	path := writeConfigFile(t, `{
		"database": {
			"host": "db.internal",
			"port": 5432,
			"database": "patients",
			"username": "patientsync"
		},
		"engine": {"lock_timeout": "5s"}
	}`)

	t.Setenv("PATIENTSYNC_DB_PASSWORD", "from-env")

	cfg, err := NewConfig(nil).LoadCore(context.Background(), path)
	require.NoError(t, err)

	require.Equal(t, "db.internal", cfg.Database.Host)
	require.Equal(t, "from-env", cfg.Database.Password)
	require.Equal(t, 5*time.Second, time.Duration(cfg.Engine.LockTimeout))

	// Untouched sections come back filled in.
	require.NotZero(t, cfg.Engine.MaxRetries)
	require.NotZero(t, cfg.Worker.Workers)
	require.NotEmpty(t, cfg.Admin.ListenAddr)
}

func TestLoadCoreRejectsUnknownKeys(t *testing.T) {
	path := writeConfigFile(t, `{
		"database": {
			"host": "db.internal",
			"database": "patients",
			"username": "patientsync",
			"pasword": "typo"
		}
	}`)

	_, err := NewConfig(nil).LoadCore(context.Background(), path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown field")
}

func TestLoadCoreRequiresDatabaseFields(t *testing.T) {
	path := writeConfigFile(t, `{"database": {"host": "db.internal"}}`)

	_, err := NewConfig(nil).LoadCore(context.Background(), path)
	require.Error(t, err)
}

func TestLoadCoreValidatesReferrerPairs(t *testing.T) {
	path := writeConfigFile(t, `{
		"database": {
			"host": "db.internal",
			"database": "patients",
			"username": "patientsync"
		},
		"referrers": [{"table": "appointments"}]
	}`)

	_, err := NewConfig(nil).LoadCore(context.Background(), path)
	require.Error(t, err)
}

func TestFileConfigLoaderMissingFile(t *testing.T) {
	var cfg models.CoreConfig

	err := (&FileConfigLoader{}).Load(context.Background(),
		filepath.Join(t.TempDir(), "absent.json"), &cfg)
	require.Error(t, err)
}
