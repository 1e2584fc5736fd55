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

// Package admin serves the operator HTTP surface: lock management,
// manual merges, duplicate surveys, replays, and registry stats.
package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/medscan/patientsync/pkg/logger"
	"github.com/medscan/patientsync/pkg/models"
	"github.com/medscan/patientsync/pkg/registry"
)

// Engine is the reconciliation surface the admin API drives.
type Engine interface {
	Reconcile(ctx context.Context, ev *models.ReconcileEvent) (*models.Result, error)
	MergeManual(ctx context.Context, winnerID, loserID uuid.UUID) (*models.Result, error)
	Stats() *registry.Stats
}

// Store is the read/admin surface of the canonical store.
type Store interface {
	GetCanonicalByID(ctx context.Context, id uuid.UUID) (*models.CanonicalPatient, error)
	SetMatchingLocked(ctx context.Context, id uuid.UUID, locked bool, reason string) error
	Stats(ctx context.Context) (*models.RegistryStats, error)
	FindDuplicates(ctx context.Context, limit int) ([]*models.DuplicateGroup, error)
	GetRaw(ctx context.Context, rawID int64) (*models.RawPatientRecord, error)
	ListMatchLog(ctx context.Context, src models.Source, hisNumber string, limit int) ([]*models.MatchLogEntry, error)
	CreatePrereg(ctx context.Context, src models.Source, hisNumber string) (*models.MobilePrereg, error)
}

const (
	statsCacheKey = "registry"
	statsCacheTTL = 30 * time.Second

	defaultListLimit = 50
	maxListLimit     = 500
)

// Server hosts the admin API.
type Server struct {
	echo   *echo.Echo
	engine Engine
	store  Store
	logger logger.Logger
	addr   string

	// statsCache absorbs dashboard polling; counts are fine 30s stale.
	statsCache *expirable.LRU[string, *models.RegistryStats]
}

// NewServer wires the routes and returns an unstarted server.
func NewServer(cfg *models.AdminConfig, engine Engine, store Store, log logger.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())

	s := &Server{
		echo:       e,
		engine:     engine,
		store:      store,
		logger:     log,
		addr:       cfg.ListenAddr,
		statsCache: expirable.NewLRU[string, *models.RegistryStats](1, nil, statsCacheTTL),
	}

	s.routes()

	return s
}

func (s *Server) routes() {
	s.echo.GET("/healthz", s.health)

	admin := s.echo.Group("/admin")
	admin.GET("/stats", s.stats)
	admin.GET("/duplicates", s.duplicates)
	admin.GET("/patients/:id", s.getPatient)
	admin.POST("/patients/:id/lock", s.lockPatient)
	admin.POST("/patients/:id/unlock", s.unlockPatient)
	admin.POST("/merge", s.mergePatients)
	admin.POST("/reconcile/:raw_id", s.replayRaw)
	admin.GET("/matchlog", s.matchLog)
	admin.POST("/prereg", s.createPrereg)
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.addr).Msg("admin server listening")

	err := s.echo.Start(s.addr)
	if err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
