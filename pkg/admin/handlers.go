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

package admin

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medscan/patientsync/pkg/db"
	"github.com/medscan/patientsync/pkg/models"
	"github.com/medscan/patientsync/pkg/registry"
)

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type statsResponse struct {
	Registry *models.RegistryStats `json:"registry"`
	Engine   interface{}           `json:"engine"`
}

func (s *Server) stats(c echo.Context) error {
	cached, ok := s.statsCache.Get(statsCacheKey)
	if !ok {
		fresh, err := s.store.Stats(c.Request().Context())
		if err != nil {
			return s.internalError(c, err, "registry stats failed")
		}

		s.statsCache.Add(statsCacheKey, fresh)
		cached = fresh
	}

	return c.JSON(http.StatusOK, statsResponse{
		Registry: cached,
		Engine:   s.engine.Stats().Snapshot(),
	})
}

func (s *Server) duplicates(c echo.Context) error {
	limit := listLimit(c.QueryParam("limit"))

	groups, err := s.store.FindDuplicates(c.Request().Context(), limit)
	if err != nil {
		return s.internalError(c, err, "duplicate survey failed")
	}

	if groups == nil {
		groups = []*models.DuplicateGroup{}
	}

	return c.JSON(http.StatusOK, groups)
}

func (s *Server) getPatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid canonical id"})
	}

	patient, err := s.store.GetCanonicalByID(c.Request().Context(), id)
	if err != nil {
		if isNotFound(err) {
			return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
		}

		return s.internalError(c, err, "fetch canonical failed")
	}

	return c.JSON(http.StatusOK, patient)
}

type lockRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) lockPatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid canonical id"})
	}

	var req lockRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	if err := s.store.SetMatchingLocked(c.Request().Context(), id, true, req.Reason); err != nil {
		if isNotFound(err) {
			return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
		}

		return s.internalError(c, err, "lock canonical failed")
	}

	s.logger.Info().
		Str("canonical_id", id.String()).
		Str("reason", req.Reason).
		Msg("canonical matching locked")

	return c.NoContent(http.StatusNoContent)
}

func (s *Server) unlockPatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid canonical id"})
	}

	if err := s.store.SetMatchingLocked(c.Request().Context(), id, false, ""); err != nil {
		if isNotFound(err) {
			return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
		}

		return s.internalError(c, err, "unlock canonical failed")
	}

	s.logger.Info().Str("canonical_id", id.String()).Msg("canonical matching unlocked")

	return c.NoContent(http.StatusNoContent)
}

type mergeRequest struct {
	WinnerID uuid.UUID `json:"winner_id"`
	LoserID  uuid.UUID `json:"loser_id"`
}

func (s *Server) mergePatients(c echo.Context) error {
	var req mergeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	if req.WinnerID == uuid.Nil || req.LoserID == uuid.Nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "winner_id and loser_id are required"})
	}

	result, err := s.engine.MergeManual(c.Request().Context(), req.WinnerID, req.LoserID)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrInvalidRaw):
			return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		case errors.Is(err, registry.ErrLockTimeout):
			return c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
		case isNotFound(err):
			return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
		default:
			return s.internalError(c, err, "manual merge failed")
		}
	}

	s.statsCache.Purge()

	s.logger.Info().
		Str("winner_id", req.WinnerID.String()).
		Str("loser_id", req.LoserID.String()).
		Msg("manual merge complete")

	return c.JSON(http.StatusOK, result)
}

func (s *Server) replayRaw(c echo.Context) error {
	rawID, err := strconv.ParseInt(c.Param("raw_id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid raw id"})
	}

	raw, err := s.store.GetRaw(c.Request().Context(), rawID)
	if err != nil {
		if isNotFound(err) {
			return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
		}

		return s.internalError(c, err, "fetch raw record failed")
	}

	ev := &models.ReconcileEvent{Kind: models.EventInsert, Raw: raw}
	if raw.CanonicalID != nil {
		ev.Kind = models.EventUpdate
	}

	result, err := s.engine.Reconcile(c.Request().Context(), ev)
	if err != nil {
		if errors.Is(err, registry.ErrInvalidRaw) {
			return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
		}

		return s.internalError(c, err, "replay failed")
	}

	s.statsCache.Purge()

	return c.JSON(http.StatusOK, result)
}

func (s *Server) matchLog(c echo.Context) error {
	src := models.Source(strings.ToLower(c.QueryParam("source")))
	hisNumber := c.QueryParam("his_number")

	if !src.Valid() || hisNumber == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "source and his_number are required"})
	}

	entries, err := s.store.ListMatchLog(c.Request().Context(), src, hisNumber, listLimit(c.QueryParam("limit")))
	if err != nil {
		return s.internalError(c, err, "match log query failed")
	}

	if entries == nil {
		entries = []*models.MatchLogEntry{}
	}

	return c.JSON(http.StatusOK, entries)
}

type preregRequest struct {
	Source    models.Source `json:"source"`
	HISNumber string        `json:"his_number"`
}

func (s *Server) createPrereg(c echo.Context) error {
	var req preregRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	if !req.Source.Valid() || req.HISNumber == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "source and his_number are required"})
	}

	prereg, err := s.store.CreatePrereg(c.Request().Context(), req.Source, req.HISNumber)
	if err != nil {
		return s.internalError(c, err, "create prereg failed")
	}

	return c.JSON(http.StatusCreated, prereg)
}

func (s *Server) internalError(c echo.Context, err error, msg string) error {
	s.logger.Error().Err(err).Str("path", c.Path()).Msg(msg)

	return c.JSON(http.StatusInternalServerError, errorResponse{Error: msg})
}

func isNotFound(err error) bool {
	return errors.Is(err, db.ErrCanonicalNotFound) ||
		errors.Is(err, db.ErrRawNotFound) ||
		errors.Is(err, registry.ErrMergeTargetMissing)
}

func listLimit(param string) int {
	if param == "" {
		return defaultListLimit
	}

	limit, err := strconv.Atoi(param)
	if err != nil || limit <= 0 {
		return defaultListLimit
	}

	if limit > maxListLimit {
		return maxListLimit
	}

	return limit
}
