// Copyright 2025 FleetTools Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"encoding/json"
	"net/http"

	"github.com/fleettools/coordination-core/internal/corerr"
	"github.com/fleettools/coordination-core/internal/projections"
	"github.com/fleettools/coordination-core/internal/validate"
)

type createSortieRequest struct {
	MissionID   string          `json:"mission_id"`
	Title       string          `json:"title" validate:"required"`
	Description string          `json:"description"`
	Priority    string          `json:"priority"`
	Files       []string        `json:"files"`
	Metadata    json.RawMessage `json:"metadata"`
}

func (h *handlers) createSortie(w http.ResponseWriter, r *http.Request) {
	var req createSortieRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, corerr.NewValidation("REQUEST_BODY_INVALID", "request body is not valid JSON"))
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, err)
		return
	}
	id, err := h.core.Sorties.Create(r.Context(), req.MissionID, req.Title, req.Description,
		projections.Priority(req.Priority), req.Files, req.Metadata, causationID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *handlers) getSortie(w http.ResponseWriter, r *http.Request) {
	s, err := h.core.Sorties.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if s == nil {
		writeError(w, corerr.NewNotFound("SORTIE_NOT_FOUND", "sortie not found"))
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *handlers) listSorties(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := projections.SortieQuery{
		MissionID: q.Get("mission_id"),
		Status:    projections.SortieStatus(q.Get("status")),
		Priority:  projections.Priority(q.Get("priority")),
		Limit:     queryInt(r, "limit", 50),
		Offset:    queryInt(r, "offset", 0),
	}
	list, err := h.core.Sorties.List(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type assignSortieRequest struct {
	SpecialistID string `json:"specialist_id" validate:"required"`
}

func (h *handlers) assignSortie(w http.ResponseWriter, r *http.Request) {
	var req assignSortieRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, corerr.NewValidation("REQUEST_BODY_INVALID", "request body is not valid JSON"))
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.core.Sorties.Assign(r.Context(), urlParam(r, "id"), req.SpecialistID, causationID(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

type startSortieRequest struct {
	SpecialistID string `json:"specialist_id" validate:"required"`
}

func (h *handlers) startSortie(w http.ResponseWriter, r *http.Request) {
	var req startSortieRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, corerr.NewValidation("REQUEST_BODY_INVALID", "request body is not valid JSON"))
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.core.Sorties.Start(r.Context(), urlParam(r, "id"), req.SpecialistID, causationID(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

type progressSortieRequest struct {
	Progress int    `json:"progress"`
	Notes    string `json:"notes"`
}

func (h *handlers) progressSortie(w http.ResponseWriter, r *http.Request) {
	var req progressSortieRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, corerr.NewValidation("REQUEST_BODY_INVALID", "request body is not valid JSON"))
		return
	}
	if err := h.core.Sorties.Progress(r.Context(), urlParam(r, "id"), req.Progress, req.Notes, causationID(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

type blockSortieRequest struct {
	BlockedBy     string `json:"blocked_by"`
	BlockedReason string `json:"blocked_reason" validate:"required"`
}

func (h *handlers) blockSortie(w http.ResponseWriter, r *http.Request) {
	var req blockSortieRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, corerr.NewValidation("REQUEST_BODY_INVALID", "request body is not valid JSON"))
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.core.Sorties.Block(r.Context(), urlParam(r, "id"), req.BlockedBy, req.BlockedReason, causationID(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *handlers) unblockSortie(w http.ResponseWriter, r *http.Request) {
	if err := h.core.Sorties.Unblock(r.Context(), urlParam(r, "id"), causationID(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

type sortieResultRequest struct {
	Result json.RawMessage `json:"result"`
}

func (h *handlers) completeSortie(w http.ResponseWriter, r *http.Request) {
	var req sortieResultRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if err := h.core.Sorties.Complete(r.Context(), urlParam(r, "id"), req.Result, causationID(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *handlers) failSortie(w http.ResponseWriter, r *http.Request) {
	var req sortieResultRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if err := h.core.Sorties.Fail(r.Context(), urlParam(r, "id"), req.Result, causationID(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *handlers) cancelSortie(w http.ResponseWriter, r *http.Request) {
	var req sortieResultRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if err := h.core.Sorties.Cancel(r.Context(), urlParam(r, "id"), req.Result, causationID(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}
