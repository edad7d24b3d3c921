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

type registerSpecialistRequest struct {
	ID           string   `json:"id"`
	Name         string   `json:"name" validate:"required"`
	Capabilities []string `json:"capabilities"`
}

func (h *handlers) registerSpecialist(w http.ResponseWriter, r *http.Request) {
	var req registerSpecialistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, corerr.NewValidation("REQUEST_BODY_INVALID", "request body is not valid JSON"))
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, err)
		return
	}
	id, err := h.core.Specialists.Register(r.Context(), req.ID, req.Name, req.Capabilities, causationID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *handlers) getSpecialist(w http.ResponseWriter, r *http.Request) {
	spc, err := h.core.Specialists.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if spc == nil {
		writeError(w, corerr.NewNotFound("SPECIALIST_NOT_FOUND", "specialist not found"))
		return
	}
	writeJSON(w, http.StatusOK, spc)
}

func (h *handlers) listSpecialists(w http.ResponseWriter, r *http.Request) {
	list, err := h.core.Specialists.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type heartbeatRequest struct {
	Status        string `json:"status"`
	CurrentSortie string `json:"current_sortie"`
}

func (h *handlers) heartbeatSpecialist(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, corerr.NewValidation("REQUEST_BODY_INVALID", "request body is not valid JSON"))
		return
	}
	err := h.core.Specialists.Heartbeat(r.Context(), urlParam(r, "id"),
		projections.SpecialistStatus(req.Status), req.CurrentSortie, causationID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}
