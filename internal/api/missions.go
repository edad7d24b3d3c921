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

type createMissionRequest struct {
	Title       string          `json:"title" validate:"required"`
	Description string          `json:"description"`
	Priority    string          `json:"priority"`
	Metadata    json.RawMessage `json:"metadata"`
}

func (h *handlers) createMission(w http.ResponseWriter, r *http.Request) {
	var req createMissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, corerr.NewValidation("REQUEST_BODY_INVALID", "request body is not valid JSON"))
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, err)
		return
	}
	id, err := h.core.Missions.Create(r.Context(), req.Title, req.Description, projections.Priority(req.Priority), req.Metadata, causationID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *handlers) getMission(w http.ResponseWriter, r *http.Request) {
	mis, err := h.core.Missions.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if mis == nil {
		writeError(w, corerr.NewNotFound("MISSION_NOT_FOUND", "mission not found"))
		return
	}
	writeJSON(w, http.StatusOK, mis)
}

func (h *handlers) listMissions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := projections.MissionQuery{
		Status:   projections.MissionStatus(q.Get("status")),
		Priority: projections.Priority(q.Get("priority")),
		Limit:    queryInt(r, "limit", 50),
		Offset:   queryInt(r, "offset", 0),
	}
	list, err := h.core.Missions.List(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handlers) startMission(w http.ResponseWriter, r *http.Request) {
	if err := h.core.Missions.Start(r.Context(), urlParam(r, "id"), causationID(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

type completeMissionRequest struct {
	Result json.RawMessage `json:"result"`
}

func (h *handlers) completeMission(w http.ResponseWriter, r *http.Request) {
	var req completeMissionRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if err := h.core.Missions.Complete(r.Context(), urlParam(r, "id"), req.Result, causationID(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

type cancelMissionRequest struct {
	Reason json.RawMessage `json:"reason"`
}

func (h *handlers) cancelMission(w http.ResponseWriter, r *http.Request) {
	var req cancelMissionRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if err := h.core.Missions.Cancel(r.Context(), urlParam(r, "id"), req.Reason, causationID(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *handlers) reviewMission(w http.ResponseWriter, r *http.Request) {
	if err := h.core.Missions.MarkReview(r.Context(), urlParam(r, "id"), causationID(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}
