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
)

type createCheckpointRequest struct {
	CreatedBy       string `json:"created_by"`
	ProgressPercent int    `json:"progress_percent"`
	TTLHours        int    `json:"ttl_hours"`
}

func (h *handlers) createCheckpoint(w http.ResponseWriter, r *http.Request) {
	var req createCheckpointRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	createdBy := req.CreatedBy
	if createdBy == "" {
		createdBy = "api"
	}
	cp, err := h.core.Checkpoints.OnManualRequest(r.Context(), urlParam(r, "id"), createdBy, req.ProgressPercent, req.TTLHours)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cp)
}

func (h *handlers) listCheckpoints(w http.ResponseWriter, r *http.Request) {
	list, err := h.core.Checkpoints.ListByMission(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handlers) getCheckpoint(w http.ResponseWriter, r *http.Request) {
	cp, err := h.core.Checkpoints.GetById(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if cp == nil {
		writeError(w, corerr.NewNotFound("CHECKPOINT_NOT_FOUND", "checkpoint not found"))
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

type restoreCheckpointRequest struct {
	DryRun bool `json:"dry_run"`
}

func (h *handlers) restoreCheckpoint(w http.ResponseWriter, r *http.Request) {
	var req restoreCheckpointRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	result, err := h.core.Recovery.Restore(r.Context(), urlParam(r, "id"), req.DryRun)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handlers) pruneCheckpoints(w http.ResponseWriter, r *http.Request) {
	olderThanDays := queryInt(r, "older_than_days", 30)
	keepPerMission := queryInt(r, "keep_per_mission", 1)
	prunable, err := h.core.Checkpoints.GetPrunable(r.Context(), olderThanDays, keepPerMission, false)
	if err != nil {
		writeError(w, err)
		return
	}
	pruned := make([]string, 0, len(prunable))
	for _, cp := range prunable {
		if err := h.core.Checkpoints.Prune(r.Context(), cp.ID); err != nil {
			writeError(w, err)
			return
		}
		pruned = append(pruned, cp.ID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"pruned": pruned})
}
