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

import "net/http"

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.core.Store.Health(r.Context()))
}

type statsResponse struct {
	Missions    int64 `json:"missions"`
	Sorties     int64 `json:"sorties"`
	Specialists int64 `json:"specialists"`
	ActiveLocks int64 `json:"active_locks"`
	Events      int64 `json:"events"`
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var out statsResponse
	if err := h.core.Store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM missions`).Scan(&out.Missions); err != nil {
		writeError(w, err)
		return
	}
	if err := h.core.Store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM sorties`).Scan(&out.Sorties); err != nil {
		writeError(w, err)
		return
	}
	if err := h.core.Store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM specialists`).Scan(&out.Specialists); err != nil {
		writeError(w, err)
		return
	}
	if err := h.core.Store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM locks WHERE status = 'active'`).Scan(&out.ActiveLocks); err != nil {
		writeError(w, err)
		return
	}
	if err := h.core.Store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&out.Events); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
