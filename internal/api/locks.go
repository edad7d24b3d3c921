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
	"github.com/fleettools/coordination-core/internal/locks"
	"github.com/fleettools/coordination-core/internal/validate"
)

type acquireLockRequest struct {
	File         string `json:"file" validate:"required"`
	SpecialistID string `json:"specialist_id" validate:"required"`
	TimeoutMS    int    `json:"timeout_ms"`
	Purpose      string `json:"purpose"`
	Checksum     string `json:"checksum"`
}

func (h *handlers) acquireLock(w http.ResponseWriter, r *http.Request) {
	var req acquireLockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, corerr.NewValidation("REQUEST_BODY_INVALID", "request body is not valid JSON"))
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, err)
		return
	}
	purpose := locks.Purpose(req.Purpose)
	if purpose == "" {
		purpose = locks.PurposeEdit
	}
	lock, err := h.core.Locks.Acquire(r.Context(), req.File, req.SpecialistID, req.TimeoutMS, purpose, req.Checksum)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, lock)
}

func (h *handlers) listLocks(w http.ResponseWriter, r *http.Request) {
	file := r.URL.Query().Get("file")
	specialistID := r.URL.Query().Get("specialist_id")
	switch {
	case file != "":
		list, err := h.core.Locks.GetByFile(r.Context(), file)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	case specialistID != "":
		list, err := h.core.Locks.GetBySpecialist(r.Context(), specialistID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	default:
		list, err := h.core.Locks.ListActive(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

type releaseLockRequest struct {
	SpecialistID string `json:"specialist_id" validate:"required"`
}

func (h *handlers) releaseLock(w http.ResponseWriter, r *http.Request) {
	var req releaseLockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, corerr.NewValidation("REQUEST_BODY_INVALID", "request body is not valid JSON"))
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.core.Locks.Release(r.Context(), urlParam(r, "id"), req.SpecialistID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

type forceReleaseLockRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *handlers) forceReleaseLock(w http.ResponseWriter, r *http.Request) {
	var req forceReleaseLockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, corerr.NewValidation("REQUEST_BODY_INVALID", "request body is not valid JSON"))
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.core.Locks.ForceRelease(r.Context(), urlParam(r, "id"), req.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

type extendLockRequest struct {
	SpecialistID string `json:"specialist_id" validate:"required"`
	AdditionalMS int    `json:"additional_ms" validate:"required"`
}

func (h *handlers) extendLock(w http.ResponseWriter, r *http.Request) {
	var req extendLockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, corerr.NewValidation("REQUEST_BODY_INVALID", "request body is not valid JSON"))
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, err)
		return
	}
	lock, err := h.core.Locks.Extend(r.Context(), urlParam(r, "id"), req.SpecialistID, req.AdditionalMS)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lock)
}
