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
	"log/slog"
	"net/http"

	"github.com/fleettools/coordination-core/internal/corerr"
	"github.com/fleettools/coordination-core/internal/ids"
)

// errorEnvelope is the stable {error:{code,message,details?}} shape every
// non-2xx response carries (spec §4.8, §6.1).
type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError maps err to an HTTP status and the error envelope per the
// propagation policy in spec §7: VALIDATION/NOT_FOUND/CONFLICT/
// OWNERSHIP_ERROR/PRECONDITION_FAILED/STALE are 4xx and surfaced verbatim;
// TRANSIENT is 503; CORRUPTION and INTERNAL are 500 with a request id logged
// for correlation instead of exposed detail.
func writeError(w http.ResponseWriter, err error) {
	ce, ok := corerr.As(err)
	if !ok {
		requestID := ids.New(ids.Event)
		slog.Error("unmapped error reached the API boundary", "error", err, "request_id", requestID)
		writeJSON(w, http.StatusInternalServerError, errorEnvelope{Error: errorBody{
			Code:      "INTERNAL",
			Message:   "an internal error occurred",
			RequestID: requestID,
		}})
		return
	}

	status := http.StatusInternalServerError
	message := ce.Message
	switch ce.Kind {
	case corerr.Validation:
		status = http.StatusBadRequest
	case corerr.NotFound:
		status = http.StatusNotFound
	case corerr.Conflict:
		status = http.StatusConflict
	case corerr.OwnershipError:
		status = http.StatusForbidden
	case corerr.PreconditionFailed:
		status = http.StatusPreconditionFailed
	case corerr.Stale:
		status = http.StatusConflict
	case corerr.Transient:
		status = http.StatusServiceUnavailable
	case corerr.Corruption:
		status = http.StatusInternalServerError
		slog.Error("event log corruption surfaced at the API boundary", "code", ce.Code, "error", ce.Err)
		message = "the store is in read-only recovery mode"
	case corerr.Internal:
		status = http.StatusInternalServerError
	}

	requestID := ""
	if status == http.StatusInternalServerError {
		requestID = ids.New(ids.Event)
		slog.Error("internal error", "code", ce.Code, "request_id", requestID, "error", ce.Err)
	}

	writeJSON(w, status, errorEnvelope{Error: errorBody{
		Code:      ce.Code,
		Message:   message,
		Details:   ce.Details,
		RequestID: requestID,
	}})
}
