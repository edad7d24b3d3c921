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
	"github.com/fleettools/coordination-core/internal/eventlog"
)

// queryEvents is the read-only event query surface (spec §6.1); writing
// through this endpoint is restricted to internal callers, so appendEvent
// is intentionally the only mutating sibling here.
func (h *handlers) queryEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := eventlog.Filter{
		StreamType:    eventlog.StreamType(q.Get("stream_type")),
		StreamID:      q.Get("stream_id"),
		EventType:     q.Get("event_type"),
		AfterSequence: int64(queryInt(r, "after_sequence", 0)),
		Limit:         queryInt(r, "limit", 100),
	}
	events, err := h.core.Log.Query(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

type appendEventRequest struct {
	EventType  string          `json:"event_type" validate:"required"`
	StreamType string          `json:"stream_type" validate:"required"`
	StreamID   string          `json:"stream_id" validate:"required"`
	Data       json.RawMessage `json:"data"`
}

// appendEvent is the restricted raw-append endpoint (spec §6.1): no
// command-boundary state machine guards a hand-authored event, so this is
// reserved for internal tooling (migrations, test fixtures), never a
// specialist-facing client.
func (h *handlers) appendEvent(w http.ResponseWriter, r *http.Request) {
	var req appendEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, corerr.NewValidation("REQUEST_BODY_INVALID", "request body is not valid JSON"))
		return
	}
	if req.EventType == "" || req.StreamType == "" || req.StreamID == "" {
		writeError(w, corerr.NewValidation("EVENT_FIELDS_REQUIRED", "event_type, stream_type and stream_id are required"))
		return
	}
	ev, err := h.core.Log.Append(r.Context(), eventlog.AppendInput{
		EventType:   req.EventType,
		StreamType:  eventlog.StreamType(req.StreamType),
		StreamID:    req.StreamID,
		CausationID: causationID(r),
		Data:        req.Data,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}
