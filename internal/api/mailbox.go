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
	"github.com/fleettools/coordination-core/internal/mailbox"
	"github.com/fleettools/coordination-core/internal/validate"
)

type sendMessageRequest struct {
	MailboxID   string `json:"mailbox_id" validate:"required"`
	OwnerID     string `json:"owner_id"`
	SenderID    string `json:"sender_id"`
	ThreadID    string `json:"thread_id"`
	MessageType string `json:"message_type" validate:"required"`
	Content     string `json:"content" validate:"required"`
	Priority    string `json:"priority"`
}

func (h *handlers) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, corerr.NewValidation("REQUEST_BODY_INVALID", "request body is not valid JSON"))
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, err)
		return
	}
	priority := mailbox.Priority(req.Priority)
	msg, err := h.core.Mailbox.Send(r.Context(), req.MailboxID, req.OwnerID, req.SenderID, req.ThreadID,
		req.MessageType, req.Content, priority, causationID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *handlers) readMessage(w http.ResponseWriter, r *http.Request) {
	if err := h.core.Mailbox.MarkRead(r.Context(), urlParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *handlers) ackMessage(w http.ResponseWriter, r *http.Request) {
	if err := h.core.Mailbox.Acknowledge(r.Context(), urlParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *handlers) listMailboxMessages(w http.ResponseWriter, r *http.Request) {
	mailboxID := urlParam(r, "id")
	status := r.URL.Query().Get("status")
	var (
		list []mailbox.Message
		err  error
	)
	if status == "" {
		list, err = h.core.Mailbox.GetPending(r.Context(), mailboxID)
	} else {
		list, err = h.core.Mailbox.GetByMailbox(r.Context(), mailboxID, mailbox.Status(status))
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
