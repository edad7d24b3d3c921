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

// Package eventlog implements the append-only Event Log (spec §3.1, §4.2):
// per-stream sequence numbers, causation/correlation chaining, and a single
// writer serialized through the Store.
package eventlog

import (
	"encoding/json"
	"time"
)

// StreamType partitions the event log (spec §3.1).
type StreamType string

const (
	StreamSpecialist StreamType = "specialist"
	StreamSquawk     StreamType = "squawk"
	StreamCTK        StreamType = "ctk"
	StreamSortie     StreamType = "sortie"
	StreamMission    StreamType = "mission"
	StreamCheckpoint StreamType = "checkpoint"
	StreamFleet      StreamType = "fleet"
	StreamSystem     StreamType = "system"
)

// Event is an immutable, appended record (spec §3.1). Once persisted it is
// never mutated or deleted.
type Event struct {
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	StreamType     StreamType      `json:"stream_type"`
	StreamID       string          `json:"stream_id"`
	SequenceNumber int64           `json:"sequence_number"`
	Data           json.RawMessage `json:"data"`
	CausationID    string          `json:"causation_id,omitempty"`
	CorrelationID  string          `json:"correlation_id"`
	OccurredAt     time.Time       `json:"occurred_at"`
	RecordedAt     time.Time       `json:"recorded_at"`
	GlobalSeq      int64           `json:"-"`
	SchemaVersion  int             `json:"schema_version"`
}

// AppendInput is a candidate event awaiting a sequence number and identity.
type AppendInput struct {
	EventType     string
	StreamType    StreamType
	StreamID      string
	Data          any
	CausationID   string
	CorrelationID string
	SchemaVersion int
}
