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

package store

// schemaVersion must match the value stored in the core_metadata row. A
// mismatch on startup is fatal (spec §4.1): the server refuses to start and
// reports which migration is missing.
const schemaVersion = 1

// schema is replayed as a single file (not split into individual
// statements) at startup inside one transaction, because later statements
// depend on tables/indexes created by earlier ones and the whole script
// must be idempotent (CREATE ... IF NOT EXISTS throughout) so that replaying
// it against an already-initialized database is a no-op.
const schema = `
CREATE TABLE IF NOT EXISTS core_metadata (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
    event_id        TEXT PRIMARY KEY,
    event_type      TEXT NOT NULL,
    stream_type     TEXT NOT NULL,
    stream_id       TEXT NOT NULL,
    sequence_number INTEGER NOT NULL,
    data            TEXT NOT NULL,
    causation_id    TEXT,
    correlation_id  TEXT NOT NULL,
    occurred_at     TEXT NOT NULL,
    recorded_at     TEXT NOT NULL,
    global_seq      INTEGER NOT NULL,
    schema_version  INTEGER NOT NULL,
    UNIQUE (stream_type, stream_id, sequence_number)
);

CREATE INDEX IF NOT EXISTS idx_events_stream ON events(stream_type, stream_id, sequence_number);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);
CREATE INDEX IF NOT EXISTS idx_events_causation ON events(causation_id);
CREATE INDEX IF NOT EXISTS idx_events_correlation ON events(correlation_id);
CREATE INDEX IF NOT EXISTS idx_events_global_seq ON events(global_seq);

CREATE TABLE IF NOT EXISTS event_seq_counter (
    name  TEXT PRIMARY KEY,
    value INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS missions (
    id               TEXT PRIMARY KEY,
    title            TEXT NOT NULL,
    description      TEXT,
    status           TEXT NOT NULL,
    priority         TEXT NOT NULL,
    created_at       TEXT NOT NULL,
    started_at       TEXT,
    completed_at     TEXT,
    total_sorties    INTEGER NOT NULL DEFAULT 0,
    completed_sorties INTEGER NOT NULL DEFAULT 0,
    result           TEXT,
    metadata         TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_missions_status ON missions(status);
CREATE INDEX IF NOT EXISTS idx_missions_priority ON missions(priority);

CREATE TABLE IF NOT EXISTS sorties (
    id             TEXT PRIMARY KEY,
    mission_id     TEXT,
    title          TEXT NOT NULL,
    description    TEXT,
    status         TEXT NOT NULL,
    priority       TEXT NOT NULL,
    assigned_to    TEXT,
    created_at     TEXT NOT NULL,
    started_at     TEXT,
    completed_at   TEXT,
    progress       INTEGER NOT NULL DEFAULT 0,
    progress_notes TEXT,
    blocked_by     TEXT,
    blocked_reason TEXT,
    files          TEXT NOT NULL DEFAULT '[]',
    result         TEXT,
    metadata       TEXT NOT NULL DEFAULT '{}',
    FOREIGN KEY (mission_id) REFERENCES missions(id)
);

CREATE INDEX IF NOT EXISTS idx_sorties_mission ON sorties(mission_id);
CREATE INDEX IF NOT EXISTS idx_sorties_status ON sorties(status);
CREATE INDEX IF NOT EXISTS idx_sorties_assigned_to ON sorties(assigned_to);

CREATE TABLE IF NOT EXISTS specialists (
    id              TEXT PRIMARY KEY,
    name            TEXT NOT NULL,
    status          TEXT NOT NULL,
    capabilities    TEXT NOT NULL DEFAULT '[]',
    registered_at   TEXT NOT NULL,
    last_seen       TEXT NOT NULL,
    current_sortie  TEXT
);

CREATE TABLE IF NOT EXISTS locks (
    id              TEXT PRIMARY KEY,
    file            TEXT NOT NULL,
    normalized_path TEXT NOT NULL,
    reserved_by     TEXT NOT NULL,
    reserved_at     TEXT NOT NULL,
    released_at     TEXT,
    expires_at      TEXT NOT NULL,
    purpose         TEXT NOT NULL,
    checksum        TEXT,
    status          TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_locks_path_status ON locks(normalized_path, status);
CREATE INDEX IF NOT EXISTS idx_locks_specialist ON locks(reserved_by);
CREATE INDEX IF NOT EXISTS idx_locks_expires ON locks(expires_at);

CREATE TABLE IF NOT EXISTS mailboxes (
    mailbox_id TEXT PRIMARY KEY,
    owner_id   TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
    id             TEXT PRIMARY KEY,
    mailbox_id     TEXT NOT NULL,
    sender_id      TEXT,
    thread_id      TEXT,
    message_type   TEXT NOT NULL,
    content        TEXT NOT NULL,
    status         TEXT NOT NULL,
    priority       TEXT NOT NULL,
    sent_at        TEXT NOT NULL,
    read_at        TEXT,
    acked_at       TEXT,
    causation_id   TEXT,
    insertion_seq  INTEGER NOT NULL,
    FOREIGN KEY (mailbox_id) REFERENCES mailboxes(mailbox_id)
);

CREATE INDEX IF NOT EXISTS idx_messages_mailbox_status ON messages(mailbox_id, status, sent_at, insertion_seq);

CREATE TABLE IF NOT EXISTS cursors (
    id          TEXT PRIMARY KEY,
    stream_type TEXT NOT NULL,
    stream_id   TEXT NOT NULL,
    position    INTEGER NOT NULL,
    consumer_id TEXT,
    created_at  TEXT NOT NULL,
    updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS checkpoints (
    id                TEXT PRIMARY KEY,
    mission_id        TEXT NOT NULL,
    ts                TEXT NOT NULL,
    trigger           TEXT NOT NULL,
    progress_percent  INTEGER NOT NULL,
    sorties_json      TEXT NOT NULL,
    active_locks_json TEXT NOT NULL,
    pending_msgs_json TEXT NOT NULL,
    recovery_context  TEXT NOT NULL,
    created_by        TEXT NOT NULL,
    expires_at        TEXT,
    consumed_at       TEXT,
    version           INTEGER NOT NULL,
    UNIQUE (mission_id, trigger, progress_percent)
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_mission ON checkpoints(mission_id, ts);

CREATE TABLE IF NOT EXISTS projection_versions (
    projection TEXT PRIMARY KEY,
    version    INTEGER NOT NULL
);
`

// projectionCode is the version every projection handler is compiled
// against (spec §4.3). Nothing at startup compares it with the
// projection_versions table or triggers a projection rebuild.
const projectionCode = 1
