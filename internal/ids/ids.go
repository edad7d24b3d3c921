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

// Package ids generates and validates the Core's opaque prefixed
// identifiers (spec §6.5): ^(msn|srt|spc|lock|chk|evt|msg|mbx)-[0-9a-z]{8,}$
package ids

import (
	"encoding/base32"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Prefix tags an identifier with the stream/entity it belongs to.
type Prefix string

const (
	Mission    Prefix = "msn"
	Sortie     Prefix = "srt"
	Specialist Prefix = "spc"
	Lock       Prefix = "lock"
	Checkpoint Prefix = "chk"
	Event      Prefix = "evt"
	Message    Prefix = "msg"
	Mailbox    Prefix = "mbx"
)

var grammar = regexp.MustCompile(`^(msn|srt|spc|lock|chk|evt|msg|mbx)-[0-9a-z]{8,}$`)

// New generates an opaque identifier for the given prefix: base32 (lowercase,
// unpadded) of a random uuid's bytes, following the grammar in spec §6.5.
func New(p Prefix) string {
	raw := uuid.New()
	encoded := strings.ToLower(encoding.EncodeToString(raw[:]))
	return string(p) + "-" + encoded
}

// Valid reports whether id matches the identifier grammar of spec §6.5.
func Valid(id string) bool {
	return grammar.MatchString(id)
}

// HasPrefix reports whether id is both grammar-valid and tagged with p.
func HasPrefix(id string, p Prefix) bool {
	return Valid(id) && strings.HasPrefix(id, string(p)+"-")
}
