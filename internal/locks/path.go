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

package locks

import (
	"path/filepath"
	"strings"

	"github.com/fleettools/coordination-core/internal/config"
	"github.com/fleettools/coordination-core/internal/corerr"
)

// normalize resolves a caller-supplied path to the canonical
// normalized_path used as the lock key (spec §4.4): absolute, symlink
// resolved where possible, separators canonicalized, and case-folded per
// the startup-chosen policy. Unlike os.path, this never touches the
// filesystem beyond filepath.Abs/EvalSymlinks — a path need not exist yet
// (a specialist may reserve a file it is about to create).
func normalize(raw string, policy config.PathPolicy) (string, error) {
	if raw == "" {
		return "", corerr.NewValidation("PATH_INVALID", "file path must not be empty")
	}

	abs, err := filepath.Abs(raw)
	if err != nil {
		return "", corerr.NewValidation("PATH_INVALID", "cannot make path absolute: "+err.Error())
	}

	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	// A nonexistent path (or one under a nonexistent parent) fails
	// EvalSymlinks; that's expected for not-yet-created files, so abs is
	// kept as-is rather than treated as an error.

	clean := filepath.ToSlash(filepath.Clean(abs))

	if policy == config.PathPolicyFold {
		clean = strings.ToLower(clean)
	}

	return clean, nil
}
