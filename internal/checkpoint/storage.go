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

package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// fileStorage writes checkpoints to <data_dir>/checkpoints/<chk-id>.json and
// maintains a latest-<mission>.json pointer per mission (spec §4.6 step 4-5).
type fileStorage struct {
	dir string
}

func newFileStorage(dir string) (*fileStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoints dir: %w", err)
	}
	return &fileStorage{dir: dir}, nil
}

func (f *fileStorage) path(id string) string {
	return filepath.Join(f.dir, id+".json")
}

func (f *fileStorage) latestPath(missionID string) string {
	return filepath.Join(f.dir, "latest-"+missionID+".json")
}

// Write serializes cp to its JSON file and atomically repoints that
// mission's latest-<mission>.json pointer at it. The write-then-rename sequence
// ensures a reader never observes a partially written file.
func (f *fileStorage) Write(cp Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	target := f.path(cp.ID)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("rename checkpoint file into place: %w", err)
	}

	return f.updateLatestPointer(cp.MissionID, target)
}

// updateLatestPointer repoints latest-<mission>.json at target. It prefers
// a symlink (spec §4.6: "symlink where the OS supports it"); on platforms
// or filesystems where symlinking fails (notably some Windows setups) it
// falls back to a rename-based copy, which is still atomic with respect to
// readers because the rename target is built in a temp file first.
func (f *fileStorage) updateLatestPointer(missionID, target string) error {
	latest := f.latestPath(missionID)
	relTarget, err := filepath.Rel(f.dir, target)
	if err != nil {
		relTarget = target
	}

	if runtime.GOOS != "windows" {
		tmpLink := latest + ".tmp"
		os.Remove(tmpLink)
		if err := os.Symlink(relTarget, tmpLink); err == nil {
			return os.Rename(tmpLink, latest)
		}
		// fall through to the rename-based replacement below
	}

	data, err := os.ReadFile(target)
	if err != nil {
		return fmt.Errorf("read checkpoint file for latest pointer: %w", err)
	}
	tmp := latest + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write latest pointer: %w", err)
	}
	return os.Rename(tmp, latest)
}

// Read loads a checkpoint JSON file by id.
func (f *fileStorage) Read(id string) (Checkpoint, error) {
	data, err := os.ReadFile(f.path(id))
	if err != nil {
		return Checkpoint{}, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("decode checkpoint file %s: %w", id, err)
	}
	return cp, nil
}

// Remove deletes a checkpoint's JSON file. It does not touch the latest
// pointer: pruning only targets checkpoints past keepPerMission, so with
// keepPerMission of 1 or more the most recent file per mission is never a
// Remove target. With keepPerMission of 0 it can be, and the mission's
// latest pointer is then left in place.
func (f *fileStorage) Remove(id string) error {
	if err := os.Remove(f.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove checkpoint file: %w", err)
	}
	return nil
}

// ReadLatest follows the latest pointer for missionID, resolving a symlink
// or reading the fallback copy transparently.
func (f *fileStorage) ReadLatest(missionID string) (Checkpoint, error) {
	data, err := os.ReadFile(f.latestPath(missionID))
	if err != nil {
		return Checkpoint{}, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("decode latest checkpoint for mission %s: %w", missionID, err)
	}
	return cp, nil
}
