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
	"context"
	"log/slog"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// WatchExternalDrops watches the checkpoints directory for JSON files
// written by something other than this Engine — an operator restoring a
// backup, or a sibling Core instance sharing the directory during a
// migration — and logs their arrival so an operator can decide whether to
// re-ingest them via GetById's file-fallback path. It does not itself
// mutate the database; Engine only ever trusts the DB row as authoritative
// (spec §4.6).
func (e *Engine) WatchExternalDrops(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(e.files.dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !strings.HasSuffix(ev.Name, ".json") || strings.Contains(ev.Name, "latest-") {
					continue
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
					slog.Info("checkpoint file changed on disk", "path", ev.Name, "op", ev.Op.String())
				}
			case watchErr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("checkpoint directory watcher error", "error", watchErr)
			}
		}
	}()

	return nil
}
