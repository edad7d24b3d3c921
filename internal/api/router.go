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

// Package api is the Coordinator HTTP API (spec §4.8, §6.1): a thin JSON
// surface over the command managers and read-side queries. Handlers never
// write to the store directly — every mutation goes through a manager so the
// command-boundary state machines stay the single source of truth. Only the
// health and stats handlers read the store directly.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fleettools/coordination-core/internal/coreapp"
)

// NewRouter builds the full `/api/v1` surface over core.
func NewRouter(core *coreapp.Core) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(observe(core.Metrics))

	h := &handlers{core: core}

	r.Get("/health", h.health)
	if core.Metrics != nil {
		r.Handle("/metrics", core.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/missions", func(r chi.Router) {
			r.Post("/", h.createMission)
			r.Get("/", h.listMissions)
			r.Get("/{id}", h.getMission)
			r.Post("/{id}/start", h.startMission)
			r.Post("/{id}/complete", h.completeMission)
			r.Post("/{id}/cancel", h.cancelMission)
			r.Post("/{id}/review", h.reviewMission)
			r.Post("/{id}/checkpoints", h.createCheckpoint)
			r.Get("/{id}/checkpoints", h.listCheckpoints)
		})

		r.Route("/sorties", func(r chi.Router) {
			r.Post("/", h.createSortie)
			r.Get("/", h.listSorties)
			r.Get("/{id}", h.getSortie)
			r.Post("/{id}/assign", h.assignSortie)
			r.Post("/{id}/start", h.startSortie)
			r.Post("/{id}/progress", h.progressSortie)
			r.Post("/{id}/block", h.blockSortie)
			r.Post("/{id}/unblock", h.unblockSortie)
			r.Post("/{id}/complete", h.completeSortie)
			r.Post("/{id}/fail", h.failSortie)
			r.Post("/{id}/cancel", h.cancelSortie)
		})

		r.Route("/specialists", func(r chi.Router) {
			r.Post("/", h.registerSpecialist)
			r.Get("/", h.listSpecialists)
			r.Get("/{id}", h.getSpecialist)
			r.Post("/{id}/heartbeat", h.heartbeatSpecialist)
		})

		r.Route("/locks", func(r chi.Router) {
			r.Post("/acquire", h.acquireLock)
			r.Get("/", h.listLocks)
			r.Post("/{id}/release", h.releaseLock)
			r.Post("/{id}/extend", h.extendLock)
			r.Post("/{id}/force-release", h.forceReleaseLock)
		})

		r.Route("/messages", func(r chi.Router) {
			r.Post("/", h.sendMessage)
			r.Post("/{id}/read", h.readMessage)
			r.Post("/{id}/ack", h.ackMessage)
		})
		r.Get("/mailboxes/{id}/messages", h.listMailboxMessages)

		r.Get("/events", h.queryEvents)
		r.Post("/events", h.appendEvent)

		r.Get("/checkpoints/{id}", h.getCheckpoint)
		r.Post("/checkpoints/{id}/restore", h.restoreCheckpoint)
		r.Delete("/checkpoints", h.pruneCheckpoints)

		r.Get("/stats", h.stats)
	})

	return r
}

type handlers struct {
	core *coreapp.Core
}

func urlParam(r *http.Request, key string) string {
	return chi.URLParam(r, key)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n := 0
	for _, c := range v {
		if c < '0' || c > '9' {
			return def
		}
		n = n*10 + int(c-'0')
	}
	return n
}
