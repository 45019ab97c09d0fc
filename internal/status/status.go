// SPDX-License-Identifier: Apache 2.0

// Package status implements the local-only status/control HTTP API:
// health, peer listing, manifest listing, and pairing-code
// confirmation. It mirrors the teacher's api/handlers package —
// closures built over a small state struct, mounted on a
// method-pattern http.ServeMux.
package status

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/swarmsync/swarmsync/internal/manifest"
	"github.com/swarmsync/swarmsync/internal/peer"
	"github.com/swarmsync/swarmsync/internal/store"
)

// Version is the build-reported engine version, set by the link step
// the way the teacher's cmd/root.go stamps its build info.
var Version = "dev"

// HealthResponse is the GET /status/health payload.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// PeerSummary is one entry in the GET /status/peers payload.
type PeerSummary struct {
	DeviceID    string    `json:"device_id"`
	DisplayName string    `json:"display_name"`
	Trusted     bool      `json:"trusted"`
	SyncEnabled bool      `json:"sync_enabled"`
	LastSeen    time.Time `json:"last_seen"`
}

// PairingConfirmRequest is the POST /status/pairing/confirm body.
type PairingConfirmRequest struct {
	DeviceID string `json:"device_id"`
	Code     string `json:"code"`
}

// PairingConfirmResponse reports whether the code matched.
type PairingConfirmResponse struct {
	Confirmed bool `json:"confirmed"`
}

// Deps are the collaborators the status API reads from. It never
// mutates sync state directly except through Directory.ConfirmPairing.
type Deps struct {
	Directory *peer.Directory
	Store     *store.Store
}

// NewRouter builds the status API's mux, mirroring the teacher's
// pattern of registering method-qualified routes against handlers
// built as closures over shared state.
func NewRouter(deps Deps) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status/health", healthHandler)
	mux.HandleFunc("GET /status/peers", peersHandler(deps))
	mux.HandleFunc("GET /status/manifest", manifestHandler(deps))
	mux.HandleFunc("POST /status/pairing/confirm", pairingConfirmHandler(deps))
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "OK", Version: Version})
}

func peersHandler(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot := deps.Directory.Snapshot()
		out := make([]PeerSummary, 0, len(snapshot))
		for _, p := range snapshot {
			out = append(out, PeerSummary{
				DeviceID:    p.DeviceID,
				DisplayName: p.DisplayName,
				Trusted:     p.Trusted,
				SyncEnabled: p.SyncEnabled,
				LastSeen:    p.LastSeen,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func manifestHandler(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		files, err := deps.Store.All()
		if err != nil {
			slog.Error("status: list manifest failed", "err", err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, manifest.Manifest{Files: files})
	}
}

func pairingConfirmHandler(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PairingConfirmRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.DeviceID == "" || req.Code == "" {
			http.Error(w, "device_id and code are required", http.StatusBadRequest)
			return
		}
		ok, err := deps.Directory.ConfirmPairing(req.DeviceID, req.Code)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, PairingConfirmResponse{Confirmed: ok})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("status: encode response failed", "err", err)
	}
}
