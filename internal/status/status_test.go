// SPDX-License-Identifier: Apache 2.0

package status

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swarmsync/swarmsync/internal/manifest"
	"github.com/swarmsync/swarmsync/internal/peer"
	"github.com/swarmsync/swarmsync/internal/store"
)

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return Deps{Directory: peer.NewDirectory(), Store: st}
}

func TestHealthHandlerReportsOK(t *testing.T) {
	mux := NewRouter(newTestDeps(t))

	req := httptest.NewRequest(http.MethodGet, "/status/health", nil)
	recorder := httptest.NewRecorder()
	mux.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code)
	var body HealthResponse
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&body))
	require.Equal(t, "OK", body.Status)
}

func TestHealthHandlerRejectsWrongMethod(t *testing.T) {
	mux := NewRouter(newTestDeps(t))

	req := httptest.NewRequest(http.MethodPost, "/status/health", nil)
	recorder := httptest.NewRecorder()
	mux.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusMethodNotAllowed, recorder.Code)
}

func TestPeersHandlerListsDirectorySnapshot(t *testing.T) {
	deps := newTestDeps(t)
	deps.Directory.Upsert(peer.Peer{DeviceID: "dev-1", DisplayName: "Laptop", Trusted: true, SyncEnabled: true, LastSeen: time.Now().UTC()})
	mux := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/status/peers", nil)
	recorder := httptest.NewRecorder()
	mux.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code)
	var body []PeerSummary
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&body))
	require.Len(t, body, 1)
	require.Equal(t, "dev-1", body[0].DeviceID)
}

func TestManifestHandlerListsStoreEntries(t *testing.T) {
	deps := newTestDeps(t)
	require.NoError(t, deps.Store.AddOrUpdate(manifest.SyncedFile{RelativePath: "a.txt", ContentHash: "h", LastModified: time.Now().UTC(), FileSize: 1}))
	mux := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/status/manifest", nil)
	recorder := httptest.NewRecorder()
	mux.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code)
	var body manifest.Manifest
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&body))
	require.Len(t, body.Files, 1)
	require.Equal(t, "a.txt", body.Files[0].RelativePath)
}

func TestPairingConfirmHandlerAcceptsMatchingCode(t *testing.T) {
	deps := newTestDeps(t)
	deps.Directory.Upsert(peer.Peer{DeviceID: "dev-1"})
	deps.Directory.BeginPairing("dev-1", "123456")
	mux := NewRouter(deps)

	body, err := json.Marshal(PairingConfirmRequest{DeviceID: "dev-1", Code: "123456"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/status/pairing/confirm", bytes.NewReader(body))
	recorder := httptest.NewRecorder()
	mux.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code)
	var resp PairingConfirmResponse
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&resp))
	require.True(t, resp.Confirmed)
}

func TestPairingConfirmHandlerRejectsWrongCode(t *testing.T) {
	deps := newTestDeps(t)
	deps.Directory.Upsert(peer.Peer{DeviceID: "dev-1"})
	deps.Directory.BeginPairing("dev-1", "123456")
	mux := NewRouter(deps)

	body, err := json.Marshal(PairingConfirmRequest{DeviceID: "dev-1", Code: "wrong"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/status/pairing/confirm", bytes.NewReader(body))
	recorder := httptest.NewRecorder()
	mux.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code)
	var resp PairingConfirmResponse
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&resp))
	require.False(t, resp.Confirmed)
}
