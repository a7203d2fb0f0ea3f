package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleylab/parley/internal/config"
	"github.com/parleylab/parley/internal/media"
	"github.com/parleylab/parley/internal/media/mediatest"
	"github.com/parleylab/parley/internal/room"
)

func testRouter(t *testing.T) (*gin.Engine, *room.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		Mode:                 "test",
		MaxIncomingBitrate:   1500000,
		AudioLevelInterval:   800,
		AudioLevelThreshold:  -80,
		AudioLevelMaxEntries: 1,
	}
	pool := media.NewPool([]media.Worker{mediatest.NewWorker()})
	registry := room.NewRegistry(cfg, pool)
	t.Cleanup(func() {
		if r := registry.Current(); r != nil {
			r.Close()
		}
	})
	return SetupRouter(cfg, registry), registry
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebsocketEndpointRequiresPeerID(t *testing.T) {
	r, _ := testRouter(t)
	w := doJSON(t, r, http.MethodGet, "/ws", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusWithoutSession(t *testing.T) {
	r, _ := testRouter(t)
	w := doJSON(t, r, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var rsp struct {
		Session *room.Status `json:"session"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rsp))
	assert.Nil(t, rsp.Session)
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := testRouter(t)
	w := doJSON(t, r, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "parley_")
}

func TestBroadcasterRESTFlow(t *testing.T) {
	r, registry := testRouter(t)

	// Creating a broadcaster spins up a session when none is live.
	w := doJSON(t, r, http.MethodPost, "/rooms/broadcasters", room.CreateBroadcasterRequest{
		ID:          "bc1",
		DisplayName: "Recorder",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, registry.Current())

	var created room.CreateBroadcasterResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Empty(t, created.Peers)

	// Duplicate id is rejected.
	w = doJSON(t, r, http.MethodPost, "/rooms/broadcasters", room.CreateBroadcasterRequest{ID: "bc1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Transport setup.
	w = doJSON(t, r, http.MethodPost, "/rooms/broadcasters/bc1/transports", map[string]any{
		"type": "webrtc",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var transport media.TransportInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &transport))
	require.NotEmpty(t, transport.ID)

	w = doJSON(t, r, http.MethodPost, "/rooms/broadcasters/bc1/transports/"+transport.ID+"/connect", map[string]any{})
	assert.Equal(t, http.StatusOK, w.Code)

	// Produce.
	w = doJSON(t, r, http.MethodPost, "/rooms/broadcasters/bc1/transports/"+transport.ID+"/producers", map[string]any{
		"kind":          "audio",
		"rtpParameters": media.RTPParameters{},
	})
	require.Equal(t, http.StatusOK, w.Code)
	var produced struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &produced))
	assert.NotEmpty(t, produced.ID)

	// Consume needs a producerId query parameter.
	w = doJSON(t, r, http.MethodPost, "/rooms/broadcasters/bc1/transports/"+transport.ID+"/consume", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Session status reflects the broadcaster.
	w = doJSON(t, r, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status struct {
		Session *room.Status `json:"session"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	require.NotNil(t, status.Session)
	assert.Equal(t, 1, status.Session.Broadcasters)

	// Teardown.
	w = doJSON(t, r, http.MethodDelete, "/rooms/broadcasters/bc1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, r, http.MethodDelete, "/rooms/broadcasters/bc1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBroadcasterRoutesWithoutSession(t *testing.T) {
	r, _ := testRouter(t)
	w := doJSON(t, r, http.MethodDelete, "/rooms/broadcasters/bc1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, r, http.MethodPost, "/rooms/broadcasters/bc1/transports", map[string]any{"type": "webrtc"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}
