package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tracel-engine/internal/baseline"
	"tracel-engine/internal/gateway"
	"tracel-engine/internal/model"
	"tracel-engine/internal/simulate"
	"tracel-engine/internal/storage"
	"tracel-engine/internal/stream"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticScorer struct{ score float64 }

func (s staticScorer) Score(context.Context, model.Packet) (float64, bool) {
	return s.score, true
}

type noThreshold struct{}

func (noThreshold) CalibratedThreshold() (float64, bool) { return 0, false }

func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type fixture struct {
	handlers *Handlers
	registry *stream.Registry
	store    *storage.MemoryStore
	router   http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := discardLogger()
	store := storage.NewMemoryStore(0)

	registry := stream.NewRegistry(stream.Deps{
		Scorer:     staticScorer{score: 0.5},
		Thresholds: noThreshold{},
		Store:      store,
		Logger:     logger,
		Estimator:  baseline.Config{},
		Source:     simulate.Config{NormalInterval: time.Hour, AttackInterval: time.Hour},
	}, time.Minute)
	t.Cleanup(registry.Close)

	monitor := gateway.NewMonitor(gateway.NewClient("http://127.0.0.1:1", time.Second, logger), 0, logger)

	h := NewHandlers(registry, store, monitor, logger)

	return &fixture{handlers: h, registry: registry, store: store, router: NewRouter(h)}
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func seedRecord(t *testing.T, store *storage.MemoryStore, rec model.Record) {
	t.Helper()
	require.NoError(t, store.Append(context.Background(), rec))
}

func TestModeRoundTrip(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/simulate/mode?owner=owner-a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, false, got["attack_mode"])

	rec = f.do(t, http.MethodPost, "/api/v1/simulate/mode", `{"owner":"owner-a","attack":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/simulate/mode?owner=owner-a", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, true, got["attack_mode"])
}

func TestSetModeRequiresOwner(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/simulate/mode", `{"attack":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/simulate/mode", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetPacketsFiltersAndClamps(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		seedRecord(t, f.store, model.Record{
			Packet: model.Packet{
				ID:        "n-" + string(rune('a'+i)),
				OwnerID:   "owner-a",
				SourceIP:  "1.2.3.4",
				Timestamp: now.Add(time.Duration(i) * time.Second),
			},
		})
	}
	seedRecord(t, f.store, model.Record{
		Packet:    model.Packet{ID: "threat", OwnerID: "owner-a", SourceIP: "9.9.9.9", Timestamp: now},
		IsAnomaly: true,
	})
	seedRecord(t, f.store, model.Record{
		Packet: model.Packet{ID: "other", OwnerID: "owner-b", Timestamp: now},
	})

	rec := f.do(t, http.MethodGet, "/api/v1/packets?owner=owner-a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Items []model.Record `json:"items"`
		Total int            `json:"total"`
		Limit int            `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 4, resp.Total)
	assert.Equal(t, storage.DefaultQueryLimit, resp.Limit)

	rec = f.do(t, http.MethodGet, "/api/v1/packets?owner=owner-a&anomaliesOnly=true", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, "threat", resp.Items[0].ID)

	rec = f.do(t, http.MethodGet, "/api/v1/packets?owner=owner-a&sourceIp=9.9.9.9", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)

	// Out-of-range and malformed params clamp instead of erroring.
	rec = f.do(t, http.MethodGet, "/api/v1/packets?owner=owner-a&limit=999999&since=garbage", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, storage.MaxQueryLimit, resp.Limit)

	rec = f.do(t, http.MethodGet, "/api/v1/packets", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetStatsRequiresActiveStream(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/stats?owner=owner-a", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	sub, err := f.registry.Attach("owner-a")
	require.NoError(t, err)
	defer f.registry.Detach("owner-a", sub.ID)

	rec = f.do(t, http.MethodGet, "/api/v1/stats?owner=owner-a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats stream.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.True(t, stats.Active)
	assert.Equal(t, "owner-a", stats.OwnerID)
	assert.Equal(t, 1, stats.Subscribers)
}

func TestGetStreamsListsActiveOwners(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/streams", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Items []stream.Stats `json:"items"`
		Total int            `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Zero(t, resp.Total)

	sub, err := f.registry.Attach("owner-a")
	require.NoError(t, err)
	defer f.registry.Detach("owner-a", sub.ID)

	rec = f.do(t, http.MethodGet, "/api/v1/streams", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, "owner-a", resp.Items[0].OwnerID)
}

func TestGatewayHealthReportsLastStatus(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/gateway/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status gateway.HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.OK)
}

func TestStreamPacketsWebSocketLifecycle(t *testing.T) {
	f := newFixture(t)

	srv := httptest.NewServer(f.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream/packets?owner=owner-ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}

	var hello map[string]string
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "connected", hello["type"])
	assert.Equal(t, "owner-ws", hello["owner"])

	assert.True(t, f.registry.Stats("owner-ws").Active)
	assert.Equal(t, 1, f.registry.Stats("owner-ws").Subscribers)

	conn.Close()
	require.Eventually(t, func() bool {
		return f.registry.Stats("owner-ws").Subscribers == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStreamPacketsRequiresOwner(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/stream/packets", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
