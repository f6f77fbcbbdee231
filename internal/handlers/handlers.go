package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"tracel-engine/internal/gateway"
	"tracel-engine/internal/storage"
	"tracel-engine/internal/stream"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type Handlers struct {
	registry *stream.Registry
	store    storage.Store
	monitor  *gateway.Monitor
	logger   *logrus.Logger
	upgrader websocket.Upgrader
}

func NewHandlers(registry *stream.Registry, store storage.Store, monitor *gateway.Monitor, logger *logrus.Logger) *Handlers {
	return &Handlers{
		registry: registry,
		store:    store,
		monitor:  monitor,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Allow all origins for development
				origin := r.Header.Get("Origin")
				logger.Debugf("WebSocket origin check: %s", origin)
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// StreamPackets upgrades to WebSocket and attaches the caller to the
// owner's classified record stream. The owner stream starts on first
// attach and survives the connection by the idle TTL.
func (h *Handlers) StreamPackets(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner is required")
		return
	}

	h.logger.Infof("WebSocket connection attempt from %s (owner %s)", r.RemoteAddr, owner)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorf("WebSocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	sub, err := h.registry.Attach(owner)
	if err != nil {
		conn.WriteJSON(map[string]string{"type": "error", "message": err.Error()})
		return
	}
	defer h.registry.Detach(owner, sub.ID)

	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(map[string]string{"type": "connected", "owner": owner}); err != nil {
		h.logger.Errorf("Failed to send initial message: %v", err)
		return
	}

	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(24 * time.Hour))
		return nil
	})

	done := make(chan struct{})

	// Read loop only exists to detect the client going away.
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case <-done:
			h.logger.Debugf("WebSocket connection closed for %s", r.RemoteAddr)
			return
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				h.logger.Debugf("Ping failed: %v", err)
				return
			}
		case rec, ok := <-sub.C:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(rec); err != nil {
				h.logger.Debugf("WebSocket write error: %v", err)
				return
			}
		}
	}
}

// GetMode reports the traffic mode recorded for an owner.
func (h *Handlers) GetMode(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner is required")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"owner_id":    owner,
		"attack_mode": h.registry.Mode(owner),
	})
}

// SetMode switches an owner between normal and attack traffic. The mode
// sticks even while no stream is running.
func (h *Handlers) SetMode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Owner  string `json:"owner"`
		Attack bool   `json:"attack"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.Owner == "" {
		writeError(w, http.StatusBadRequest, "owner is required")
		return
	}

	h.registry.SetMode(body.Owner, body.Attack)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"owner_id":    body.Owner,
		"attack_mode": body.Attack,
	})
}

// GetPackets queries stored records, newest first.
func (h *Handlers) GetPackets(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner is required")
		return
	}

	f := storage.Filter{
		Owner:    owner,
		SourceIP: r.URL.Query().Get("sourceIp"),
	}
	f.AnomaliesOnly, _ = strconv.ParseBool(r.URL.Query().Get("anomaliesOnly"))

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	f.Limit = storage.ClampLimit(limit)

	// Malformed filters are ignored rather than rejected.
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		if since, err := time.Parse(time.RFC3339, sinceStr); err == nil {
			f.Since = since
		}
	}

	records, err := h.store.Query(r.Context(), f)
	if err != nil {
		h.logger.Errorf("Packet query failed: %v", err)
		writeError(w, http.StatusInternalServerError, "Query failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": records,
		"total": len(records),
		"limit": f.Limit,
	})
}

// GetStats reports the live pipeline statistics for one owner.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner is required")
		return
	}

	stats := h.registry.Stats(owner)
	if !stats.Active {
		writeError(w, http.StatusNotFound, "No active stream for owner")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetStreams lists every running owner stream.
func (h *Handlers) GetStreams(w http.ResponseWriter, r *http.Request) {
	snap := h.registry.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": snap,
		"total": len(snap),
	})
}

// GetGatewayHealth reports the last observed scoring gateway status.
func (h *Handlers) GetGatewayHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.monitor.Status())
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
