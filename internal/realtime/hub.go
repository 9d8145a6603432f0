package realtime

import (
	"sort"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/queue-status/backend/internal/live"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// Hub tracks connected dashboard sessions and which queue each one watches.
// Every session's driver is kept in the live registry for periodic resync.
type Hub struct {
	sessions map[string]*Session
	watching map[string]string // session id -> queue id
	registry *live.Registry
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewHub creates a new WebSocket hub.
func NewHub(registry *live.Registry, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = live.NewRegistry(logger)
	}
	return &Hub{
		sessions: make(map[string]*Session),
		watching: make(map[string]string),
		registry: registry,
		logger:   logger,
	}
}

// Register adds a session and its driver.
func (h *Hub) Register(s *Session) {
	h.mu.Lock()
	h.sessions[s.ID] = s
	count := len(h.sessions)
	h.mu.Unlock()
	h.registry.Add(s.driver)
	h.logger.Debug("session connected", zap.String("session_id", s.ID), zap.Int("sessions", count))
}

// Unregister removes a session and closes its driver.
func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	delete(h.sessions, s.ID)
	delete(h.watching, s.ID)
	h.mu.Unlock()
	h.registry.Remove(s.driver)
	s.driver.Close()
	h.logger.Debug("session disconnected", zap.String("session_id", s.ID))
}

// CloseAll disconnects every session. Each read loop then unregisters its session.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.sessions))
	for _, s := range h.sessions {
		if s.conn != nil {
			conns = append(conns, s.conn)
		}
	}
	h.mu.RUnlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

// Watch records that a session switched to queueID.
func (h *Hub) Watch(s *Session, queueID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if queueID == "" {
		delete(h.watching, s.ID)
		return
	}
	h.watching[s.ID] = queueID
}

// Viewers returns how many sessions watch queueID.
func (h *Hub) Viewers(queueID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, q := range h.watching {
		if q == queueID {
			n++
		}
	}
	return n
}

// QueueViewers is one entry of Stats.
type QueueViewers struct {
	QueueID string `json:"queue_id"`
	Viewers int    `json:"viewers"`
}

// Stats summarizes live sessions for monitoring.
type Stats struct {
	Sessions int            `json:"sessions"`
	Queues   []QueueViewers `json:"queues"`
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	counts := make(map[string]int)
	for _, q := range h.watching {
		counts[q]++
	}
	st := Stats{Sessions: len(h.sessions), Queues: make([]QueueViewers, 0, len(counts))}
	h.mu.RUnlock()
	for q, n := range counts {
		st.Queues = append(st.Queues, QueueViewers{QueueID: q, Viewers: n})
	}
	sort.Slice(st.Queues, func(i, j int) bool { return st.Queues[i].QueueID < st.Queues[j].QueueID })
	return st
}
