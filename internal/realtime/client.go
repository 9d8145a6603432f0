package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/queue-status/backend/internal/auth"
	"github.com/queue-status/backend/internal/live"
	"github.com/queue-status/backend/internal/models"
	"github.com/queue-status/backend/internal/reconcile"
	"github.com/queue-status/backend/internal/reports"
	"github.com/queue-status/backend/pkg/response"
)

// Client events.
const (
	EventSelectQueue = "select_queue"
	EventSetView     = "set_view"
	EventToggleKPI   = "toggle_kpi"
)

// Server events.
const (
	EventReport      = "report"
	EventReportError = "report_error"
)

const sendBuffer = 8

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type selectQueuePayload struct {
	QueueID string `json:"queue_id"`
}

type setViewPayload struct {
	reports.FilterParams
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
}

type toggleKPIPayload struct {
	KPI string `json:"kpi"`
}

type reportErrorPayload struct {
	QueueID string `json:"queue_id,omitempty"`
	Error   string `json:"error"`
}

// QueueLookup checks that a queue exists before a session subscribes to it.
type QueueLookup interface {
	Queue(ctx context.Context, queueID string) (models.Queue, error)
}

// TokenValidator validates the token passed in the query string.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// Server upgrades dashboard connections into live sessions.
type Server struct {
	hub       *Hub
	src       live.Source
	queues    QueueLookup
	validator *reconcile.Validator
	tokens    TokenValidator
	pageSize  int
	logger    *zap.Logger
	upgrader  websocket.Upgrader
}

// NewServer creates the WebSocket endpoint. allowedOrigins follows the CORS
// setting; empty or "*" accepts any origin.
func NewServer(hub *Hub, src live.Source, queues QueueLookup, v *reconcile.Validator, tokens TokenValidator, pageSize int, allowedOrigins []string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pageSize <= 0 {
		pageSize = reconcile.DefaultPageSize
	}
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	return &Server{
		hub:       hub,
		src:       src,
		queues:    queues,
		validator: v,
		tokens:    tokens,
		pageSize:  pageSize,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(origins) == 0 || origins["*"] || origin == "" || origins[origin]
			},
		},
	}
}

// Session is one dashboard connection. It owns a live driver for the queue
// it currently watches and the view (filters, page) it asked for.
type Session struct {
	ID     string
	UserID string
	hub    *Hub
	conn   *websocket.Conn
	driver *live.Driver
	queues QueueLookup
	send   chan WSMessage
	done   chan struct{}
	logger *zap.Logger

	pageSize int

	mu   sync.Mutex // guards view and serializes report pushes
	view reconcile.ViewRequest
}

// ServeWs handles GET /ws?token=...
func (s *Server) ServeWs(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.BadRequest(c, "token required")
		return
	}
	claims, err := s.tokens.Validate(token)
	if err != nil {
		response.Unauthorized(c, "invalid token")
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sess := &Session{
		ID:       uuid.New().String(),
		UserID:   claims.UserID,
		hub:      s.hub,
		conn:     conn,
		queues:   s.queues,
		send:     make(chan WSMessage, sendBuffer),
		done:     make(chan struct{}),
		logger:   s.logger,
		pageSize: s.pageSize,
		view:     reconcile.ViewRequest{Page: 1, PageSize: s.pageSize},
	}
	sess.driver = live.NewDriver(s.src, s.validator, sess.onUpdate, s.logger)

	ctx, cancel := context.WithCancel(context.Background())
	s.hub.Register(sess)
	go sess.writePump()
	sess.readPump(ctx)
	cancel()
}

func (s *Session) readPump(ctx context.Context) {
	defer func() {
		s.hub.Unregister(s)
		close(s.done)
		_ = s.conn.Close()
	}()

	s.conn.SetReadLimit(65536)
	_ = s.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	s.conn.SetPongHandler(func(string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		s.handle(ctx, msg)
	}
}

func (s *Session) handle(ctx context.Context, msg WSMessage) {
	switch msg.Event {
	case EventSelectQueue:
		var p selectQueuePayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			s.sendError("", "invalid select_queue payload")
			return
		}
		s.selectQueue(ctx, p.QueueID)
	case EventSetView:
		var p setViewPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			s.sendError(s.driver.QueueID(), "invalid set_view payload")
			return
		}
		f, err := p.Filter()
		if err != nil {
			s.sendError(s.driver.QueueID(), err.Error())
			return
		}
		s.updateView(func(v *reconcile.ViewRequest) {
			v.Filter = f
			v.Page = p.Page
			if p.PageSize > 0 {
				v.PageSize = min(p.PageSize, reports.MaxPageSize)
			}
		})
	case EventToggleKPI:
		var p toggleKPIPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			s.sendError(s.driver.QueueID(), "invalid toggle_kpi payload")
			return
		}
		kpi, err := reconcile.ParseKPI(p.KPI)
		if err != nil || kpi == nil {
			s.sendError(s.driver.QueueID(), "invalid kpi")
			return
		}
		s.updateView(func(v *reconcile.ViewRequest) {
			v.Filter = v.Filter.ToggleKPI(*kpi)
			v.Page = 1
		})
	default:
		// ignore
	}
}

func (s *Session) selectQueue(ctx context.Context, queueID string) {
	if queueID != "" && s.queues != nil {
		if _, err := s.queues.Queue(ctx, queueID); err != nil {
			if errors.Is(err, reports.ErrQueueNotFound) {
				s.sendError(queueID, "queue not found")
			} else {
				s.logger.Warn("queue lookup failed", zap.Error(err), zap.String("queue_id", queueID))
				s.sendError(queueID, live.ErrLoadFailed.Error())
			}
			return
		}
	}
	s.mu.Lock()
	s.view = reconcile.ViewRequest{Page: 1, PageSize: s.pageSize}
	s.mu.Unlock()
	s.hub.Watch(s, queueID)
	if err := s.driver.Select(ctx, queueID); err != nil && !errors.Is(err, live.ErrClosed) {
		// The driver reports the failure to the client itself.
		s.logger.Warn("select queue failed", zap.Error(err), zap.String("queue_id", queueID))
	}
}

// updateView applies fn and re-sends the latest report without touching the store.
func (s *Session) updateView(fn func(v *reconcile.ViewRequest)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.view)
	if s.driver.QueueID() == "" {
		return
	}
	report, err := s.driver.Report()
	if err != nil {
		s.pushError(report.QueueID, err.Error())
		return
	}
	s.pushLocked(EventReport, report.View(s.view))
}

// onUpdate runs on the driver goroutine. An update computed before the
// session switched queues is dropped.
func (s *Session) onUpdate(u live.Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.Generation != s.driver.Generation() {
		return
	}
	if u.Err != nil {
		s.pushError(u.QueueID, u.Err.Error())
		return
	}
	s.pushLocked(EventReport, u.Report.View(s.view))
}

func (s *Session) sendError(queueID, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushError(queueID, msg)
}

func (s *Session) pushError(queueID, msg string) {
	s.pushLocked(EventReportError, reportErrorPayload{QueueID: queueID, Error: msg})
}

// pushLocked queues a message, dropping the oldest pending one when the
// client falls behind. Callers hold s.mu.
func (s *Session) pushLocked(event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("marshal event failed", zap.String("event", event), zap.Error(err))
		return
	}
	msg := WSMessage{Event: event, Data: data}
	for {
		select {
		case s.send <- msg:
			return
		case <-s.done:
			return
		default:
		}
		select {
		case <-s.send:
		default:
		}
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case <-s.done:
			_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
