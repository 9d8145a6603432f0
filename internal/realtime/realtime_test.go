package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/queue-status/backend/internal/auth"
	"github.com/queue-status/backend/internal/live"
	"github.com/queue-status/backend/internal/models"
	"github.com/queue-status/backend/internal/reconcile"
	"github.com/queue-status/backend/internal/reports"
	"github.com/queue-status/backend/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type staticSource map[string][]models.Document

func (s staticSource) filter(collection string, preds []store.Predicate) []models.Document {
	var out []models.Document
	for _, d := range s[collection] {
		ok := true
		for _, p := range preds {
			ok = ok && d.String(p.Field) == p.Value
		}
		if ok {
			out = append(out, d)
		}
	}
	return out
}

func (s staticSource) QueryCollection(_ context.Context, collection string, preds []store.Predicate, _ int) ([]models.Document, error) {
	return s.filter(collection, preds), nil
}

func (s staticSource) Subscribe(_ context.Context, collection string, preds []store.Predicate, fn store.SnapshotFunc) (func(), error) {
	docs := s.filter(collection, preds)
	go fn(docs, nil)
	return func() {}, nil
}

type queueSet map[string]bool

func (q queueSet) Queue(_ context.Context, id string) (models.Queue, error) {
	if !q[id] {
		return models.Queue{}, reports.ErrQueueNotFound
	}
	return models.Queue{ID: id}, nil
}

func d(id string, kv ...string) models.Document {
	data := map[string]any{}
	for i := 0; i+1 < len(kv); i += 2 {
		data[kv[i]] = kv[i+1]
	}
	return models.Document{ID: id, Data: data}
}

func testSource() staticSource {
	return staticSource{
		models.CollectionTokens: {
			d("t1", "queueref", "q1", "participantproductid", "pp1", "currentstage", "Completed", "productname", "Pitch"),
			d("t2", "queueref", "q1", "currentstage", "Pending", "productname", "Demo"),
			d("t3", "queueref", "q1", "participantproductid", "pp3", "currentstage", "Pending", "productname", "Pitch"),
		},
		models.CollectionParticipantProducts: {
			d("pp1", "eventref", "q1", "status", "completed", "mode", "Integration Mode", "eventparticipationid", "ep1"),
			d("pp3", "eventref", "q1", "status", "ongoing", "mode", "Event Mode"),
		},
		models.CollectionEventParticipations: {d("ep1", "status", "approved")},
	}
}

func startServer(t *testing.T) (*httptest.Server, *Hub, *auth.JWTService) {
	t.Helper()
	jwtSvc := auth.NewJWTService("secret", 1)
	hub := NewHub(nil, nil)
	srv := NewServer(hub, testSource(), queueSet{"q1": true}, nil, jwtSvc, 10, nil, nil)
	r := gin.New()
	r.GET("/ws", srv.ServeWs)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts, hub, jwtSvc
}

func dial(t *testing.T, ts *httptest.Server, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + token
	return websocket.DefaultDialer.Dial(url, nil)
}

func send(t *testing.T, conn *websocket.Conn, event string, data interface{}) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(WSMessage{Event: event, Data: raw}))
}

func readEvent(t *testing.T, conn *websocket.Conn, event string) json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg WSMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Event == event {
			return msg.Data
		}
	}
}

func readView(t *testing.T, conn *websocket.Conn) reconcile.View {
	t.Helper()
	var v reconcile.View
	require.NoError(t, json.Unmarshal(readEvent(t, conn, EventReport), &v))
	return v
}

func TestSession_LiveReportAndViews(t *testing.T) {
	ts, hub, jwtSvc := startServer(t)
	tok, err := jwtSvc.Generate("op-1", "", auth.RoleOperator)
	require.NoError(t, err)

	conn, _, err := dial(t, ts, tok)
	require.NoError(t, err)
	defer conn.Close()

	send(t, conn, EventSelectQueue, selectQueuePayload{QueueID: "q1"})
	v := readView(t, conn)
	assert.Equal(t, "q1", v.QueueID)
	assert.Equal(t, 3, v.Summary.Total)
	assert.Equal(t, 1, v.Summary.Valid)
	assert.Equal(t, 3, v.Page.TotalItems)

	require.Eventually(t, func() bool { return hub.Viewers("q1") == 1 }, time.Second, 10*time.Millisecond)

	send(t, conn, EventSetView, map[string]interface{}{"kpi": "invalid", "pageSize": 1, "page": 2})
	v = readView(t, conn)
	assert.Equal(t, 2, v.Page.TotalItems)
	assert.Equal(t, 2, v.Page.Number)
	require.Len(t, v.Page.Items, 1)
	assert.Equal(t, "t3", v.Page.Items[0].TokenID)

	send(t, conn, EventToggleKPI, toggleKPIPayload{KPI: "invalid"})
	v = readView(t, conn)
	assert.Equal(t, 3, v.Page.TotalItems, "toggling the active KPI clears it")
	assert.Equal(t, 1, v.Page.Number)
}

func TestSession_Errors(t *testing.T) {
	ts, hub, jwtSvc := startServer(t)
	tok, err := jwtSvc.Generate("op-1", "", auth.RoleViewer)
	require.NoError(t, err)

	conn, _, err := dial(t, ts, tok)
	require.NoError(t, err)

	send(t, conn, EventSelectQueue, selectQueuePayload{QueueID: "nope"})
	var p reportErrorPayload
	require.NoError(t, json.Unmarshal(readEvent(t, conn, EventReportError), &p))
	assert.Equal(t, "queue not found", p.Error)

	send(t, conn, EventToggleKPI, toggleKPIPayload{KPI: "color:red"})
	require.NoError(t, json.Unmarshal(readEvent(t, conn, EventReportError), &p))
	assert.Equal(t, "invalid kpi", p.Error)

	require.Eventually(t, func() bool { return hub.Stats().Sessions == 1 }, time.Second, 10*time.Millisecond)
	conn.Close()
	require.Eventually(t, func() bool { return hub.Stats().Sessions == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServeWs_RequiresToken(t *testing.T) {
	ts, _, _ := startServer(t)

	_, resp, err := dial(t, ts, "")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, resp, err = dial(t, ts, "garbage")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHub_Stats(t *testing.T) {
	hub := NewHub(nil, nil)
	a := &Session{ID: "a"}
	b := &Session{ID: "b"}
	c := &Session{ID: "c"}
	hub.Watch(a, "q2")
	hub.Watch(b, "q1")
	hub.Watch(c, "q2")
	hub.Watch(c, "")

	assert.Equal(t, 1, hub.Viewers("q2"))
	assert.Equal(t, []QueueViewers{{"q1", 1}, {"q2", 1}}, hub.Stats().Queues)
}

func TestSession_DropsUpdatesFromPreviousSelection(t *testing.T) {
	driver := live.NewDriver(testSource(), nil, nil, nil)
	defer driver.Close()
	s := &Session{
		ID:       "s",
		driver:   driver,
		send:     make(chan WSMessage, 4),
		done:     make(chan struct{}),
		logger:   zap.NewNop(),
		pageSize: 10,
		view:     reconcile.ViewRequest{Page: 1, PageSize: 10},
	}
	ctx := context.Background()

	require.NoError(t, driver.Select(ctx, "q1"))
	previous := driver.Generation()
	require.NoError(t, driver.Select(ctx, "q2"))
	require.NotEqual(t, previous, driver.Generation())

	s.onUpdate(live.Update{QueueID: "q1", Generation: previous, Report: reconcile.ComputeReport("q1", reconcile.Sources{}, nil)})
	assert.Empty(t, s.send, "update for the old queue")

	s.onUpdate(live.Update{QueueID: "q2", Generation: driver.Generation(), Report: reconcile.ComputeReport("q2", reconcile.Sources{}, nil)})
	require.Len(t, s.send, 1)
	msg := <-s.send
	assert.Equal(t, EventReport, msg.Event)
	var view reconcile.View
	require.NoError(t, json.Unmarshal(msg.Data, &view))
	assert.Equal(t, "q2", view.QueueID)
}
