package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lenylvt/aurora-sub000/internal/config"
	"github.com/lenylvt/aurora-sub000/internal/domain"
	"github.com/lenylvt/aurora-sub000/internal/hub"
	"github.com/lenylvt/aurora-sub000/internal/policy"
	"github.com/lenylvt/aurora-sub000/internal/service"
	"github.com/lenylvt/aurora-sub000/internal/session"
	"github.com/lenylvt/aurora-sub000/tests/helpers"
)

type echoBatch struct{}

func (echoBatch) Execute(ctx context.Context, req domain.BatchRequest) (*domain.BatchResult, error) {
	return &domain.BatchResult{Stdout: req.Stdin + "\n"}, nil
}

func newRelay(t *testing.T, apiKey string) string {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h := hub.NewHub()
	go h.Run(ctx)

	cfg := &config.Config{
		APIKey:         apiKey,
		MaxMessageSize: 65536,
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   5 * time.Second,
		PingInterval:   time.Minute,
	}
	engine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	require.NoError(t, err)

	svc := service.New(helpers.NewTestSQLiteStore(t), engine, echoBatch{}, nil, h, cfg)
	svc.SelectMode(ctx, session.StaticProber{})
	t.Cleanup(svc.Close)

	e := echo.New()
	e.GET("/ws", NewServer(cfg, h, svc).HandleWebSocket)
	ts := httptest.NewServer(e)
	t.Cleanup(ts.Close)

	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg map[string]interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

func read(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]interface{}
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(map[string]interface{}) bool) []map[string]interface{} {
	t.Helper()
	var seen []map[string]interface{}
	for i := 0; i < 20; i++ {
		msg := read(t, conn)
		seen = append(seen, msg)
		if match(msg) {
			return seen
		}
	}
	t.Fatalf("no matching message in %v", seen)
	return nil
}

func TestRelayHelloAndBatchRun(t *testing.T) {
	conn := dial(t, newRelay(t, "secret"))

	send(t, conn, map[string]interface{}{"type": "hello", "api_key": "secret", "buffer_id": "buf-1"})
	ack := read(t, conn)
	assert.Equal(t, "hello_ack", ack["type"])
	assert.Equal(t, "buf-1", ack["buffer_id"])
	assert.Equal(t, "batch", ack["mode"])
	snapshot := ack["snapshot"].(map[string]interface{})
	assert.Equal(t, "idle", snapshot["state"])

	send(t, conn, map[string]interface{}{"type": "run", "filename": "echo.py", "code": "print(input())", "stdin": "hello"})
	seen := readUntil(t, conn, func(msg map[string]interface{}) bool {
		return msg["type"] == "state" && msg["state"] == "completed"
	})

	var outputs []string
	for _, msg := range seen {
		if msg["type"] == "output" {
			event := msg["event"].(map[string]interface{})
			assert.Equal(t, "stdout", event["channel"])
			outputs = append(outputs, event["content"].(string))
		}
	}
	assert.Equal(t, []string{"hello\n"}, outputs)

	send(t, conn, map[string]interface{}{"type": "clear"})
	cleared := read(t, conn)
	assert.Equal(t, "cleared", cleared["type"])
}

func TestRelayRejectsBadAPIKey(t *testing.T) {
	conn := dial(t, newRelay(t, "secret"))

	send(t, conn, map[string]interface{}{"type": "hello", "api_key": "wrong", "buffer_id": "buf-1"})
	msg := read(t, conn)
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, "unauthorized", msg["code"])

	send(t, conn, map[string]interface{}{"type": "run", "filename": "a.py", "code": "x"})
	msg = read(t, conn)
	assert.Equal(t, "session_required", msg["code"])
}

func TestRelayReportsRejectedRequests(t *testing.T) {
	conn := dial(t, newRelay(t, ""))

	send(t, conn, map[string]interface{}{"type": "hello", "buffer_id": "buf-2"})
	assert.Equal(t, "hello_ack", read(t, conn)["type"])

	send(t, conn, map[string]interface{}{"type": "run", "filename": "a.py", "code": "   "})
	msg := read(t, conn)
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, "run_rejected", msg["code"])

	send(t, conn, map[string]interface{}{"type": "stop"})
	msg = read(t, conn)
	assert.Equal(t, "run_rejected", msg["code"])

	send(t, conn, map[string]interface{}{"type": "input", "data": "x"})
	msg = read(t, conn)
	assert.Equal(t, "run_rejected", msg["code"])

	send(t, conn, map[string]interface{}{"type": "bogus"})
	msg = read(t, conn)
	assert.Equal(t, "invalid_message", msg["code"])
}

func TestHelloAssignsBufferID(t *testing.T) {
	conn := dial(t, newRelay(t, ""))

	send(t, conn, map[string]interface{}{"type": "hello"})
	ack := read(t, conn)
	assert.Equal(t, "hello_ack", ack["type"])
	assert.True(t, strings.HasPrefix(ack["buffer_id"].(string), "buf_"))
}
