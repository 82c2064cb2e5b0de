package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ezbook/autoserver/route"
	"github.com/ezbook/autoserver/sandbox"
	"github.com/ezbook/autoserver/storage"
	"github.com/ezbook/autoserver/token"
	"github.com/ezbook/autoserver/version"
)

const testApp = "net.ankio.auto.helper"

type testLogger struct{}

func (testLogger) Debug(msg string, args ...any) {}
func (testLogger) Info(msg string, args ...any)  {}
func (testLogger) Warn(msg string, args ...any)  {}
func (testLogger) Error(msg string, args ...any) {}
func (testLogger) Fatal(msg string, args ...any) {}

type countingMetrics struct {
	mu       sync.Mutex
	requests [][3]string
	opened   int
	closed   int
}

func (m *countingMetrics) RecordRequest(module, function, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, [3]string{module, function, status})
}

func (m *countingMetrics) ConnectionOpened() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened++
}

func (m *countingMetrics) ConnectionClosed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
}

type env struct {
	srv   *Server
	store *storage.Engine
	token string
}

func startServer(t *testing.T, opts ...Option) *env {
	t.Helper()
	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	workspace := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workspace, token.AppsFileName), []byte(testApp+"\n"), 0o644))
	tokens := token.NewManager(workspace, store, testLogger{}, token.WithPublishRoot(t.TempDir()))
	require.NoError(t, tokens.Bootstrap())

	ver, err := version.Load(workspace)
	require.NoError(t, err)

	deps := &route.Deps{
		Store:   store,
		Tokens:  tokens,
		Version: ver,
		Sandbox: sandbox.New(testLogger{}),
		Logger:  testLogger{},
	}
	srv := New("127.0.0.1:0", route.NewRegistry(), deps, testLogger{}, opts...)
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})

	rows, err := store.SelectConditional("auth", "app = ?", testApp)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	return &env{srv: srv, store: store, token: rows[0]["token"].(string)}
}

func dial(t *testing.T, e *env) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+e.srv.Addr()+"/", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var m map[string]any
	require.NoError(t, dec.Decode(&m))
	return m
}

func sendFrame(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

// login consumes the auth prompt and authenticates the connection.
func login(t *testing.T, e *env, conn *websocket.Conn) {
	t.Helper()
	prompt := readFrame(t, conn)
	require.Equal(t, "auth", prompt["type"])

	sendFrame(t, conn, map[string]any{
		"id": "login-1", "type": "login/login",
		"data": map[string]any{"app": testApp, "token": e.token},
	})
	reply := readFrame(t, conn)
	data, ok := reply["data"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, json.Number("0"), data["status"])
}

func TestAuthPromptOnConnect(t *testing.T) {
	e := startServer(t)
	conn := dial(t, e)
	frame := readFrame(t, conn)
	assert.Equal(t, map[string]any{"type": "auth"}, frame)
}

func TestUnauthenticatedRequestCloses(t *testing.T) {
	e := startServer(t)
	conn := dial(t, e)
	prompt := readFrame(t, conn)
	require.Equal(t, "auth", prompt["type"])

	sendFrame(t, conn, map[string]any{
		"id": "1", "type": "bill/list",
		"data": map[string]any{"page": 1, "size": 10},
	})
	reply := readFrame(t, conn)
	assert.Equal(t, "1", reply["id"])
	assert.Equal(t, "bill/list", reply["type"])
	assert.Equal(t, "Unauthorized", reply["data"])

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestLoginThenRequest(t *testing.T) {
	e := startServer(t)
	conn := dial(t, e)
	login(t, e, conn)

	sendFrame(t, conn, map[string]any{
		"id": "2", "type": "setting/set",
		"data": map[string]any{"app": "server", "key": "x", "val": "v"},
	})
	reply := readFrame(t, conn)
	assert.Equal(t, "2", reply["id"])
	assert.Equal(t, "setting/set", reply["type"])
	assert.Equal(t, map[string]any{"status": json.Number("0"), "message": "success"}, reply["data"])

	rows, err := e.store.SelectConditional("settings", "app = ? AND key = ?", "server", "x")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "v", rows[0]["val"])
}

func TestWrongTokenDoesNotAuthenticate(t *testing.T) {
	e := startServer(t)
	conn := dial(t, e)
	prompt := readFrame(t, conn)
	require.Equal(t, "auth", prompt["type"])

	sendFrame(t, conn, map[string]any{
		"id": "1", "type": "login/login",
		"data": map[string]any{"app": testApp, "token": "wrong"},
	})
	reply := readFrame(t, conn)
	data := reply["data"].(map[string]any)
	require.Equal(t, json.Number("1"), data["status"])

	sendFrame(t, conn, map[string]any{"id": "2", "type": "setting/get", "data": map[string]any{"app": "server", "key": "x"}})
	next := readFrame(t, conn)
	assert.Equal(t, "Unauthorized", next["data"])
}

func TestReloginAllowed(t *testing.T) {
	e := startServer(t)
	conn := dial(t, e)
	login(t, e, conn)

	sendFrame(t, conn, map[string]any{
		"id": "again", "type": "login/login",
		"data": map[string]any{"app": testApp, "token": e.token},
	})
	reply := readFrame(t, conn)
	data := reply["data"].(map[string]any)
	assert.Equal(t, json.Number("0"), data["status"])
}

func TestTypeWithoutSlashKeepsConnection(t *testing.T) {
	e := startServer(t)
	conn := dial(t, e)
	login(t, e, conn)

	sendFrame(t, conn, map[string]any{"id": "3", "type": "ping", "data": map[string]any{}})
	reply := readFrame(t, conn)
	assert.Equal(t, "3", reply["id"])
	assert.Equal(t, "ping", reply["type"])
	assert.Equal(t, "error", reply["data"])

	// The connection survives the protocol error.
	sendFrame(t, conn, map[string]any{"id": "4", "type": "log/list", "data": map[string]any{}})
	next := readFrame(t, conn)
	assert.Equal(t, "4", next["id"])
}

func TestUnknownModule(t *testing.T) {
	e := startServer(t)
	conn := dial(t, e)
	login(t, e, conn)

	sendFrame(t, conn, map[string]any{"id": "9", "type": "nothing/here", "data": map[string]any{}})
	reply := readFrame(t, conn)
	assert.Equal(t, "error", reply["data"])

	sendFrame(t, conn, map[string]any{"id": "10", "type": "log/list", "data": map[string]any{}})
	next := readFrame(t, conn)
	assert.Equal(t, "10", next["id"])
}

func TestMalformedEnvelope(t *testing.T) {
	e := startServer(t)
	conn := dial(t, e)
	prompt := readFrame(t, conn)
	require.Equal(t, "auth", prompt["type"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{oops")))
	reply := readFrame(t, conn)
	assert.Equal(t, "error", reply["data"])
}

func TestBillRoundTripOverWire(t *testing.T) {
	e := startServer(t)
	conn := dial(t, e)
	login(t, e, conn)

	sendFrame(t, conn, map[string]any{
		"id": "b1", "type": "bill/add",
		"data": map[string]any{
			"type": 0, "currency": "CNY", "money": 3.14, "fee": 0,
			"time": 1700000000, "shopName": "shop", "shopItem": "",
			"cateName": "餐饮", "extendData": "", "bookName": "日常",
			"accountNameFrom": "", "accountNameTo": "", "fromApp": testApp,
			"groupId": 0, "channel": "", "syncFromApp": 0, "remark": "", "auto": 0,
		},
	})
	added := readFrame(t, conn)
	assert.Equal(t, json.Number("1"), added["data"])

	sendFrame(t, conn, map[string]any{"id": "b2", "type": "bill/list", "data": map[string]any{"page": 1, "size": 10}})
	listed := readFrame(t, conn)
	rows, ok := listed["data"].([]any)
	require.True(t, ok)
	require.Len(t, rows, 1)
	row := rows[0].(map[string]any)
	assert.Equal(t, json.Number("3.14"), row["money"])
	assert.Equal(t, "餐饮", row["cateName"])
}

func TestRepliesKeepRequestOrder(t *testing.T) {
	e := startServer(t)
	conn := dial(t, e)
	login(t, e, conn)

	for i, key := range []string{"a", "b", "c"} {
		sendFrame(t, conn, map[string]any{
			"id": key, "type": "setting/set",
			"data": map[string]any{"app": "server", "key": key, "val": i},
		})
	}
	for _, want := range []string{"a", "b", "c"} {
		reply := readFrame(t, conn)
		assert.Equal(t, want, reply["id"])
	}
}

func TestConnectionCapIsFatal(t *testing.T) {
	e := startServer(t, WithMaxConnections(1))
	first := dial(t, e)
	prompt := readFrame(t, first)
	require.Equal(t, "auth", prompt["type"])

	second := dial(t, e)
	require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := second.ReadMessage()
	assert.Error(t, err)

	select {
	case fatalErr := <-e.srv.Fatal():
		assert.ErrorIs(t, fatalErr, ErrTooManyConnections)
	case <-time.After(2 * time.Second):
		t.Fatal("no fatal signal after exceeding the connection cap")
	}
}

func TestMetricsCounters(t *testing.T) {
	metrics := &countingMetrics{}
	e := startServer(t, WithMetrics(metrics))
	conn := dial(t, e)
	login(t, e, conn)

	sendFrame(t, conn, map[string]any{"id": "1", "type": "log/list", "data": map[string]any{}})
	readFrame(t, conn)

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	assert.Equal(t, 1, metrics.opened)
	assert.Contains(t, metrics.requests, [3]string{"login", "login", "ok"})
	assert.Contains(t, metrics.requests, [3]string{"log", "list", "ok"})
}

func TestMetricsPageMounted(t *testing.T) {
	page := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "metrics ok")
	})
	e := startServer(t, WithMetricsPage(page))

	resp, err := http.Get("http://" + e.srv.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "metrics ok", string(body))
}
