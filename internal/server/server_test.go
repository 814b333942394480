package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/toninas/internal/game"
)

type testEnv struct {
	hub   *Hub
	games *GameService
	http  *httptest.Server
}

func newTestEnv(t *testing.T, reply string) *testEnv {
	t.Helper()
	hub := NewHub(testLogger())
	hub.Start()
	games := NewGameService(baseConfig(), hub, testLogger(), WithDevices(boardDevices(reply)))
	srv := NewServer(games, hub, testLogger())
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		_ = games.Close()
		hub.Stop()
		ts.Close()
	})
	return &testEnv{hub: hub, games: games, http: ts}
}

func (e *testEnv) post(t *testing.T, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(e.http.URL+path, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp, decodeBody(t, resp)
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(e.http.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	before := e.hub.Count()
	url := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	require.Eventually(t, func() bool { return e.hub.Count() > before }, 5*time.Second, time.Millisecond)
	return ws
}

type wireEvent struct {
	Signal string          `json:"signal"`
	Value  json.RawMessage `json:"value"`
}

// readUntil reads events until one carries signal and returns every signal
// seen on the way.
func readUntil(t *testing.T, ws *websocket.Conn, signal string) ([]string, wireEvent) {
	t.Helper()
	var seen []string
	for {
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
		var ev wireEvent
		require.NoError(t, ws.ReadJSON(&ev))
		seen = append(seen, ev.Signal)
		if ev.Signal == signal {
			return seen, ev
		}
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "0000")

	resp, body := env.get(t, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, true, body["ok"])
	assert.EqualValues(t, 0, body["watchers"])
}

func TestGameRoutes(t *testing.T) {
	env := newTestEnv(t, "0000")

	resp, body := env.get(t, "/game")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "no_game", body["error"])

	resp, body = env.post(t, "/game/stop", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "no_game", body["error"])

	resp, body = env.post(t, "/game/start", `{"slot_qty": 6, "sender_blacklist": [0]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 4, body["conn_qty"])
	assert.EqualValues(t, 6, body["slot_qty"])
	assert.Equal(t, []any{0.0}, body["sender_blacklist"])
	assert.Len(t, body["sender_pos"], 4)
	assert.NotContains(t, body["sender_pos"], 0.0)
	id := body["id"]

	resp, body = env.get(t, "/game")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, body["id"])

	resp, body = env.post(t, "/game/restart", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["restarts"])

	resp, body = env.post(t, "/game/stop", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ended", body["state"])
	assert.Equal(t, "stopped", body["outcome"])
}

func TestStartWithoutBody(t *testing.T) {
	env := newTestEnv(t, "0000")

	resp, body := env.post(t, "/game/start", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "started", body["state"])
}

func TestStartErrors(t *testing.T) {
	env := newTestEnv(t, "0000")

	resp, body := env.post(t, "/game/start", `{"conn_qty":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "bad_json", body["error"])

	resp, body = env.post(t, "/game/start", `{"conn_qty": -4}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_config", body["error"])
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t, "0000")

	resp, body := env.get(t, "/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", body["error"])
}

func TestWatcherReceivesGame(t *testing.T) {
	env := newTestEnv(t, "1111")
	ws := env.dial(t)

	resp, _ := env.post(t, "/game/start", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	seen, _ := readUntil(t, ws, "win")
	assert.Equal(t, []string{"config", "status", "win"}, seen)
}

func TestWatcherCommands(t *testing.T) {
	env := newTestEnv(t, "0000")
	ws := env.dial(t)

	require.NoError(t, ws.WriteJSON(Command{Signal: CommandStart, Value: json.RawMessage(`{"conn_qty": 2}`)}))
	_, ev := readUntil(t, ws, "config")

	var snap game.Snapshot
	require.NoError(t, json.Unmarshal(ev.Value, &snap))
	assert.Equal(t, 2, snap.ConnQty)

	_, ev = readUntil(t, ws, "status")
	var state []int
	require.NoError(t, json.Unmarshal(ev.Value, &state))
	assert.Len(t, state, 2)

	require.NoError(t, ws.WriteJSON(Command{Signal: CommandStop}))
	require.Eventually(t, func() bool {
		snap, ok := env.games.Current()
		return ok && snap.Outcome == game.OutcomeStopped
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, ws.WriteJSON(Command{Signal: "dance"}))
	_, ev = readUntil(t, ws, "error")
	assert.Contains(t, string(ev.Value), "unknown command")
}

func TestWatcherGreetedWithCurrentGame(t *testing.T) {
	env := newTestEnv(t, "0000")

	resp, body := env.post(t, "/game/start", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ws := env.dial(t)
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev wireEvent
	require.NoError(t, ws.ReadJSON(&ev))
	require.Equal(t, "config", ev.Signal)

	var snap game.Snapshot
	require.NoError(t, json.Unmarshal(ev.Value, &snap))
	assert.Equal(t, body["id"], snap.ID)
}

func TestHubDropsClosedWatchers(t *testing.T) {
	env := newTestEnv(t, "0000")
	ws := env.dial(t)
	require.Equal(t, 1, env.hub.Count())

	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool { return env.hub.Count() == 0 }, 5*time.Second, time.Millisecond)

	require.NoError(t, env.hub.Publish(t.Context(), game.WinEvent()))
}
