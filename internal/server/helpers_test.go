package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/kephasgame"
	"github.com/luciancaetano/kephasgame/internal/games/chat"
	"github.com/luciancaetano/kephasgame/internal/protocol"
	"github.com/luciancaetano/kephasgame/internal/server"
	"github.com/luciancaetano/kephasgame/internal/session"
)

type testEnv struct {
	srv *server.Server
	ts  *httptest.Server
}

func newTestEnv(t *testing.T, cfg session.Config, checkOrigin server.CheckOriginFn) *testEnv {
	t.Helper()
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = time.Hour
	}
	registry := session.NewRegistry(cfg, chat.NewFactory(), zerolog.Nop())
	srv := server.New(server.Config{CheckOrigin: checkOrigin}, registry, zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		_ = srv.Stop(context.Background())
		ts.Close()
	})
	return &testEnv{srv: srv, ts: ts}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	require.NoError(t, err)
	resp, err := e.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (e *testEnv) createGame(t *testing.T, req map[string]any) kephasgame.CreatedGame {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/api/games", req)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var created kephasgame.CreatedGame
	require.NoError(t, json.Unmarshal(body, &created))
	return created
}

func (e *testEnv) addPlayer(t *testing.T, gameID, username, joinSecret string) kephasgame.JoinedPlayer {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/api/games/"+gameID+"/players", map[string]any{
		"username": username,
		"secret":   joinSecret,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var joined kephasgame.JoinedPlayer
	require.NoError(t, json.Unmarshal(body, &joined))
	return joined
}

func (e *testEnv) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(e.ts.URL, "http") + path
}

func (e *testEnv) dial(t *testing.T, path string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(e.wsURL(path), header)
	if conn != nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, resp, err
}

func (e *testEnv) mustDial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	conn, _, err := e.dial(t, path, nil)
	require.NoError(t, err)
	return conn
}

func connectPath(gameID string, joined kephasgame.JoinedPlayer) string {
	return "/games/" + gameID + "/players/" + joined.PlayerID + "/connect?secret=" + joined.PlayerSecret
}

type received struct {
	origin string
	event  protocol.Event
}

// readUntil reads frames until one carries an event named name.
func readUntil(t *testing.T, conn *websocket.Conn, name string) received {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %q", name)
		if ev, err := protocol.Decode(data); err == nil {
			if ev.Name == name {
				return received{event: ev}
			}
			continue
		}
		if origin, ev, err := protocol.DecodeEnvelope(data); err == nil && ev.Name == name {
			return received{origin: origin, event: ev}
		}
	}
}

func sendCommand(t *testing.T, conn *websocket.Conn, name string, data map[string]any) {
	t.Helper()
	b, err := protocol.Encode(protocol.Event{Name: name, Data: data})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, b))
}
