package session

import (
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/kephasgame"
	apperrors "github.com/luciancaetano/kephasgame/internal/errors"
	"github.com/luciancaetano/kephasgame/internal/protocol"
	"github.com/luciancaetano/kephasgame/internal/websocket"
	"github.com/luciancaetano/kephasgame/internal/websocket/wstest"
)

func TestConnectGreetsWithConnected(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRegistry(t, testConfig())
	g := createGame(t, r, kephasgame.CreateGameOptions{Public: true})
	p, _ := joinGame(t, r, g, "alice")

	conn, _ := dialPlayer(t, r, p)

	ev := waitForEvent(t, conn, kephasgame.EventConnected)
	assert.Equal(t, map[string]any{
		"gameId":   g.ID(),
		"playerId": p.ID(),
		"username": "alice",
	}, eventData(t, ev))
	assert.Equal(t, kephasgame.EventConnected, conn.EventNames()[0])
}

func TestPlayerActivityFollowsConnections(t *testing.T) {
	t.Parallel()
	r, _, clock := newTestRegistry(t, testConfig())
	g := createGame(t, r, kephasgame.CreateGameOptions{Public: true})
	p, _ := joinGame(t, r, g, "alice")

	assert.False(t, p.Active())
	assert.Equal(t, clock.Now(), p.InactiveSince())

	_, first := dialPlayer(t, r, p)
	_, second := dialPlayer(t, r, p)
	assert.True(t, p.Active())
	assert.True(t, p.InactiveSince().IsZero())
	assert.Equal(t, 2, p.SocketCount())

	clock.Advance(time.Minute)
	first.Terminate()
	assert.True(t, p.Active())
	assert.True(t, p.InactiveSince().IsZero())

	clock.Advance(time.Minute)
	second.Terminate()
	assert.False(t, p.Active())
	assert.Equal(t, clock.Now(), p.InactiveSince())

	// Removing an unknown socket leaves the timestamp alone.
	clock.Advance(time.Minute)
	p.RemoveGameSocket(first)
	assert.Equal(t, clock.Now().Add(-time.Minute), p.InactiveSince())
}

func TestSendEventExcludesSockets(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRegistry(t, testConfig())
	g := createGame(t, r, kephasgame.CreateGameOptions{Public: true})
	p, _ := joinGame(t, r, g, "alice")

	phone, phoneSocket := dialPlayer(t, r, p)
	laptop, _ := dialPlayer(t, r, p)

	p.SendEvent(protocol.Event{Name: "private"}, phoneSocket.ID())
	p.SendEvent(protocol.Event{Name: "marker"})

	waitForEvent(t, laptop, "private")
	waitForEvent(t, phone, "marker")
	assert.NotContains(t, phone.EventNames(), "private")
}

func TestCommandDispatch(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRegistry(t, testConfig())
	g := createGame(t, r, kephasgame.CreateGameOptions{Public: true})
	p, _ := joinGame(t, r, g, "alice")
	conn, _ := dialPlayer(t, r, p)

	conn.Deliver(command("echo", map[string]any{"n": 7.0}))
	ev := waitForEvent(t, conn, "echo")
	assert.Equal(t, map[string]any{"n": 7.0}, ev.Data)
}

func TestCommandErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		frame       []byte
		wantMessage string
		wantCode    apperrors.Code
	}{
		{name: "invalid json", frame: []byte("not json"), wantMessage: kephasgame.ErrInvalidMessageFormat, wantCode: apperrors.CodeInvalidInput},
		{name: "missing name", frame: []byte(`{"data":{}}`), wantMessage: kephasgame.ErrInvalidMessageFormat, wantCode: apperrors.CodeInvalidInput},
		{name: "domain error", frame: command("fail", nil), wantMessage: "bad move", wantCode: apperrors.CodeInvalidInput},
		{name: "plain error", frame: command("boom", nil), wantMessage: "boom", wantCode: apperrors.CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r, _, _ := newTestRegistry(t, testConfig())
			g := createGame(t, r, kephasgame.CreateGameOptions{Public: true})
			p, _ := joinGame(t, r, g, "alice")
			conn, _ := dialPlayer(t, r, p)

			conn.Deliver(tt.frame)
			ev := waitForEvent(t, conn, kephasgame.EventError)
			data := eventData(t, ev)
			assert.Equal(t, tt.wantMessage, data["message"])
			assert.Equal(t, string(tt.wantCode), data["code"])
			assert.False(t, conn.Closed())
		})
	}
}

func TestUnhandledCommandIsIgnored(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRegistry(t, testConfig())
	g := createGame(t, r, kephasgame.CreateGameOptions{Public: true})
	p, _ := joinGame(t, r, g, "alice")
	conn, _ := dialPlayer(t, r, p)
	debug, _ := dialPlayerDebug(t, r, p)

	conn.Deliver(command("dance", nil))
	conn.Deliver(command("echo", nil))
	waitForEvent(t, conn, "echo")

	assert.NotContains(t, conn.EventNames(), kephasgame.EventError)
	assert.False(t, conn.Closed())

	require.Eventually(t, func() bool {
		return slices.ContainsFunc(debug.Events(), func(ev protocol.Event) bool {
			data, ok := ev.Data.(map[string]any)
			return ok && data["message"] == "unhandled command"
		})
	}, waitFor, 5*time.Millisecond)
}

func TestNopHooksReportUnhandled(t *testing.T) {
	t.Parallel()

	err := NopHooks{}.NewPlayer(nil).HandleCommand(t.Context(), protocol.Event{Name: "jump"})
	assert.ErrorIs(t, err, apperrors.ErrUnhandled)
}

func TestLeave(t *testing.T) {
	t.Parallel()
	r, factory, _ := newTestRegistry(t, testConfig())
	g := createGame(t, r, kephasgame.CreateGameOptions{Public: true})
	alice, _ := joinGame(t, r, g, "alice")
	bob, _ := joinGame(t, r, g, "bob")
	aliceConn, _ := dialPlayer(t, r, alice)
	bobConn, _ := dialPlayer(t, r, bob)

	aliceConn.Deliver(command("leave", nil))

	assert.Eventually(t, func() bool { return g.PlayerCount() == 1 }, waitFor, 5*time.Millisecond)
	assert.True(t, aliceConn.Closed())
	assert.Contains(t, factory.hooksFor(g).Calls(), "left:alice:registered")

	ev := waitForEvent(t, bobConn, kephasgame.EventPlayerLeft)
	assert.Equal(t, alice.ID(), eventData(t, ev)["playerId"])

	// A removed player cannot be reattached.
	_, err := r.Resolve(Route{Kind: RouteConnect, GameID: g.ID(), PlayerID: alice.ID(), Secret: alice.secret})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestLeaveRefusesReconnectWhileRemovalIsPending(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRegistry(t, testConfig())
	g := createGame(t, r, kephasgame.CreateGameOptions{Public: true})
	p, _ := joinGame(t, r, g, "alice")

	// Holding the game logic keeps the removal queued behind it.
	g.logicMu.Lock()
	p.Leave()

	a, err := r.Resolve(Route{Kind: RouteConnect, GameID: g.ID(), PlayerID: p.ID(), Secret: p.secret})
	require.NoError(t, err, "the player is still registered")
	conn := wstest.NewConn()
	s, err := r.Connect(conn, a, "192.0.2.10:4000")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Nil(t, s)
	assert.True(t, conn.Closed())
	assert.Zero(t, p.SocketCount())

	g.logicMu.Unlock()
	assert.Eventually(t, func() bool { return g.PlayerCount() == 0 }, waitFor, 5*time.Millisecond)
	assert.Zero(t, p.SocketCount())
}

func TestRemovePlayerTerminatesConnections(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRegistry(t, testConfig())
	g := createGame(t, r, kephasgame.CreateGameOptions{Public: true})
	p, _ := joinGame(t, r, g, "alice")
	conn, s := dialPlayer(t, r, p)
	debugConn, _ := dialPlayerDebug(t, r, p)

	require.NoError(t, g.RemovePlayer(p))

	assert.Equal(t, websocket.StateTerminated, s.State())
	assert.True(t, conn.Closed())
	assert.True(t, debugConn.Closed())
	assert.Zero(t, p.SocketCount())
	assert.Zero(t, p.Debug().Count())

	_, err := r.Resolve(Route{Kind: RouteConnect, GameID: g.ID(), PlayerID: p.ID(), Secret: p.secret})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestClosedPlayerRefusesSocketsAndCommands(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRegistry(t, testConfig())
	g := createGame(t, r, kephasgame.CreateGameOptions{Public: true})
	p, _ := joinGame(t, r, g, "alice")

	p.close()

	late := websocket.NewSocket(wstest.NewConn(), p, websocket.Options{Kind: websocket.KindGame})
	assert.ErrorIs(t, p.AddGameSocket(late), apperrors.ErrNotFound)
	assert.Zero(t, p.SocketCount())

	// Frames that were already in flight are answered, never dispatched.
	conn := wstest.NewConn()
	s := websocket.NewSocket(conn, p, websocket.Options{Kind: websocket.KindGame})
	s.Start()
	t.Cleanup(s.Terminate)

	p.HandleMessage(s, command("end", nil))
	ev := waitForEvent(t, conn, kephasgame.EventError)
	assert.Equal(t, string(apperrors.CodeNotFound), eventData(t, ev)["code"])
	assert.False(t, g.isClosed(), "the end command never ran")
}

func TestGameTerminateClosesPlayers(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRegistry(t, testConfig())
	g := createGame(t, r, kephasgame.CreateGameOptions{Public: true})
	p, _ := joinGame(t, r, g, "alice")

	g.Terminate()

	assert.True(t, p.isClosed())
	late := websocket.NewSocket(wstest.NewConn(), p, websocket.Options{Kind: websocket.KindGame})
	assert.ErrorIs(t, p.AddGameSocket(late), apperrors.ErrNotFound)
	assert.Zero(t, p.SocketCount())
}

func TestPlayerVerifySecret(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRegistry(t, testConfig())
	g := createGame(t, r, kephasgame.CreateGameOptions{Public: true})
	p, joined := joinGame(t, r, g, "alice")

	assert.True(t, p.VerifySecret(joined.PlayerSecret))
	assert.False(t, p.VerifySecret(""))
	assert.False(t, p.VerifySecret(joined.PlayerSecret[:63]))
}

func TestGameVerifySecret(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRegistry(t, testConfig())

	open := createGame(t, r, kephasgame.CreateGameOptions{Public: true})
	assert.True(t, open.VerifySecret(""))
	assert.True(t, open.VerifySecret("anything"))

	locked := createGame(t, r, kephasgame.CreateGameOptions{Public: true, Protected: true})
	assert.True(t, locked.VerifySecret(locked.secret))
	assert.False(t, locked.VerifySecret(""))
}
