package session

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/kephasgame"
	apperrors "github.com/luciancaetano/kephasgame/internal/errors"
	"github.com/luciancaetano/kephasgame/internal/protocol"
	"github.com/luciancaetano/kephasgame/internal/websocket"
	"github.com/luciancaetano/kephasgame/internal/websocket/wstest"
)

const waitFor = 2 * time.Second

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// testFactory builds games whose players understand a handful of commands:
// echo, shout, fail, leave, end.
type testFactory struct {
	normalizeErr error

	mu    sync.Mutex
	hooks []*testHooks
}

func (f *testFactory) NormalizeConfig(raw map[string]any) (map[string]any, error) {
	if f.normalizeErr != nil {
		return nil, f.normalizeErr
	}
	out := map[string]any{"mode": "classic"}
	maps.Copy(out, raw)
	return out, nil
}

func (f *testFactory) NewGame(g *Game) GameHooks {
	h := &testHooks{game: g}
	f.mu.Lock()
	f.hooks = append(f.hooks, h)
	f.mu.Unlock()
	return h
}

func (f *testFactory) hooksFor(g *Game) *testHooks {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, h := range f.hooks {
		if h.game == g {
			return h
		}
	}
	return nil
}

type testHooks struct {
	game *Game

	mu    sync.Mutex
	calls []string
}

func (h *testHooks) record(call string) {
	h.mu.Lock()
	h.calls = append(h.calls, call)
	h.mu.Unlock()
}

func (h *testHooks) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.calls)
}

func (h *testHooks) NewPlayer(p *Player) CommandHandler {
	h.record("new:" + p.Username())
	return CommandHandlerFunc(func(_ context.Context, cmd protocol.Event) error {
		switch cmd.Name {
		case "echo":
			p.SendEvent(protocol.Event{Name: "echo", Data: cmd.Data})
		case "shout":
			h.game.BroadcastFrom(p.ID(), protocol.Event{Name: "shout", Data: cmd.Data})
		case "fail":
			return apperrors.New(apperrors.CodeInvalidInput, "bad move")
		case "boom":
			return errors.New("boom")
		case "leave":
			p.Leave()
		case "end":
			h.game.Close()
		default:
			return apperrors.Unhandled(cmd.Name)
		}
		return nil
	})
}

func (h *testHooks) PlayerJoined(p *Player) {
	h.record("joined:" + p.Username())
}

func (h *testHooks) PlayerLeft(p *Player) {
	state := "registered"
	if _, err := h.game.Player(p.ID()); err != nil {
		state = "missing"
	}
	h.record("left:" + p.Username() + ":" + state)
}

func testConfig() Config {
	return Config{
		MaxGames:          4,
		MaxPlayers:        2,
		MaxInactive:       10 * time.Minute,
		HeartbeatInterval: time.Hour,
		SweepInterval:     -1,
	}
}

func newTestRegistry(t *testing.T, cfg Config) (*Registry, *testFactory, *fakeClock) {
	t.Helper()
	factory := &testFactory{}
	clock := newFakeClock()
	r := NewRegistry(cfg, factory, zerolog.Nop(), WithClock(clock.Now))
	t.Cleanup(r.Stop)
	return r, factory, clock
}

func createGame(t *testing.T, r *Registry, opts kephasgame.CreateGameOptions) *Game {
	t.Helper()
	created, err := r.CreateGame(opts)
	require.NoError(t, err)
	g, err := r.Game(created.GameID)
	require.NoError(t, err)
	return g
}

func joinGame(t *testing.T, r *Registry, g *Game, username string) (*Player, kephasgame.JoinedPlayer) {
	t.Helper()
	joined, err := r.AddPlayer(g.ID(), username, g.secret)
	require.NoError(t, err)
	p, err := g.Player(joined.PlayerID)
	require.NoError(t, err)
	return p, joined
}

func dial(t *testing.T, r *Registry, path string, query url.Values) (*wstest.Conn, *websocket.Socket) {
	t.Helper()
	a, err := r.ResolveUpgrade(path, query)
	require.NoError(t, err)
	conn := wstest.NewConn()
	s, err := r.Connect(conn, a, "192.0.2.10:4000")
	require.NoError(t, err)
	t.Cleanup(s.Terminate)
	return conn, s
}

func dialPlayer(t *testing.T, r *Registry, p *Player) (*wstest.Conn, *websocket.Socket) {
	t.Helper()
	path := fmt.Sprintf("/games/%s/players/%s/connect", p.Game().ID(), p.ID())
	return dial(t, r, path, url.Values{"secret": {p.secret}})
}

func dialPlayerDebug(t *testing.T, r *Registry, p *Player) (*wstest.Conn, *websocket.Socket) {
	t.Helper()
	path := fmt.Sprintf("/games/%s/players/%s/debug", p.Game().ID(), p.ID())
	return dial(t, r, path, url.Values{"secret": {p.secret}})
}

func command(name string, data map[string]any) []byte {
	b, err := protocol.Encode(protocol.Event{Name: name, Data: data})
	if err != nil {
		panic(err)
	}
	return b
}

func waitForEvent(t *testing.T, conn *wstest.Conn, name string) protocol.Event {
	t.Helper()
	var found protocol.Event
	require.Eventually(t, func() bool {
		for _, ev := range conn.Events() {
			if ev.Name == name {
				found = ev
				return true
			}
		}
		return false
	}, waitFor, 5*time.Millisecond, "event %q never arrived", name)
	return found
}

func eventData(t *testing.T, ev protocol.Event) map[string]any {
	t.Helper()
	data, ok := ev.Data.(map[string]any)
	require.True(t, ok, "event %q has no object data", ev.Name)
	return data
}
