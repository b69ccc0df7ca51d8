// Package chat is a small chat-room game used by the default binary and as
// an example of plugging game logic into a session registry.
package chat

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	apperrors "github.com/luciancaetano/kephasgame/internal/errors"
	"github.com/luciancaetano/kephasgame/internal/protocol"
	"github.com/luciancaetano/kephasgame/internal/session"
)

// Commands understood by chat players.
const (
	CommandSay    = "say"
	CommandWho    = "who"
	CommandLock   = "lock"
	CommandUnlock = "unlock"
	CommandLeave  = "leave"
)

// Events sent by the chat game.
const (
	EventMessage = "chat_message"
	EventUsers   = "chat_users"
	EventLocked  = "chat_locked"
)

const (
	DefaultTopic            = "general"
	DefaultMaxMessageLength = 500

	maxTopicLength   = 64
	maxMessageLength = 4000
)

// Factory creates chat rooms.
type Factory struct {
	now func() time.Time
}

var _ session.Factory = (*Factory)(nil)

// NewFactory returns a chat factory.
func NewFactory() *Factory {
	return &Factory{now: time.Now}
}

// NormalizeConfig accepts "topic" (string) and "maxMessageLength" (integer)
// and fills in defaults. Unknown keys are rejected.
func (f *Factory) NormalizeConfig(raw map[string]any) (map[string]any, error) {
	out := map[string]any{
		"topic":            DefaultTopic,
		"maxMessageLength": DefaultMaxMessageLength,
	}

	for key, value := range raw {
		switch key {
		case "topic":
			topic, ok := value.(string)
			if !ok {
				return nil, errors.New("topic must be a string")
			}
			topic = strings.TrimSpace(topic)
			if topic == "" || len(topic) > maxTopicLength {
				return nil, fmt.Errorf("topic must be 1 to %d characters", maxTopicLength)
			}
			out["topic"] = topic

		case "maxMessageLength":
			n, ok := toInt(value)
			if !ok || n < 1 || n > maxMessageLength {
				return nil, fmt.Errorf("maxMessageLength must be an integer between 1 and %d", maxMessageLength)
			}
			out["maxMessageLength"] = n

		default:
			return nil, fmt.Errorf("unknown config key %q", key)
		}
	}
	return out, nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		if n != math.Trunc(n) || n > math.MaxInt32 || n < math.MinInt32 {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

// NewGame implements session.Factory.
func (f *Factory) NewGame(g *session.Game) session.GameHooks {
	cfg := g.Config()
	topic, _ := cfg["topic"].(string)
	maxLen, _ := cfg["maxMessageLength"].(int)
	return &room{
		game:   g,
		topic:  topic,
		maxLen: maxLen,
		now:    f.now,
	}
}

type room struct {
	session.NopHooks

	game   *session.Game
	topic  string
	maxLen int
	now    func() time.Time
}

func (r *room) NewPlayer(p *session.Player) session.CommandHandler {
	return &member{room: r, player: p}
}

type member struct {
	room   *room
	player *session.Player
}

func (m *member) HandleCommand(_ context.Context, cmd protocol.Event) error {
	switch cmd.Name {
	case CommandSay:
		return m.say(cmd)
	case CommandWho:
		m.who()
		return nil
	case CommandLock:
		m.room.game.DisallowJoining()
		m.room.game.BroadcastEvent(protocol.Event{Name: EventLocked, Data: map[string]any{"locked": true, "by": m.player.ID()}})
		return nil
	case CommandUnlock:
		m.room.game.AllowJoining()
		m.room.game.BroadcastEvent(protocol.Event{Name: EventLocked, Data: map[string]any{"locked": false, "by": m.player.ID()}})
		return nil
	case CommandLeave:
		m.player.Leave()
		return nil
	default:
		return apperrors.Unhandled(cmd.Name)
	}
}

func (m *member) say(cmd protocol.Event) error {
	data, _ := cmd.Data.(map[string]any)
	text, _ := data["text"].(string)
	text = strings.TrimSpace(text)
	if text == "" {
		return apperrors.New(apperrors.CodeInvalidInput, "text is required")
	}
	if len([]rune(text)) > m.room.maxLen {
		return apperrors.WithMetadata(apperrors.CodeInvalidInput, "message too long", map[string]string{
			"maxMessageLength": fmt.Sprint(m.room.maxLen),
		})
	}

	m.room.game.BroadcastFrom(m.player.ID(), protocol.Event{
		Name: EventMessage,
		Data: map[string]any{
			"topic":    m.room.topic,
			"username": m.player.Username(),
			"text":     text,
			"time":     m.room.now().UTC().Format(time.RFC3339),
		},
	})
	return nil
}

func (m *member) who() {
	players := m.room.game.Players()
	users := make([]map[string]any, 0, len(players))
	for _, p := range players {
		users = append(users, map[string]any{
			"playerId": p.ID(),
			"username": p.Username(),
			"active":   p.Active(),
		})
	}
	slices.SortFunc(users, func(a, b map[string]any) int {
		return strings.Compare(a["username"].(string), b["username"].(string))
	})
	m.player.SendEvent(protocol.Event{
		Name: EventUsers,
		Data: map[string]any{"topic": m.room.topic, "users": users},
	})
}
