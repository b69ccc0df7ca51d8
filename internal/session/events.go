package session

import (
	"github.com/luciancaetano/kephasgame"
	apperrors "github.com/luciancaetano/kephasgame/internal/errors"
	"github.com/luciancaetano/kephasgame/internal/protocol"
)

func notFound(message, key, value string) *apperrors.Error {
	return apperrors.WithMetadata(apperrors.CodeNotFound, message, map[string]string{key: value})
}

func unhandledCommand(name string) error {
	return apperrors.Unhandled(name)
}

// errorEvent reports err to a single connection.
func errorEvent(err error) protocol.Event {
	return protocol.Event{
		Name: kephasgame.EventError,
		Data: map[string]any{
			"message": err.Error(),
			"code":    string(apperrors.CodeOf(err)),
		},
	}
}

func readOnlyEvent() protocol.Event {
	return errorEvent(apperrors.New(apperrors.CodeInvalidInput, kephasgame.ErrReadOnlyConnection))
}

func connectedEvent(p *Player) protocol.Event {
	return protocol.Event{
		Name: kephasgame.EventConnected,
		Data: map[string]any{
			"gameId":   p.game.id,
			"playerId": p.id,
			"username": p.username,
		},
	}
}

func playerJoinedEvent(p *Player) protocol.Event {
	return protocol.Event{
		Name: kephasgame.EventPlayerJoined,
		Data: map[string]any{
			"playerId": p.id,
			"username": p.username,
		},
	}
}

func playerLeftEvent(p *Player) protocol.Event {
	return protocol.Event{
		Name: kephasgame.EventPlayerLeft,
		Data: map[string]any{"playerId": p.id},
	}
}
