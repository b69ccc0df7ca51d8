package session

import (
	"net/url"
	"strings"

	apperrors "github.com/luciancaetano/kephasgame/internal/errors"
)

// RouteKind identifies one of the upgrade endpoints.
type RouteKind string

const (
	RouteServerDebug RouteKind = "server-debug" // /server-debug
	RouteSpectate    RouteKind = "spectate"     // /games/{gameId}/spectate
	RouteGameDebug   RouteKind = "game-debug"   // /games/{gameId}/debug
	RouteConnect     RouteKind = "connect"      // /games/{gameId}/players/{playerId}/connect?secret=
	RoutePlayerDebug RouteKind = "player-debug" // /games/{gameId}/players/{playerId}/debug?secret=
)

// Route is a parsed upgrade path.
type Route struct {
	Kind     RouteKind
	GameID   string
	PlayerID string
	Secret   string
}

// ParseRoute maps an upgrade path and query onto a Route. It only checks
// shape; lookups and secret verification happen in Registry.Resolve.
func ParseRoute(path string, query url.Values) (Route, error) {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for _, s := range segments {
		if s == "" {
			return Route{}, malformed(path)
		}
	}

	switch {
	case len(segments) == 1 && segments[0] == "server-debug":
		return Route{Kind: RouteServerDebug}, nil

	case len(segments) == 3 && segments[0] == "games":
		switch segments[2] {
		case "spectate":
			return Route{Kind: RouteSpectate, GameID: segments[1]}, nil
		case "debug":
			return Route{Kind: RouteGameDebug, GameID: segments[1]}, nil
		}

	case len(segments) == 5 && segments[0] == "games" && segments[2] == "players":
		var kind RouteKind
		switch segments[4] {
		case "connect":
			kind = RouteConnect
		case "debug":
			kind = RoutePlayerDebug
		default:
			return Route{}, malformed(path)
		}
		secret := query.Get("secret")
		if secret == "" {
			return Route{}, apperrors.New(apperrors.CodeInvalidInput, "secret is required")
		}
		return Route{Kind: kind, GameID: segments[1], PlayerID: segments[3], Secret: secret}, nil
	}

	return Route{}, malformed(path)
}

func malformed(path string) error {
	return apperrors.WithMetadata(apperrors.CodeInvalidInput, "unknown upgrade path", map[string]string{"path": path})
}
