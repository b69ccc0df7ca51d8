package session

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/luciancaetano/kephasgame/internal/errors"
)

func TestParseRoute(t *testing.T) {
	t.Parallel()

	withSecret := url.Values{"secret": {"s3cr3t"}}

	tests := []struct {
		name     string
		path     string
		query    url.Values
		want     Route
		wantCode apperrors.Code
	}{
		{name: "server debug", path: "/server-debug", want: Route{Kind: RouteServerDebug}},
		{name: "trailing slash", path: "/server-debug/", want: Route{Kind: RouteServerDebug}},
		{name: "spectate", path: "/games/g1/spectate", want: Route{Kind: RouteSpectate, GameID: "g1"}},
		{name: "game debug", path: "/games/g1/debug", want: Route{Kind: RouteGameDebug, GameID: "g1"}},
		{
			name:  "connect",
			path:  "/games/g1/players/p1/connect",
			query: withSecret,
			want:  Route{Kind: RouteConnect, GameID: "g1", PlayerID: "p1", Secret: "s3cr3t"},
		},
		{
			name:  "player debug",
			path:  "/games/g1/players/p1/debug",
			query: withSecret,
			want:  Route{Kind: RoutePlayerDebug, GameID: "g1", PlayerID: "p1", Secret: "s3cr3t"},
		},
		{name: "connect without secret", path: "/games/g1/players/p1/connect", wantCode: apperrors.CodeInvalidInput},
		{name: "empty secret", path: "/games/g1/players/p1/debug", query: url.Values{"secret": {""}}, wantCode: apperrors.CodeInvalidInput},
		{name: "root", path: "/", wantCode: apperrors.CodeInvalidInput},
		{name: "empty game id", path: "/games//spectate", wantCode: apperrors.CodeInvalidInput},
		{name: "unknown action", path: "/games/g1/play", wantCode: apperrors.CodeInvalidInput},
		{name: "unknown player action", path: "/games/g1/players/p1/kick", query: withSecret, wantCode: apperrors.CodeInvalidInput},
		{name: "wrong collection", path: "/games/g1/teams/p1/connect", query: withSecret, wantCode: apperrors.CodeInvalidInput},
		{name: "too long", path: "/games/g1/players/p1/connect/now", query: withSecret, wantCode: apperrors.CodeInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseRoute(tt.path, tt.query)
			if tt.wantCode != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, apperrors.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
