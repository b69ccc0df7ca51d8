package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/luciancaetano/kephasgame"
	apperrors "github.com/luciancaetano/kephasgame/internal/errors"
)

const maxBodyBytes = 64 << 10

type createGameRequest struct {
	Public    bool           `json:"public"`
	Protected bool           `json:"protected"`
	Config    map[string]any `json:"config,omitempty"`
}

type addPlayerRequest struct {
	Username string `json:"username"`
	Secret   string `json:"secret,omitempty"`
}

type errorResponse struct {
	Error    string            `json:"error"`
	Code     apperrors.Code    `json:"code"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"games":  s.registry.GameCount(),
	})
}

func (s *Server) listGames(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.registry.ListGames())
}

func (s *Server) createGame(w http.ResponseWriter, r *http.Request) {
	var req createGameRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	created, err := s.registry.CreateGame(kephasgame.CreateGameOptions{
		Public:    req.Public,
		Protected: req.Protected,
		Config:    req.Config,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) gameSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.registry.GameSummary(chi.URLParam(r, "gameId"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) closeGame(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.CloseGame(chi.URLParam(r, "gameId")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listPlayers(w http.ResponseWriter, r *http.Request) {
	players, err := s.registry.Players(chi.URLParam(r, "gameId"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, players)
}

func (s *Server) addPlayer(w http.ResponseWriter, r *http.Request) {
	var req addPlayerRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	joined, err := s.registry.AddPlayer(chi.URLParam(r, "gameId"), req.Username, req.Secret)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, joined)
}

func (s *Server) playerUsername(w http.ResponseWriter, r *http.Request) {
	username, err := s.registry.PlayerUsername(chi.URLParam(r, "gameId"), chi.URLParam(r, "playerId"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"username": username})
}

// decodeBody reads a JSON object into v. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperrors.Wrap(apperrors.CodeInvalidInput, "invalid request body", err)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error(), Code: apperrors.CodeOf(err)}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		resp.Metadata = appErr.Metadata
	}
	status := resp.Code.HTTPStatus()
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("request failed")
		resp.Error = "internal error"
	}
	s.writeJSON(w, status, resp)
}
