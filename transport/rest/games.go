package rest

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rocketscienceinc/tictactoe-realtime/internal/apperror"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (that *Server) handleListGames(w http.ResponseWriter, r *http.Request) {
	games, err := that.coord.ListGames(r.Context())
	if err != nil {
		that.writeError(w, err)
		return
	}

	that.writeJSON(w, http.StatusOK, games)
}

func (that *Server) handleGetGame(w http.ResponseWriter, r *http.Request) {
	game, err := that.coord.GetGame(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		that.writeError(w, err)
		return
	}

	that.writeJSON(w, http.StatusOK, game)
}

func (that *Server) writeError(w http.ResponseWriter, err error) {
	kind := apperror.KindOf(err)

	status := http.StatusServiceUnavailable
	text := "service unavailable"

	switch kind {
	case apperror.KindNotFound:
		status, text = http.StatusNotFound, err.Error()
	case apperror.KindConflict:
		status, text = http.StatusConflict, err.Error()
	case apperror.KindBadRequest:
		status, text = http.StatusBadRequest, err.Error()
	default:
		that.logger.Error("request failed", "error", err)
	}

	that.writeJSON(w, status, errorResponse{Error: text, Kind: kind})
}

func (that *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		that.logger.Error("failed to write response", "error", err)
	}
}
