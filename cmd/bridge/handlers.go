package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tecu23/gtp-bridge/pkg/server"
)

const queryTimeout = 5 * time.Second

// bridge is what the status endpoint reads from the connection.
type bridge interface {
	Connected() bool
	Status(ctx context.Context) (server.Status, error)
	SGF(ctx context.Context, gameID int64) (string, bool, error)
}

// handleGames handles the GET /games endpoint
func (app *application) handleGames(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	st, err := app.Bridge.Status(ctx)
	if err != nil {
		app.Logger.Error("Status query failed", zap.Error(err))
		http.Error(w, "connection busy", http.StatusServiceUnavailable)
		return
	}
	app.writeJSON(w, http.StatusOK, st)
}

// handleSGF handles the GET /games/{id}/sgf endpoint
func (app *application) handleSGF(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid game id", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	sgf, found, err := app.Bridge.SGF(ctx, id)
	switch {
	case err != nil:
		app.Logger.Error("SGF export failed", zap.Int64("game_id", id), zap.Error(err))
		http.Error(w, "export failed", http.StatusInternalServerError)
	case !found:
		http.Error(w, "game not found", http.StatusNotFound)
	default:
		w.Header().Set("Content-Type", "application/x-go-sgf")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(sgf))
	}
}

func (app *application) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		app.Logger.Error("Error marshaling JSON", zap.Error(err))
	}
}
