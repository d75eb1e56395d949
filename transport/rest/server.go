package rest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rocketscienceinc/tictactoe-realtime/internal/entity"
)

const shutdownTimeout = 5 * time.Second

type coordinator interface {
	GetGame(ctx context.Context, gameID string) (*entity.Game, error)
	ListGames(ctx context.Context) ([]*entity.Game, error)
}

type Server struct {
	logger *slog.Logger
	coord  coordinator
}

func New(logger *slog.Logger, coord coordinator) *Server {
	return &Server{
		logger: logger.With("component", "rest"),
		coord:  coord,
	}
}

func (that *Server) Router() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Get("/ping", that.handlePing)
	router.Get("/games", that.handleListGames)
	router.Get("/games/{id}", that.handleGetGame)

	return router
}

// Start - starts HTTP server and shuts it down when ctx is done.
func (that *Server) Start(ctx context.Context, port string) error {
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      that.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	return nil
}
