package application

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rocketscienceinc/tictactoe-realtime/internal/config"
	"github.com/rocketscienceinc/tictactoe-realtime/internal/hub"
	"github.com/rocketscienceinc/tictactoe-realtime/internal/repository"
	"github.com/rocketscienceinc/tictactoe-realtime/internal/repository/storage"
	"github.com/rocketscienceinc/tictactoe-realtime/internal/usecase"
	"github.com/rocketscienceinc/tictactoe-realtime/transport/rest"
	"github.com/rocketscienceinc/tictactoe-realtime/transport/websocket"
)

type repositories struct {
	games   repository.GameRepository
	players repository.PlayerRepository
	close   func() error
}

// RunApp - runs the application until SIGINT or SIGTERM.
func RunApp(logger *slog.Logger, conf *config.Config) error {
	log := logger.With("component", "app")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repos, err := openRepositories(ctx, conf)
	if err != nil {
		return err
	}

	defer func() {
		if err = repos.close(); err != nil {
			log.Error("could not close storage", "error", err)
		}
	}()

	connections := hub.New(logger)
	coord := usecase.NewCoordinator(logger, repos.games, repos.players, connections, usecase.Options{
		IdleThreshold:      conf.Game.IdleThreshold,
		ReconnectGrace:     conf.Game.ReconnectGrace,
		DeleteFinishedSolo: conf.Game.FinishedSoloPolicy == config.PolicyDelete,
	})
	defer coord.Close()

	if err = coord.Restore(ctx); err != nil {
		return fmt.Errorf("could not restore sessions: %w", err)
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("Starting HTTP server", "port", conf.HTTPPort)
		if httpErr := rest.New(logger, coord).Start(ctx, conf.HTTPPort); httpErr != nil {
			return fmt.Errorf("HTTP server error: %w", httpErr)
		}

		return nil
	})

	group.Go(func() error {
		log.Info("Starting WebSocket server", "port", conf.SocketPort)
		if wsErr := websocket.New(logger, coord, connections).Start(ctx, conf.SocketPort); wsErr != nil {
			return fmt.Errorf("WebSocket server error: %w", wsErr)
		}

		return nil
	})

	group.Go(func() error {
		runSweeper(ctx, log, coord, conf.Game.SweepInterval)
		return nil
	})

	if err = group.Wait(); err != nil {
		return err
	}

	log.Info("Application context canceled, shutting down")

	return nil
}

func openRepositories(ctx context.Context, conf *config.Config) (*repositories, error) {
	switch conf.Storage.Driver {
	case config.StorageSQLite:
		conn, err := storage.NewSQLiteStorage(ctx, conf.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("could not open sqlite storage: %w", err)
		}

		return &repositories{
			games:   repository.NewSQLiteGameRepository(conn),
			players: repository.NewSQLitePlayerRepository(conn),
			close:   conn.Close,
		}, nil
	default:
		client, err := storage.NewRedisStorage(ctx, conf.Redis)
		if err != nil {
			return nil, fmt.Errorf("could not connect to redis storage: %w", err)
		}

		return &repositories{
			games:   repository.NewGameRepository(client),
			players: repository.NewPlayerRepository(client),
			close:   client.Close,
		}, nil
	}
}

type sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// runSweeper deletes idle games every interval until ctx is done.
func runSweeper(ctx context.Context, log *slog.Logger, coord sweeper, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := coord.Sweep(ctx); err != nil {
				log.Error("sweep failed", "error", err)
			}
		}
	}
}
