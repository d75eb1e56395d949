package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rocketscienceinc/tictactoe-realtime/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-realtime/internal/entity"
	"github.com/rocketscienceinc/tictactoe-realtime/internal/pkg"
)

const (
	DefaultIdleThreshold = 5 * time.Minute

	maxGameIDAttempts = 5
)

type gameRepo interface {
	CreateOrUpdate(ctx context.Context, game *entity.Game) error
	GetByID(ctx context.Context, id string) (*entity.Game, error)
	DeleteByID(ctx context.Context, id string) error
	List(ctx context.Context) ([]*entity.Game, error)
}

type playerRepo interface {
	CreateOrUpdate(ctx context.Context, player *entity.Player) error
	GetByToken(ctx context.Context, token string) (*entity.Player, error)
}

// broadcaster delivers events to live connections. Sends never block.
type broadcaster interface {
	Subscribe(playerID, gameID string)
	Unsubscribe(playerID, gameID string)
	SendToPlayer(playerID, event string, payload any)
	SendToGame(gameID, event string, payload any)
	SendToLobby(event string, payload any)
	// IsOnline reports whether playerID has a live connection.
	IsOnline(playerID string) bool
}

type Options struct {
	// IdleThreshold is how long an empty game survives without activity.
	IdleThreshold time.Duration
	// ReconnectGrace delays the disconnect of a player whose connection dropped.
	// Zero disconnects immediately.
	ReconnectGrace time.Duration
	// DeleteFinishedSolo deletes a finished game as soon as one player leaves it
	// instead of keeping it for the remaining player to restart.
	DeleteFinishedSolo bool

	Now       func() time.Time
	NewGameID func() (string, error)
}

// Coordinator owns the authoritative state of every game. Work on a single
// game is serialized by a per-game lock held from read to broadcast.
type Coordinator struct {
	logger      *slog.Logger
	gameRepo    gameRepo
	playerRepo  playerRepo
	broadcaster broadcaster
	opts        Options

	locks    *keyedMutex
	sessions *sessionTable

	lobbyMu sync.Mutex

	presenceMu sync.Mutex
	online     map[string]struct{}
	pending    map[string]*pendingDisconnect
}

type pendingDisconnect struct {
	timer *time.Timer
}

func NewCoordinator(logger *slog.Logger, gameRepo gameRepo, playerRepo playerRepo, broadcaster broadcaster, opts Options) *Coordinator {
	if opts.IdleThreshold <= 0 {
		opts.IdleThreshold = DefaultIdleThreshold
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	if opts.NewGameID == nil {
		opts.NewGameID = pkg.GenerateGameID
	}

	return &Coordinator{
		logger:      logger.With("component", "coordinator"),
		gameRepo:    gameRepo,
		playerRepo:  playerRepo,
		broadcaster: broadcaster,
		opts:        opts,

		locks:    newKeyedMutex(),
		sessions: newSessionTable(),

		online:  make(map[string]struct{}),
		pending: make(map[string]*pendingDisconnect),
	}
}

// Connect resolves a player token into a durable player, issuing a new
// identity when the token is empty or unknown, and marks the player online.
func (that *Coordinator) Connect(ctx context.Context, token string) (*entity.Player, error) {
	log := that.logger.With("method", "Connect")

	player, err := that.getOrCreatePlayer(ctx, token)
	if err != nil {
		log.Error("failed to get or create player", "error", err)
		return nil, apperror.Unavailable(err)
	}

	that.markOnline(player.ID)

	log.Info("player connected", "playerID", player.ID)

	return player, nil
}

// CreateGame opens a new waiting game owned by playerID.
func (that *Coordinator) CreateGame(ctx context.Context, playerID string) (*entity.Game, error) {
	log := that.logger.With("method", "CreateGame", "playerID", playerID)

	gameID, err := that.newGameID(ctx)
	if err != nil {
		that.logFailure(log, "failed to allocate game id", err)
		return nil, err
	}

	unlock := that.locks.Lock(gameID)

	game := entity.NewGame(gameID, playerID, that.opts.Now())
	if err = that.saveGame(ctx, game); err != nil {
		unlock()
		that.logFailure(log, "failed to create game", err)
		return nil, err
	}

	that.attach(playerID, gameID)
	that.broadcaster.SendToPlayer(playerID, EventGameCreated, GamePayload{Game: game.Clone()})

	unlock()

	that.publishLobby(ctx)

	log.Info("game created", "gameID", gameID)

	return game, nil
}

// JoinGame seats playerID in gameID. Joining a game the player already sits
// in only re-subscribes and re-sends the current state.
func (that *Coordinator) JoinGame(ctx context.Context, playerID, gameID string) (*entity.Game, error) {
	log := that.logger.With("method", "JoinGame", "playerID", playerID, "gameID", gameID)

	unlock := that.locks.Lock(gameID)
	game, seated, err := that.join(ctx, playerID, gameID)
	unlock()

	if err != nil {
		that.logFailure(log, "failed to join game", err)
		return nil, err
	}

	if seated {
		that.publishLobby(ctx)
		log.Info("player joined game")
	}

	return game, nil
}

func (that *Coordinator) join(ctx context.Context, playerID, gameID string) (*entity.Game, bool, error) {
	game, err := that.getGame(ctx, gameID)
	if err != nil {
		return nil, false, err
	}

	if err = game.ConfirmJoinable(); err != nil {
		return nil, false, err
	}

	if game.HasPlayer(playerID) {
		that.attach(playerID, gameID)
		that.broadcaster.SendToPlayer(playerID, EventGameJoined, GamePayload{Game: game.Clone()})

		return game, false, nil
	}

	displaced, err := game.AddPlayer(playerID, that.isVacated, that.opts.Now())
	if err != nil {
		return nil, false, err
	}

	if err = that.saveGame(ctx, game); err != nil {
		return nil, false, err
	}

	if displaced != "" {
		that.detach(displaced, gameID)
		that.broadcaster.SendToGame(gameID, EventPlayerLeft, PlayerEventPayload{GameID: gameID, PlayerID: displaced})
	}

	that.attach(playerID, gameID)
	that.broadcaster.SendToGame(gameID, EventGameUpdate, GamePayload{Game: game.Clone()})
	that.broadcaster.SendToPlayer(playerID, EventGameJoined, GamePayload{Game: game.Clone()})

	return game, true, nil
}

// MakeMove places the player's mark on cell and settles the outcome.
func (that *Coordinator) MakeMove(ctx context.Context, playerID, gameID string, cell int) (*entity.Game, error) {
	log := that.logger.With("method", "MakeMove", "playerID", playerID, "gameID", gameID, "cell", cell)

	unlock := that.locks.Lock(gameID)
	game, lobbyChanged, err := that.move(ctx, playerID, gameID, cell)
	unlock()

	if err != nil {
		that.logFailure(log, "failed to make move", err)
		return nil, err
	}

	if lobbyChanged {
		that.publishLobby(ctx)
	}

	if game.IsFinished() {
		log.Info("game finished", "winner", game.Winner)
	}

	return game, nil
}

func (that *Coordinator) move(ctx context.Context, playerID, gameID string, cell int) (*entity.Game, bool, error) {
	game, err := that.getGame(ctx, gameID)
	if err != nil {
		return nil, false, err
	}

	listedBefore := that.isListed(game)

	if err = game.MakeMove(playerID, cell, that.opts.Now()); err != nil {
		return nil, false, err
	}

	if err = that.saveGame(ctx, game); err != nil {
		return nil, false, err
	}

	that.broadcaster.SendToGame(gameID, EventGameUpdate, GamePayload{Game: game.Clone()})

	return game, listedBefore || that.isListed(game), nil
}

// RestartGame starts a new round with the same players.
func (that *Coordinator) RestartGame(ctx context.Context, playerID, gameID string) (*entity.Game, error) {
	log := that.logger.With("method", "RestartGame", "playerID", playerID, "gameID", gameID)

	unlock := that.locks.Lock(gameID)
	defer unlock()

	game, err := that.getGame(ctx, gameID)
	if err != nil {
		that.logFailure(log, "failed to restart game", err)
		return nil, err
	}

	if !game.HasPlayer(playerID) {
		return nil, apperror.ErrPlayerNotInGame
	}

	game.Restart(that.opts.Now())

	if err = that.saveGame(ctx, game); err != nil {
		that.logFailure(log, "failed to restart game", err)
		return nil, err
	}

	that.broadcaster.SendToGame(gameID, EventGameUpdate, GamePayload{Game: game.Clone()})

	log.Info("game restarted")

	return game, nil
}

// LeaveGame removes playerID from gameID. Leaving a game that does not exist
// is a no-op.
func (that *Coordinator) LeaveGame(ctx context.Context, playerID, gameID string) error {
	log := that.logger.With("method", "LeaveGame", "playerID", playerID, "gameID", gameID)

	left, err := that.leave(ctx, playerID, gameID, false)
	if err != nil {
		that.logFailure(log, "failed to leave game", err)
		return err
	}

	if left {
		that.publishLobby(ctx)
		log.Info("player left game")
	}

	return nil
}

// ConnectionLost marks playerID offline. Its seats are released once the
// reconnect grace runs out without a new connection. A report that arrives
// after a newer connection took over is ignored.
func (that *Coordinator) ConnectionLost(ctx context.Context, playerID string) {
	if that.markOffline(ctx, playerID) {
		that.publishLobby(ctx)
	}
}

// Reconnect re-subscribes a returning player to its games and sends it their
// current state. The player is marked online again in case an older
// connection was reported lost after Connect.
func (that *Coordinator) Reconnect(ctx context.Context, playerID string) {
	log := that.logger.With("method", "Reconnect", "playerID", playerID)

	that.markOnline(playerID)

	restored := 0

	for _, gameID := range that.sessions.gamesOf(playerID) {
		ok, err := that.resubscribe(ctx, playerID, gameID)
		if err != nil {
			that.logFailure(log.With("gameID", gameID), "failed to restore game", err)
			continue
		}

		if ok {
			restored++
		}
	}

	if restored > 0 {
		that.publishLobby(ctx)
		log.Info("player reconnected", "games", restored)
	}
}

func (that *Coordinator) resubscribe(ctx context.Context, playerID, gameID string) (bool, error) {
	unlock := that.locks.Lock(gameID)
	defer unlock()

	game, err := that.getGame(ctx, gameID)
	if errors.Is(err, apperror.ErrNotFound) {
		that.detach(playerID, gameID)
		return false, nil
	}

	if err != nil {
		return false, err
	}

	if !game.HasPlayer(playerID) {
		that.detach(playerID, gameID)
		return false, nil
	}

	that.attach(playerID, gameID)
	that.broadcaster.SendToPlayer(playerID, EventGameUpdate, GamePayload{Game: game.Clone()})

	if game.IsInProgress() {
		for _, other := range game.Players {
			if other != playerID {
				that.broadcaster.SendToPlayer(other, EventPlayerReconnected, PlayerEventPayload{GameID: gameID, PlayerID: playerID})
			}
		}
	}

	return true, nil
}

// GetGame returns the stored state of a single game.
func (that *Coordinator) GetGame(ctx context.Context, gameID string) (*entity.Game, error) {
	return that.getGame(ctx, gameID)
}

// ListGames returns the joinable games, most recently active first.
func (that *Coordinator) ListGames(ctx context.Context) ([]*entity.Game, error) {
	games, err := that.gameRepo.List(ctx)
	if err != nil {
		return nil, apperror.Unavailable(fmt.Errorf("failed to list games: %w", err))
	}

	lobby := make([]*entity.Game, 0, len(games))
	for _, game := range games {
		if that.isListed(game) {
			lobby = append(lobby, game)
		}
	}

	slices.SortStableFunc(lobby, func(a, b *entity.Game) int {
		if c := b.LastActivity.Compare(a.LastActivity); c != 0 {
			return c
		}

		return strings.Compare(a.ID, b.ID)
	})

	return lobby, nil
}

// RequestList sends the lobby list to a single player.
func (that *Coordinator) RequestList(ctx context.Context, playerID string) error {
	games, err := that.ListGames(ctx)
	if err != nil {
		that.logFailure(that.logger.With("method", "RequestList", "playerID", playerID), "failed to list games", err)
		return err
	}

	that.broadcaster.SendToPlayer(playerID, EventGameList, ListPayload{Games: games})

	return nil
}

// Sweep deletes empty games that are finished or idle for longer than the
// idle threshold. It returns the number of deleted games.
func (that *Coordinator) Sweep(ctx context.Context) (int, error) {
	log := that.logger.With("method", "Sweep")

	games, err := that.gameRepo.List(ctx)
	if err != nil {
		err = apperror.Unavailable(fmt.Errorf("failed to list games: %w", err))
		log.Error("failed to sweep games", "error", err)
		return 0, err
	}

	removed := 0

	for _, game := range games {
		if !that.isSweepable(game) {
			continue
		}

		deleted, err := that.sweepGame(ctx, game.ID)
		if err != nil {
			log.Error("failed to delete idle game", "gameID", game.ID, "error", err)
			continue
		}

		if deleted {
			removed++
		}
	}

	if removed > 0 {
		that.publishLobby(ctx)
		log.Info("idle games deleted", "count", removed)
	}

	return removed, nil
}

func (that *Coordinator) sweepGame(ctx context.Context, gameID string) (bool, error) {
	unlock := that.locks.Lock(gameID)
	defer unlock()

	game, err := that.getGame(ctx, gameID)
	if errors.Is(err, apperror.ErrNotFound) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	if !that.isSweepable(game) {
		return false, nil
	}

	if err = that.deleteGame(ctx, gameID); err != nil {
		return false, err
	}

	return true, nil
}

// Restore rebuilds the session table from the store. Every seated player
// starts offline and has the reconnect grace to come back.
func (that *Coordinator) Restore(ctx context.Context) error {
	games, err := that.gameRepo.List(ctx)
	if err != nil {
		return apperror.Unavailable(fmt.Errorf("failed to list games: %w", err))
	}

	that.sessions.reset()

	for _, game := range games {
		for _, playerID := range game.Players {
			that.sessions.add(playerID, game.ID)
		}
	}

	players := that.sessions.players()
	for _, playerID := range players {
		that.markOffline(ctx, playerID)
	}

	that.logger.Info("sessions restored", "games", len(games), "players", len(players))

	return nil
}

// disconnect releases every seat of playerID unless the player came back.
func (that *Coordinator) disconnect(ctx context.Context, playerID string) {
	log := that.logger.With("method", "disconnect", "playerID", playerID)

	for _, gameID := range that.sessions.gamesOf(playerID) {
		if _, err := that.leave(ctx, playerID, gameID, true); err != nil {
			that.logFailure(log.With("gameID", gameID), "failed to leave game", err)
		}
	}

	that.publishLobby(ctx)

	if _, err := that.Sweep(ctx); err != nil {
		log.Error("failed to sweep after disconnect", "error", err)
	}

	log.Info("player disconnected")
}

// leave reports whether the game changed.
func (that *Coordinator) leave(ctx context.Context, playerID, gameID string, keepIfOnline bool) (bool, error) {
	unlock := that.locks.Lock(gameID)
	defer unlock()

	if keepIfOnline && that.isOnline(playerID) {
		return false, nil
	}

	game, err := that.getGame(ctx, gameID)
	if errors.Is(err, apperror.ErrNotFound) {
		that.detach(playerID, gameID)
		return false, nil
	}

	if err != nil {
		return false, err
	}

	if !game.HasPlayer(playerID) {
		that.detach(playerID, gameID)
		return false, nil
	}

	if err = that.removePlayer(ctx, game, playerID); err != nil {
		return false, err
	}

	return true, nil
}

// removePlayer must be called with the game lock held.
func (that *Coordinator) removePlayer(ctx context.Context, game *entity.Game, playerID string) error {
	wasFinished := game.IsFinished()

	game.RemovePlayer(playerID, that.opts.Now())

	if wasFinished && (game.IsEmpty() || that.opts.DeleteFinishedSolo) {
		if err := that.deleteGame(ctx, game.ID); err != nil {
			return err
		}

		that.detach(playerID, game.ID)

		for _, remaining := range game.Players {
			that.detach(remaining, game.ID)
			that.broadcaster.SendToPlayer(remaining, EventGameClosed, ClosedPayload{GameID: game.ID})
		}

		return nil
	}

	if err := that.saveGame(ctx, game); err != nil {
		return err
	}

	that.detach(playerID, game.ID)

	if !game.IsEmpty() {
		that.broadcaster.SendToGame(game.ID, EventPlayerLeft, PlayerEventPayload{GameID: game.ID, PlayerID: playerID})
		that.broadcaster.SendToGame(game.ID, EventGameUpdate, GamePayload{Game: game.Clone()})
	}

	return nil
}

func (that *Coordinator) publishLobby(ctx context.Context) {
	that.lobbyMu.Lock()
	defer that.lobbyMu.Unlock()

	games, err := that.ListGames(ctx)
	if err != nil {
		that.logger.Error("failed to publish lobby", "error", err)
		return
	}

	that.broadcaster.SendToLobby(EventGameList, ListPayload{Games: games})
}

func (that *Coordinator) newGameID(ctx context.Context) (string, error) {
	for range maxGameIDAttempts {
		id, err := that.opts.NewGameID()
		if err != nil {
			return "", apperror.Unavailable(err)
		}

		_, err = that.gameRepo.GetByID(ctx, id)
		if errors.Is(err, apperror.ErrNotFound) {
			return id, nil
		}

		if err != nil {
			return "", apperror.Unavailable(fmt.Errorf("failed to check game id: %w", err))
		}
	}

	return "", fmt.Errorf("%w after %d attempts", apperror.ErrGameAlreadyExists, maxGameIDAttempts)
}

func (that *Coordinator) getOrCreatePlayer(ctx context.Context, token string) (*entity.Player, error) {
	if token != "" {
		player, err := that.playerRepo.GetByToken(ctx, token)
		if err == nil {
			return player, nil
		}

		if !errors.Is(err, apperror.ErrNotFound) {
			return nil, fmt.Errorf("failed to get player: %w", err)
		}
	}

	player := entity.NewPlayer(that.opts.Now())
	if err := that.playerRepo.CreateOrUpdate(ctx, player); err != nil {
		return nil, fmt.Errorf("failed to create player: %w", err)
	}

	return player, nil
}

func (that *Coordinator) getGame(ctx context.Context, gameID string) (*entity.Game, error) {
	game, err := that.gameRepo.GetByID(ctx, gameID)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, err
	}

	if err != nil {
		return nil, apperror.Unavailable(fmt.Errorf("failed to get game: %w", err))
	}

	return game, nil
}

func (that *Coordinator) saveGame(ctx context.Context, game *entity.Game) error {
	if err := that.gameRepo.CreateOrUpdate(ctx, game); err != nil {
		return apperror.Unavailable(fmt.Errorf("failed to save game: %w", err))
	}

	return nil
}

func (that *Coordinator) deleteGame(ctx context.Context, gameID string) error {
	err := that.gameRepo.DeleteByID(ctx, gameID)
	if err != nil && !errors.Is(err, apperror.ErrNotFound) {
		return apperror.Unavailable(fmt.Errorf("failed to delete game: %w", err))
	}

	return nil
}

func (that *Coordinator) attach(playerID, gameID string) {
	that.sessions.add(playerID, gameID)
	that.broadcaster.Subscribe(playerID, gameID)
}

func (that *Coordinator) detach(playerID, gameID string) {
	that.sessions.remove(playerID, gameID)
	that.broadcaster.Unsubscribe(playerID, gameID)
}

// isListed reports whether the game belongs in the lobby: waiting, or in
// progress with only one player still connected.
func (that *Coordinator) isListed(game *entity.Game) bool {
	if game.IsWaiting() {
		return true
	}

	return game.IsInProgress() && that.activePlayers(game) == 1
}

func (that *Coordinator) isSweepable(game *entity.Game) bool {
	if !game.IsEmpty() {
		return false
	}

	return game.IsFinished() || game.IsIdle(that.opts.Now(), that.opts.IdleThreshold)
}

func (that *Coordinator) activePlayers(game *entity.Game) int {
	active := 0
	for _, playerID := range game.Players {
		if that.isOnline(playerID) {
			active++
		}
	}

	return active
}

func (that *Coordinator) logFailure(log *slog.Logger, msg string, err error) {
	if errors.Is(err, apperror.ErrUnavailable) {
		log.Error(msg, "error", err)
		return
	}

	log.Debug(msg, "error", err)
}
