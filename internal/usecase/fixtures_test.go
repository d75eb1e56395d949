package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rocketscienceinc/tictactoe-realtime/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-realtime/internal/entity"
)

var (
	testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	errRedisDown = errors.New("redis down")
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (that *fakeClock) Now() time.Time {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.now
}

func (that *fakeClock) Advance(d time.Duration) {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.now = that.now.Add(d)
}

type memoryGames struct {
	mu    sync.Mutex
	games map[string]*entity.Game
}

func newMemoryGames() *memoryGames {
	return &memoryGames{games: make(map[string]*entity.Game)}
}

func (that *memoryGames) CreateOrUpdate(_ context.Context, game *entity.Game) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.games[game.ID] = game.Clone()

	return nil
}

func (that *memoryGames) GetByID(_ context.Context, id string) (*entity.Game, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	game, ok := that.games[id]
	if !ok {
		return nil, apperror.ErrGameNotFound
	}

	return game.Clone(), nil
}

func (that *memoryGames) DeleteByID(_ context.Context, id string) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if _, ok := that.games[id]; !ok {
		return apperror.ErrGameNotFound
	}

	delete(that.games, id)

	return nil
}

func (that *memoryGames) List(_ context.Context) ([]*entity.Game, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	games := make([]*entity.Game, 0, len(that.games))
	for _, game := range that.games {
		games = append(games, game.Clone())
	}

	return games, nil
}

type memoryPlayers struct {
	mu      sync.Mutex
	players map[string]*entity.Player
	err     error
}

func newMemoryPlayers() *memoryPlayers {
	return &memoryPlayers{players: make(map[string]*entity.Player)}
}

func (that *memoryPlayers) CreateOrUpdate(_ context.Context, player *entity.Player) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.err != nil {
		return that.err
	}

	stored := *player
	that.players[player.Token] = &stored

	return nil
}

func (that *memoryPlayers) GetByToken(_ context.Context, token string) (*entity.Player, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.err != nil {
		return nil, that.err
	}

	player, ok := that.players[token]
	if !ok {
		return nil, apperror.ErrPlayerNotFound
	}

	stored := *player

	return &stored, nil
}

type mockGameRepo struct {
	mock.Mock
}

func (that *mockGameRepo) CreateOrUpdate(ctx context.Context, game *entity.Game) error {
	args := that.Called(ctx, game)
	return args.Error(0)
}

func (that *mockGameRepo) GetByID(ctx context.Context, id string) (*entity.Game, error) {
	args := that.Called(ctx, id)
	game, _ := args.Get(0).(*entity.Game)
	return game, args.Error(1)
}

func (that *mockGameRepo) DeleteByID(ctx context.Context, id string) error {
	args := that.Called(ctx, id)
	return args.Error(0)
}

func (that *mockGameRepo) List(ctx context.Context) ([]*entity.Game, error) {
	args := that.Called(ctx)
	games, _ := args.Get(0).([]*entity.Game)
	return games, args.Error(1)
}

const (
	scopePlayer = "player"
	scopeGame   = "game"
	scopeLobby  = "lobby"
)

type sentEvent struct {
	scope   string
	target  string
	event   string
	payload any
}

type recorder struct {
	mu            sync.Mutex
	sent          []sentEvent
	subscriptions map[string]map[string]struct{}
	connected     map[string]struct{}
}

func newRecorder() *recorder {
	return &recorder{
		subscriptions: make(map[string]map[string]struct{}),
		connected:     make(map[string]struct{}),
	}
}

func (that *recorder) IsOnline(playerID string) bool {
	that.mu.Lock()
	defer that.mu.Unlock()

	_, ok := that.connected[playerID]

	return ok
}

// connect registers a live connection for playerID.
func (that *recorder) connect(playerID string) {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.connected[playerID] = struct{}{}
}

func (that *recorder) Subscribe(playerID, gameID string) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.subscriptions[gameID] == nil {
		that.subscriptions[gameID] = make(map[string]struct{})
	}
	that.subscriptions[gameID][playerID] = struct{}{}
}

func (that *recorder) Unsubscribe(playerID, gameID string) {
	that.mu.Lock()
	defer that.mu.Unlock()

	delete(that.subscriptions[gameID], playerID)
}

func (that *recorder) SendToPlayer(playerID, event string, payload any) {
	that.record(scopePlayer, playerID, event, payload)
}

func (that *recorder) SendToGame(gameID, event string, payload any) {
	that.record(scopeGame, gameID, event, payload)
}

func (that *recorder) SendToLobby(event string, payload any) {
	that.record(scopeLobby, "", event, payload)
}

func (that *recorder) record(scope, target, event string, payload any) {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.sent = append(that.sent, sentEvent{scope: scope, target: target, event: event, payload: payload})
}

func (that *recorder) subscribed(playerID, gameID string) bool {
	that.mu.Lock()
	defer that.mu.Unlock()

	_, ok := that.subscriptions[gameID][playerID]

	return ok
}

// find returns the payloads sent to scope/target under event, in order.
func (that *recorder) find(scope, target, event string) []any {
	that.mu.Lock()
	defer that.mu.Unlock()

	var payloads []any
	for _, sent := range that.sent {
		if sent.scope == scope && sent.target == target && sent.event == event {
			payloads = append(payloads, sent.payload)
		}
	}

	return payloads
}

func (that *recorder) events(scope, target string) []string {
	that.mu.Lock()
	defer that.mu.Unlock()

	var events []string
	for _, sent := range that.sent {
		if sent.scope == scope && sent.target == target {
			events = append(events, sent.event)
		}
	}

	return events
}

func (that *recorder) count() int {
	that.mu.Lock()
	defer that.mu.Unlock()

	return len(that.sent)
}

func (that *recorder) reset() {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.sent = nil
}

// lastLobby returns the ids listed in the latest lobby broadcast.
func (that *recorder) lastLobby(t *testing.T) []string {
	t.Helper()

	payloads := that.find(scopeLobby, "", EventGameList)
	require.NotEmpty(t, payloads, "no lobby broadcast")

	list, ok := payloads[len(payloads)-1].(ListPayload)
	require.True(t, ok)

	return gameIDs(list.Games)
}

func gameIDs(games []*entity.Game) []string {
	ids := make([]string, 0, len(games))
	for _, game := range games {
		ids = append(ids, game.ID)
	}

	return ids
}

type fixture struct {
	ctx     context.Context
	coord   *Coordinator
	games   *memoryGames
	players *memoryPlayers
	bc      *recorder
	clock   *fakeClock
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	games := newMemoryGames()
	f := newFixtureWithRepo(t, games, opts)
	f.games = games

	return f
}

func newFixtureWithRepo(t *testing.T, repo gameRepo, opts Options) *fixture {
	t.Helper()

	clock := &fakeClock{now: testNow}
	opts.Now = clock.Now

	players := newMemoryPlayers()
	bc := newRecorder()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	coord := NewCoordinator(logger, repo, players, bc, opts)
	t.Cleanup(coord.Close)

	return &fixture{
		ctx:     context.Background(),
		coord:   coord,
		players: players,
		bc:      bc,
		clock:   clock,
	}
}

func (that *fixture) online(playerIDs ...string) {
	for _, id := range playerIDs {
		that.coord.markOnline(id)
	}
}

// seed stores a game and registers its players in the session table.
func (that *fixture) seed(t *testing.T, game *entity.Game) {
	t.Helper()

	require.NoError(t, that.games.CreateOrUpdate(that.ctx, game))

	for _, playerID := range game.Players {
		that.coord.sessions.add(playerID, game.ID)
	}
}

func (that *fixture) stored(t *testing.T, gameID string) *entity.Game {
	t.Helper()

	game, err := that.games.GetByID(that.ctx, gameID)
	require.NoError(t, err)

	return game
}

// startGame creates a game for alice and seats bob, both online.
func (that *fixture) startGame(t *testing.T) *entity.Game {
	t.Helper()

	that.online("alice", "bob")

	game, err := that.coord.CreateGame(that.ctx, "alice")
	require.NoError(t, err)

	game, err = that.coord.JoinGame(that.ctx, "bob", game.ID)
	require.NoError(t, err)

	return game
}

func ongoingGame(id string, players ...string) *entity.Game {
	game := entity.NewGame(id, players[0], testNow)
	game.Players = append(game.Players, players[1:]...)
	if len(game.Players) == entity.MaxPlayers {
		game.Status = entity.StatusInProgress
	}

	return game
}
