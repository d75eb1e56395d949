package websocket_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocketscienceinc/tictactoe-realtime/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-realtime/internal/entity"
	"github.com/rocketscienceinc/tictactoe-realtime/internal/hub"
	"github.com/rocketscienceinc/tictactoe-realtime/internal/repository"
	"github.com/rocketscienceinc/tictactoe-realtime/internal/usecase"
	"github.com/rocketscienceinc/tictactoe-realtime/testing/suite"
	wstransport "github.com/rocketscienceinc/tictactoe-realtime/transport/websocket"
)

const readTimeout = 2 * time.Second

type event struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

type gameEvent struct {
	Game *entity.Game `json:"game"`
}

func newServer(t *testing.T) (context.Context, string) {
	t.Helper()

	ctx, s := suite.NewSQLite(t)

	h := hub.New(s.Logger)
	coord := usecase.NewCoordinator(
		s.Logger,
		repository.NewSQLiteGameRepository(s.SQLite),
		repository.NewSQLitePlayerRepository(s.SQLite),
		h,
		usecase.Options{},
	)
	t.Cleanup(coord.Close)

	srv := httptest.NewServer(wstransport.New(s.Logger, coord, h).Router())
	t.Cleanup(srv.Close)

	return ctx, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, ctx context.Context, url string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.CloseNow()
	})

	return conn
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, message string) {
	t.Helper()

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(message)))
}

// expect reads until an event with the given action arrives.
func expect(t *testing.T, ctx context.Context, conn *websocket.Conn, action string) json.RawMessage {
	t.Helper()

	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	for {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err, "waiting for %s", action)

		var got event
		require.NoError(t, json.Unmarshal(data, &got))

		if got.Action == action {
			return got.Payload
		}
	}
}

func expectGame(t *testing.T, ctx context.Context, conn *websocket.Conn, action string) *entity.Game {
	t.Helper()

	var payload gameEvent
	require.NoError(t, json.Unmarshal(expect(t, ctx, conn, action), &payload))
	require.NotNil(t, payload.Game)

	return payload.Game
}

func expectError(t *testing.T, ctx context.Context, conn *websocket.Conn) wstransport.ErrorPayload {
	t.Helper()

	var payload wstransport.ErrorPayload
	require.NoError(t, json.Unmarshal(expect(t, ctx, conn, usecase.EventError), &payload))

	return payload
}

func connect(t *testing.T, ctx context.Context, conn *websocket.Conn, token string) *entity.Player {
	t.Helper()

	if token == "" {
		send(t, ctx, conn, `{"action":"connect"}`)
	} else {
		send(t, ctx, conn, fmt.Sprintf(`{"action":"connect","payload":{"player":{"token":%q}}}`, token))
	}

	var payload wstransport.ConnectPayload
	require.NoError(t, json.Unmarshal(expect(t, ctx, conn, usecase.EventConnect), &payload))
	require.NotNil(t, payload.Player)

	return payload.Player
}

func TestServer_Connect(t *testing.T) {
	t.Run("Issues and restores an identity", func(t *testing.T) {
		// Given
		ctx, url := newServer(t)
		first := dial(t, ctx, url)

		// When
		player := connect(t, ctx, first, "")
		first.Close(websocket.StatusNormalClosure, "bye")

		second := dial(t, ctx, url)
		restored := connect(t, ctx, second, player.Token)

		// Then
		assert.NotEmpty(t, player.Token)
		assert.NotEqual(t, player.ID, player.Token)
		assert.Equal(t, player.ID, restored.ID)
		assert.Equal(t, player.Name, restored.Name)
	})

	t.Run("Twice on one connection", func(t *testing.T) {
		// Given
		ctx, url := newServer(t)
		conn := dial(t, ctx, url)
		connect(t, ctx, conn, "")

		// When
		send(t, ctx, conn, `{"action":"connect"}`)

		// Then
		payload := expectError(t, ctx, conn)
		assert.Equal(t, apperror.KindBadRequest, payload.Kind)
		assert.Equal(t, "connect", payload.Action)
	})
}

func TestServer_RejectsBadInput(t *testing.T) {
	tests := []struct {
		name    string
		message string
		action  string
	}{
		{name: "Before connect", message: `{"action":"game:new"}`, action: "game:new"},
		{name: "Malformed JSON", message: `{"action":`, action: ""},
		{name: "Unknown action", message: `{"action":"game:fly"}`, action: "game:fly"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given
			ctx, url := newServer(t)
			conn := dial(t, ctx, url)

			// When
			send(t, ctx, conn, tt.message)

			// Then
			payload := expectError(t, ctx, conn)
			assert.Equal(t, apperror.KindBadRequest, payload.Kind)
			assert.Equal(t, tt.action, payload.Action)
		})
	}
}

func TestServer_PlayGame(t *testing.T) {
	// Given: two connected players
	ctx, url := newServer(t)
	alice, bob := dial(t, ctx, url), dial(t, ctx, url)
	alicePlayer := connect(t, ctx, alice, "")
	bobPlayer := connect(t, ctx, bob, "")

	// When: alice creates a game and bob joins it
	send(t, ctx, alice, `{"action":"game:new"}`)
	created := expectGame(t, ctx, alice, usecase.EventGameCreated)
	assert.Equal(t, []string{alicePlayer.ID}, created.Players)

	send(t, ctx, bob, fmt.Sprintf(`{"action":"game:join","payload":{"game_id":%q}}`, created.ID))
	joined := expectGame(t, ctx, bob, usecase.EventGameJoined)
	expectGame(t, ctx, alice, usecase.EventGameUpdate)

	assert.Equal(t, []string{alicePlayer.ID, bobPlayer.ID}, joined.Players)
	assert.Equal(t, entity.StatusInProgress, joined.Status)

	// And: they play 0,3,1,4,2
	var last *entity.Game
	for i, cell := range []int{0, 3, 1, 4, 2} {
		mover := alice
		if i%2 == 1 {
			mover = bob
		}

		send(t, ctx, mover, fmt.Sprintf(`{"action":"game:turn","payload":{"game_id":%q,"cell":%d}}`, created.ID, cell))
		last = expectGame(t, ctx, alice, usecase.EventGameUpdate)
		expectGame(t, ctx, bob, usecase.EventGameUpdate)
	}

	// Then: X wins
	assert.Equal(t, entity.StatusFinished, last.Status)
	assert.Equal(t, entity.PlayerX, last.Winner)

	// And: a further move is rejected
	send(t, ctx, bob, fmt.Sprintf(`{"action":"game:turn","payload":{"game_id":%q,"cell":8}}`, created.ID))
	payload := expectError(t, ctx, bob)
	assert.Equal(t, apperror.KindConflict, payload.Kind)
	assert.Equal(t, "game:turn", payload.Action)
}

func TestServer_MissingGame(t *testing.T) {
	// Given
	ctx, url := newServer(t)
	conn := dial(t, ctx, url)
	connect(t, ctx, conn, "")

	// When
	send(t, ctx, conn, `{"action":"game:join","payload":{"game_id":"nope"}}`)

	// Then
	payload := expectError(t, ctx, conn)
	assert.Equal(t, apperror.KindNotFound, payload.Kind)
}

func TestServer_ConnectionLost(t *testing.T) {
	// Given: a started game
	ctx, url := newServer(t)
	alice, bob := dial(t, ctx, url), dial(t, ctx, url)
	alicePlayer := connect(t, ctx, alice, "")
	connect(t, ctx, bob, "")

	send(t, ctx, alice, `{"action":"game:new"}`)
	created := expectGame(t, ctx, alice, usecase.EventGameCreated)
	send(t, ctx, bob, fmt.Sprintf(`{"action":"game:join","payload":{"game_id":%q}}`, created.ID))
	expectGame(t, ctx, bob, usecase.EventGameJoined)

	// When: alice's socket goes away
	alice.Close(websocket.StatusNormalClosure, "bye")

	// Then: bob is told and the game reopens
	var left usecase.PlayerEventPayload
	require.NoError(t, json.Unmarshal(expect(t, ctx, bob, usecase.EventPlayerLeft), &left))
	assert.Equal(t, alicePlayer.ID, left.PlayerID)

	update := expectGame(t, ctx, bob, usecase.EventGameUpdate)
	assert.Equal(t, entity.StatusWaiting, update.Status)
	assert.Len(t, update.Players, 1)
}

func TestServer_ListGames(t *testing.T) {
	// Given: one waiting game
	ctx, url := newServer(t)
	alice, bob := dial(t, ctx, url), dial(t, ctx, url)
	connect(t, ctx, alice, "")
	connect(t, ctx, bob, "")

	send(t, ctx, alice, `{"action":"game:new"}`)
	created := expectGame(t, ctx, alice, usecase.EventGameCreated)
	expect(t, ctx, bob, usecase.EventGameList)

	// When
	send(t, ctx, bob, `{"action":"game:list"}`)

	// Then
	var list usecase.ListPayload
	require.NoError(t, json.Unmarshal(expect(t, ctx, bob, usecase.EventGameList), &list))
	require.Len(t, list.Games, 1)
	assert.Equal(t, created.ID, list.Games[0].ID)
}
