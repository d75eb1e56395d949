package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/rocketscienceinc/tictactoe-realtime/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-realtime/internal/entity"
	"github.com/rocketscienceinc/tictactoe-realtime/internal/hub"
	"github.com/rocketscienceinc/tictactoe-realtime/internal/usecase"
)

const (
	readLimit       = 4096
	writeTimeout    = 3 * time.Second
	shutdownTimeout = 5 * time.Second
)

type coordinator interface {
	Connect(ctx context.Context, token string) (*entity.Player, error)
	Reconnect(ctx context.Context, playerID string)
	ConnectionLost(ctx context.Context, playerID string)

	CreateGame(ctx context.Context, playerID string) (*entity.Game, error)
	JoinGame(ctx context.Context, playerID, gameID string) (*entity.Game, error)
	MakeMove(ctx context.Context, playerID, gameID string, cell int) (*entity.Game, error)
	RestartGame(ctx context.Context, playerID, gameID string) (*entity.Game, error)
	LeaveGame(ctx context.Context, playerID, gameID string) error
	RequestList(ctx context.Context, playerID string) error
}

type connections interface {
	Register(playerID string, client *hub.Client)
	Unregister(playerID string, client *hub.Client) bool
	Reply(client *hub.Client, event string, payload any)
}

// clientSession is the per-connection state. It is only touched by the read loop.
type clientSession struct {
	client   *hub.Client
	playerID string
}

type handlerFunc func(ctx context.Context, session *clientSession, payload *Payload) error

type Server struct {
	logger *slog.Logger
	coord  coordinator
	hub    connections

	outboxSize int

	handlers map[string]handlerFunc
}

func New(logger *slog.Logger, coord coordinator, connections connections) *Server {
	server := &Server{
		logger:     logger.With("component", "websocket"),
		coord:      coord,
		hub:        connections,
		outboxSize: hub.DefaultOutboxSize,

		handlers: make(map[string]handlerFunc),
	}

	server.handlers[actionConnect] = server.handleConnect
	server.handlers[actionGameNew] = server.handleNewGame
	server.handlers[actionGameJoin] = server.handleJoinGame
	server.handlers[actionGameTurn] = server.handleGameTurn
	server.handlers[actionGameRestart] = server.handleRestartGame
	server.handlers[actionGameLeave] = server.handleLeaveGame
	server.handlers[actionGameList] = server.handleListGames

	return server
}

func (that *Server) Router() http.Handler {
	router := chi.NewRouter()
	router.Get("/ws", that.serveWS)

	return router
}

// Start - starts WebSocket server and shuts it down when ctx is done.
func (that *Server) Start(ctx context.Context, port string) error {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           that.Router(),
		ReadHeaderTimeout: 10 * time.Second,
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

func (that *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	log := that.logger.With("method", "serveWS")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{})
	if err != nil {
		log.Error("failed to accept websocket", "error", err)
		return
	}

	defer conn.CloseNow()

	conn.SetReadLimit(readLimit)

	ctx := r.Context()
	session := &clientSession{client: hub.NewClient(that.outboxSize)}

	log = log.With("clientID", session.client.ID)
	log.Info("WebSocket connection established")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		that.writeMessages(ctx, conn, session.client)
	}()

	that.readMessages(ctx, conn, session)

	session.client.Close()
	<-writerDone

	if session.playerID != "" && that.hub.Unregister(session.playerID, session.client) {
		// The connection is gone; the disconnect must not be canceled with it.
		that.coord.ConnectionLost(context.WithoutCancel(ctx), session.playerID)
	}

	log.Info("WebSocket connection closed", "playerID", session.playerID)
}

func (that *Server) readMessages(ctx context.Context, conn *websocket.Conn, session *clientSession) {
	log := that.logger.With("method", "readMessages", "clientID", session.client.ID)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				log.Debug("client closed connection", "status", status)
			} else {
				log.Debug("failed to read message", "error", err)
			}

			return
		}

		if typ != websocket.MessageText {
			that.replyError(session, "", apperror.ErrMalformedMessage)
			continue
		}

		that.handleMessage(ctx, session, data)
	}
}

func (that *Server) writeMessages(ctx context.Context, conn *websocket.Conn, client *hub.Client) {
	log := that.logger.With("method", "writeMessages", "clientID", client.ID)

	for {
		select {
		case message := <-client.Outbox():
			if err := that.write(ctx, conn, message); err != nil {
				log.Debug("failed to write message", "error", err)
				client.Close()
				conn.CloseNow()

				return
			}
		case <-client.Done():
			conn.Close(websocket.StatusPolicyViolation, "connection closed")
			return
		case <-ctx.Done():
			return
		}
	}
}

func (that *Server) write(ctx context.Context, conn *websocket.Conn, message []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	return conn.Write(ctx, websocket.MessageText, message)
}

// handleMessage decodes one frame and dispatches it. Failures are reported to
// the sender only.
func (that *Server) handleMessage(ctx context.Context, session *clientSession, data []byte) {
	var message Message
	if err := json.Unmarshal(data, &message); err != nil {
		that.replyError(session, "", apperror.ErrMalformedMessage)
		return
	}

	handler, ok := that.handlers[message.Action]
	if !ok {
		that.replyError(session, message.Action, apperror.ErrUnknownAction)
		return
	}

	var payload Payload
	if len(message.Payload) > 0 {
		if err := json.Unmarshal(message.Payload, &payload); err != nil {
			that.replyError(session, message.Action, apperror.ErrMalformedMessage)
			return
		}
	}

	if message.Action != actionConnect && session.playerID == "" {
		that.replyError(session, message.Action, apperror.ErrNotConnected)
		return
	}

	if err := handler(context.WithoutCancel(ctx), session, &payload); err != nil {
		that.replyError(session, message.Action, err)
	}
}

func (that *Server) replyError(session *clientSession, action string, err error) {
	kind := apperror.KindOf(err)

	text := err.Error()
	if kind == apperror.KindUnavailable {
		text = "service unavailable"
	}

	that.hub.Reply(session.client, usecase.EventError, ErrorPayload{Error: text, Kind: kind, Action: action})
}
