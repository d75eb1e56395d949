package websocket

import (
	"context"

	"github.com/rocketscienceinc/tictactoe-realtime/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-realtime/internal/usecase"
)

// handleConnect binds the connection to a durable player. The token is
// returned to this connection only.
func (that *Server) handleConnect(ctx context.Context, session *clientSession, payload *Payload) error {
	if session.playerID != "" {
		return apperror.ErrAlreadyConnected
	}

	var token string
	if payload.Player != nil {
		token = payload.Player.Token
	}

	player, err := that.coord.Connect(ctx, token)
	if err != nil {
		return err
	}

	session.playerID = player.ID
	that.hub.Register(player.ID, session.client)
	that.hub.Reply(session.client, usecase.EventConnect, ConnectPayload{Player: player})

	that.coord.Reconnect(ctx, player.ID)

	that.logger.Info("player connected", "method", "handleConnect", "playerID", player.ID, "clientID", session.client.ID)

	return nil
}

func (that *Server) handleNewGame(ctx context.Context, session *clientSession, _ *Payload) error {
	_, err := that.coord.CreateGame(ctx, session.playerID)
	return err
}

func (that *Server) handleJoinGame(ctx context.Context, session *clientSession, payload *Payload) error {
	if payload.GameID == "" {
		return apperror.ErrMalformedMessage
	}

	_, err := that.coord.JoinGame(ctx, session.playerID, payload.GameID)

	return err
}

func (that *Server) handleGameTurn(ctx context.Context, session *clientSession, payload *Payload) error {
	if payload.GameID == "" || payload.Cell == nil {
		return apperror.ErrMalformedMessage
	}

	_, err := that.coord.MakeMove(ctx, session.playerID, payload.GameID, *payload.Cell)

	return err
}

func (that *Server) handleRestartGame(ctx context.Context, session *clientSession, payload *Payload) error {
	if payload.GameID == "" {
		return apperror.ErrMalformedMessage
	}

	_, err := that.coord.RestartGame(ctx, session.playerID, payload.GameID)

	return err
}

func (that *Server) handleLeaveGame(ctx context.Context, session *clientSession, payload *Payload) error {
	if payload.GameID == "" {
		return apperror.ErrMalformedMessage
	}

	return that.coord.LeaveGame(ctx, session.playerID, payload.GameID)
}

func (that *Server) handleListGames(ctx context.Context, session *clientSession, _ *Payload) error {
	return that.coord.RequestList(ctx, session.playerID)
}
