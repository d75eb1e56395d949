package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rocketscienceinc/tictactoe-realtime/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-realtime/internal/entity"
)

type sqlitePlayer struct {
	conn *sql.DB
}

func NewSQLitePlayerRepository(conn *sql.DB) PlayerRepository {
	return &sqlitePlayer{
		conn: conn,
	}
}

func (that *sqlitePlayer) CreateOrUpdate(ctx context.Context, player *entity.Player) error {
	query := `INSERT INTO players (token, document) VALUES (?, ?)
		ON CONFLICT(token) DO UPDATE SET document = excluded.document`

	playerJSON, err := json.Marshal(player)
	if err != nil {
		return fmt.Errorf("failed to marshal player: %w", err)
	}

	if _, err = that.conn.ExecContext(ctx, query, player.Token, string(playerJSON)); err != nil {
		return fmt.Errorf("can't save player: %w", err)
	}

	return nil
}

func (that *sqlitePlayer) GetByToken(ctx context.Context, token string) (*entity.Player, error) {
	query := `SELECT document FROM players WHERE token = ?`

	var document string

	err := that.conn.QueryRowContext(ctx, query, token).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.ErrPlayerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("can't find player: %w", err)
	}

	var player entity.Player
	if err = json.Unmarshal([]byte(document), &player); err != nil {
		return nil, fmt.Errorf("failed to unmarshal player: %w", err)
	}

	return &player, nil
}
