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

type sqliteGame struct {
	conn *sql.DB
}

// NewSQLiteGameRepository stores games in the tables created by storage.NewSQLiteStorage.
func NewSQLiteGameRepository(conn *sql.DB) GameRepository {
	return &sqliteGame{
		conn: conn,
	}
}

func (that *sqliteGame) CreateOrUpdate(ctx context.Context, game *entity.Game) error {
	query := `INSERT INTO games (id, document, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`

	gameJSON, err := json.Marshal(game)
	if err != nil {
		return fmt.Errorf("could not marshal game: %w", err)
	}

	_, err = that.conn.ExecContext(ctx, query, game.ID, string(gameJSON), game.LastActivity.UnixMilli())
	if err != nil {
		return fmt.Errorf("can't save game: %w", err)
	}

	return nil
}

func (that *sqliteGame) GetByID(ctx context.Context, id string) (*entity.Game, error) {
	query := `SELECT document FROM games WHERE id = ?`

	var document string

	err := that.conn.QueryRowContext(ctx, query, id).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.ErrGameNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("can't find game: %w", err)
	}

	var game entity.Game
	if err = json.Unmarshal([]byte(document), &game); err != nil {
		return nil, fmt.Errorf("failed to unmarshal game: %w", err)
	}

	return &game, nil
}

func (that *sqliteGame) DeleteByID(ctx context.Context, id string) error {
	query := `DELETE FROM games WHERE id = ?`

	result, err := that.conn.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("can't delete game: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("can't delete game: %w", err)
	}

	if affected == 0 {
		return apperror.ErrGameNotFound
	}

	return nil
}

func (that *sqliteGame) List(ctx context.Context) ([]*entity.Game, error) {
	query := `SELECT document FROM games ORDER BY updated_at DESC, id`

	rows, err := that.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("can't list games: %w", err)
	}
	defer rows.Close()

	games := []*entity.Game{}
	for rows.Next() {
		var document string
		if err = rows.Scan(&document); err != nil {
			return nil, fmt.Errorf("can't scan game: %w", err)
		}

		var game entity.Game
		if err = json.Unmarshal([]byte(document), &game); err != nil {
			return nil, fmt.Errorf("failed to unmarshal game: %w", err)
		}

		games = append(games, &game)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("can't list games: %w", err)
	}

	return games, nil
}
