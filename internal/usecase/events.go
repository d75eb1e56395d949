package usecase

import "github.com/rocketscienceinc/tictactoe-realtime/internal/entity"

// Outbound event names.
const (
	EventConnect           = "connect"
	EventGameCreated       = "game:created"
	EventGameJoined        = "game:joined"
	EventGameUpdate        = "game:update"
	EventGameList          = "game:list"
	EventPlayerLeft        = "game:player_left"
	EventPlayerReconnected = "game:player_reconnected"
	EventGameClosed        = "game:closed"
	EventError             = "error"
)

type GamePayload struct {
	Game *entity.Game `json:"game"`
}

type ListPayload struct {
	Games []*entity.Game `json:"games"`
}

type PlayerEventPayload struct {
	GameID   string `json:"game_id"`
	PlayerID string `json:"player_id"`
}

type ClosedPayload struct {
	GameID string `json:"game_id"`
}
