package websocket

import (
	"encoding/json"

	"github.com/rocketscienceinc/tictactoe-realtime/internal/entity"
)

// Inbound actions.
const (
	actionConnect     = "connect"
	actionGameNew     = "game:new"
	actionGameJoin    = "game:join"
	actionGameTurn    = "game:turn"
	actionGameRestart = "game:restart"
	actionGameLeave   = "game:leave"
	actionGameList    = "game:list"
)

type Message struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Payload struct {
	Player *entity.Player `json:"player,omitempty"`
	GameID string         `json:"game_id,omitempty"`
	Cell   *int           `json:"cell,omitempty"`
}

type ConnectPayload struct {
	Player *entity.Player `json:"player"`
}

type ErrorPayload struct {
	Error  string `json:"error"`
	Kind   string `json:"kind"`
	Action string `json:"action,omitempty"`
}
