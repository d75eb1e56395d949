package entity

import (
	"time"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/google/uuid"
)

// Player is the durable identity a client keeps across reconnects. ID is
// public and appears in games; Token is only ever sent to the player itself.
type Player struct {
	ID        string    `json:"id"`
	Token     string    `json:"token,omitempty"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func NewPlayer(now time.Time) *Player {
	return &Player{
		ID:        uuid.NewString(),
		Token:     uuid.NewString(),
		Name:      petname.Generate(2, "-"),
		CreatedAt: now,
	}
}
