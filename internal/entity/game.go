package entity

import (
	"fmt"
	"slices"
	"time"

	"github.com/rocketscienceinc/tictactoe-realtime/internal/apperror"
)

const (
	StatusWaiting    = "waiting"
	StatusInProgress = "in-progress"
	StatusFinished   = "finished"

	PlayerX = "X"
	PlayerO = "O"
	Draw    = "draw"

	// NoOutcome is returned by Evaluate while the game can still continue.
	NoOutcome = ""

	EmptyCell = ""

	MaxPlayers = 2
	BoardSize  = 9
)

// WinCombos are checked in this order: rows, columns, diagonals.
var WinCombos = [8][3]int{
	{0, 1, 2},
	{3, 4, 5},
	{6, 7, 8},
	{0, 3, 6},
	{1, 4, 7},
	{2, 5, 8},
	{0, 4, 8},
	{2, 4, 6},
}

type Board [BoardSize]string

type Game struct {
	ID            string    `json:"id"`
	Board         Board     `json:"board"`
	Players       []string  `json:"players"`
	CurrentPlayer string    `json:"current_player"`
	Status        string    `json:"status"`
	Winner        string    `json:"winner,omitempty"`
	LastActivity  time.Time `json:"last_activity"`
	Version       int64     `json:"version"`
}

// NewGame returns a waiting game owned by a single player.
func NewGame(id, playerID string, now time.Time) *Game {
	return &Game{
		ID:            id,
		Board:         Board{},
		Players:       []string{playerID},
		CurrentPlayer: PlayerX,
		Status:        StatusWaiting,
		LastActivity:  now,
	}
}

// Evaluate returns PlayerX or PlayerO for the first completed line, Draw for a
// full board without a line, and NoOutcome otherwise.
func Evaluate(board Board) string {
	for _, combo := range WinCombos {
		a, b, c := board[combo[0]], board[combo[1]], board[combo[2]]
		if a != EmptyCell && a == b && b == c {
			return a
		}
	}

	for _, cell := range board {
		if cell == EmptyCell {
			return NoOutcome
		}
	}

	return Draw
}

// MarkOf returns the mark assigned to a player by seat order.
func (that *Game) MarkOf(playerID string) (string, bool) {
	switch that.SeatOf(playerID) {
	case 0:
		return PlayerX, true
	case 1:
		return PlayerO, true
	default:
		return "", false
	}
}

// SeatOf returns the index of the player in Players or -1.
func (that *Game) SeatOf(playerID string) int {
	for i, id := range that.Players {
		if id == playerID {
			return i
		}
	}

	return -1
}

func (that *Game) HasPlayer(playerID string) bool {
	return that.SeatOf(playerID) >= 0
}

// ValidateMove checks a move without touching the game.
func (that *Game) ValidateMove(playerID string, cell int) error {
	mark, ok := that.MarkOf(playerID)
	if !ok {
		return apperror.ErrPlayerNotInGame
	}

	if !that.IsInProgress() {
		return apperror.ErrGameNotInProgress
	}

	if that.CurrentPlayer != mark {
		return apperror.ErrNotYourTurn
	}

	if cell < 0 || cell >= BoardSize {
		return fmt.Errorf("%w: cell %d", apperror.ErrInvalidCell, cell)
	}

	if that.Board[cell] != EmptyCell {
		return fmt.Errorf("%w: cell %d", apperror.ErrCellOccupied, cell)
	}

	return nil
}

// MakeMove applies a validated move and settles the result.
func (that *Game) MakeMove(playerID string, cell int, now time.Time) error {
	if err := that.ValidateMove(playerID, cell); err != nil {
		return err
	}

	that.Board[cell] = that.CurrentPlayer
	that.CurrentPlayer = toggleMark(that.CurrentPlayer)

	if outcome := Evaluate(that.Board); outcome != NoOutcome {
		that.Status = StatusFinished
		that.Winner = outcome
	}

	that.Touch(now)

	return nil
}

// Restart starts a new round with the same players. A game short of an
// opponent stays waiting.
func (that *Game) Restart(now time.Time) {
	that.resetBoard()

	if len(that.Players) == MaxPlayers {
		that.Status = StatusInProgress
	} else {
		that.Status = StatusWaiting
	}

	that.Touch(now)
}

// AddPlayer appends a player while a seat is free. A full game hands the
// first vacated seat over in place, so the newcomer inherits its mark and the
// board as it stands. The vacated predicate reports whether a seated player is
// gone. It returns the displaced player, if any.
func (that *Game) AddPlayer(playerID string, vacated func(string) bool, now time.Time) (string, error) {
	var displaced string

	if len(that.Players) < MaxPlayers {
		that.Players = append(that.Players, playerID)
	} else {
		seat := slices.IndexFunc(that.Players, vacated)
		if seat < 0 {
			return "", apperror.ErrGameFull
		}

		displaced = that.Players[seat]
		that.Players[seat] = playerID
	}

	if len(that.Players) == MaxPlayers && that.IsWaiting() {
		that.Status = StatusInProgress
	}

	that.Touch(now)

	return displaced, nil
}

// RemovePlayer drops a player from the game and keeps the board. A game in
// progress goes back to waiting; a finished game keeps its result until it is
// restarted. The remaining player moves up to seat X. It reports whether the
// player was present.
func (that *Game) RemovePlayer(playerID string, now time.Time) bool {
	seat := that.SeatOf(playerID)
	if seat < 0 {
		return false
	}

	that.Players = append(that.Players[:seat], that.Players[seat+1:]...)
	if that.IsInProgress() {
		that.Status = StatusWaiting
	}
	that.Touch(now)

	return true
}

// Touch records a mutation.
func (that *Game) Touch(now time.Time) {
	that.LastActivity = now
	that.Version++
}

func (that *Game) resetBoard() {
	that.Board = Board{}
	that.CurrentPlayer = PlayerX
	that.Winner = ""
}

func (that *Game) IsWaiting() bool {
	return that.Status == StatusWaiting
}

func (that *Game) IsInProgress() bool {
	return that.Status == StatusInProgress
}

func (that *Game) IsFinished() bool {
	return that.Status == StatusFinished
}

// IsEmpty reports whether nobody is seated.
func (that *Game) IsEmpty() bool {
	return len(that.Players) == 0
}

// IsIdle reports whether the game has been untouched for longer than threshold.
func (that *Game) IsIdle(now time.Time, threshold time.Duration) bool {
	return now.Sub(that.LastActivity) > threshold
}

// ConfirmJoinable rejects games a new player cannot enter.
func (that *Game) ConfirmJoinable() error {
	if that.IsWaiting() || that.IsInProgress() {
		return nil
	}

	return apperror.ErrGameNotAvailable
}

// Clone returns a deep copy safe to hand to other goroutines.
func (that *Game) Clone() *Game {
	clone := *that
	clone.Players = append([]string(nil), that.Players...)

	return &clone
}

func toggleMark(mark string) string {
	if mark == PlayerX {
		return PlayerO
	}

	return PlayerX
}
