package apperror

import (
	"errors"
	"fmt"
)

// Error kinds. Every sentinel below wraps exactly one of them.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
	ErrBadRequest  = errors.New("bad request")
)

var (
	ErrGameNotFound   = fmt.Errorf("game %w", ErrNotFound)
	ErrPlayerNotFound = fmt.Errorf("player %w", ErrNotFound)

	ErrGameFull          = fmt.Errorf("%w: game is full", ErrConflict)
	ErrGameNotAvailable  = fmt.Errorf("%w: game is no longer available", ErrConflict)
	ErrPlayerNotInGame   = fmt.Errorf("%w: player is not in this game", ErrConflict)
	ErrGameNotInProgress = fmt.Errorf("%w: game is not in progress", ErrConflict)
	ErrNotYourTurn       = fmt.Errorf("%w: it's not your turn", ErrConflict)
	ErrCellOccupied      = fmt.Errorf("%w: cell is already occupied", ErrConflict)
	ErrInvalidCell       = fmt.Errorf("%w: invalid cell index", ErrConflict)
	ErrGameAlreadyExists = fmt.Errorf("%w: game already exists", ErrConflict)

	ErrNotConnected     = fmt.Errorf("%w: connect first", ErrBadRequest)
	ErrAlreadyConnected = fmt.Errorf("%w: already connected", ErrBadRequest)
	ErrUnknownAction    = fmt.Errorf("%w: unknown action", ErrBadRequest)
	ErrMalformedMessage = fmt.Errorf("%w: malformed message", ErrBadRequest)
)

const (
	KindNotFound    = "not_found"
	KindConflict    = "conflict"
	KindUnavailable = "unavailable"
	KindBadRequest  = "bad_request"
)

// Unavailable marks an infrastructure failure.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// KindOf maps an error to the kind reported to clients. Unclassified errors are
// treated as infrastructure failures.
func KindOf(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrBadRequest):
		return KindBadRequest
	default:
		return KindUnavailable
	}
}
