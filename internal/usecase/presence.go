package usecase

import (
	"context"
	"time"
)

func (that *Coordinator) isOnline(playerID string) bool {
	that.presenceMu.Lock()
	defer that.presenceMu.Unlock()

	_, ok := that.online[playerID]

	return ok
}

func (that *Coordinator) isVacated(playerID string) bool {
	return !that.isOnline(playerID)
}

// markOnline cancels a pending disconnect for playerID.
func (that *Coordinator) markOnline(playerID string) {
	that.presenceMu.Lock()
	defer that.presenceMu.Unlock()

	that.online[playerID] = struct{}{}
	that.cancelPendingLocked(playerID)
}

// markOffline schedules the disconnect of playerID after the reconnect grace,
// or runs it right away when there is no grace. It reports whether the
// disconnect was deferred.
func (that *Coordinator) markOffline(ctx context.Context, playerID string) bool {
	if that.broadcaster.IsOnline(playerID) {
		return false
	}

	that.presenceMu.Lock()

	delete(that.online, playerID)

	if that.opts.ReconnectGrace <= 0 {
		that.cancelPendingLocked(playerID)
		that.presenceMu.Unlock()

		that.disconnect(ctx, playerID)

		return false
	}

	that.cancelPendingLocked(playerID)

	pending := &pendingDisconnect{}
	that.pending[playerID] = pending

	pending.timer = time.AfterFunc(that.opts.ReconnectGrace, func() {
		that.presenceMu.Lock()
		if that.pending[playerID] != pending {
			that.presenceMu.Unlock()
			return
		}
		delete(that.pending, playerID)
		that.presenceMu.Unlock()

		if that.broadcaster.IsOnline(playerID) {
			that.markOnline(playerID)
			return
		}

		that.disconnect(context.WithoutCancel(ctx), playerID)
	})

	that.presenceMu.Unlock()

	return true
}

func (that *Coordinator) cancelPendingLocked(playerID string) {
	if pending, ok := that.pending[playerID]; ok {
		pending.timer.Stop()
		delete(that.pending, playerID)
	}
}

// pendingCount is the number of scheduled disconnects.
func (that *Coordinator) pendingCount() int {
	that.presenceMu.Lock()
	defer that.presenceMu.Unlock()

	return len(that.pending)
}

// Close stops every scheduled disconnect.
func (that *Coordinator) Close() {
	that.presenceMu.Lock()
	defer that.presenceMu.Unlock()

	for playerID := range that.pending {
		that.cancelPendingLocked(playerID)
	}
}
