package usecase

import (
	"slices"
	"sync"
)

// keyedMutex serializes work per game id. Entries are reference counted and
// removed once nobody holds or waits for them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock blocks until key is free and returns the matching unlock.
func (that *keyedMutex) Lock(key string) func() {
	that.mu.Lock()
	lock, ok := that.locks[key]
	if !ok {
		lock = &refMutex{}
		that.locks[key] = lock
	}
	lock.refs++
	that.mu.Unlock()

	lock.Lock()

	return func() {
		lock.Unlock()

		that.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(that.locks, key)
		}
		that.mu.Unlock()
	}
}

func (that *keyedMutex) size() int {
	that.mu.Lock()
	defer that.mu.Unlock()

	return len(that.locks)
}

// sessionTable maps a player id to the ids of the games the player sits in.
type sessionTable struct {
	mu    sync.Mutex
	games map[string]map[string]struct{}
}

func newSessionTable() *sessionTable {
	return &sessionTable{games: make(map[string]map[string]struct{})}
}

func (that *sessionTable) add(playerID, gameID string) {
	that.mu.Lock()
	defer that.mu.Unlock()

	games, ok := that.games[playerID]
	if !ok {
		games = make(map[string]struct{})
		that.games[playerID] = games
	}
	games[gameID] = struct{}{}
}

func (that *sessionTable) remove(playerID, gameID string) {
	that.mu.Lock()
	defer that.mu.Unlock()

	games, ok := that.games[playerID]
	if !ok {
		return
	}

	delete(games, gameID)
	if len(games) == 0 {
		delete(that.games, playerID)
	}
}

// gamesOf returns a sorted snapshot of the player's game ids.
func (that *sessionTable) gamesOf(playerID string) []string {
	that.mu.Lock()
	defer that.mu.Unlock()

	ids := make([]string, 0, len(that.games[playerID]))
	for id := range that.games[playerID] {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	return ids
}

func (that *sessionTable) players() []string {
	that.mu.Lock()
	defer that.mu.Unlock()

	ids := make([]string, 0, len(that.games))
	for id := range that.games {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	return ids
}

func (that *sessionTable) reset() {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.games = make(map[string]map[string]struct{})
}
