// Package models provides the structs and sentinel errors exposed by the
// core package, but put in an independent package to break the dependency
// cycle between `core` and `db`
package models

import "errors"

var (
	// ErrGameNotFound is returned when a game is looked up by a name that
	// doesn't exist
	ErrGameNotFound = errors.New("game not found")
	// ErrCounterNotFound is returned when adjusting a counter that was
	// never added
	ErrCounterNotFound = errors.New("counter not found")
	// ErrCounterExists is returned when adding a counter that already
	// exists for the game
	ErrCounterExists = errors.New("counter already exists")
	// ErrStore wraps failures reported by the underlying store
	ErrStore = errors.New("store error")
)

// A Game is a named context that scopes a set of counters
type Game struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// A Counter is a named tally attached to a game. Count never goes below
// zero through this service.
type Counter struct {
	ID    int64  `db:"id" json:"-"`
	Game  int64  `db:"game" json:"-"`
	Name  string `db:"name" json:"name"`
	Count int64  `db:"count" json:"count"`
}
