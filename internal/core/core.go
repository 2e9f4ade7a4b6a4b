package core

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/streamkit/tally/internal/bus"
	"github.com/streamkit/tally/internal/core/db"
	"github.com/streamkit/tally/internal/core/models"
)

type Core struct {
	db  db.DB
	bus bus.Bus
	l   *zap.SugaredLogger
}

func New(db db.DB, b bus.Bus, l *zap.SugaredLogger) Core {
	return Core{
		db:  db,
		bus: b,
		l:   l,
	}
}

// ListGames returns all games. Games are seeded out of band; the service
// exposes no way to create them.
func (c Core) ListGames(ctx context.Context) ([]models.Game, error) {
	games, err := c.db.ListGames(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing games: %w", err)
	}

	return games, nil
}

func (c Core) GetGame(ctx context.Context, name string) (models.Game, error) {
	g, err := c.db.GetGameByName(ctx, name)
	if err != nil {
		return models.Game{}, fmt.Errorf("error getting game: %w", err)
	}

	return g, nil
}

// GetCount returns the current count for a counter, or zero if it was
// never added
func (c Core) GetCount(ctx context.Context, gameID int64, name string) (int64, error) {
	count, err := c.db.GetCount(ctx, gameID, name)
	if err != nil {
		return 0, fmt.Errorf("error getting count: %w", err)
	}

	return count, nil
}

func (c Core) ListCounters(ctx context.Context, gameID int64) ([]models.Counter, error) {
	cs, err := c.db.ListCounters(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("error listing counters: %w", err)
	}

	return cs, nil
}

// AddCounter creates a counter for the game with a count of zero
func (c Core) AddCounter(ctx context.Context, gameID int64, name string) error {
	if err := c.db.InsertCounter(ctx, gameID, name); err != nil {
		return fmt.Errorf("error adding counter: %w", err)
	}

	c.publishUpdated(ctx)
	return nil
}

// DeleteCounter removes a counter. Deleting a counter that doesn't exist
// succeeds.
func (c Core) DeleteCounter(ctx context.Context, gameID int64, name string) error {
	if err := c.db.DeleteCounter(ctx, gameID, name); err != nil {
		return fmt.Errorf("error deleting counter: %w", err)
	}

	c.publishUpdated(ctx)
	return nil
}

// IncrementCounter bumps a counter by one
func (c Core) IncrementCounter(ctx context.Context, gameID int64, name string) error {
	return c.adjustCounter(ctx, gameID, name, 1)
}

// DecrementCounter lowers a counter by one. A decrement that would take the
// count below zero is dropped without an error.
func (c Core) DecrementCounter(ctx context.Context, gameID int64, name string) error {
	return c.adjustCounter(ctx, gameID, name, -1)
}

// Increment and decrement share one routine; the sign of the delta is the
// only variation point
func (c Core) adjustCounter(ctx context.Context, gameID int64, name string, delta int64) error {
	if err := c.db.AdjustCount(ctx, gameID, name, delta); err != nil {
		return fmt.Errorf("error adjusting counter: %w", err)
	}

	c.publishUpdated(ctx)
	return nil
}

// publishUpdated signals subscribed clients to re-fetch. The mutation has
// already committed, so a publish failure only delays a client until its
// next refresh.
func (c Core) publishUpdated(ctx context.Context) {
	if err := c.bus.Publish(ctx, bus.CounterChannel, bus.EventUpdated); err != nil {
		c.l.Warnw("error publishing update event", "err", err)
	}
}
