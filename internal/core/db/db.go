package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/streamkit/tally/internal/core/models"
)

// A DB struct holds the connection to sqlite and provides methods for
// interacting with persistent storage
type DB struct {
	db *sqlx.DB
}

// New creates an instance of our repository using the provided connection
func New(db *sqlx.DB) DB {
	return DB{
		db: db,
	}
}

func (db DB) ListGames(ctx context.Context) ([]models.Game, error) {
	q := `
	SELECT * FROM games ORDER BY id;
	`

	games := []models.Game{}
	if err := db.db.SelectContext(ctx, &games, q); err != nil {
		return nil, fmt.Errorf("%w: retrieving games: %v", models.ErrStore, err)
	}

	return games, nil
}

func (db DB) GetGameByName(ctx context.Context, name string) (models.Game, error) {
	q := `
	SELECT * FROM games WHERE name = ? LIMIT 1;
	`

	g := models.Game{}
	if err := db.db.GetContext(ctx, &g, q, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Game{}, models.ErrGameNotFound
		}
		return models.Game{}, fmt.Errorf("%w: retrieving game: %v", models.ErrStore, err)
	}

	return g, nil
}

// GetCount returns the current count for a counter, or zero if no such
// counter exists
func (db DB) GetCount(ctx context.Context, gameID int64, name string) (int64, error) {
	q := `
	SELECT count FROM counters WHERE game = ? AND name = ? LIMIT 1;
	`

	var count int64
	if err := db.db.GetContext(ctx, &count, q, gameID, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: retrieving counter: %v", models.ErrStore, err)
	}

	return count, nil
}

func (db DB) ListCounters(ctx context.Context, gameID int64) ([]models.Counter, error) {
	q := `
	SELECT * FROM counters WHERE game = ? ORDER BY id;
	`

	cs := []models.Counter{}
	if err := db.db.SelectContext(ctx, &cs, q, gameID); err != nil {
		return nil, fmt.Errorf("%w: retrieving counters: %v", models.ErrStore, err)
	}

	return cs, nil
}

// InsertCounter creates a counter with a count of zero. The UNIQUE(game, name)
// constraint is the authoritative guard against duplicates, so concurrent
// inserts can't both slip past an existence check.
func (db DB) InsertCounter(ctx context.Context, gameID int64, name string) error {
	q := `
	INSERT INTO counters(game, name, count) VALUES (?, ?, 0);
	`

	if _, err := db.db.ExecContext(ctx, q, gameID, name); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return models.ErrCounterExists
		}
		return fmt.Errorf("%w: inserting counter: %v", models.ErrStore, err)
	}

	return nil
}

// DeleteCounter removes the matching row. Deleting a counter that doesn't
// exist is a no-op, not an error.
func (db DB) DeleteCounter(ctx context.Context, gameID int64, name string) error {
	q := `
	DELETE FROM counters WHERE game = ? AND name = ?;
	`

	if _, err := db.db.ExecContext(ctx, q, gameID, name); err != nil {
		return fmt.Errorf("%w: deleting counter: %v", models.ErrStore, err)
	}

	return nil
}

// AdjustCount applies a signed delta to a counter in a single conditional
// update, so two concurrent adjustments can't clobber each other's write.
// A delta that would take the count below zero leaves the row untouched
// and reports success.
func (db DB) AdjustCount(ctx context.Context, gameID int64, name string, delta int64) error {
	q := `
	UPDATE counters SET count = count + ? WHERE game = ? AND name = ? AND count + ? >= 0;
	`

	res, err := db.db.ExecContext(ctx, q, delta, gameID, name, delta)
	if err != nil {
		return fmt.Errorf("%w: adjusting counter: %v", models.ErrStore, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: reading rows affected: %v", models.ErrStore, err)
	}
	if n > 0 {
		return nil
	}

	// No row changed: either the counter doesn't exist, or the delta was
	// dropped by the zero floor. Only the former is an error.
	var exists int
	eq := `
	SELECT COUNT(1) FROM counters WHERE game = ? AND name = ?;
	`
	if err := db.db.GetContext(ctx, &exists, eq, gameID, name); err != nil {
		return fmt.Errorf("%w: checking counter existence: %v", models.ErrStore, err)
	}
	if exists == 0 {
		return models.ErrCounterNotFound
	}

	return nil
}
