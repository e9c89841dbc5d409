// Package trip resolves the session identity under which telemetry and
// emergency records are filed: the id of the user's active trip.
package trip

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// ErrNoActiveTrip is returned when the user has no valid trip.
var ErrNoActiveTrip = errors.New("no active trip")

// Resolver looks up the active session id.
type Resolver interface {
	ActiveSessionID(ctx context.Context) (string, error)
}

// Static always resolves to a fixed id. An empty Static has no active trip.
type Static string

func (s Static) ActiveSessionID(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoActiveTrip
	}
	return string(s), nil
}

// Postgres resolves to the oldest valid trip in the trips table.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) ActiveSessionID(ctx context.Context) (string, error) {
	var id string
	err := p.db.QueryRowContext(ctx, `
		SELECT blockchain_id FROM trips
		WHERE valid
		ORDER BY created_at, id
		LIMIT 1
	`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoActiveTrip
	}
	if err != nil {
		return "", fmt.Errorf("querying active trip: %w", err)
	}
	return id, nil
}

// Cached remembers the first successful resolution. Failures are not cached.
type Cached struct {
	Resolver Resolver

	mu sync.Mutex
	id string
}

func (c *Cached) ActiveSessionID(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.id != "" {
		return c.id, nil
	}
	id, err := c.Resolver.ActiveSessionID(ctx)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", ErrNoActiveTrip
	}
	c.id = id
	return id, nil
}

// Forget drops the cached id, e.g. when the trip ends.
func (c *Cached) Forget() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = ""
}
