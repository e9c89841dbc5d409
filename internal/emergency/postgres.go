package emergency

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Postgres appends records to the efirs table.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Push(ctx context.Context, r Record) (string, error) {
	var key string
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO efirs (key, tourist_id, latitude, longitude, timestamp_ms)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING key
	`, uuid.NewString(), r.TouristID, r.Location.Latitude, r.Location.Longitude, r.Timestamp).Scan(&key)
	if err != nil {
		return "", fmt.Errorf("insert %s record: %w", Collection, err)
	}
	return key, nil
}
