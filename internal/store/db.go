package store

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"

	"qrattend/internal/config"
)

// Postgres holds the shared connection pool backing the session store
// and the attendance-record sink.
type Postgres struct {
	DB *sql.DB
}

// OpenPostgres opens a pool sized from config and verifies connectivity.
func OpenPostgres(cfg config.App) (*Postgres, error) {
	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.DBMaxConns)
	db.SetMaxIdleConns(cfg.DBMaxConns / 2)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return &Postgres{DB: db}, nil
}

// Healthy reports whether the pool can reach the database.
func (p *Postgres) Healthy(ctx context.Context) bool {
	if p == nil || p.DB == nil {
		return false
	}
	return p.DB.PingContext(ctx) == nil
}

func (p *Postgres) Close() error {
	if p == nil || p.DB == nil {
		return nil
	}
	return p.DB.Close()
}
