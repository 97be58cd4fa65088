package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"admin-starter/internal/storage"
)

const uniqueViolation = "23505"

// Adapter is the PostgreSQL implementation of storage.Storage, using pgx
// through its database/sql driver.
type Adapter struct {
	*storage.SQLStore
	config *Config
}

func NewAdapter(config *Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid PostgreSQL config: %w", err)
	}

	db, err := sql.Open("pgx", config.GetConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	adapter := &Adapter{
		SQLStore: storage.NewSQLStore(db, dialect{}),
		config:   config,
	}

	if err := adapter.Migrate(migrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return adapter, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS settings (
		"key" VARCHAR(255) PRIMARY KEY,
		value JSONB NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		category VARCHAR(100) NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(64) PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT UNIQUE,
		email_verified BOOLEAN NOT NULL DEFAULT FALSE,
		username VARCHAR(255) NOT NULL UNIQUE,
		display_username TEXT NOT NULL DEFAULT '',
		image TEXT,
		role VARCHAR(32) NOT NULL DEFAULT 'user',
		banned BOOLEAN NOT NULL DEFAULT FALSE,
		ban_reason TEXT,
		ban_expires TIMESTAMPTZ,
		password_hash TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_users_created_at ON users(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_settings_category ON settings(category)`,
}

type dialect struct{}

func (dialect) Name() string { return "postgres" }

// Rebind turns '?' placeholders into $1, $2, ... Queries here never contain
// a literal question mark.
func (dialect) Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)

	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (dialect) IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
