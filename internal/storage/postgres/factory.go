package postgres

import (
	"fmt"
	"strings"

	"admin-starter/internal/storage"
)

type Factory struct{}

func (f *Factory) Create(config storage.StorageConfig) (storage.Storage, error) {
	switch c := config.(type) {
	case *Config:
		return NewAdapter(c)
	case storage.GenericConfig:
		dsn := c.GetConnectionString()
		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
			pgConfig, err := NewConfigFromURL(dsn)
			if err != nil {
				return nil, err
			}
			return NewAdapter(pgConfig)
		}
		return NewAdapter(&Config{DSN: dsn})
	default:
		return nil, fmt.Errorf("invalid config type for PostgreSQL storage")
	}
}

func (f *Factory) GetType() string {
	return "postgres"
}

func init() {
	storage.Register("postgres", &Factory{})
}
