package storage

import (
	"fmt"

	"admin-starter/internal/common/errors"
	"admin-starter/internal/config"
)

// NewStorage creates a storage adapter based on configuration. The driver
// packages register themselves with the default registry on import.
func NewStorage(cfg *config.Config) (Storage, error) {
	var (
		storageType   string
		storageConfig StorageConfig
	)

	switch {
	case cfg.DatabaseType == "sqlite":
		storageType = "sqlite"
		storageConfig = GenericConfig{
			"type": "sqlite",
			"path": cfg.DatabasePath,
		}

	case cfg.IsPostgres():
		storageType = "postgres"
		storageConfig = GenericConfig{
			"type":              "postgres",
			"connection_string": cfg.PostgresDSN(),
		}

	default:
		return nil, errors.ConfigError(fmt.Sprintf("unsupported database type: %s", cfg.DatabaseType))
	}

	if !IsRegistered(storageType) {
		return nil, errors.ConfigError(fmt.Sprintf("storage driver %s is not linked into this binary", storageType))
	}

	return Create(storageType, storageConfig)
}
