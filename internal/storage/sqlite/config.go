package sqlite

import (
	"fmt"
	"strings"
)

const memoryPath = ":memory:"

type Config struct {
	DatabasePath string
}

func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database path is required")
	}
	return nil
}

func (c *Config) GetType() string {
	return "sqlite"
}

// GetConnectionString enables foreign keys and a busy timeout so concurrent
// writers wait instead of failing with SQLITE_BUSY.
func (c *Config) GetConnectionString() string {
	if c.IsMemory() {
		return memoryPath + "?_foreign_keys=on"
	}
	sep := "?"
	if strings.Contains(c.DatabasePath, "?") {
		sep = "&"
	}
	return c.DatabasePath + sep + "_foreign_keys=on&_busy_timeout=5000"
}

func (c *Config) IsMemory() bool {
	return c.DatabasePath == memoryPath
}

func DefaultConfig() *Config {
	return &Config{
		DatabasePath: "./admin_starter.db",
	}
}

// MemoryConfig returns a config for a private in-memory database.
func MemoryConfig() *Config {
	return &Config{DatabasePath: memoryPath}
}
