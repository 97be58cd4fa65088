package storage

import (
	"context"
	"encoding/json"
	"time"

	"admin-starter/internal/common/pagination"
)

// Storage is the persistence surface used by the settings and users services.
type Storage interface {
	SettingsStore
	UserStore

	Close() error
	Health() error
}

// SettingsStore persists the key/value settings table. Values are opaque JSON
// documents; the settings package owns their shape.
type SettingsStore interface {
	ListSettings(ctx context.Context) ([]*Setting, error)
	// GetSetting returns nil, nil when the key has no row.
	GetSetting(ctx context.Context, key string) (*Setting, error)
	// InsertSettingsIfAbsent writes every row whose key is missing, in one
	// transaction. Existing rows are never modified.
	InsertSettingsIfAbsent(ctx context.Context, settings []*Setting) error
	// UpsertSettings writes every row in one transaction. On conflict only the
	// value and timestamp are replaced.
	UpsertSettings(ctx context.Context, settings []*Setting) error
	UpdateSetting(ctx context.Context, key string, value json.RawMessage) error
	DeleteSetting(ctx context.Context, key string) error
	DeleteAllSettings(ctx context.Context) error
}

// UserStore persists user accounts.
type UserStore interface {
	CreateUser(ctx context.Context, user *User) error
	// GetUser, GetUserByUsername and GetUserByEmail return nil, nil when no row matches.
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	// UpdateUserFields applies a sparse patch keyed by the JSON field names of User.
	// A nil value clears the column.
	UpdateUserFields(ctx context.Context, id string, patch map[string]any) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	DeleteUser(ctx context.Context, id string) error
	ListUsers(ctx context.Context, params ListUsersParams) ([]*User, int, error)
	CountUsers(ctx context.Context) (int, error)
	CountUsersByRole(ctx context.Context, role string) (int, error)
}

type StorageConfig interface {
	Validate() error
	GetType() string
	GetConnectionString() string
}

type StorageFactory interface {
	Create(config StorageConfig) (Storage, error)
	GetType() string
}

// Setting is one row of the settings table.
type Setting struct {
	Key         string          `json:"key"`
	Value       json.RawMessage `json:"value"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// User is one row of the users table.
type User struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Email           *string    `json:"email"`
	EmailVerified   bool       `json:"emailVerified"`
	Username        string     `json:"username"`
	DisplayUsername string     `json:"displayUsername"`
	Image           *string    `json:"image"`
	Role            string     `json:"role"`
	Banned          bool       `json:"banned"`
	BanReason       *string    `json:"banReason"`
	BanExpires      *time.Time `json:"banExpires"`
	PasswordHash    string     `json:"-"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// ListUsersParams selects a page of users ordered by creation time, newest
// first. A Limit of zero or less returns every matching row.
type ListUsersParams struct {
	Page       int
	Limit      int
	Search     string
	BannedOnly bool
}

// Offset is the row offset for the requested page. Pages start at 1.
func (p ListUsersParams) Offset() int {
	return pagination.Params{Page: p.Page, Limit: p.Limit}.Offset()
}

// GenericConfig is a simple map-based implementation of StorageConfig used by
// the factory before a driver specific config is built.
type GenericConfig map[string]interface{}

func (gc GenericConfig) Validate() error {
	return nil
}

func (gc GenericConfig) GetType() string {
	if t, ok := gc["type"].(string); ok {
		return t
	}
	return "unknown"
}

func (gc GenericConfig) GetConnectionString() string {
	if cs, ok := gc["connection_string"].(string); ok {
		return cs
	}
	return ""
}

func (gc GenericConfig) String(key string) string {
	s, _ := gc[key].(string)
	return s
}
