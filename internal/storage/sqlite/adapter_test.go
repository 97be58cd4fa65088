package sqlite_test

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"admin-starter/internal/common/errors"
	"admin-starter/internal/storage"
	"admin-starter/internal/storage/sqlite"
)

func newAdapter(t *testing.T) *sqlite.Adapter {
	t.Helper()
	adapter, err := sqlite.NewAdapter(sqlite.MemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { adapter.Close() })
	return adapter
}

func strPtr(s string) *string { return &s }

func setting(key, value string) *storage.Setting {
	return &storage.Setting{Key: key, Value: json.RawMessage(value), Description: key + " desc", Category: "Test"}
}

func TestConfig(t *testing.T) {
	assert.Error(t, (&sqlite.Config{}).Validate())
	assert.Equal(t, "sqlite", sqlite.DefaultConfig().GetType())
	assert.Equal(t, "./admin_starter.db?_foreign_keys=on&_busy_timeout=5000", sqlite.DefaultConfig().GetConnectionString())
	assert.Equal(t, "a.db?mode=rwc&_foreign_keys=on&_busy_timeout=5000", (&sqlite.Config{DatabasePath: "a.db?mode=rwc"}).GetConnectionString())
	assert.True(t, sqlite.MemoryConfig().IsMemory())
}

func TestAdapter_FileDatabaseReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	first, err := sqlite.NewAdapter(&sqlite.Config{DatabasePath: path})
	require.NoError(t, err)
	require.NoError(t, first.InsertSettingsIfAbsent(ctx, []*storage.Setting{setting("a", "1")}))
	require.NoError(t, first.Close())

	// Migrations are idempotent and data survives.
	second, err := sqlite.NewAdapter(&sqlite.Config{DatabasePath: path})
	require.NoError(t, err)
	defer second.Close()

	got, err := second.GetSetting(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.JSONEq(t, "1", string(got.Value))
}

func TestSettings_InsertIfAbsentKeepsExisting(t *testing.T) {
	a := newAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.InsertSettingsIfAbsent(ctx, []*storage.Setting{setting("a", "1"), setting("b", "true")}))
	require.NoError(t, a.InsertSettingsIfAbsent(ctx, []*storage.Setting{setting("a", "99"), setting("c", "false")}))

	all, err := a.ListSettings(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)

	got, err := a.GetSetting(ctx, "a")
	require.NoError(t, err)
	assert.JSONEq(t, "1", string(got.Value))
	assert.Equal(t, "a desc", got.Description)
	assert.Equal(t, "Test", got.Category)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestSettings_UpsertReplacesValueOnly(t *testing.T) {
	a := newAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.InsertSettingsIfAbsent(ctx, []*storage.Setting{setting("a", "1")}))

	changed := &storage.Setting{Key: "a", Value: json.RawMessage("5"), Description: "other", Category: "Other"}
	require.NoError(t, a.UpsertSettings(ctx, []*storage.Setting{changed, setting("new", "7")}))

	got, err := a.GetSetting(ctx, "a")
	require.NoError(t, err)
	assert.JSONEq(t, "5", string(got.Value))
	assert.Equal(t, "a desc", got.Description)
	assert.Equal(t, "Test", got.Category)

	got, err = a.GetSetting(ctx, "new")
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestSettings_GetMissing(t *testing.T) {
	a := newAdapter(t)

	got, err := a.GetSetting(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSettings_UpdateAndDelete(t *testing.T) {
	a := newAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.InsertSettingsIfAbsent(ctx, []*storage.Setting{setting("a", "1"), setting("b", "2")}))

	require.NoError(t, a.UpdateSetting(ctx, "a", json.RawMessage("3")))
	got, err := a.GetSetting(ctx, "a")
	require.NoError(t, err)
	assert.JSONEq(t, "3", string(got.Value))

	err = a.UpdateSetting(ctx, "missing", json.RawMessage("3"))
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))

	require.NoError(t, a.DeleteSetting(ctx, "a"))
	require.NoError(t, a.DeleteSetting(ctx, "a"))
	got, err = a.GetSetting(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, a.DeleteAllSettings(ctx))
	all, err := a.ListSettings(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSettings_TransactionRollsBack(t *testing.T) {
	a := newAdapter(t)
	ctx := context.Background()

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err := a.UpsertSettings(cancelled, []*storage.Setting{setting("a", "1"), setting("b", "2")})
	require.Error(t, err)

	all, err := a.ListSettings(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func newUser(id, username string, created time.Time) *storage.User {
	return &storage.User{
		ID:              id,
		Name:            username,
		Email:           strPtr(username + "@example.com"),
		Username:        username,
		DisplayUsername: username,
		Role:            "user",
		PasswordHash:    "hash",
		CreatedAt:       created,
	}
}

func TestUsers_CreateAndGet(t *testing.T) {
	a := newAdapter(t)
	ctx := context.Background()

	u := newUser("u1", "alice", time.Now().UTC())
	require.NoError(t, a.CreateUser(ctx, u))

	got, err := a.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, "alice@example.com", *got.Email)
	assert.Nil(t, got.BanReason)
	assert.Nil(t, got.BanExpires)
	assert.Equal(t, "hash", got.PasswordHash)

	got, err = a.GetUserByUsername(ctx, "ALICE")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "u1", got.ID)

	got, err = a.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)

	got, err = a.GetUser(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	n, err := a.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUsers_CountByRole(t *testing.T) {
	a := newAdapter(t)
	ctx := context.Background()

	admin := newUser("u1", "root", time.Now().UTC())
	admin.Role = "admin"
	require.NoError(t, a.CreateUser(ctx, admin))
	require.NoError(t, a.CreateUser(ctx, newUser("u2", "alice", time.Now().UTC())))
	require.NoError(t, a.CreateUser(ctx, newUser("u3", "bob", time.Now().UTC())))

	n, err := a.CountUsersByRole(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = a.CountUsersByRole(ctx, "user")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestUsers_CreateConflict(t *testing.T) {
	a := newAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.CreateUser(ctx, newUser("u1", "alice", time.Now().UTC())))
	err := a.CreateUser(ctx, newUser("u2", "alice", time.Now().UTC()))
	assert.True(t, errors.IsType(err, errors.ErrTypeConflict))
}

func TestUsers_UpdateFields(t *testing.T) {
	a := newAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.CreateUser(ctx, newUser("u1", "alice", time.Now().UTC())))
	require.NoError(t, a.CreateUser(ctx, newUser("u2", "bob", time.Now().UTC())))

	expires := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	err := a.UpdateUserFields(ctx, "u1", map[string]any{
		"email":      nil,
		"banned":     true,
		"banReason":  "spam",
		"banExpires": expires,
		"role":       "admin",
	})
	require.NoError(t, err)

	got, err := a.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got.Email)
	assert.True(t, got.Banned)
	require.NotNil(t, got.BanReason)
	assert.Equal(t, "spam", *got.BanReason)
	require.NotNil(t, got.BanExpires)
	assert.True(t, expires.Equal(*got.BanExpires))
	assert.Equal(t, "admin", got.Role)

	t.Run("unknown field", func(t *testing.T) {
		err := a.UpdateUserFields(ctx, "u1", map[string]any{"passwordHash": "x"})
		assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
	})

	t.Run("unique violation", func(t *testing.T) {
		err := a.UpdateUserFields(ctx, "u1", map[string]any{"username": "bob"})
		assert.True(t, errors.IsType(err, errors.ErrTypeConflict))
	})

	t.Run("missing user", func(t *testing.T) {
		err := a.UpdateUserFields(ctx, "nope", map[string]any{"name": "x"})
		assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
	})

	t.Run("empty patch", func(t *testing.T) {
		assert.NoError(t, a.UpdateUserFields(ctx, "nope", nil))
	})
}

func TestUsers_PasswordAndDelete(t *testing.T) {
	a := newAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.CreateUser(ctx, newUser("u1", "alice", time.Now().UTC())))
	require.NoError(t, a.UpdatePassword(ctx, "u1", "newhash"))

	got, err := a.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "newhash", got.PasswordHash)

	assert.True(t, errors.IsType(a.UpdatePassword(ctx, "nope", "x"), errors.ErrTypeNotFound))

	require.NoError(t, a.DeleteUser(ctx, "u1"))
	assert.True(t, errors.IsType(a.DeleteUser(ctx, "u1"), errors.ErrTypeNotFound))
}

func TestUsers_List(t *testing.T) {
	a := newAdapter(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		u := newUser(fmt.Sprintf("%032d", i), fmt.Sprintf("user%d", i), base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, a.CreateUser(ctx, u))
	}
	require.NoError(t, a.UpdateUserFields(ctx, fmt.Sprintf("%032d", 1), map[string]any{"banned": true}))

	t.Run("newest first with pagination", func(t *testing.T) {
		users, total, err := a.ListUsers(ctx, storage.ListUsersParams{Page: 1, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, 5, total)
		require.Len(t, users, 2)
		assert.Equal(t, "user4", users[0].Username)
		assert.Equal(t, "user3", users[1].Username)

		users, _, err = a.ListUsers(ctx, storage.ListUsersParams{Page: 3, Limit: 2})
		require.NoError(t, err)
		require.Len(t, users, 1)
		assert.Equal(t, "user0", users[0].Username)
	})

	t.Run("no limit returns all", func(t *testing.T) {
		users, total, err := a.ListUsers(ctx, storage.ListUsersParams{Limit: 0})
		require.NoError(t, err)
		assert.Equal(t, 5, total)
		assert.Len(t, users, 5)
	})

	t.Run("search by username is case insensitive", func(t *testing.T) {
		users, total, err := a.ListUsers(ctx, storage.ListUsersParams{Page: 1, Limit: 10, Search: "USER2"})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, users, 1)
		assert.Equal(t, "user2", users[0].Username)
	})

	t.Run("short search ignores ids", func(t *testing.T) {
		_, total, err := a.ListUsers(ctx, storage.ListUsersParams{Page: 1, Limit: 10, Search: "0000"})
		require.NoError(t, err)
		assert.Equal(t, 0, total)
	})

	t.Run("long search matches ids", func(t *testing.T) {
		users, total, err := a.ListUsers(ctx, storage.ListUsersParams{Page: 1, Limit: 10, Search: fmt.Sprintf("%032d", 3)})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		assert.Equal(t, "user3", users[0].Username)
	})

	t.Run("banned only", func(t *testing.T) {
		users, total, err := a.ListUsers(ctx, storage.ListUsersParams{Page: 1, Limit: 10, BannedOnly: true})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		assert.Equal(t, "user1", users[0].Username)
	})
}

func TestUsers_ConcurrentWrites(t *testing.T) {
	a := newAdapter(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- a.CreateUser(ctx, newUser(fmt.Sprintf("id%d", i), fmt.Sprintf("u%d", i), time.Now().UTC()))
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	n, err := a.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}
