package settings_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"admin-starter/internal/common/errors"
	"admin-starter/internal/common/logging"
	"admin-starter/internal/settings"
	"admin-starter/internal/storage"
	"admin-starter/internal/storage/sqlite"
)

// countingStore wraps a real store and counts calls.
type countingStore struct {
	storage.SettingsStore

	lists   atomic.Int32
	inserts atomic.Int32
	upserts atomic.Int32
	gets    atomic.Int32

	failList   error
	failUpsert error
}

func (c *countingStore) ListSettings(ctx context.Context) ([]*storage.Setting, error) {
	c.lists.Add(1)
	if c.failList != nil {
		return nil, c.failList
	}
	return c.SettingsStore.ListSettings(ctx)
}

func (c *countingStore) InsertSettingsIfAbsent(ctx context.Context, rows []*storage.Setting) error {
	c.inserts.Add(1)
	return c.SettingsStore.InsertSettingsIfAbsent(ctx, rows)
}

func (c *countingStore) UpsertSettings(ctx context.Context, rows []*storage.Setting) error {
	c.upserts.Add(1)
	if c.failUpsert != nil {
		return c.failUpsert
	}
	return c.SettingsStore.UpsertSettings(ctx, rows)
}

func (c *countingStore) GetSetting(ctx context.Context, key string) (*storage.Setting, error) {
	c.gets.Add(1)
	return c.SettingsStore.GetSetting(ctx, key)
}

func newStore(t *testing.T) *countingStore {
	t.Helper()
	adapter, err := sqlite.NewAdapter(sqlite.MemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { adapter.Close() })
	return &countingStore{SettingsStore: adapter}
}

func newService(t *testing.T) (*settings.Service, *countingStore) {
	t.Helper()
	store := newStore(t)
	return settings.NewService(store, logging.NewNopLogger()), store
}

func valuePtr(v settings.Value) *settings.Value { return &v }

func TestDefinitions_DefaultsValidate(t *testing.T) {
	for _, def := range settings.Definitions() {
		t.Run(def.Key, func(t *testing.T) {
			assert.NoError(t, def.Validate(def.Default))
			assert.Equal(t, def.Kind, def.Default.Kind)
			assert.NotEmpty(t, def.Description)
			assert.NotEmpty(t, def.Category)

			raw, err := json.Marshal(def.Default)
			require.NoError(t, err)
			parsed, err := settings.ParseValue(def.Key, raw)
			require.NoError(t, err)
			assert.Equal(t, def.Default, *parsed)
		})
	}
}

func TestDefinitions_Lookup(t *testing.T) {
	def, ok := settings.Lookup(settings.KeySearchResultsLimit)
	require.True(t, ok)
	assert.Equal(t, settings.IntValue(50), def.Default)
	assert.Equal(t, "min=1,max=200", def.Tag())

	_, ok = settings.Lookup("nope")
	assert.False(t, ok)

	assert.Len(t, settings.Keys(), 9)
	assert.Equal(t, []string{settings.CategorySystem, settings.CategorySearch, settings.CategoryRateLimit}, settings.Categories())
}

func TestInitialize_SeedsDefaults(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.Initialize(ctx))

	rows, err := store.SettingsStore.ListSettings(ctx)
	require.NoError(t, err)
	require.Len(t, rows, len(settings.Definitions()))

	for _, row := range rows {
		def, ok := settings.Lookup(row.Key)
		require.True(t, ok, row.Key)
		want, err := json.Marshal(def.Default)
		require.NoError(t, err)
		assert.JSONEq(t, string(want), string(row.Value), row.Key)
		assert.Equal(t, def.Category, row.Category)
		assert.Equal(t, def.Description, row.Description)
	}

	// A second call performs no reads or writes.
	require.NoError(t, svc.Initialize(ctx))
	assert.Equal(t, int32(1), store.inserts.Load())
	assert.Equal(t, int32(2), store.lists.Load())
}

func TestInitialize_SeededStoreSkipsWrites(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, settings.NewService(store, logging.NewNopLogger()).Initialize(ctx))
	require.Equal(t, int32(1), store.inserts.Load())

	// A fresh process over an already seeded table writes nothing.
	require.NoError(t, settings.NewService(store, logging.NewNopLogger()).Initialize(ctx))
	assert.Equal(t, int32(1), store.inserts.Load())
}

func TestInitialize_KeepsExistingValues(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.SettingsStore.InsertSettingsIfAbsent(ctx, []*storage.Setting{
		{Key: settings.KeySearchResultsLimit, Value: json.RawMessage("75")},
	}))

	svc := settings.NewService(store, logging.NewNopLogger())
	v, err := svc.GetInt(ctx, settings.KeySearchResultsLimit)
	require.NoError(t, err)
	assert.Equal(t, 75, v)
}

func TestInitialize_Coalesces(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.Initialize(ctx))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), store.inserts.Load())
}

func TestInitialize_FailureRetries(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	store.failList = fmt.Errorf("database unreachable")
	_, err := svc.GetBool(ctx, settings.KeyPublicRegistration)
	require.Error(t, err)

	store.failList = nil
	v, err := svc.GetBool(ctx, settings.KeyPublicRegistration)
	require.NoError(t, err)
	assert.False(t, v)
}

func TestInitialize_LoadsAfterJoiningEmptyFlight(t *testing.T) {
	svc, store := newService(t)

	release := make(chan struct{})
	svc.HoldInitFlight(release)

	done := make(chan error, 1)
	go func() { done <- svc.Initialize(context.Background()) }()
	time.Sleep(20 * time.Millisecond)
	close(release)

	require.NoError(t, <-done)
	assert.Positive(t, store.lists.Load())
}

func TestRefresh_ReadsThroughCache(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	a := settings.NewService(store, logging.NewNopLogger())
	b := settings.NewService(store, logging.NewNopLogger())
	require.NoError(t, a.Initialize(ctx))
	require.NoError(t, b.Initialize(ctx))

	require.NoError(t, a.UpdateSettingByKey(ctx, settings.KeyFirstTimeSetupCompleted, settings.BoolValue(true)))

	stale, err := b.GetBool(ctx, settings.KeyFirstTimeSetupCompleted)
	require.NoError(t, err)
	assert.False(t, stale)

	v, err := b.Refresh(ctx, settings.KeyFirstTimeSetupCompleted)
	require.NoError(t, err)
	assert.True(t, v.Bool)

	cached, err := b.GetBool(ctx, settings.KeyFirstTimeSetupCompleted)
	require.NoError(t, err)
	assert.True(t, cached)

	_, err = b.Refresh(ctx, "noSuchKey")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func TestGet_ServedFromCache(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		v, err := svc.GetInt(ctx, settings.KeyRateLimitingAuthedLimit)
		require.NoError(t, err)
		assert.Equal(t, 20, v)
	}
	assert.Equal(t, int32(0), store.gets.Load())
}

func TestGet_Errors(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Get(ctx, "unknown")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))

	_, err = svc.GetInt(ctx, settings.KeyPublicRegistration)
	assert.True(t, errors.IsType(err, errors.ErrTypeInternal))

	_, err = svc.GetBool(ctx, settings.KeySearchResultsLimit)
	assert.True(t, errors.IsType(err, errors.ErrTypeInternal))
}

func TestDeleteSettingByKey_FallsBackToDefault(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.UpdateSettingByKey(ctx, settings.KeySearchResultsLimit, settings.IntValue(10)))
	require.NoError(t, svc.DeleteSettingByKey(ctx, settings.KeySearchResultsLimit))

	v, err := svc.GetInt(ctx, settings.KeySearchResultsLimit)
	require.NoError(t, err)
	assert.Equal(t, 50, v)
	assert.Equal(t, int32(1), store.gets.Load())

	// Updating a deleted key recreates its row.
	require.NoError(t, svc.UpdateSettingByKey(ctx, settings.KeySearchResultsLimit, settings.IntValue(11)))
	got, err := svc.GetSetting(ctx, settings.KeySearchResultsLimit)
	require.NoError(t, err)
	assert.Equal(t, settings.IntValue(11), got.Value)
	assert.Equal(t, settings.CategorySearch, got.Category)
}

func TestUpdateSettingByKey(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.UpdateSettingByKey(ctx, settings.KeyRateLimitingAuthedEnabled, settings.BoolValue(true)))
	enabled, err := svc.GetBool(ctx, settings.KeyRateLimitingAuthedEnabled)
	require.NoError(t, err)
	assert.True(t, enabled)

	tests := []struct {
		name  string
		key   string
		value settings.Value
		code  string
	}{
		{"above max", settings.KeySearchResultsLimit, settings.IntValue(201), "max"},
		{"below min", settings.KeyRateLimitingAuthedLimit, settings.IntValue(0), "min"},
		{"wrong kind", settings.KeyPublicRegistration, settings.IntValue(1), "type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.UpdateSettingByKey(ctx, tt.key, tt.value)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

			var appErr *errors.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.code, appErr.Code)
			assert.Equal(t, tt.key, appErr.Context["field"])
		})
	}

	err = svc.UpdateSettingByKey(ctx, "unknown", settings.BoolValue(true))
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestUpdateSettings(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	err := svc.UpdateSettings(ctx, map[string]*settings.Value{
		settings.KeyRateLimitingAuthedEnabled: valuePtr(settings.BoolValue(true)),
		settings.KeyRateLimitingAuthedLimit:   valuePtr(settings.IntValue(5)),
		settings.KeyPublicRegistration:        nil,
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), store.upserts.Load())

	limit, err := svc.GetInt(ctx, settings.KeyRateLimitingAuthedLimit)
	require.NoError(t, err)
	assert.Equal(t, 5, limit)

	row, err := store.SettingsStore.GetSetting(ctx, settings.KeyRateLimitingAuthedLimit)
	require.NoError(t, err)
	assert.JSONEq(t, "5", string(row.Value))

	t.Run("only nil entries", func(t *testing.T) {
		require.NoError(t, svc.UpdateSettings(ctx, map[string]*settings.Value{settings.KeyPublicRegistration: nil}))
		assert.Equal(t, int32(1), store.upserts.Load())
	})
}

func TestUpdateSettings_ValidatesBeforeWriting(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	err := svc.UpdateSettings(ctx, map[string]*settings.Value{
		settings.KeyRateLimitingAuthedLimit: valuePtr(settings.IntValue(7)),
		settings.KeySearchResultsLimit:      valuePtr(settings.IntValue(1000)),
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
	assert.Equal(t, int32(0), store.upserts.Load())

	limit, err := svc.GetInt(ctx, settings.KeyRateLimitingAuthedLimit)
	require.NoError(t, err)
	assert.Equal(t, 20, limit)
}

func TestUpdateSettings_FailedCommitLeavesCache(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	require.NoError(t, svc.Initialize(ctx))

	store.failUpsert = fmt.Errorf("disk full")
	err := svc.UpdateSettings(ctx, map[string]*settings.Value{
		settings.KeyRateLimitingAuthedLimit: valuePtr(settings.IntValue(7)),
	})
	require.Error(t, err)

	limit, err := svc.GetInt(ctx, settings.KeyRateLimitingAuthedLimit)
	require.NoError(t, err)
	assert.Equal(t, 20, limit)
}

func TestGetAllAndByCategory(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	all, err := svc.GetAllSettings(ctx)
	require.NoError(t, err)
	assert.Len(t, all, len(settings.Definitions()))

	rl, err := svc.GetByCategory(ctx, settings.CategoryRateLimit)
	require.NoError(t, err)
	assert.Len(t, rl, 6)
	for _, s := range rl {
		assert.Equal(t, settings.CategoryRateLimit, s.Category)
	}

	none, err := svc.GetByCategory(ctx, "Nope")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGetSetting(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	require.NoError(t, svc.Initialize(ctx))

	got, err := svc.GetSetting(ctx, settings.KeyFirstTimeSetupCompleted)
	require.NoError(t, err)
	assert.Equal(t, settings.BoolValue(false), got.Value)
	assert.False(t, got.UpdatedAt.IsZero())

	_, err = svc.GetSetting(ctx, "unknown")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func TestDeleteSettings_ReseedsOnNextRead(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.UpdateSettingByKey(ctx, settings.KeySearchResultsLimit, settings.IntValue(9)))
	require.NoError(t, svc.DeleteSettings(ctx))

	rows, err := store.SettingsStore.ListSettings(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)

	v, err := svc.GetInt(ctx, settings.KeySearchResultsLimit)
	require.NoError(t, err)
	assert.Equal(t, 50, v)

	rows, err = store.SettingsStore.ListSettings(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, len(settings.Definitions()))
}

func TestResetCache_ReloadsFromStorage(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	require.NoError(t, svc.Initialize(ctx))

	// Written behind the service's back.
	require.NoError(t, store.SettingsStore.UpdateSetting(ctx, settings.KeySearchResultsLimit, json.RawMessage("42")))

	v, err := svc.GetInt(ctx, settings.KeySearchResultsLimit)
	require.NoError(t, err)
	assert.Equal(t, 50, v)

	svc.ResetCache()
	v, err = svc.GetInt(ctx, settings.KeySearchResultsLimit)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		raw     string
		want    *settings.Value
		wantErr bool
	}{
		{"bool", settings.KeyPublicRegistration, "true", valuePtr(settings.BoolValue(true)), false},
		{"int", settings.KeySearchResultsLimit, "100", valuePtr(settings.IntValue(100)), false},
		{"integral float", settings.KeySearchResultsLimit, "100.0", valuePtr(settings.IntValue(100)), false},
		{"null drops", settings.KeySearchResultsLimit, "null", nil, false},
		{"fraction", settings.KeySearchResultsLimit, "1.5", nil, true},
		{"string", settings.KeySearchResultsLimit, `"10"`, nil, true},
		{"wrong kind", settings.KeyPublicRegistration, "1", nil, true},
		{"out of range", settings.KeySearchResultsLimit, "0", nil, true},
		{"unknown key", "nope", "1", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := settings.ParseValue(tt.key, json.RawMessage(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValue_JSON(t *testing.T) {
	raw, err := json.Marshal(map[string]settings.Value{"a": settings.BoolValue(true), "b": settings.IntValue(3)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":true,"b":3}`, string(raw))

	_, err = json.Marshal(settings.Value{})
	assert.Error(t, err)

	assert.Equal(t, "true", settings.BoolValue(true).String())
	assert.Equal(t, "3", settings.IntValue(3).String())
	assert.Equal(t, 3, settings.IntValue(3).Interface())
}
