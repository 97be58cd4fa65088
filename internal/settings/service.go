// Package settings is the typed, cached view over the persisted settings
// table. Every key is declared once in the registry with its kind, default,
// bounds and category; the service seeds missing keys on first use and
// serves reads from memory.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/singleflight"

	"admin-starter/internal/common/cache"
	"admin-starter/internal/common/errors"
	"admin-starter/internal/common/logging"
	"admin-starter/internal/storage"
)

const initFlightKey = "initialize"

// Setting is a setting with its metadata, as returned to API callers.
type Setting struct {
	Key         string    `json:"key"`
	Value       Value     `json:"value"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Service reads and writes settings through a process-local cache.
type Service struct {
	store  storage.SettingsStore
	cache  *cache.LocalCache[Value]
	logger logging.Logger

	flight singleflight.Group
	// held while the cache is being loaded
	loading sync.Mutex

	mu          sync.RWMutex
	initialized bool
}

func NewService(store storage.SettingsStore, logger logging.Logger) *Service {
	if logger == nil {
		logger = logging.Component("settings")
	}
	return &Service{
		store:  store,
		cache:  cache.NewLocalCache[Value](cache.NoExpiration, 0),
		logger: logger,
	}
}

func (s *Service) isInitialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// Initialize seeds every declared key missing from storage with its default
// and loads the table into the cache. Concurrent callers share one run and
// its outcome; a failure leaves the service uninitialized so the next call
// retries.
func (s *Service) Initialize(ctx context.Context) error {
	// a shared run can finish without loading if the cache was reset meanwhile
	for !s.isInitialized() {
		_, err, _ := s.flight.Do(initFlightKey, func() (interface{}, error) {
			s.loading.Lock()
			defer s.loading.Unlock()
			if s.isInitialized() {
				return nil, nil
			}

			if err := s.load(context.WithoutCancel(ctx)); err != nil {
				s.logger.Error("Failed to initialize settings", err)
				return nil, err
			}

			s.mu.Lock()
			s.initialized = true
			s.mu.Unlock()
			return nil, nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) load(ctx context.Context) error {
	rows, err := s.store.ListSettings(ctx)
	if err != nil {
		return err
	}

	present := lo.SliceToMap(rows, func(r *storage.Setting) (string, struct{}) { return r.Key, struct{}{} })
	missing := lo.Filter(definitions, func(d Definition, _ int) bool {
		_, ok := present[d.Key]
		return !ok
	})

	if len(missing) > 0 {
		seed := make([]*storage.Setting, 0, len(missing))
		for _, def := range missing {
			row, err := toRow(def, def.Default)
			if err != nil {
				return err
			}
			seed = append(seed, row)
		}

		// Another process may seed the same keys concurrently; existing rows win.
		if err := s.store.InsertSettingsIfAbsent(ctx, seed); err != nil {
			return err
		}
		s.logger.Info("Seeded default settings", logging.Int("count", len(seed)))

		if rows, err = s.store.ListSettings(ctx); err != nil {
			return err
		}
	}

	s.cache.Clear()
	for _, row := range rows {
		setting, err := s.fromRow(row)
		if err != nil {
			s.logger.Warn("Ignoring stored setting",
				logging.String("key", row.Key),
				logging.Err(err))
			continue
		}
		s.cache.Set(setting.Key, setting.Value)
	}

	s.logger.Debug("Settings loaded", logging.Int("count", s.cache.Len()))
	return nil
}

func toRow(def Definition, v Value) (*storage.Setting, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.InternalError("failed to encode setting "+def.Key, err)
	}
	return &storage.Setting{
		Key:         def.Key,
		Value:       raw,
		Description: def.Description,
		Category:    def.Category,
	}, nil
}

// fromRow decodes a stored row. Rows whose key is not declared or whose value
// does not match the declared kind are rejected.
func (s *Service) fromRow(row *storage.Setting) (*Setting, error) {
	def, ok := Lookup(row.Key)
	if !ok {
		return nil, fmt.Errorf("undeclared setting %q", row.Key)
	}

	var v Value
	if err := json.Unmarshal(row.Value, &v); err != nil {
		return nil, err
	}
	if v.Kind != def.Kind {
		return nil, fmt.Errorf("stored value %s is not of kind %s", row.Value, def.Kind)
	}

	return &Setting{
		Key:         row.Key,
		Value:       v,
		Description: row.Description,
		Category:    row.Category,
		UpdatedAt:   row.UpdatedAt,
	}, nil
}

func lookup(key string) (Definition, error) {
	def, ok := Lookup(key)
	if !ok {
		return Definition{}, errors.NotFoundError("setting").WithContext("key", key)
	}
	return def, nil
}

// lookupForWrite treats an undeclared key as invalid input.
func lookupForWrite(key string) (Definition, error) {
	def, ok := Lookup(key)
	if !ok {
		return Definition{}, errors.ValidationError(fmt.Sprintf("unknown setting '%s'", key)).WithContext("field", key)
	}
	return def, nil
}

// Get returns the current value of key. A cache miss reads the row and falls
// back to the declared default when it is absent.
func (s *Service) Get(ctx context.Context, key string) (Value, error) {
	if err := s.Initialize(ctx); err != nil {
		return Value{}, err
	}

	if _, err := lookup(key); err != nil {
		return Value{}, err
	}

	if v, ok := s.cache.Get(key); ok {
		return v, nil
	}
	return s.Refresh(ctx, key)
}

func (s *Service) GetBool(ctx context.Context, key string) (bool, error) {
	v, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if v.Kind != KindBool {
		return false, errors.InternalError(fmt.Sprintf("setting %s is not a bool", key), nil)
	}
	return v.Bool, nil
}

func (s *Service) GetInt(ctx context.Context, key string) (int, error) {
	v, err := s.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if v.Kind != KindInt {
		return 0, errors.InternalError(fmt.Sprintf("setting %s is not an int", key), nil)
	}
	return v.Int, nil
}

// Refresh reads key from storage, bypassing the cache, and stores the result
// in the cache. Other processes may have written the row since it was cached.
func (s *Service) Refresh(ctx context.Context, key string) (Value, error) {
	if err := s.Initialize(ctx); err != nil {
		return Value{}, err
	}

	def, err := lookup(key)
	if err != nil {
		return Value{}, err
	}

	row, err := s.store.GetSetting(ctx, key)
	if err != nil {
		return Value{}, err
	}

	v := def.Default
	if row != nil {
		setting, err := s.fromRow(row)
		if err != nil {
			return Value{}, errors.InternalError("failed to decode setting "+key, err)
		}
		v = setting.Value
	}

	s.cache.Set(key, v)
	return v, nil
}

// GetSetting reads the full row for key from storage and refreshes the cache.
func (s *Service) GetSetting(ctx context.Context, key string) (*Setting, error) {
	if _, err := lookup(key); err != nil {
		return nil, err
	}

	row, err := s.store.GetSetting(ctx, key)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, errors.NotFoundError("setting").WithContext("key", key)
	}

	setting, err := s.fromRow(row)
	if err != nil {
		return nil, errors.InternalError("failed to decode setting "+key, err)
	}
	s.cache.Set(key, setting.Value)
	return setting, nil
}

// GetAllSettings returns every declared setting with its stored metadata.
func (s *Service) GetAllSettings(ctx context.Context) ([]*Setting, error) {
	if err := s.Initialize(ctx); err != nil {
		return nil, err
	}

	rows, err := s.store.ListSettings(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*Setting, 0, len(rows))
	for _, row := range rows {
		setting, err := s.fromRow(row)
		if err != nil {
			s.logger.Warn("Ignoring stored setting",
				logging.String("key", row.Key),
				logging.Err(err))
			continue
		}
		s.cache.Set(setting.Key, setting.Value)
		out = append(out, setting)
	}
	return out, nil
}

func (s *Service) GetByCategory(ctx context.Context, category string) ([]*Setting, error) {
	all, err := s.GetAllSettings(ctx)
	if err != nil {
		return nil, err
	}
	return lo.Filter(all, func(setting *Setting, _ int) bool { return setting.Category == category }), nil
}

// UpdateSettingByKey validates and persists a single value.
func (s *Service) UpdateSettingByKey(ctx context.Context, key string, value Value) error {
	if err := s.Initialize(ctx); err != nil {
		return err
	}

	def, err := lookupForWrite(key)
	if err != nil {
		return err
	}
	if err := def.Validate(value); err != nil {
		return err
	}

	row, err := toRow(def, value)
	if err != nil {
		return err
	}

	err = s.store.UpdateSetting(ctx, key, row.Value)
	if errors.IsType(err, errors.ErrTypeNotFound) {
		// The row was deleted since initialization.
		err = s.store.UpsertSettings(ctx, []*storage.Setting{row})
	}
	if err != nil {
		return err
	}

	s.cache.Set(key, value)
	s.logger.Info("Setting updated", logging.String("key", key), logging.String("value", value.String()))
	return nil
}

// UpdateSettings validates every non-nil entry, then upserts them all in one
// transaction. The cache is only written after the transaction commits.
func (s *Service) UpdateSettings(ctx context.Context, partial map[string]*Value) error {
	if err := s.Initialize(ctx); err != nil {
		return err
	}

	keys := make([]string, 0, len(partial))
	for key, v := range partial {
		if v != nil {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		return nil
	}

	rows := make([]*storage.Setting, 0, len(keys))
	for _, key := range keys {
		def, err := lookupForWrite(key)
		if err != nil {
			return err
		}
		if err := def.Validate(*partial[key]); err != nil {
			return err
		}
		row, err := toRow(def, *partial[key])
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	if err := s.store.UpsertSettings(ctx, rows); err != nil {
		return err
	}

	for _, key := range keys {
		s.cache.Set(key, *partial[key])
	}
	s.logger.Info("Settings updated", logging.Any("keys", keys))
	return nil
}

// DeleteSettingByKey removes the row and its cache entry. The next Get
// returns the declared default.
func (s *Service) DeleteSettingByKey(ctx context.Context, key string) error {
	if err := s.store.DeleteSetting(ctx, key); err != nil {
		return err
	}
	s.cache.Delete(key)
	return nil
}

// DeleteSettings removes every row. The next read re-seeds the defaults.
func (s *Service) DeleteSettings(ctx context.Context) error {
	s.loading.Lock()
	defer s.loading.Unlock()

	if err := s.store.DeleteAllSettings(ctx); err != nil {
		return err
	}
	s.reset()
	s.logger.Info("All settings deleted")
	return nil
}

// ResetCache drops the cache so the next read reloads from storage.
func (s *Service) ResetCache() {
	s.loading.Lock()
	defer s.loading.Unlock()
	s.reset()
}

func (s *Service) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Clear()
	s.initialized = false
}

// ParseValue decodes a JSON document into a value for key. A JSON null
// yields nil so callers can drop the entry.
func ParseValue(key string, raw json.RawMessage) (*Value, error) {
	def, err := lookupForWrite(key)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var v Value
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, errors.ValidationError(fmt.Sprintf("field '%s' must be of type %s", key, def.Kind)).
			WithContext("field", key).
			WithCode("type")
	}
	if err := def.Validate(v); err != nil {
		return nil, err
	}
	return &v, nil
}
