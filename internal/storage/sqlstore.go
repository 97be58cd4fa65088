package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"admin-starter/internal/common/errors"
)

// Dialect captures what differs between the SQL drivers behind SQLStore.
type Dialect interface {
	Name() string
	// Rebind rewrites '?' placeholders into the driver's native form.
	Rebind(query string) string
	IsUniqueViolation(err error) bool
}

// SQLStore implements Storage on top of database/sql. The sqlite and postgres
// adapters embed it and supply their dialect and schema.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{
		db:      db,
		dialect: dialect,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Health() error {
	return s.db.Ping()
}

// Migrate runs every statement in order. Statements must be idempotent.
func (s *SQLStore) Migrate(statements []string) error {
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) q(query string) string {
	return s.dialect.Rebind(query)
}

// Transaction runs fn inside a database transaction, rolling back when fn
// returns an error.
func (s *SQLStore) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.ConnectionError("failed to begin transaction", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.InternalError("failed to commit transaction", err)
	}
	return nil
}

// Settings

const settingColumns = `"key", value, description, category, updated_at`

func scanSetting(row interface{ Scan(...any) error }) (*Setting, error) {
	var (
		setting Setting
		raw     []byte
	)
	if err := row.Scan(&setting.Key, &raw, &setting.Description, &setting.Category, &setting.UpdatedAt); err != nil {
		return nil, err
	}
	setting.Value = json.RawMessage(raw)
	return &setting, nil
}

func (s *SQLStore) ListSettings(ctx context.Context) ([]*Setting, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+settingColumns+` FROM settings ORDER BY category, "key"`))
	if err != nil {
		return nil, errors.InternalError("failed to list settings", err)
	}
	defer rows.Close()

	var settings []*Setting
	for rows.Next() {
		setting, err := scanSetting(rows)
		if err != nil {
			return nil, errors.InternalError("failed to scan setting", err)
		}
		settings = append(settings, setting)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.InternalError("failed to list settings", err)
	}
	return settings, nil
}

func (s *SQLStore) GetSetting(ctx context.Context, key string) (*Setting, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+settingColumns+` FROM settings WHERE "key" = ?`), key)
	setting, err := scanSetting(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.InternalError("failed to get setting", err).WithContext("key", key)
	}
	return setting, nil
}

func (s *SQLStore) InsertSettingsIfAbsent(ctx context.Context, settings []*Setting) error {
	query := s.q(`INSERT INTO settings (` + settingColumns + `) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT ("key") DO NOTHING`)
	return s.writeSettings(ctx, query, settings)
}

func (s *SQLStore) UpsertSettings(ctx context.Context, settings []*Setting) error {
	query := s.q(`INSERT INTO settings (` + settingColumns + `) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT ("key") DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`)
	return s.writeSettings(ctx, query, settings)
}

func (s *SQLStore) writeSettings(ctx context.Context, query string, settings []*Setting) error {
	if len(settings) == 0 {
		return nil
	}

	now := s.now()
	return s.Transaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return errors.InternalError("failed to prepare settings write", err)
		}
		defer stmt.Close()

		for _, setting := range settings {
			if _, err := stmt.ExecContext(ctx, setting.Key, []byte(setting.Value), setting.Description, setting.Category, now); err != nil {
				return errors.InternalError("failed to write setting", err).WithContext("key", setting.Key)
			}
		}
		return nil
	})
}

func (s *SQLStore) UpdateSetting(ctx context.Context, key string, value json.RawMessage) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE settings SET value = ?, updated_at = ? WHERE "key" = ?`),
		[]byte(value), s.now(), key)
	if err != nil {
		return errors.InternalError("failed to update setting", err).WithContext("key", key)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFoundError("setting").WithContext("key", key)
	}
	return nil
}

func (s *SQLStore) DeleteSetting(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.q(`DELETE FROM settings WHERE "key" = ?`), key); err != nil {
		return errors.InternalError("failed to delete setting", err).WithContext("key", key)
	}
	return nil
}

func (s *SQLStore) DeleteAllSettings(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM settings`); err != nil {
		return errors.InternalError("failed to delete settings", err)
	}
	return nil
}

// Users

const userColumns = `id, name, email, email_verified, username, display_username, image, role,
	banned, ban_reason, ban_expires, password_hash, created_at, updated_at`

// userFieldColumns maps the patchable JSON field names of User to columns.
var userFieldColumns = map[string]string{
	"name":            "name",
	"email":           "email",
	"emailVerified":   "email_verified",
	"username":        "username",
	"displayUsername": "display_username",
	"image":           "image",
	"role":            "role",
	"banned":          "banned",
	"banReason":       "ban_reason",
	"banExpires":      "ban_expires",
}

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.EmailVerified, &u.Username, &u.DisplayUsername, &u.Image,
		&u.Role, &u.Banned, &u.BanReason, &u.BanExpires, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *SQLStore) CreateUser(ctx context.Context, user *User) error {
	now := s.now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		user.ID, user.Name, user.Email, user.EmailVerified, user.Username, user.DisplayUsername, user.Image,
		user.Role, user.Banned, user.BanReason, user.BanExpires, user.PasswordHash, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return errors.ConflictError("user already exists")
		}
		return errors.InternalError("failed to create user", err)
	}
	return nil
}

func (s *SQLStore) getUserBy(ctx context.Context, column, value string) (*User, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+userColumns+` FROM users WHERE `+column+` = ?`), value)
	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.InternalError("failed to get user", err).WithContext(column, value)
	}
	return user, nil
}

func (s *SQLStore) GetUser(ctx context.Context, id string) (*User, error) {
	return s.getUserBy(ctx, "id", id)
}

func (s *SQLStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.getUserBy(ctx, "username", strings.ToLower(username))
}

func (s *SQLStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUserBy(ctx, "email", email)
}

func (s *SQLStore) UpdateUserFields(ctx context.Context, id string, patch map[string]any) error {
	if len(patch) == 0 {
		return nil
	}

	// Sorted for a stable statement text.
	fields := make([]string, 0, len(patch))
	for field := range patch {
		if _, ok := userFieldColumns[field]; !ok {
			return errors.ValidationError(fmt.Sprintf("unknown user field: %s", field))
		}
		fields = append(fields, field)
	}
	sort.Strings(fields)

	sets := make([]string, 0, len(fields)+1)
	args := make([]any, 0, len(fields)+2)
	for _, field := range fields {
		sets = append(sets, userFieldColumns[field]+" = ?")
		args = append(args, patch[field])
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, s.now(), id)

	res, err := s.db.ExecContext(ctx, s.q(`UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ?`), args...)
	if err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return errors.ConflictError("another user already uses this email or username")
		}
		return errors.InternalError("failed to update user", err).WithContext("id", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFoundError("user").WithContext("id", id)
	}
	return nil
}

func (s *SQLStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`),
		passwordHash, s.now(), id)
	if err != nil {
		return errors.InternalError("failed to update password", err).WithContext("id", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFoundError("user").WithContext("id", id)
	}
	return nil
}

func (s *SQLStore) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM users WHERE id = ?`), id)
	if err != nil {
		return errors.InternalError("failed to delete user", err).WithContext("id", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFoundError("user").WithContext("id", id)
	}
	return nil
}

// idSearchMinLength is the search length from which user IDs are matched too.
const idSearchMinLength = 32

func (s *SQLStore) ListUsers(ctx context.Context, params ListUsersParams) ([]*User, int, error) {
	var (
		conds []string
		args  []any
	)

	if params.Search != "" {
		pattern := "%" + strings.ToLower(params.Search) + "%"
		search := []string{"LOWER(username) LIKE ?", "LOWER(email) LIKE ?"}
		args = append(args, pattern, pattern)
		if len(params.Search) >= idSearchMinLength {
			search = append(search, "LOWER(id) LIKE ?")
			args = append(args, pattern)
		}
		conds = append(conds, "("+strings.Join(search, " OR ")+")")
	}
	if params.BannedOnly {
		conds = append(conds, "banned = ?")
		args = append(args, true)
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM users`+where), args...).Scan(&total); err != nil {
		return nil, 0, errors.InternalError("failed to count users", err)
	}

	query := `SELECT ` + userColumns + ` FROM users` + where + ` ORDER BY created_at DESC, id`
	if params.Limit > 0 {
		query += ` LIMIT ` + strconv.Itoa(params.Limit) + ` OFFSET ` + strconv.Itoa(params.Offset())
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, 0, errors.InternalError("failed to list users", err)
	}
	defer rows.Close()

	users := make([]*User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, errors.InternalError("failed to scan user", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.InternalError("failed to list users", err)
	}
	return users, total, nil
}

func (s *SQLStore) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, errors.InternalError("failed to count users", err)
	}
	return n, nil
}

func (s *SQLStore) CountUsersByRole(ctx context.Context, role string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM users WHERE role = ?`), role).Scan(&n); err != nil {
		return 0, errors.InternalError("failed to count users", err).WithContext("role", role)
	}
	return n, nil
}
