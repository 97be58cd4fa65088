// Package users manages user accounts: creation, lookup, listing, partial
// updates driven by change detection, and credential checks for login.
package users

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"admin-starter/internal/auth"
	"admin-starter/internal/changes"
	"admin-starter/internal/common/errors"
	"admin-starter/internal/common/logging"
	"admin-starter/internal/common/pagination"
	"admin-starter/internal/common/validation"
	"admin-starter/internal/storage"
)

// CreateForm is an admin creating an account with an explicit role.
type CreateForm struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Username string `json:"username" validate:"required,min=3,max=32,username"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Role     string `json:"role" validate:"required,role"`
}

// RegisterForm is a self-service signup or the first-time setup account.
type RegisterForm struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Username string `json:"username" validate:"required,min=3,max=32,username"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// UpdateForm is a sparse edit. Nil fields are left as they are; an empty
// Email clears the address.
type UpdateForm struct {
	Email       *string `json:"email" validate:"omitempty,max=254"`
	Username    *string `json:"username" validate:"omitempty,min=3,max=32,username"`
	Role        *string `json:"role" validate:"omitempty,role"`
	Banned      *bool   `json:"banned"`
	BanReason   *string `json:"banReason" validate:"omitempty,max=500"`
	NewPassword *string `json:"newPassword" validate:"omitempty,min=8,max=72"`
}

// Page is one page of a user listing.
type Page struct {
	Users      []*storage.User `json:"users"`
	Page       int             `json:"page"`
	Limit      int             `json:"limit"`
	Total      int             `json:"total"`
	TotalPages int             `json:"totalPages"`
}

type Service struct {
	store      storage.UserStore
	logger     logging.Logger
	bcryptCost int
	now        func() time.Time
}

type Option func(*Service)

// WithBcryptCost overrides the password hashing cost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) {
		s.bcryptCost = cost
	}
}

// WithClock overrides time.Now for ban expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func WithLogger(logger logging.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func NewService(store storage.UserStore, opts ...Option) *Service {
	s := &Service{
		store:      store,
		bcryptCost: bcrypt.DefaultCost,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Component("users")
	}
	return s
}

func canManageUsers(actor auth.Principal) bool {
	return actor.Role == auth.RoleAdmin
}

func requireAdmin(actor auth.Principal) error {
	if !actor.Authenticated() {
		return errors.AuthError("authentication required")
	}
	if !canManageUsers(actor) {
		return errors.ForbiddenError("insufficient permissions to manage users")
	}
	return nil
}

func (s *Service) hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", errors.InternalError("failed to hash password", err)
	}
	return string(hash), nil
}

// List returns a page of users, newest first. Admins only.
func (s *Service) List(ctx context.Context, actor auth.Principal, params storage.ListUsersParams) (*Page, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if params.Page < 1 {
		params.Page = 1
	}

	users, total, err := s.store.ListUsers(ctx, params)
	if err != nil {
		return nil, err
	}

	return &Page{
		Users:      users,
		Page:       params.Page,
		Limit:      params.Limit,
		Total:      total,
		TotalPages: pagination.CalculateTotalPages(total, params.Limit),
	}, nil
}

// Get returns a user. Callers may read themselves; reading others needs admin.
func (s *Service) Get(ctx context.Context, actor auth.Principal, id string) (*storage.User, error) {
	if actor.UserID != id {
		if err := requireAdmin(actor); err != nil {
			return nil, err
		}
	}

	user, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errors.NotFoundError("user").WithContext("id", id)
	}
	return user, nil
}

// Create adds an account with the requested role. Admins only.
func (s *Service) Create(ctx context.Context, actor auth.Principal, form CreateForm) (*storage.User, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := validation.ValidateStruct(form); err != nil {
		return nil, err
	}

	user, err := s.insert(ctx, form.Email, form.Username, form.Password, auth.Role(form.Role))
	if err != nil {
		return nil, err
	}
	s.logger.Info("User created",
		logging.String("user_id", user.ID),
		logging.String("created_by", actor.UserID),
		logging.String("role", user.Role))
	return user, nil
}

// Register adds a regular user account.
func (s *Service) Register(ctx context.Context, form RegisterForm) (*storage.User, error) {
	if err := validation.ValidateStruct(form); err != nil {
		return nil, err
	}
	user, err := s.insert(ctx, form.Email, form.Username, form.Password, auth.RoleUser)
	if err != nil {
		return nil, err
	}
	s.logger.Info("User registered", logging.String("user_id", user.ID))
	return user, nil
}

// CreateInitialAdmin adds the first administrator during setup.
func (s *Service) CreateInitialAdmin(ctx context.Context, form RegisterForm) (*storage.User, error) {
	if err := validation.ValidateStruct(form); err != nil {
		return nil, err
	}
	admins, err := s.CountAdmins(ctx)
	if err != nil {
		return nil, err
	}
	if admins > 0 {
		return nil, errors.ConflictError("An administrator already exists")
	}
	user, err := s.insert(ctx, form.Email, form.Username, form.Password, auth.RoleAdmin)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Initial administrator created", logging.String("user_id", user.ID))
	return user, nil
}

func (s *Service) insert(ctx context.Context, email, username, password string, role auth.Role) (*storage.User, error) {
	if existing, err := s.store.GetUserByEmail(ctx, email); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, errors.ConflictError(fmt.Sprintf("User with email '%s' already exists", email))
	}
	if existing, err := s.store.GetUserByUsername(ctx, username); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, errors.ConflictError(fmt.Sprintf("User with username '%s' already exists", username))
	}

	hash, err := s.hash(password)
	if err != nil {
		return nil, err
	}

	user := &storage.User{
		ID:              uuid.NewString(),
		Name:            username,
		Email:           &email,
		Username:        strings.ToLower(username),
		DisplayUsername: username,
		Role:            string(role),
		PasswordHash:    hash,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// currentRecord is the subset of a user that updates are compared against.
func currentRecord(u *storage.User) changes.Record {
	return changes.Record{
		"email":      u.Email,
		"username":   u.Username,
		"role":       u.Role,
		"banned":     u.Banned,
		"banReason":  u.BanReason,
		"banExpires": u.BanExpires,
	}
}

func optional[T any](v *T) any {
	if v == nil {
		return changes.Unset
	}
	return *v
}

func updateComparators(form UpdateForm) map[string]changes.FieldComparator {
	return map[string]changes.FieldComparator{
		"email": {Transform: changes.EmptyToNull},
		"username": {
			Map: func(value any, _, _ changes.Record) changes.Record {
				name := value.(string)
				return changes.Record{
					"username":        strings.ToLower(name),
					"displayUsername": name,
					"name":            name,
				}
			},
		},
		"banned": {
			Map: func(value any, _, _ changes.Record) changes.Record {
				banned := value.(bool)
				var reason any
				if banned && form.BanReason != nil && *form.BanReason != "" {
					reason = *form.BanReason
				}
				return changes.Record{
					"banned":     banned,
					"banReason":  reason,
					"banExpires": nil,
				}
			},
			DependsOn: []string{"banReason"},
		},
	}
}

var updateFields = []string{"email", "role", "username", "banned"}

// Update applies the changed fields of form to user id. Users may edit
// themselves but not their own role or ban state; editing others needs admin.
func (s *Service) Update(ctx context.Context, actor auth.Principal, id string, form UpdateForm) (*storage.User, error) {
	self := actor.Authenticated() && actor.UserID == id
	if !self {
		if err := requireAdmin(actor); err != nil {
			return nil, err
		}
	}
	if err := validation.ValidateStruct(form); err != nil {
		return nil, err
	}
	if form.Email != nil && *form.Email != "" {
		if err := validation.ValidateField("email", *form.Email, "email"); err != nil {
			return nil, err
		}
	}
	if form.Username != nil {
		if err := validation.ValidateField("username", *form.Username, "required"); err != nil {
			return nil, err
		}
	}

	current, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, errors.NotFoundError(fmt.Sprintf("User with ID %s", id))
	}

	if self {
		if form.Role != nil && *form.Role != current.Role {
			return nil, errors.ForbiddenError("You cannot change your own role")
		}
		if !canManageUsers(actor) && (form.Banned != nil || form.BanReason != nil) {
			return nil, errors.ForbiddenError("You cannot change your own ban status")
		}
	}

	if form.Email != nil && *form.Email != "" && (current.Email == nil || *form.Email != *current.Email) {
		other, err := s.store.GetUserByEmail(ctx, *form.Email)
		if err != nil {
			return nil, err
		}
		if other != nil && other.ID != id {
			return nil, errors.ConflictError(fmt.Sprintf("Another user with email '%s' already exists", *form.Email))
		}
	}
	if form.Username != nil && strings.ToLower(*form.Username) != current.Username {
		other, err := s.store.GetUserByUsername(ctx, *form.Username)
		if err != nil {
			return nil, err
		}
		if other != nil && other.ID != id {
			return nil, errors.ConflictError(fmt.Sprintf("Another user with username '%s' already exists", *form.Username))
		}
	}

	update := changes.Record{
		"email":     optional(form.Email),
		"role":      optional(form.Role),
		"username":  optional(form.Username),
		"banned":    optional(form.Banned),
		"banReason": optional(form.BanReason),
	}
	// A reason on its own re-applies the current ban state.
	if form.Banned == nil && form.BanReason != nil {
		update["banned"] = current.Banned
	}

	patch := changes.GetChangedFields(currentRecord(current), update, updateComparators(form), updateFields)

	var passwordHash string
	if form.NewPassword != nil && *form.NewPassword != "" {
		if passwordHash, err = s.hash(*form.NewPassword); err != nil {
			return nil, err
		}
	}

	if len(patch) > 0 {
		s.logger.Debug("Updating user",
			logging.String("user_id", id),
			logging.Any("fields", patchFields(patch)))
		if err := s.store.UpdateUserFields(ctx, id, patch); err != nil {
			return nil, err
		}
	}
	if passwordHash != "" {
		if err := s.store.UpdatePassword(ctx, id, passwordHash); err != nil {
			return nil, err
		}
		s.logger.Info("Password changed", logging.String("user_id", id), logging.String("changed_by", actor.UserID))
	}

	return s.store.GetUser(ctx, id)
}

func patchFields(patch changes.Record) []string {
	fields := make([]string, 0, len(patch))
	for field := range patch {
		fields = append(fields, field)
	}
	return fields
}

// Delete removes user id. Admins only, and never their own account.
func (s *Service) Delete(ctx context.Context, actor auth.Principal, id string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if actor.UserID == id {
		return errors.ForbiddenError("You cannot delete your own account")
	}

	existing, err := s.store.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return errors.NotFoundError(fmt.Sprintf("User with ID %s", id))
	}

	if err := s.store.DeleteUser(ctx, id); err != nil {
		return err
	}
	s.logger.Info("User deleted", logging.String("user_id", id), logging.String("deleted_by", actor.UserID))
	return nil
}

// Authenticate checks a username and password. Banned users are refused until
// their ban expires.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*storage.User, error) {
	invalid := errors.AuthError("invalid username or password")

	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, invalid
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, invalid
	}
	if s.banActive(user) {
		return nil, errors.ForbiddenError("account is banned")
	}
	return user, nil
}

func (s *Service) banActive(user *storage.User) bool {
	return user.Banned && (user.BanExpires == nil || user.BanExpires.After(s.now()))
}

// Count returns the number of stored accounts.
func (s *Service) Count(ctx context.Context) (int, error) {
	return s.store.CountUsers(ctx)
}

// CountAdmins returns the number of accounts holding the admin role.
func (s *Service) CountAdmins(ctx context.Context) (int, error) {
	return s.store.CountUsersByRole(ctx, string(auth.RoleAdmin))
}

// LookupAccount reports the stored role and ban state of a user for token
// checks. Unknown ids yield nil, nil.
func (s *Service) LookupAccount(ctx context.Context, id string) (*auth.Account, error) {
	user, err := s.store.GetUser(ctx, id)
	if err != nil || user == nil {
		return nil, err
	}
	return &auth.Account{
		Username: user.Username,
		Role:     auth.Role(user.Role),
		Banned:   s.banActive(user),
	}, nil
}
