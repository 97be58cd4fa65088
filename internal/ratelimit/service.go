package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"admin-starter/internal/auth"
	"admin-starter/internal/common/errors"
	"admin-starter/internal/common/logging"
	"admin-starter/internal/settings"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// GlobalKey is the single key every unauthenticated caller shares in the global budget
const GlobalKey = "global"

// Budget names, also used as metric labels and Redis key segments
const (
	ScopeAuthed       = "authed"
	ScopeUnauth       = "unauthenticated"
	ScopeUnauthGlobal = "unauthenticated_global"
)

const initFlightKey = "initialize"

// LimitType tells which budget denied an unauthenticated request
type LimitType string

const (
	LimitPersonal LimitType = "personal"
	LimitGlobal   LimitType = "global"
)

// SettingsReader is the subset of the settings service the limiter reads.
type SettingsReader interface {
	GetBool(ctx context.Context, key string) (bool, error)
	GetInt(ctx context.Context, key string) (int, error)
}

// Recorder observes limiter outcomes.
type Recorder interface {
	RecordDecision(scope string, d Decision)
	RecordInitialize(err error)
}

type nopRecorder struct{}

func (nopRecorder) RecordDecision(string, Decision) {}
func (nopRecorder) RecordInitialize(error)          {}

// Decision is the outcome of a rate limit check. Exempt or unmetered requests
// only set Allowed.
type Decision struct {
	Allowed         bool      `json:"allowed"`
	MsBeforeNext    int64     `json:"msBeforeNext,omitempty"`
	RemainingPoints int       `json:"remainingPoints"`
	ResetAt         time.Time `json:"resetAt"`
	LimitType       LimitType `json:"limitType,omitempty"`
}

// Metered reports whether a budget was consulted for this decision.
func (d Decision) Metered() bool {
	return !d.ResetAt.IsZero()
}

// Status is a read-only view of a user's authenticated budget
type Status struct {
	RemainingPoints int       `json:"remainingPoints"`
	MsBeforeNext    int64     `json:"msBeforeNext"`
	ResetAt         time.Time `json:"resetAt"`
}

type limiters struct {
	authed       Window
	unauth       Window
	unauthGlobal Window
}

// Service owns the three budgets and rebuilds them from settings on demand.
type Service struct {
	settings SettingsReader
	factory  WindowFactory
	logger   logging.Logger
	now      func() time.Time
	recorder Recorder

	flight singleflight.Group
	// held while budgets are being built
	building sync.Mutex

	// a dead backend fails every request; log it at most once per interval
	failOpenLog rate.Sometimes

	mu          sync.RWMutex
	initialized bool
	limiters    limiters
}

// Option configures a Service instance.
type Option func(*Service)

func WithLogger(logger logging.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock overrides time.Now for reset timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		s.recorder = r
	}
}

// NewService creates an uninitialized Service. Budgets are built on first use.
func NewService(reader SettingsReader, factory WindowFactory, opts ...Option) *Service {
	s := &Service{
		settings: reader,
		factory:  factory,
		now:      time.Now,
		recorder: nopRecorder{},

		failOpenLog: rate.Sometimes{Interval: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Component("ratelimit")
	}
	return s
}

func (s *Service) isInitialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

func (s *Service) current() limiters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.limiters
}

// Initialize builds the budgets from settings. Concurrent callers share one
// build and its outcome. On failure every budget is disabled and the next
// call retries.
func (s *Service) Initialize(ctx context.Context) error {
	// a shared build can finish without effect if a reload reset the budgets meanwhile
	for !s.isInitialized() {
		_, err, _ := s.flight.Do(initFlightKey, func() (interface{}, error) {
			s.building.Lock()
			defer s.building.Unlock()
			if s.isInitialized() {
				return nil, nil
			}

			built, err := s.build(context.WithoutCancel(ctx))

			s.mu.Lock()
			if err != nil {
				s.limiters = limiters{}
				s.initialized = false
			} else {
				s.limiters = built
				s.initialized = true
			}
			s.mu.Unlock()

			s.recorder.RecordInitialize(err)
			if err != nil {
				s.logger.Error("Failed to initialize rate limiter, all requests will be allowed", err)
			}
			return nil, err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) build(ctx context.Context) (limiters, error) {
	var out limiters
	var err error

	if out.authed, err = s.buildOne(ctx, ScopeAuthed,
		settings.KeyRateLimitingAuthedEnabled, settings.KeyRateLimitingAuthedLimit); err != nil {
		return limiters{}, err
	}
	if out.unauth, err = s.buildOne(ctx, ScopeUnauth,
		settings.KeyRateLimitingUnauthenticatedEnabled, settings.KeyRateLimitingUnauthenticatedLimit); err != nil {
		return limiters{}, err
	}
	if out.unauthGlobal, err = s.buildOne(ctx, ScopeUnauthGlobal,
		settings.KeyRateLimitingUnauthenticatedGlobalEnabled, settings.KeyRateLimitingUnauthenticatedGlobalLimit); err != nil {
		return limiters{}, err
	}
	return out, nil
}

// buildOne returns nil when the budget is disabled
func (s *Service) buildOne(ctx context.Context, scope, enabledKey, limitKey string) (Window, error) {
	enabled, err := s.settings.GetBool(ctx, enabledKey)
	if err != nil {
		return nil, errors.InternalError("failed to read "+enabledKey, err)
	}
	limit, err := s.settings.GetInt(ctx, limitKey)
	if err != nil {
		return nil, errors.InternalError("failed to read "+limitKey, err)
	}

	log := s.logger.WithFields(logging.String("scope", scope))
	if !enabled {
		log.Info("Rate limiting disabled")
		return nil, nil
	}

	w, err := s.factory(scope, limit, DefaultDuration)
	if err != nil {
		return nil, errors.InternalError("failed to create "+scope+" window", err)
	}
	log.Info("Rate limiting enabled",
		logging.Int("points", limit),
		logging.Duration("duration", DefaultDuration))
	return w, nil
}

// ensure initializes if needed. Initialization errors are already logged and
// leave every budget disabled, so callers proceed fail-open.
func (s *Service) ensure(ctx context.Context) limiters {
	_ = s.Initialize(ctx)
	return s.current()
}

// Reload waits for any running build, discards the current budgets and
// builds them again from settings.
func (s *Service) Reload(ctx context.Context) error {
	s.logger.Info("Reloading rate limiter configuration")

	s.building.Lock()
	s.mu.Lock()
	s.initialized = false
	s.mu.Unlock()
	s.building.Unlock()

	return s.Initialize(ctx)
}

func (s *Service) allowed(res Result) Decision {
	return Decision{
		Allowed:         true,
		RemainingPoints: res.RemainingPoints,
		MsBeforeNext:    res.MsBeforeNext,
		ResetAt:         s.now().Add(time.Duration(res.MsBeforeNext) * time.Millisecond),
	}
}

func (s *Service) denied(res *Result, limitType LimitType) Decision {
	ms := fallbackMsBeforeNext
	if res != nil && res.MsBeforeNext > 0 {
		ms = res.MsBeforeNext
	}
	return Decision{
		Allowed:         false,
		MsBeforeNext:    ms,
		RemainingPoints: 0,
		ResetAt:         s.now().Add(time.Duration(ms) * time.Millisecond),
		LimitType:       limitType,
	}
}

// CheckLimit consumes one point of the user's authenticated budget.
// Admins are exempt.
func (s *Service) CheckLimit(ctx context.Context, userID string, role auth.Role) Decision {
	lim := s.ensure(ctx)

	if role == auth.RoleAdmin || lim.authed == nil {
		return Decision{Allowed: true}
	}

	res, err := lim.authed.Consume(ctx, userID, 1)
	if err != nil {
		s.logFailOpen(s.logger.WithFields(logging.String("user_id", userID)), err)
		return Decision{Allowed: true}
	}

	var d Decision
	if res.Allowed {
		d = s.allowed(res)
	} else {
		s.logger.Warn("Rate limit exceeded", logging.String("user_id", userID))
		d = s.denied(&res, "")
	}
	s.recorder.RecordDecision(ScopeAuthed, d)
	return d
}

// Fingerprint is the hex SHA-256 of "ip:userAgent"
func Fingerprint(ip, userAgent string) string {
	sum := sha256.Sum256([]byte(ip + ":" + userAgent))
	return hex.EncodeToString(sum[:])
}

// CheckUnauthenticatedLimit charges the caller's fingerprint first and the
// shared global budget second. A global denial refunds the personal point.
func (s *Service) CheckUnauthenticatedLimit(ctx context.Context, ip, userAgent string) Decision {
	lim := s.ensure(ctx)

	if lim.unauth == nil && lim.unauthGlobal == nil {
		return Decision{Allowed: true}
	}

	d := s.checkUnauthenticated(ctx, lim, Fingerprint(ip, userAgent))
	if d.Metered() {
		s.recorder.RecordDecision(ScopeUnauth, d)
	}
	return d
}

func (s *Service) logFailOpen(log logging.Logger, err error) {
	s.failOpenLog.Do(func() {
		log.Error("Rate limiter backend failed, allowing request", err)
	})
}

func (s *Service) checkUnauthenticated(ctx context.Context, lim limiters, fingerprint string) Decision {
	log := s.logger.WithFields(logging.String("fingerprint", fingerprint[:8]))

	if lim.unauth == nil {
		return s.consumeGlobal(ctx, lim.unauthGlobal, log)
	}

	personal, err := lim.unauth.Consume(ctx, fingerprint, 1)
	if err != nil {
		s.logFailOpen(log, err)
		return Decision{Allowed: true}
	}
	if !personal.Allowed {
		log.Warn("Personal rate limit exceeded")
		return s.denied(&personal, LimitPersonal)
	}

	if lim.unauthGlobal == nil {
		return s.allowed(personal)
	}

	global, err := lim.unauthGlobal.Consume(ctx, GlobalKey, 1)
	if err != nil {
		s.logFailOpen(log, err)
		return s.allowed(personal)
	}
	if !global.Allowed {
		if err := lim.unauth.Reward(ctx, fingerprint, 1); err != nil {
			log.Warn("Failed to refund personal rate limit point", logging.Err(err))
		}
		log.Warn("Global rate limit exceeded for unauthenticated users")
		return s.denied(&global, LimitGlobal)
	}

	combined := personal
	combined.RemainingPoints = min(personal.RemainingPoints, global.RemainingPoints)
	combined.MsBeforeNext = max(personal.MsBeforeNext, global.MsBeforeNext)
	return s.allowed(combined)
}

func (s *Service) consumeGlobal(ctx context.Context, w Window, log logging.Logger) Decision {
	res, err := w.Consume(ctx, GlobalKey, 1)
	if err != nil {
		s.logFailOpen(log, err)
		return Decision{Allowed: true}
	}
	if !res.Allowed {
		log.Warn("Global rate limit exceeded for unauthenticated users")
		return s.denied(&res, LimitGlobal)
	}
	return s.allowed(res)
}

// Consume charges points to a user outside the check path. Denials are ignored.
func (s *Service) Consume(ctx context.Context, userID string, points int) {
	lim := s.ensure(ctx)
	if lim.authed == nil {
		return
	}
	if _, err := lim.authed.Consume(ctx, userID, points); err != nil {
		s.logger.Error("Failed to consume rate limit points", err, logging.String("user_id", userID))
	}
}

// Reset clears a user's authenticated budget.
func (s *Service) Reset(ctx context.Context, userID string) {
	lim := s.ensure(ctx)
	if lim.authed == nil {
		return
	}
	if err := lim.authed.Delete(ctx, userID); err != nil {
		s.logger.Error("Failed to reset rate limit", err, logging.String("user_id", userID))
		return
	}
	s.logger.Info("Rate limit reset", logging.String("user_id", userID))
}

// GetStatus peeks at a user's authenticated budget. It returns nil when the
// budget is disabled. A user with no live window reports the full limit.
func (s *Service) GetStatus(ctx context.Context, userID string) (*Status, error) {
	lim := s.ensure(ctx)
	if lim.authed == nil {
		return nil, nil
	}

	res, err := lim.authed.Get(ctx, userID)
	if err != nil {
		s.logger.Error("Failed to get rate limit status", err, logging.String("user_id", userID))
		return nil, errors.InternalError("failed to get rate limit status", err)
	}

	now := s.now()
	if res == nil {
		limit, err := s.settings.GetInt(ctx, settings.KeyRateLimitingAuthedLimit)
		if err != nil {
			return nil, errors.InternalError("failed to read "+settings.KeyRateLimitingAuthedLimit, err)
		}
		return &Status{RemainingPoints: limit, MsBeforeNext: 0, ResetAt: now}, nil
	}

	return &Status{
		RemainingPoints: res.RemainingPoints,
		MsBeforeNext:    res.MsBeforeNext,
		ResetAt:         now.Add(time.Duration(res.MsBeforeNext) * time.Millisecond),
	}, nil
}
