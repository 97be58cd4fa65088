// Package auth issues and verifies the bearer tokens that identify API callers.
//
// Tokens are HS256 JWTs carrying the user id, username and role. Requests
// without a token are treated as unauthenticated rather than rejected; routes
// opt in to stricter checks with RequireAuth and RequireRole.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"admin-starter/internal/common/errors"
	"admin-starter/internal/common/logging"

	"github.com/golang-jwt/jwt/v5"
)

const (
	issuer     = "admin-starter"
	cookieName = "session"
)

type contextKey struct{}

// Claims are the JWT claims issued by this service
type Claims struct {
	UserID   string `json:"uid"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
	jwt.RegisteredClaims
}

// Principal identifies the caller of a request
type Principal struct {
	UserID   string
	Username string
	Role     Role
}

// Authenticated reports whether the principal came from a valid token.
func (p Principal) Authenticated() bool {
	return p.UserID != "" && p.Role != RoleUnauthenticated
}

var anonymous = Principal{Role: RoleUnauthenticated}

// Account is the stored state of a token's subject.
type Account struct {
	Username string
	Role     Role
	Banned   bool
}

// AccountLookup resolves a user id to its current account. It returns
// nil, nil when the user no longer exists.
type AccountLookup interface {
	LookupAccount(ctx context.Context, userID string) (*Account, error)
}

type Auth struct {
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
	logger   logging.Logger
	accounts AccountLookup
}

func New(secret string, ttl time.Duration) (*Auth, error) {
	if secret == "" {
		return nil, errors.ConfigError("JWT secret is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Auth{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
		logger: logging.Component("auth"),
	}, nil
}

// UseAccounts makes Middleware check every token against the stored account,
// so bans, deletions and role changes apply to tokens already issued.
func (a *Auth) UseAccounts(lookup AccountLookup) {
	a.accounts = lookup
}

// GenerateJWT signs a token for the given user.
func (a *Auth) GenerateJWT(userID, username string, role Role) (string, error) {
	now := a.now()
	claims := &Claims{
		UserID:   userID,
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", errors.InternalError("failed to sign token", err)
	}
	return token, nil
}

// ValidateJWT parses a token and checks its signature, expiry and issuer.
func (a *Auth) ValidateJWT(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, errors.AuthError("invalid token").WithContext("reason", err.Error())
	}
	if !token.Valid || claims.UserID == "" {
		return nil, errors.AuthError("invalid token")
	}
	if _, err := ParseRole(string(claims.Role)); err != nil {
		return nil, errors.AuthError("invalid token role")
	}
	return claims, nil
}

// TTL is the lifetime of issued tokens
func (a *Auth) TTL() time.Duration {
	return a.ttl
}

// WithPrincipal stores p in ctx
// SetCookie stores token in an HttpOnly session cookie that expires with it.
func (a *Auth) SetCookie(w http.ResponseWriter, token string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
		Expires:  a.now().Add(a.ttl),
	})
}

// ClearCookie expires the session cookie.
func ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// PrincipalFrom returns the caller stored by Middleware, or an unauthenticated principal.
func PrincipalFrom(ctx context.Context) Principal {
	if p, ok := ctx.Value(contextKey{}).(Principal); ok {
		return p
	}
	return anonymous
}

// tokenFromRequest prefers the Authorization header over the session cookie.
func tokenFromRequest(r *http.Request) (token string, fromCookie bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token), false
		}
		return "", false
	}
	if c, err := r.Cookie(cookieName); err == nil {
		return c.Value, true
	}
	return "", false
}

// Middleware attaches the caller's Principal to the request context. Missing
// tokens yield an unauthenticated principal. An invalid bearer token is
// rejected, while an invalid session cookie is cleared and the request
// continues anonymously so the caller can still log in.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		anon := func() {
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), anonymous)))
		}

		token, fromCookie := tokenFromRequest(r)
		if token == "" {
			anon()
			return
		}

		p, status, msg := a.authenticate(r.Context(), token)
		if status != 0 {
			a.logger.Debug("Rejected session token",
				logging.String("path", r.URL.Path),
				logging.Bool("cookie", fromCookie),
				logging.String("reason", msg))
			if fromCookie && status != http.StatusInternalServerError {
				ClearCookie(w)
				anon()
				return
			}
			writeError(w, status, msg)
			return
		}

		ctx := WithPrincipal(r.Context(), p)
		ctx = logging.ContextWithUserID(ctx, p.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authenticate resolves a token to a principal. A non-zero status means the
// token cannot be used, with msg as the reason.
func (a *Auth) authenticate(ctx context.Context, token string) (Principal, int, string) {
	claims, err := a.ValidateJWT(token)
	if err != nil {
		return anonymous, http.StatusUnauthorized, "invalid or expired token"
	}

	p := Principal{UserID: claims.UserID, Username: claims.Username, Role: claims.Role}
	if a.accounts == nil {
		return p, 0, ""
	}

	account, err := a.accounts.LookupAccount(ctx, claims.UserID)
	if err != nil {
		a.logger.Error("Failed to load account for token", err, logging.String("user_id", claims.UserID))
		return anonymous, http.StatusInternalServerError, "failed to verify session"
	}
	if account == nil {
		return anonymous, http.StatusUnauthorized, "account no longer exists"
	}
	if account.Banned {
		return anonymous, http.StatusForbidden, "account is banned"
	}
	p.Username = account.Username
	p.Role = account.Role
	return p, 0, ""
}

// RequireAuth rejects unauthenticated callers with 401.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !PrincipalFrom(r.Context()).Authenticated() {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole rejects callers without one of the given roles: 401 when
// unauthenticated, 403 otherwise.
func RequireRole(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFrom(r.Context())
			if !p.Authenticated() {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			for _, role := range roles {
				if p.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, fmt.Sprintf("role %s is not allowed", p.Role))
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
