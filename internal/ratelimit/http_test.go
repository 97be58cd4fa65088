package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		ms   int64
		want int
	}{
		{0, 1},
		{1, 1},
		{999, 1},
		{1000, 1},
		{1001, 2},
		{60000, 60},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, RetryAfterSeconds(Decision{MsBeforeNext: tt.ms}), "ms=%d", tt.ms)
	}
}

func TestSetHeaders(t *testing.T) {
	resetAt := time.Unix(1700000000, 0)

	t.Run("unmetered decision writes nothing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		SetHeaders(rec, Decision{Allowed: true})
		assert.Empty(t, rec.Header())
	})

	t.Run("allowed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		SetHeaders(rec, Decision{Allowed: true, RemainingPoints: 4, MsBeforeNext: 30000, ResetAt: resetAt})
		assert.Equal(t, "4", rec.Header().Get("X-RateLimit-Remaining"))
		assert.Equal(t, "1700000000", rec.Header().Get("X-RateLimit-Reset"))
		assert.Empty(t, rec.Header().Get("Retry-After"))
	})

	t.Run("denied", func(t *testing.T) {
		rec := httptest.NewRecorder()
		SetHeaders(rec, Decision{MsBeforeNext: 1500, ResetAt: resetAt, LimitType: LimitGlobal})
		assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
		assert.Equal(t, "2", rec.Header().Get("Retry-After"))
		assert.Equal(t, "global", rec.Header().Get("X-RateLimit-Scope"))
	})
}
