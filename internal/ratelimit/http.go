package ratelimit

import (
	"net/http"
	"strconv"
)

// RetryAfterSeconds rounds MsBeforeNext up to whole seconds, never below one.
func RetryAfterSeconds(d Decision) int {
	secs := int((d.MsBeforeNext + 999) / 1000)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// SetHeaders writes the X-RateLimit-* headers for a metered decision, plus
// Retry-After when it was denied.
func SetHeaders(w http.ResponseWriter, d Decision) {
	if !d.Metered() {
		return
	}

	h := w.Header()
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.RemainingPoints))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	if d.LimitType != "" {
		h.Set("X-RateLimit-Scope", string(d.LimitType))
	}
	if !d.Allowed {
		h.Set("Retry-After", strconv.Itoa(RetryAfterSeconds(d)))
	}
}
