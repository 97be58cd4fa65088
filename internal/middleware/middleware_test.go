package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"admin-starter/internal/common/logging"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{"forwarded for first hop", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "10.0.0.2:5000", "203.0.113.7"},
		{"forwarded for single", map[string]string{"X-Forwarded-For": " 203.0.113.8 "}, "10.0.0.2:5000", "203.0.113.8"},
		{"forwarded for wins over real ip", map[string]string{"X-Forwarded-For": "203.0.113.9", "X-Real-IP": "198.51.100.1"}, "10.0.0.2:5000", "203.0.113.9"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.2"}, "10.0.0.2:5000", "198.51.100.2"},
		{"empty forwarded for falls through", map[string]string{"X-Forwarded-For": " , 1.2.3.4"}, "10.0.0.3:5000", "10.0.0.3"},
		{"remote addr without port", nil, "192.0.2.1:43210", "192.0.2.1"},
		{"ipv6 remote addr", nil, "[2001:db8::1]:8080", "2001:db8::1"},
		{"remote addr without port separator", nil, "192.0.2.5", "192.0.2.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}

type observation struct {
	method, route string
	status        int
}

type recordingObserver struct {
	seen []observation
}

func (o *recordingObserver) ObserveRequest(method, route string, status int, _ time.Duration) {
	o.seen = append(o.seen, observation{method, route, status})
}

func newTestLogger(t *testing.T, buf *bytes.Buffer) logging.Logger {
	t.Helper()
	logger, err := logging.NewZapLogger(logging.LogConfig{
		Level:  logging.DebugLevel,
		JSON:   true,
		Output: buf,
	})
	require.NoError(t, err)
	return logger
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	observer := &recordingObserver{}

	router := mux.NewRouter()
	router.Use(Logging(newTestLogger(t, &buf), observer))
	router.HandleFunc("/api/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}).Methods("GET")
	router.HandleFunc("/boom", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	router.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	for _, path := range []string{"/api/users/abc?x=1", "/boom", "/ok"} {
		req := httptest.NewRequest("GET", path, nil)
		req.Header.Set("User-Agent", "test-agent")
		router.ServeHTTP(httptest.NewRecorder(), req)
	}

	require.Len(t, observer.seen, 3)
	assert.Equal(t, observation{"GET", "/api/users/{id}", 404}, observer.seen[0])
	assert.Equal(t, observation{"GET", "/boom", 500}, observer.seen[1])
	assert.Equal(t, observation{"GET", "/ok", 200}, observer.seen[2])

	out := buf.String()
	assert.Contains(t, out, `"level":"WARN"`)
	assert.Contains(t, out, `"level":"ERROR"`)
	assert.Contains(t, out, `"level":"INFO"`)
	assert.Contains(t, out, `"query":"x=1"`)
	assert.Contains(t, out, `"user_agent":"test-agent"`)
	assert.Contains(t, out, `"path":"/api/users/abc"`)
}

func TestLogging_NilObserver(t *testing.T) {
	handler := Logging(logging.NewNopLogger(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/x", nil))
	assert.Equal(t, http.StatusCreated, rec.Code)
}
