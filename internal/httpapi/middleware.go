package httpapi

import (
	"bufio"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func accessLog(log *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Info("api request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("query", r.URL.RawQuery),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)),
		)
	})
}

// tokenAuth checks "Authorization: Bearer <token>" against a bcrypt hash.
// The last accepted token is remembered so bcrypt runs once per token.
type tokenAuth struct {
	hash []byte

	mu       sync.Mutex
	accepted []byte
}

func newTokenAuth(hash string) *tokenAuth {
	if hash == "" {
		return nil
	}
	return &tokenAuth{hash: []byte(hash)}
}

func (a *tokenAuth) check(token string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.accepted != nil && subtle.ConstantTimeCompare(a.accepted, []byte(token)) == 1 {
		return true
	}
	if bcrypt.CompareHashAndPassword(a.hash, []byte(token)) != nil {
		return false
	}
	a.accepted = []byte(token)
	return true
}

func (a *tokenAuth) middleware(next http.Handler) http.Handler {
	if a == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || !a.check(strings.TrimSpace(token)) {
			writeJSON(w, http.StatusUnauthorized, errorBody("401 Unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
