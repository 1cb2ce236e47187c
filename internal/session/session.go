// Package session carries the request-scoped shop state: the acting
// user, language, country, and a per-request computation cache that
// keeps repeated cart traversals and price lookups cheap within one
// request without leaking state across requests.
package session

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/viur-framework/viur-shop-sub000/internal/common"
)

// Session is the request-scoped shop context. A fresh Session is
// attached to every incoming request; nothing in it outlives the
// request.
type Session struct {
	ID       string
	UserKey  *common.Key
	Language string
	Country  string

	mu    sync.Mutex
	cache map[string]any
}

// New builds an anonymous session with the given defaults.
func New(language, country string) *Session {
	return &Session{
		ID:       uuid.NewString(),
		Language: language,
		Country:  country,
		cache:    map[string]any{},
	}
}

// Cached returns the cached value for key, or ok=false.
func (s *Session) Cached(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.cache[key]
	return v, ok
}

// SetCached stores a value in the request cache.
func (s *Session) SetCached(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache == nil {
		s.cache = map[string]any{}
	}
	s.cache[key] = value
}

// Invalidate drops every cached entry whose key starts with prefix.
// Cart mutations use it to discard stale children and price results.
func (s *Session) Invalidate(prefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.cache {
		if strings.HasPrefix(k, prefix) {
			delete(s.cache, k)
		}
	}
}

type ctxKey struct{}

// WithSession attaches the session to the context.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session from the context. Code paths that
// run outside a request (workers, tests) get a fresh anonymous
// session so cache lookups stay safe.
func FromContext(ctx context.Context) *Session {
	if s, ok := ctx.Value(ctxKey{}).(*Session); ok && s != nil {
		return s
	}
	return New("", "")
}
