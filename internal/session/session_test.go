package session_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/viur-framework/viur-shop-sub000/internal/common"
	"github.com/viur-framework/viur-shop-sub000/internal/session"
)

func TestCacheInvalidateByPrefix(t *testing.T) {
	s := session.New("de", "de")
	s.SetCached("price:article:a", 1)
	s.SetCached("price:leaf:b", 2)
	s.SetCached("cart.children:c", 3)

	s.Invalidate("price:")

	_, ok := s.Cached("price:article:a")
	require.False(t, ok)
	_, ok = s.Cached("price:leaf:b")
	require.False(t, ok)
	v, ok := s.Cached("cart.children:c")
	require.True(t, ok)
	require.Equal(t, 3, v)
}

func TestFromContextFallsBackToAnonymous(t *testing.T) {
	s := session.FromContext(context.Background())
	require.NotNil(t, s)
	require.NotEmpty(t, s.ID)

	attached := session.New("de", "at")
	ctx := session.WithSession(context.Background(), attached)
	require.Same(t, attached, session.FromContext(ctx))
}

func TestMiddlewarePopulatesSession(t *testing.T) {
	var got *session.Session
	handler := session.Middleware("en", "de")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = session.FromContext(r.Context())
	}))

	id := uuid.NewString()
	userKey := common.NewKey("user")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Session-Id", id)
	req.Header.Set("X-User-Key", userKey.String())
	req.Header.Set("Accept-Language", "de-DE,de;q=0.9,en;q=0.8")
	req.Header.Set("X-Country", "AT")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.NotNil(t, got)
	require.Equal(t, id, got.ID)
	require.NotNil(t, got.UserKey)
	require.True(t, got.UserKey.Equal(userKey))
	require.Equal(t, "de", got.Language)
	require.Equal(t, "at", got.Country)
	require.Equal(t, id, rec.Header().Get("X-Session-Id"))
}

func TestMiddlewareDefaultsAndBadHeaders(t *testing.T) {
	var got *session.Session
	handler := session.Middleware("en", "de")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = session.FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Session-Id", "not-a-uuid")
	req.Header.Set("X-User-Key", "garbage")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.NotNil(t, got)
	require.NotEqual(t, "not-a-uuid", got.ID, "invalid session ids are replaced")
	require.Nil(t, got.UserKey)
	require.Equal(t, "en", got.Language)
	require.Equal(t, "de", got.Country)
	require.Equal(t, got.ID, rec.Header().Get("X-Session-Id"))
}
