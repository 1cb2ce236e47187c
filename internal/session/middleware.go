package session

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/viur-framework/viur-shop-sub000/internal/common"
)

const (
	headerSessionID = "X-Session-Id"
	headerUserKey   = "X-User-Key"
	headerCountry   = "X-Country"
)

// Middleware attaches a session to every request. The session id,
// acting user, and country come from headers when present; language
// falls back to the first Accept-Language tag, then the default.
func Middleware(defaultLanguage, defaultCountry string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := New(defaultLanguage, defaultCountry)
			if id := r.Header.Get(headerSessionID); id != "" {
				if _, err := uuid.Parse(id); err == nil {
					s.ID = id
				}
			}
			if raw := r.Header.Get(headerUserKey); raw != "" {
				if key, err := common.ParseKey(raw); err == nil {
					s.UserKey = &key
				}
			}
			if lang := acceptLanguage(r.Header.Get("Accept-Language")); lang != "" {
				s.Language = lang
			}
			if country := r.Header.Get(headerCountry); country != "" {
				s.Country = strings.ToLower(country)
			}
			w.Header().Set(headerSessionID, s.ID)
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), s)))
		})
	}
}

// acceptLanguage extracts the primary subtag of the first language
// range, e.g. "de-DE,de;q=0.9" yields "de".
func acceptLanguage(header string) string {
	first, _, _ := strings.Cut(header, ",")
	first, _, _ = strings.Cut(first, ";")
	first, _, _ = strings.Cut(strings.TrimSpace(first), "-")
	return strings.ToLower(first)
}
