package common

import (
	"strings"

	"github.com/google/uuid"
)

// Key is a structured entity identifier of the form "<kind>/<uuid>".
// Every externally supplied key is parsed through ParseKey so malformed
// identifiers surface as INVALID_KEY instead of leaking into queries.
type Key struct {
	Kind string
	ID   string
}

// NewKey generates a fresh key for the given kind.
func NewKey(kind string) Key {
	return Key{Kind: kind, ID: uuid.NewString()}
}

// ParseKey validates and splits a raw key string.
func ParseKey(raw string) (Key, error) {
	kind, id, ok := strings.Cut(raw, "/")
	if !ok || kind == "" {
		return Key{}, InvalidKey(raw)
	}
	if _, err := uuid.Parse(id); err != nil {
		return Key{}, InvalidKey(raw)
	}
	return Key{Kind: kind, ID: id}, nil
}

// KeyFromID builds a key of the given kind from a bare identifier,
// e.g. an URL path segment.
func KeyFromID(kind, id string) (Key, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Key{}, InvalidKey(id)
	}
	return Key{Kind: kind, ID: id}, nil
}

// ParseKeyOfKind parses a raw key and additionally enforces its kind.
func ParseKeyOfKind(raw, kind string) (Key, error) {
	k, err := ParseKey(raw)
	if err != nil {
		return Key{}, err
	}
	if k.Kind != kind {
		return Key{}, InvalidKey(raw)
	}
	return k, nil
}

// String renders the canonical "<kind>/<uuid>" form.
func (k Key) String() string {
	return k.Kind + "/" + k.ID
}

// IsZero reports whether the key is unset.
func (k Key) IsZero() bool {
	return k.Kind == "" && k.ID == ""
}

// Equal compares two keys.
func (k Key) Equal(other Key) bool {
	return k.Kind == other.Kind && k.ID == other.ID
}

// MarshalText implements encoding.TextMarshaler so keys serialize as
// their canonical string form in JSON.
func (k Key) MarshalText() ([]byte, error) {
	if k.IsZero() {
		return []byte(""), nil
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Key) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*k = Key{}
		return nil
	}
	parsed, err := ParseKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// KeyStrings renders a key slice to canonical strings, for error details.
func KeyStrings(keys []Key) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.String())
	}
	return out
}

// ContainsKey reports whether keys contains k.
func ContainsKey(keys []Key, k Key) bool {
	for _, candidate := range keys {
		if candidate.Equal(k) {
			return true
		}
	}
	return false
}
