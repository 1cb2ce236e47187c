// Package store provides the persistence layer for shop entities.
//
// Entities are schemaless JSON documents addressed by typed keys. Cart
// nodes and leaves additionally carry parent and root pointers so whole
// cart trees can be loaded and mutated without joins against a fixed
// relational schema.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/viur-framework/viur-shop-sub000/internal/common"
)

var (
	// ErrNotFound is returned when no entity exists for the given key.
	ErrNotFound = errors.New("store: entity not found")
	// ErrConflict is returned when a unique constraint is violated.
	ErrConflict = errors.New("store: conflict")
)

// Entity is a stored document.
type Entity struct {
	Key       common.Key      `json:"key"`
	Parent    *common.Key     `json:"parent,omitempty"`
	Root      *common.Key     `json:"root,omitempty"`
	SortIdx   float64         `json:"sortindex"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Decode unmarshals the entity payload into dst.
func (e *Entity) Decode(dst any) error {
	return json.Unmarshal(e.Data, dst)
}

// Encode marshals src into the entity payload.
func (e *Entity) Encode(src any) error {
	raw, err := json.Marshal(src)
	if err != nil {
		return err
	}
	e.Data = raw
	return nil
}

// Query selects entities of one kind, optionally scoped to a parent or
// root key and filtered on top-level JSON fields.
type Query struct {
	Kind    string
	Parent  *common.Key
	Root    *common.Key
	Eq      map[string]any
	OrderBy string
	Limit   int
	Offset  int
}

// OrderBySortIdx orders query results by the entity sort index.
const OrderBySortIdx = "sortindex"

// Store is the persistence interface shared by the Postgres
// implementation and the in-memory test double.
type Store interface {
	Get(ctx context.Context, key common.Key) (*Entity, error)
	Put(ctx context.Context, entity *Entity) error
	Delete(ctx context.Context, key common.Key) error
	Query(ctx context.Context, q Query) ([]*Entity, error)
	Count(ctx context.Context, q Query) (int, error)

	// RunInTransaction executes fn against a transactional view of the
	// store. The transaction commits when fn returns nil and rolls back
	// otherwise.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

// GetAs loads and decodes the entity at key into dst, returning the
// entity envelope alongside.
func GetAs(ctx context.Context, s Store, key common.Key, dst any) (*Entity, error) {
	ent, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := ent.Decode(dst); err != nil {
		return nil, err
	}
	return ent, nil
}

// PutAs encodes src and writes it under key, preserving tree pointers.
func PutAs(ctx context.Context, s Store, ent *Entity, src any) error {
	if err := ent.Encode(src); err != nil {
		return err
	}
	return s.Put(ctx, ent)
}
