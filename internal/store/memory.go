package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/viur-framework/viur-shop-sub000/internal/common"
)

// Memory is an in-memory Store used by tests. It enforces the same
// code-uniqueness constraint as the Postgres schema so collision
// handling stays testable.
type Memory struct {
	mu       sync.RWMutex
	entities map[string]*Entity

	// UniqueFields lists data fields enforced unique per kind, in the
	// form "kind/field".
	UniqueFields []string
}

// NewMemory builds an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entities: map[string]*Entity{}}
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, key common.Key) (*Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ent, ok := m.entities[key.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return cloneEntity(ent), nil
}

// Put implements Store.
func (m *Memory) Put(_ context.Context, entity *Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, spec := range m.UniqueFields {
		kind, field, ok := strings.Cut(spec, "/")
		if !ok || kind != entity.Key.Kind {
			continue
		}
		value := jsonField(entity.Data, field)
		if value == "" {
			continue
		}
		for _, other := range m.entities {
			if other.Key.Kind == kind && !other.Key.Equal(entity.Key) && jsonField(other.Data, field) == value {
				return fmt.Errorf("%w: %s=%s", ErrConflict, field, value)
			}
		}
	}

	now := time.Now().UTC()
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = now
	}
	entity.UpdatedAt = now
	m.entities[entity.Key.String()] = cloneEntity(entity)
	return nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, key common.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entities, key.String())
	return nil
}

// Query implements Store.
func (m *Memory) Query(_ context.Context, q Query) ([]*Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Entity
	for _, ent := range m.entities {
		if matches(ent, q) {
			out = append(out, cloneEntity(ent))
		}
	}
	switch q.OrderBy {
	case "":
		sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	case OrderBySortIdx:
		sort.Slice(out, func(i, j int) bool {
			if out[i].SortIdx != out[j].SortIdx {
				return out[i].SortIdx < out[j].SortIdx
			}
			return out[i].Key.String() < out[j].Key.String()
		})
	default:
		field := q.OrderBy
		sort.Slice(out, func(i, j int) bool {
			a, b := jsonField(out[i].Data, field), jsonField(out[j].Data, field)
			if a != b {
				return a < b
			}
			return out[i].Key.String() < out[j].Key.String()
		})
	}
	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return nil, nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Count implements Store.
func (m *Memory) Count(ctx context.Context, q Query) (int, error) {
	q.Limit = 0
	q.Offset = 0
	ents, err := m.Query(ctx, q)
	if err != nil {
		return 0, err
	}
	return len(ents), nil
}

// RunInTransaction implements Store. The in-memory store has no real
// transactions; fn runs against the store directly.
func (m *Memory) RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return fn(ctx, m)
}

func matches(ent *Entity, q Query) bool {
	if ent.Key.Kind != q.Kind {
		return false
	}
	if q.Parent != nil && (ent.Parent == nil || !ent.Parent.Equal(*q.Parent)) {
		return false
	}
	if q.Root != nil && (ent.Root == nil || !ent.Root.Equal(*q.Root)) {
		return false
	}
	for field, value := range q.Eq {
		if jsonField(ent.Data, field) != fmt.Sprint(value) {
			return false
		}
	}
	return true
}

func jsonField(data []byte, field string) string {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return ""
	}
	value, ok := doc[field]
	if !ok || value == nil {
		return ""
	}
	return fmt.Sprint(value)
}

func cloneEntity(ent *Entity) *Entity {
	dup := *ent
	dup.Data = append([]byte(nil), ent.Data...)
	if ent.Parent != nil {
		p := *ent.Parent
		dup.Parent = &p
	}
	if ent.Root != nil {
		r := *ent.Root
		dup.Root = &r
	}
	return &dup
}
