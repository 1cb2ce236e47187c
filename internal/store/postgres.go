package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/viur-framework/viur-shop-sub000/internal/common"
)

const uniqueViolationCode = "23505"

// querier is satisfied by both pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres stores entities in a single JSONB-backed table.
type Postgres struct {
	pool *pgxpool.Pool
	q    querier
}

// NewPostgres builds a store on top of the given pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, q: pool}
}

// Get implements Store.
func (p *Postgres) Get(ctx context.Context, key common.Key) (*Entity, error) {
	row := p.q.QueryRow(ctx, `
		SELECT key, parent_key, root_key, sort_idx, data, created_at, updated_at
		FROM shop_entity WHERE key = $1`, key.String())
	ent, err := scanEntity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return ent, err
}

// Put implements Store. It inserts or replaces the entity at its key.
func (p *Postgres) Put(ctx context.Context, entity *Entity) error {
	now := time.Now().UTC()
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = now
	}
	entity.UpdatedAt = now
	_, err := p.q.Exec(ctx, `
		INSERT INTO shop_entity (key, kind, parent_key, root_key, sort_idx, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (key) DO UPDATE SET
			parent_key = EXCLUDED.parent_key,
			root_key = EXCLUDED.root_key,
			sort_idx = EXCLUDED.sort_idx,
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at`,
		entity.Key.String(), entity.Key.Kind, keyString(entity.Parent), keyString(entity.Root),
		entity.SortIdx, entity.Data, entity.CreatedAt, entity.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
		}
		return err
	}
	return nil
}

// Delete implements Store. Deleting a missing key is not an error.
func (p *Postgres) Delete(ctx context.Context, key common.Key) error {
	_, err := p.q.Exec(ctx, `DELETE FROM shop_entity WHERE key = $1`, key.String())
	return err
}

// Query implements Store.
func (p *Postgres) Query(ctx context.Context, q Query) ([]*Entity, error) {
	sql, args := buildQuery(q, "key, parent_key, root_key, sort_idx, data, created_at, updated_at")
	rows, err := p.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Entity
	for rows.Next() {
		ent, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ent)
	}
	return out, rows.Err()
}

// Count implements Store.
func (p *Postgres) Count(ctx context.Context, q Query) (int, error) {
	q.OrderBy = ""
	q.Limit = 0
	q.Offset = 0
	sql, args := buildQuery(q, "COUNT(*)")
	var n int
	if err := p.q.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// RunInTransaction implements Store. Nested calls reuse the outer
// transaction.
func (p *Postgres) RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if _, inTx := p.q.(pgx.Tx); inTx {
		return fn(ctx, p)
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &Postgres{pool: p.pool, q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func buildQuery(q Query, columns string) (string, []any) {
	var (
		sb    strings.Builder
		where []string
		args  []any
	)
	fmt.Fprintf(&sb, "SELECT %s FROM shop_entity", columns)

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	where = append(where, "kind = "+arg(q.Kind))
	if q.Parent != nil {
		where = append(where, "parent_key = "+arg(q.Parent.String()))
	}
	if q.Root != nil {
		where = append(where, "root_key = "+arg(q.Root.String()))
	}
	for field, value := range q.Eq {
		where = append(where, fmt.Sprintf("data->>%s = %s", arg(field), arg(fmt.Sprint(value))))
	}
	sb.WriteString(" WHERE " + strings.Join(where, " AND "))

	switch q.OrderBy {
	case "":
	case OrderBySortIdx:
		sb.WriteString(" ORDER BY sort_idx, key")
	default:
		sb.WriteString(" ORDER BY data->>" + arg(q.OrderBy) + ", key")
	}
	if q.Limit > 0 {
		sb.WriteString(" LIMIT " + arg(q.Limit))
	}
	if q.Offset > 0 {
		sb.WriteString(" OFFSET " + arg(q.Offset))
	}
	return sb.String(), args
}

func scanEntity(row pgx.Row) (*Entity, error) {
	var (
		ent       Entity
		rawKey    string
		rawParent *string
		rawRoot   *string
	)
	if err := row.Scan(&rawKey, &rawParent, &rawRoot, &ent.SortIdx, &ent.Data, &ent.CreatedAt, &ent.UpdatedAt); err != nil {
		return nil, err
	}
	key, err := common.ParseKey(rawKey)
	if err != nil {
		return nil, err
	}
	ent.Key = key
	if ent.Parent, err = parseOptionalKey(rawParent); err != nil {
		return nil, err
	}
	if ent.Root, err = parseOptionalKey(rawRoot); err != nil {
		return nil, err
	}
	return &ent, nil
}

func parseOptionalKey(raw *string) (*common.Key, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	key, err := common.ParseKey(*raw)
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func keyString(key *common.Key) *string {
	if key == nil {
		return nil
	}
	s := key.String()
	return &s
}
