package docstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres stores documents as JSONB rows in the documents table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an open pool. The schema is applied by pg.Migrate.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Create(ctx context.Context, collection string, doc any) (string, error) {
	id := uuid.NewString()
	body, err := encodeObject(doc, id)
	if err != nil {
		return "", err
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO documents (collection, id, body) VALUES ($1, $2, $3::jsonb)`,
		collection, id, string(body))
	if err != nil {
		return "", fmt.Errorf("failed to create document: %w", err)
	}
	return id, nil
}

func (p *Postgres) Get(ctx context.Context, collection, id string) (Snapshot, error) {
	var body []byte
	err := p.pool.QueryRow(ctx,
		`SELECT body FROM documents WHERE collection = $1 AND id = $2`,
		collection, id).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, fmt.Errorf("failed to get document: %w", err)
	}
	return Snapshot{ID: id, Data: body}, nil
}

func (p *Postgres) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	enc, err := encodeFields(fields)
	if err != nil {
		return err
	}
	patch, err := encodeObject(enc, id)
	if err != nil {
		return err
	}
	tag, err := p.pool.Exec(ctx,
		`UPDATE documents SET body = body || $3::jsonb, updated_at = NOW() WHERE collection = $1 AND id = $2`,
		collection, id, string(patch))
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) Query(ctx context.Context, collection string, q Query) ([]Snapshot, error) {
	if err := checkQuery(q); err != nil {
		return nil, err
	}

	sql, args := buildQuery(collection, q)
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var s Snapshot
		if err := rows.Scan(&s.ID, &s.Data); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}
	return out, nil
}

// buildQuery renders q as parameterized SQL. Field names travel as bind
// parameters to the ->> operator, never as SQL text.
func buildQuery(collection string, q Query) (string, []any) {
	var b strings.Builder
	args := []any{collection}
	next := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	b.WriteString(`SELECT id, body FROM documents WHERE collection = $1`)
	for _, f := range q.Filters {
		fmt.Fprintf(&b, " AND body->>%s = %s", next(f.Field), next(f.Value))
	}

	b.WriteString(" ORDER BY ")
	for _, o := range q.OrderBy {
		expr := "(body->>" + next(o.Field) + ")"
		switch o.Kind {
		case KindNumber:
			expr += "::double precision"
		case KindTime:
			expr += "::timestamptz"
		}
		dir := " ASC"
		if o.Desc {
			dir = " DESC"
		}
		b.WriteString(expr + dir + ", ")
	}
	b.WriteString("id ASC")
	return b.String(), args
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}
