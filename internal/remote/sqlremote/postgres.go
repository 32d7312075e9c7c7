package sqlremote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"pos-sync-terminal/internal/queue"
	"pos-sync-terminal/internal/remote"
)

func pgQuote(s string) string { return pgx.Identifier{s}.Sanitize() }

var postgresDialect = dialect{
	quote:       pgQuote,
	placeholder: func(i int) string { return fmt.Sprintf("$%d", i) },
	upsert: func(_ string, cols []string) string {
		sets := make([]string, 0, len(cols))
		for _, c := range cols {
			if c == "id" {
				continue
			}
			q := pgQuote(c)
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", q, q))
		}
		if len(sets) == 0 {
			return `ON CONFLICT ("id") DO NOTHING`
		}
		return `ON CONFLICT ("id") DO UPDATE SET ` + strings.Join(sets, ", ")
	},
}

// Postgres is a remote store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ remote.Store = (*Postgres)(nil)

func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres pool: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) Apply(ctx context.Context, ops []queue.Operation) error {
	stmts := make([]statement, 0, len(ops))
	for _, op := range ops {
		st, err := build(postgresDialect, op)
		if err != nil {
			return err
		}
		stmts = append(stmts, st)
	}

	var failed queue.Operation
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		for i, st := range stmts {
			if _, err := tx.Exec(ctx, st.SQL, st.Args...); err != nil {
				failed = ops[i]
				return fmt.Errorf("%s %s: %w", ops[i].Op, ops[i].Key(), err)
			}
		}
		return nil
	})
	return classifyPostgres(err, failed)
}

func (p *Postgres) Fetch(ctx context.Context, table string, since *time.Time, limit int) ([]map[string]any, error) {
	if !remote.ValidIdentifier(table) {
		return nil, fmt.Errorf("%w: table %q", remote.ErrInvalidIdentifier, table)
	}
	if limit <= 0 {
		limit = 500
	}
	query := "SELECT * FROM " + pgQuote(table)
	args := []any{}
	if since != nil {
		args = append(args, since.UTC())
		query += " WHERE updated_at > $1"
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY updated_at ASC LIMIT $%d", len(args))

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classifyPostgres(err, queue.Operation{Table: table})
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []map[string]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, classifyPostgres(err, queue.Operation{Table: table})
		}
		m := make(map[string]any, len(fields))
		for i, f := range fields {
			m[f.Name] = rowValue(vals[i])
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPostgres(err, queue.Operation{Table: table})
	}
	return out, nil
}

func classifyPostgres(err error, op queue.Operation) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return &remote.ConflictError{Table: op.Table, RowID: op.RowID, Err: err}
		case strings.HasPrefix(pgErr.Code, "08"),
			pgErr.Code == "40001", pgErr.Code == "40P01", pgErr.Code == "57P01":
			return remote.Transient(err)
		}
		return err
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) || remote.IsTransient(err) {
		return remote.Transient(err)
	}
	return err
}
