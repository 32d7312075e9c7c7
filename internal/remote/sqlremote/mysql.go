package sqlremote

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"pos-sync-terminal/internal/logger"
	"pos-sync-terminal/internal/queue"
	"pos-sync-terminal/internal/remote"
)

var mysqlDialect = dialect{
	quote:       func(s string) string { return "`" + s + "`" },
	placeholder: func(int) string { return "?" },
	upsert: func(_ string, cols []string) string {
		sets := make([]string, 0, len(cols))
		for _, c := range cols {
			if c == "id" {
				continue
			}
			sets = append(sets, fmt.Sprintf("`%s` = VALUES(`%s`)", c, c))
		}
		if len(sets) == 0 {
			return "ON DUPLICATE KEY UPDATE `id` = `id`"
		}
		return "ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	},
}

// MySQL is a remote store backed by a central MySQL schema mirroring the
// local tables.
type MySQL struct {
	db *sql.DB
}

var _ remote.Store = (*MySQL)(nil)

func OpenMySQL(dsn string) (*MySQL, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &MySQL{db: db}, nil
}

func NewMySQL(db *sql.DB) *MySQL {
	return &MySQL{db: db}
}

func (m *MySQL) Close() error {
	return m.db.Close()
}

// Apply runs every operation of a queued transaction in one remote transaction.
func (m *MySQL) Apply(ctx context.Context, ops []queue.Operation) error {
	stmts := make([]statement, 0, len(ops))
	for _, op := range ops {
		st, err := build(mysqlDialect, op)
		if err != nil {
			return err
		}
		stmts = append(stmts, st)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyMySQL(err, queue.Operation{})
	}
	for i, st := range stmts {
		if _, err := tx.ExecContext(ctx, st.SQL, st.Args...); err != nil {
			_ = tx.Rollback()
			return classifyMySQL(fmt.Errorf("%s %s: %w", ops[i].Op, ops[i].Key(), err), ops[i])
		}
	}
	if err := tx.Commit(); err != nil {
		return classifyMySQL(err, queue.Operation{})
	}
	return nil
}

func (m *MySQL) Fetch(ctx context.Context, table string, since *time.Time, limit int) ([]map[string]any, error) {
	if !remote.ValidIdentifier(table) {
		return nil, fmt.Errorf("%w: table %q", remote.ErrInvalidIdentifier, table)
	}
	if limit <= 0 {
		limit = 500
	}
	query := fmt.Sprintf("SELECT * FROM `%s`", table)
	var args []any
	if since != nil {
		query += " WHERE `updated_at` > ?"
		args = append(args, since.UTC())
	}
	query += " ORDER BY `updated_at` ASC LIMIT ?"
	args = append(args, limit)

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyMySQL(err, queue.Operation{Table: table})
	}
	defer rows.Close()
	return scanMaps(rows)
}

func scanMaps(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		m := make(map[string]any, len(cols))
		for i, c := range cols {
			m[c] = rowValue(vals[i])
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// classifyMySQL maps driver errors onto the remote taxonomy.
func classifyMySQL(err error, op queue.Operation) error {
	if err == nil {
		return nil
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case 1213, 1205: // deadlock, lock wait timeout
			return remote.Transient(err)
		case 1062:
			return &remote.ConflictError{Table: op.Table, RowID: op.RowID, Err: err}
		}
		return err
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return remote.Transient(err)
	}
	if remote.IsTransient(err) {
		logger.L().Debug("mysql network error", zap.Error(err))
		return remote.Transient(err)
	}
	return err
}
