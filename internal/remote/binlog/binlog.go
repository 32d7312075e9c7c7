// Package binlog streams row changes from a self-hosted central MySQL by
// following its binary log.
package binlog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-mysql-org/go-mysql/canal"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pos-sync-terminal/internal/config"
	"pos-sync-terminal/internal/logger"
	"pos-sync-terminal/internal/remote"
)

// Stream is a remote.ChangeStream over the MySQL replication protocol. It
// starts at the current master position; the initial state comes from a pull.
type Stream struct {
	cfg config.BinlogConfig
}

var _ remote.ChangeStream = (*Stream)(nil)

func New(cfg config.BinlogConfig) *Stream {
	return &Stream{cfg: cfg}
}

func (s *Stream) canalConfig(tables []string) *canal.Config {
	regex := make([]string, 0, len(tables))
	for _, t := range tables {
		regex = append(regex, fmt.Sprintf("^%s\\.%s$", s.cfg.Database, t))
	}
	serverID := s.cfg.ServerID
	if serverID == 0 {
		serverID = 1001
	}
	return &canal.Config{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		User:              s.cfg.User,
		Password:          s.cfg.Password,
		Flavor:            "mysql",
		ServerID:          serverID,
		Dump:              canal.DumpConfig{ExecutionPath: ""},
		IncludeTableRegex: regex,
		UseDecimal:        true,
		ParseTime:         true,
	}
}

func (s *Stream) Subscribe(ctx context.Context, tables []string) (<-chan remote.Change, error) {
	c, err := canal.NewCanal(s.canalConfig(tables))
	if err != nil {
		return nil, remote.Transient(fmt.Errorf("failed to create canal: %w", err))
	}
	pos, err := c.GetMasterPos()
	if err != nil {
		c.Close()
		return nil, remote.Transient(fmt.Errorf("read master position: %w", err))
	}

	want := make(map[string]bool, len(tables))
	for _, t := range tables {
		want[t] = true
	}
	out := make(chan remote.Change, 10000)
	c.SetEventHandler(&eventHandler{ctx: ctx, tables: want, out: out})

	var once sync.Once
	closeCanal := func() { once.Do(c.Close) }
	done := make(chan struct{})

	go func() {
		select {
		case <-ctx.Done():
			closeCanal()
		case <-done:
		}
	}()

	go func() {
		defer close(out)
		defer close(done)
		logger.L().Info("Starting binlog stream", zap.String("host", s.cfg.Host), zap.String("file", pos.Name))
		if err := c.RunFrom(pos); err != nil && ctx.Err() == nil {
			logger.L().Error("Canal run error", zap.Error(err))
		}
		closeCanal()
		logger.L().Info("Stopped binlog stream")
	}()

	return out, nil
}

type eventHandler struct {
	canal.DummyEventHandler
	ctx    context.Context
	tables map[string]bool
	out    chan<- remote.Change
}

func (h *eventHandler) OnRow(e *canal.RowsEvent) error {
	if e.Table == nil || !h.tables[e.Table.Name] {
		return nil
	}
	for _, ch := range rowsToChanges(e) {
		select {
		case h.out <- ch:
		case <-h.ctx.Done():
			return h.ctx.Err()
		}
	}
	return nil
}

func (h *eventHandler) String() string {
	return "BinlogStreamHandler"
}

// rowsToChanges flattens a rows event. Update events carry before/after
// pairs; only the after image is kept.
func rowsToChanges(e *canal.RowsEvent) []remote.Change {
	var ts time.Time
	if e.Header != nil && e.Header.Timestamp > 0 {
		ts = time.Unix(int64(e.Header.Timestamp), 0).UTC()
	}

	var kind remote.ChangeKind
	start, step := 0, 1
	switch e.Action {
	case canal.InsertAction:
		kind = remote.ChangeUpsert
	case canal.UpdateAction:
		kind = remote.ChangeUpsert
		start, step = 1, 2
	case canal.DeleteAction:
		kind = remote.ChangeDelete
	default:
		return nil
	}

	var changes []remote.Change
	for i := start; i < len(e.Rows); i += step {
		row := make(map[string]any, len(e.Table.Columns))
		for j, col := range e.Table.Columns {
			if j < len(e.Rows[i]) {
				row[col.Name] = columnValue(e.Rows[i][j])
			}
		}
		id, ok := row["id"]
		if !ok || id == nil {
			continue
		}
		ch := remote.Change{Kind: kind, Table: e.Table.Name, RowID: fmt.Sprint(id), CommitTS: ts}
		if kind == remote.ChangeUpsert {
			ch.Row = row
		}
		changes = append(changes, ch)
	}
	return changes
}

func columnValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case decimal.Decimal:
		return x.String()
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}
