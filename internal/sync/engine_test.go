package sync

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pos-sync-terminal/internal/database"
	"pos-sync-terminal/internal/database/dbtest"
	"pos-sync-terminal/internal/queue"
	"pos-sync-terminal/internal/remote"
	"pos-sync-terminal/internal/store"
)

type fakeRemote struct {
	mu      sync.Mutex
	applied []string
	calls   int
	fail    func(ops []queue.Operation) error
	rows    map[string][]map[string]any
	since   []*time.Time
}

func (f *fakeRemote) Apply(_ context.Context, ops []queue.Operation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail != nil {
		if err := f.fail(ops); err != nil {
			return err
		}
	}
	f.applied = append(f.applied, string(ops[0].Op)+" "+ops[0].Key())
	return nil
}

func (f *fakeRemote) Fetch(_ context.Context, table string, since *time.Time, limit int) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.since = append(f.since, since)

	var out []map[string]any
	for _, r := range f.rows[table] {
		ts, _ := parseTimestamp(r["updated_at"])
		if since == nil || ts.After(*since) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := parseTimestamp(out[i]["updated_at"])
		b, _ := parseTimestamp(out[j]["updated_at"])
		return a.Before(b)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRemote) appliedOps() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.applied...)
}

type fakeStream struct {
	changes chan remote.Change
}

func (s *fakeStream) Subscribe(ctx context.Context, _ []string) (<-chan remote.Change, error) {
	return s.changes, nil
}

func testOptions() Options {
	return Options{
		UploadInterval: time.Hour,
		BatchSize:      2,
		MaxAttempts:    1,
		BackoffBase:    time.Millisecond,
		BackoffMax:     4 * time.Millisecond,
		DownloadTables: []string{"products"},
		PullPageSize:   2,
	}
}

func newEngine(t *testing.T, rs *fakeRemote, deadLetterAfter int, opts Options) (*Engine, *database.Database) {
	t.Helper()
	db := dbtest.Open(t)
	q := queue.New(db, deadLetterAfter)
	return NewEngine(q, store.New(db), rs, nil, opts), db
}

func writeClient(t *testing.T, db *database.Database, kind queue.OpKind, id, name string) int64 {
	t.Helper()
	ctx := context.Background()
	var txID int64
	err := db.ExecTx(ctx, func(tx *sql.Tx) error {
		row := database.NewRow("clients").Set("id", id).Set("name", name).Set("synced", false)
		if err := row.Upsert(ctx, tx); err != nil {
			return err
		}
		op := queue.Insert(row)
		if kind == queue.OpUpdate {
			op = queue.Update(row)
		}
		var err error
		txID, err = queue.Enqueue(ctx, tx, op)
		return err
	})
	require.NoError(t, err)
	return txID
}

func TestUpload_FailedTransactionKeepsRowOrder(t *testing.T) {
	rs := &fakeRemote{}
	failA := true
	rs.fail = func(ops []queue.Operation) error {
		if failA && ops[0].Op == queue.OpInsert && ops[0].RowID == "c-1" {
			return &remote.StatusError{Code: 400, Body: "rejected"}
		}
		return nil
	}
	e, db := newEngine(t, rs, 10, testOptions())
	ctx := context.Background()

	writeClient(t, db, queue.OpInsert, "c-1", "Ana")       // A
	writeClient(t, db, queue.OpInsert, "c-2", "Luis")      // B
	writeClient(t, db, queue.OpUpdate, "c-1", "Ana María") // C

	res, err := e.Upload(ctx)
	require.NoError(t, err)
	assert.Equal(t, UploadResult{Uploaded: 1, Failed: 1, Skipped: 1}, res)
	assert.Equal(t, []string{"insert clients/c-2"}, rs.appliedOps())

	failA = false
	res, err = e.Upload(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Uploaded)
	assert.Equal(t, []string{"insert clients/c-2", "insert clients/c-1", "update clients/c-1"}, rs.appliedOps())

	assert.Equal(t, 1, dbtest.Count(t, db, `SELECT synced FROM clients WHERE id = 'c-1'`))
	st := e.Status(ctx)
	assert.Zero(t, st.Pending)
	assert.NotNil(t, st.LastSuccess)
	assert.Contains(t, st.LastError, "rejected")
}

func TestUpload_RetriesTransientWithBackoff(t *testing.T) {
	rs := &fakeRemote{}
	failures := 2
	rs.fail = func([]queue.Operation) error {
		if failures > 0 {
			failures--
			return remote.Transient(errors.New("connection reset"))
		}
		return nil
	}
	opts := testOptions()
	opts.MaxAttempts = 5
	e, db := newEngine(t, rs, 10, opts)
	writeClient(t, db, queue.OpInsert, "c-1", "Ana")

	res, err := e.Upload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Uploaded)
	assert.Equal(t, 3, rs.calls)
	assert.Equal(t, Connected, e.Status(context.Background()).Connection)
}

func TestUpload_UnreachableEndsPass(t *testing.T) {
	rs := &fakeRemote{fail: func([]queue.Operation) error {
		return remote.Transient(errors.New("no route to host"))
	}}
	opts := testOptions()
	opts.MaxAttempts = 2
	e, db := newEngine(t, rs, 1, opts)
	ctx := context.Background()
	writeClient(t, db, queue.OpInsert, "c-1", "Ana")
	writeClient(t, db, queue.OpInsert, "c-2", "Luis")

	res, err := e.Upload(ctx)
	assert.True(t, remote.IsTransient(err))
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 2, rs.calls, "second transaction is not attempted")

	st := e.Status(ctx)
	assert.Equal(t, Disconnected, st.Connection)
	assert.Equal(t, "offline", st.Label())
	assert.Equal(t, 2, st.Pending, "transient failures never dead-letter")
	assert.Zero(t, st.DeadLetters)
	assert.NotEmpty(t, st.LastError)
}

func TestUpload_ConflictCountsAsApplied(t *testing.T) {
	rs := &fakeRemote{fail: func(ops []queue.Operation) error {
		return &remote.ConflictError{Table: ops[0].Table, RowID: ops[0].RowID, Err: errors.New("duplicate key")}
	}}
	e, db := newEngine(t, rs, 10, testOptions())
	writeClient(t, db, queue.OpInsert, "c-1", "Ana")

	res, err := e.Upload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Uploaded)
	assert.Zero(t, dbtest.Count(t, db, `SELECT COUNT(*) FROM sync_transactions`))
	assert.Equal(t, 1, dbtest.Count(t, db, `SELECT synced FROM clients WHERE id = 'c-1'`))
}

func TestUpload_PermanentFailuresDeadLetter(t *testing.T) {
	rs := &fakeRemote{fail: func([]queue.Operation) error {
		return &remote.StatusError{Code: 422, Body: "column does not exist"}
	}}
	e, db := newEngine(t, rs, 2, testOptions())
	ctx := context.Background()
	writeClient(t, db, queue.OpInsert, "c-1", "Ana")

	res, err := e.Upload(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.DeadLettered)

	res, err = e.Upload(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.DeadLettered)

	st := e.Status(ctx)
	assert.Zero(t, st.Pending)
	assert.Equal(t, 1, st.DeadLetters)
}

func TestPull_PagesAndAdvancesCursor(t *testing.T) {
	rs := &fakeRemote{rows: map[string][]map[string]any{
		"products": {
			{"id": "p-1", "name": "Pan", "price": "2500", "updated_at": "2026-01-01T10:00:00Z"},
			{"id": "p-2", "name": "Tinto", "price": "1500", "updated_at": "2026-01-01T11:00:00Z"},
			{"id": "p-3", "name": "Avena", "price": "3000", "updated_at": "2026-01-01T12:00:00Z"},
		},
	}}
	e, db := newEngine(t, rs, 10, testOptions())
	ctx := context.Background()

	n, err := e.Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, dbtest.Count(t, db, `SELECT COUNT(*) FROM products`))

	state, err := store.New(db).GetSyncState(ctx, "products")
	require.NoError(t, err)
	require.NotNil(t, state.LastRemoteTS)
	assert.Equal(t, time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC), *state.LastRemoteTS)
	assert.Equal(t, int64(3), state.RowsSynced)
	assert.Equal(t, "ok", state.Status)

	n, err = e.Pull(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	last := rs.since[len(rs.since)-1]
	require.NotNil(t, last)
	assert.True(t, last.Equal(*state.LastRemoteTS))
}

func TestSyncOnce_RecordsHistory(t *testing.T) {
	rs := &fakeRemote{}
	e, db := newEngine(t, rs, 10, testOptions())
	ctx := context.Background()
	writeClient(t, db, queue.OpInsert, "c-1", "Ana")

	h, err := e.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, "completed", h.Status)
	assert.Equal(t, 1, h.Uploaded)

	history, err := store.New(db).GetSyncHistory(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, h.ID, history[0].ID)
	assert.Equal(t, "completed", history[0].Status)
	assert.NotNil(t, history[0].CompletedAt)
}

func TestStartStop_FollowsChangeFeed(t *testing.T) {
	db := dbtest.Open(t)
	stream := &fakeStream{changes: make(chan remote.Change, 4)}
	e := NewEngine(queue.New(db, 10), store.New(db), &fakeRemote{}, stream, testOptions())
	ctx := context.Background()

	require.NoError(t, e.Start(ctx))
	assert.ErrorIs(t, e.Start(ctx), ErrAlreadyRunning)

	stream.changes <- remote.Change{
		Kind: remote.ChangeUpsert, Table: "products", RowID: "p-9",
		Row: map[string]any{"name": "Buñuelo", "price": "1800", "updated_at": "2026-01-01T10:00:00Z"},
	}
	require.Eventually(t, func() bool {
		return dbtest.Count(t, db, `SELECT COUNT(*) FROM products WHERE id = 'p-9'`) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, Connected, e.Status(ctx).Connection)

	stream.changes <- remote.Change{Kind: remote.ChangeDelete, Table: "products", RowID: "p-9"}
	require.Eventually(t, func() bool {
		return dbtest.Count(t, db, `SELECT COUNT(*) FROM products`) == 0
	}, 2*time.Second, 10*time.Millisecond)

	close(stream.changes)
	e.Stop()
	st := e.Status(ctx)
	assert.False(t, st.Running)
	assert.Equal(t, Disconnected, st.Connection)
	assert.False(t, e.Trigger())
}
