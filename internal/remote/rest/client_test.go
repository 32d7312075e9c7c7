package rest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pos-sync-terminal/internal/queue"
	"pos-sync-terminal/internal/remote"
)

type recorded struct {
	Method string
	Path   string
	Query  string
	Prefer string
	Auth   string
	APIKey string
	Body   string
}

func newServer(t *testing.T, status func(r *http.Request) int) (*Client, *[]recorded) {
	t.Helper()
	var mu sync.Mutex
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		calls = append(calls, recorded{
			Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery,
			Prefer: r.Header.Get("Prefer"), Auth: r.Header.Get("Authorization"),
			APIKey: r.Header.Get("apikey"), Body: string(b),
		})
		mu.Unlock()
		w.WriteHeader(status(r))
	}))
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL, APIKey: "anon", Tokens: StaticToken("tok"), Timeout: time.Second})
	require.NoError(t, err)
	return c, &calls
}

func TestApply_SendsOperationsInOrder(t *testing.T) {
	c, calls := newServer(t, func(*http.Request) int { return http.StatusCreated })

	err := c.Apply(context.Background(), []queue.Operation{
		{Op: queue.OpInsert, Table: "sales", RowID: "s-1", Payload: map[string]any{"id": "s-1", "total_amount": "5000", "synced": json.Number("0")}},
		{Op: queue.OpUpdate, Table: "orders", RowID: "o-1", Payload: map[string]any{"id": "o-1", "status": "completed"}},
		{Op: queue.OpDelete, Table: "order_items", RowID: "i-1"},
	})
	require.NoError(t, err)
	require.Len(t, *calls, 3)

	ins := (*calls)[0]
	assert.Equal(t, http.MethodPost, ins.Method)
	assert.Equal(t, "/rest/v1/sales", ins.Path)
	assert.Contains(t, ins.Prefer, "resolution=merge-duplicates")
	assert.Equal(t, "Bearer tok", ins.Auth)
	assert.Equal(t, "anon", ins.APIKey)
	assert.JSONEq(t, `[{"id":"s-1","total_amount":"5000"}]`, ins.Body)

	upd := (*calls)[1]
	assert.Equal(t, http.MethodPatch, upd.Method)
	assert.Equal(t, "id=eq.o-1", upd.Query)

	del := (*calls)[2]
	assert.Equal(t, http.MethodDelete, del.Method)
	assert.Equal(t, "/rest/v1/order_items", del.Path)
	assert.Empty(t, del.Body)
}

func TestApply_ErrorClasses(t *testing.T) {
	ctx := context.Background()
	op := queue.Operation{Op: queue.OpInsert, Table: "sales", RowID: "s-1", Payload: map[string]any{"id": "s-1"}}

	c, _ := newServer(t, func(*http.Request) int { return http.StatusConflict })
	assert.NoError(t, c.Apply(ctx, []queue.Operation{op}), "conflict counts as applied")

	c, _ = newServer(t, func(*http.Request) int { return http.StatusServiceUnavailable })
	err := c.Apply(ctx, []queue.Operation{op})
	assert.True(t, remote.IsTransient(err))

	c, _ = newServer(t, func(*http.Request) int { return http.StatusBadRequest })
	err = c.Apply(ctx, []queue.Operation{op})
	require.Error(t, err)
	assert.False(t, remote.IsTransient(err))

	c, _ = newServer(t, func(*http.Request) int { return http.StatusNotFound })
	assert.NoError(t, c.Apply(ctx, []queue.Operation{{Op: queue.OpDelete, Table: "sales", RowID: "gone"}}))

	c, calls := newServer(t, func(*http.Request) int { return http.StatusCreated })
	err = c.Apply(ctx, []queue.Operation{{Op: queue.OpInsert, Table: "bad table", RowID: "x"}})
	assert.ErrorIs(t, err, remote.ErrInvalidIdentifier)
	assert.Empty(t, *calls)
}

func TestApply_UnreachableIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c, err := New(Config{BaseURL: srv.URL, Timeout: time.Second})
	require.NoError(t, err)

	err = c.Apply(context.Background(), []queue.Operation{{Op: queue.OpDelete, Table: "sales", RowID: "s-1"}})
	assert.True(t, remote.IsTransient(err))
}

func TestFetch(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/products", r.URL.Path)
		query = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[{"id":"p-1","price":2500,"updated_at":"2026-01-02T10:00:00Z"}]`)
	}))
	defer srv.Close()
	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows, err := c.Fetch(context.Background(), "products", &since, 100)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, json.Number("2500"), rows[0]["price"])

	assert.Contains(t, query, "limit=100")
	assert.Contains(t, query, "order=updated_at.asc")
	assert.Contains(t, query, "updated_at=gt.2026-01-01T00%3A00%3A00Z")

	_, err = c.Fetch(context.Background(), "products;", nil, 10)
	assert.ErrorIs(t, err, remote.ErrInvalidIdentifier)
}

func TestRealtime_Subscribe(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan controlMessage, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var sub controlMessage
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subscribed <- sub
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ack"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"change","table":"products","op":"UPDATE",
			"record":{"id":"p-1","price":2700},"commit_timestamp":"2026-01-02T10:00:00Z"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"change","table":"clients","op":"DELETE",
			"old_record":{"id":"c-9"}}`))
		// Hold the socket open until the client hangs up.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	rt := NewRealtime("ws"+strings.TrimPrefix(srv.URL, "http"), "", StaticToken("tok"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := rt.Subscribe(ctx, []string{"products", "clients"})
	require.NoError(t, err)
	assert.Equal(t, []string{"products", "clients"}, (<-subscribed).Tables)

	first := <-changes
	assert.Equal(t, remote.ChangeUpsert, first.Kind)
	assert.Equal(t, "p-1", first.RowID)
	assert.Equal(t, json.Number("2700"), first.Row["price"])
	assert.Equal(t, 2026, first.CommitTS.Year())

	second := <-changes
	assert.Equal(t, remote.ChangeDelete, second.Kind)
	assert.Equal(t, "clients", second.Table)
	assert.Equal(t, "c-9", second.RowID)

	cancel()
	select {
	case _, ok := <-changes:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close after cancel")
	}
}
