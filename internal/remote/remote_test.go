package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"pos-sync-terminal/internal/queue"
)

func TestClassifyStatus(t *testing.T) {
	op := queue.Operation{Op: queue.OpInsert, Table: "sales", RowID: "s-1"}
	cases := []struct {
		code      int
		ok        bool
		transient bool
		conflict  bool
	}{
		{201, true, false, false},
		{204, true, false, false},
		{409, false, false, true},
		{500, false, true, false},
		{503, false, true, false},
		{429, false, true, false},
		{408, false, true, false},
		{400, false, false, false},
		{401, false, true, false},
		{403, false, false, false},
		{404, false, false, false},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.code), func(t *testing.T) {
			err := ClassifyStatus(op, tc.code, "body")
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
			assert.Equal(t, tc.transient, IsTransient(err))
			assert.Equal(t, tc.conflict, IsConflict(err))
			var se *StatusError
			assert.True(t, errors.As(err, &se))
			assert.Equal(t, tc.code, se.Code)
		})
	}
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(errors.New("syntax error")))
	assert.False(t, IsTransient(context.Canceled))
	assert.True(t, IsTransient(fmt.Errorf("apply: %w", Transient(errors.New("reset")))))
	assert.True(t, IsTransient(&net.OpError{Op: "dial", Err: errors.New("connection refused")}))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.Nil(t, Transient(nil))
}

func TestRemotePayload_StripsLocalColumns(t *testing.T) {
	op := queue.Operation{
		Op: queue.OpInsert, Table: "clients", RowID: "c-1",
		Payload: map[string]any{"name": "Ana", "synced": 0, "last_synced_at": "x"},
	}
	got := RemotePayload(op)
	assert.Equal(t, map[string]any{"id": "c-1", "name": "Ana"}, got)
	assert.Contains(t, op.Payload, "synced", "source payload is untouched")
}

func TestCheckOperation(t *testing.T) {
	assert.NoError(t, CheckOperation(queue.Operation{Table: "sale_items", RowID: "i-1", Payload: map[string]any{"unit_price": "1"}}))
	assert.ErrorIs(t, CheckOperation(queue.Operation{Table: "sales; drop", RowID: "s"}), ErrInvalidIdentifier)
	assert.ErrorIs(t, CheckOperation(queue.Operation{Table: "sales", RowID: "s", Payload: map[string]any{"a b": 1}}), ErrInvalidIdentifier)
	assert.Error(t, CheckOperation(queue.Operation{Table: "sales"}))
}

func TestOffline(t *testing.T) {
	var s Store = Offline{}
	err := s.Apply(context.Background(), nil)
	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = s.Fetch(context.Background(), "products", nil, 10)
	assert.True(t, IsTransient(err))
}
