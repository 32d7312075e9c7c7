package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pos-sync-terminal/internal/logger"
	"pos-sync-terminal/internal/remote"
)

const defaultHeartbeat = 25 * time.Second

// Realtime subscribes to the backend's websocket change feed.
type Realtime struct {
	url       string
	apiKey    string
	tokens    TokenSource
	dialer    *websocket.Dialer
	heartbeat time.Duration
}

var _ remote.ChangeStream = (*Realtime)(nil)

func NewRealtime(rawURL, apiKey string, tokens TokenSource) *Realtime {
	return &Realtime{
		url:       rawURL,
		apiKey:    apiKey,
		tokens:    tokens,
		dialer:    websocket.DefaultDialer,
		heartbeat: defaultHeartbeat,
	}
}

type controlMessage struct {
	Type   string   `json:"type"`
	Tables []string `json:"tables,omitempty"`
}

type changeMessage struct {
	Type            string         `json:"type"`
	Table           string         `json:"table"`
	Op              string         `json:"op"`
	Record          map[string]any `json:"record"`
	OldRecord       map[string]any `json:"old_record"`
	CommitTimestamp string         `json:"commit_timestamp"`
}

func (r *Realtime) Subscribe(ctx context.Context, tables []string) (<-chan remote.Change, error) {
	header := http.Header{}
	if r.apiKey != "" {
		header.Set("apikey", r.apiKey)
	}
	if r.tokens != nil {
		tok, err := r.tokens.Token(ctx)
		if err != nil {
			return nil, remote.Transient(fmt.Errorf("device token: %w", err))
		}
		if tok != "" {
			header.Set("Authorization", "Bearer "+tok)
		}
	}

	conn, _, err := r.dialer.DialContext(ctx, r.url, header)
	if err != nil {
		return nil, remote.Transient(fmt.Errorf("dial realtime: %w", err))
	}
	if err := conn.WriteJSON(controlMessage{Type: "subscribe", Tables: tables}); err != nil {
		conn.Close()
		return nil, remote.Transient(fmt.Errorf("subscribe: %w", err))
	}

	out := make(chan remote.Change, 256)
	done := make(chan struct{})
	var once sync.Once
	closeConn := func() { once.Do(func() { conn.Close() }) }

	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		closeConn()
	}()

	go func() {
		ticker := time.NewTicker(r.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteJSON(controlMessage{Type: "heartbeat"}); err != nil {
					closeConn()
					return
				}
			}
		}
	}()

	go func() {
		defer close(out)
		defer close(done)
		for {
			ch, ok, err := readChange(conn)
			if err != nil {
				if ctx.Err() == nil {
					logger.L().Warn("realtime stream ended", zap.Error(err))
				}
				return
			}
			if !ok {
				continue
			}
			select {
			case out <- ch:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// readChange reads one frame. ok is false for control frames.
func readChange(conn *websocket.Conn) (remote.Change, bool, error) {
	_, rdr, err := conn.NextReader()
	if err != nil {
		return remote.Change{}, false, err
	}
	var msg changeMessage
	dec := json.NewDecoder(rdr)
	dec.UseNumber()
	if err := dec.Decode(&msg); err != nil {
		logger.L().Warn("skipping malformed realtime frame", zap.Error(err))
		return remote.Change{}, false, nil
	}
	if msg.Type != "change" {
		return remote.Change{}, false, nil
	}
	ch, err := msg.toChange()
	if err != nil {
		logger.L().Warn("skipping realtime change", zap.String("table", msg.Table), zap.Error(err))
		return remote.Change{}, false, nil
	}
	return ch, true, nil
}

var errNoID = errors.New("change without id")

func (m changeMessage) toChange() (remote.Change, error) {
	ch := remote.Change{Table: m.Table}
	if ts, err := time.Parse(time.RFC3339Nano, m.CommitTimestamp); err == nil {
		ch.CommitTS = ts.UTC()
	}
	src := m.Record
	switch m.Op {
	case "INSERT", "UPDATE":
		ch.Kind = remote.ChangeUpsert
		ch.Row = m.Record
	case "DELETE":
		ch.Kind = remote.ChangeDelete
		src = m.OldRecord
	default:
		return ch, fmt.Errorf("unknown op %q", m.Op)
	}
	id, ok := src["id"]
	if !ok || id == nil {
		return ch, errNoID
	}
	ch.RowID = fmt.Sprint(id)
	return ch, nil
}
