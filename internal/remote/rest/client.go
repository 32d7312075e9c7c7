// Package rest talks to a PostgREST-style backend over HTTP.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"pos-sync-terminal/internal/logger"
	"pos-sync-terminal/internal/queue"
	"pos-sync-terminal/internal/remote"
)

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns the same value.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) { return string(s), nil }

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Tokens  TokenSource
}

type Client struct {
	base   *url.URL
	apiKey string
	tokens TokenSource
	http   *http.Client
}

var _ remote.Store = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("remote base url is required")
	}
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		base:   u,
		apiKey: cfg.APIKey,
		tokens: cfg.Tokens,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

// Apply sends the operations in order. The backend has no multi-request
// transaction, so every request is idempotent and a partially applied
// transaction is safe to replay.
func (c *Client) Apply(ctx context.Context, ops []queue.Operation) error {
	for _, op := range ops {
		if err := remote.CheckOperation(op); err != nil {
			return err
		}
		if err := c.applyOne(ctx, op); err != nil {
			if remote.IsConflict(err) {
				logger.L().Debug("remote conflict treated as applied",
					zap.String("table", op.Table), zap.String("row_id", op.RowID))
				continue
			}
			return err
		}
	}
	return nil
}

func (c *Client) applyOne(ctx context.Context, op queue.Operation) error {
	var (
		method string
		query  url.Values
		body   any
	)
	switch op.Op {
	case queue.OpInsert:
		method = http.MethodPost
		body = []map[string]any{remote.RemotePayload(op)}
	case queue.OpUpdate:
		method = http.MethodPatch
		query = url.Values{"id": {"eq." + op.RowID}}
		body = remote.RemotePayload(op)
	case queue.OpDelete:
		method = http.MethodDelete
		query = url.Values{"id": {"eq." + op.RowID}}
	default:
		return fmt.Errorf("unknown operation %q", op.Op)
	}

	req, err := c.newRequest(ctx, method, op.Table, query, body)
	if err != nil {
		return err
	}
	if op.Op == queue.OpInsert {
		req.Header.Set("Prefer", "resolution=merge-duplicates,return=minimal")
	} else {
		req.Header.Set("Prefer", "return=minimal")
	}

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	msg := readSnippet(resp.Body)

	if op.Op == queue.OpDelete && resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return remote.ClassifyStatus(op, resp.StatusCode, msg)
}

// Fetch pages rows changed after since, oldest first.
func (c *Client) Fetch(ctx context.Context, table string, since *time.Time, limit int) ([]map[string]any, error) {
	if !remote.ValidIdentifier(table) {
		return nil, fmt.Errorf("%w: table %q", remote.ErrInvalidIdentifier, table)
	}
	q := url.Values{
		"select": {"*"},
		"order":  {"updated_at.asc"},
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if since != nil {
		q.Set("updated_at", "gt."+since.UTC().Format(time.RFC3339Nano))
	}

	req, err := c.newRequest(ctx, http.MethodGet, table, q, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, remote.ClassifyStatus(queue.Operation{Table: table}, resp.StatusCode, readSnippet(resp.Body))
	}
	var rows []map[string]any
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&rows); err != nil {
		return nil, remote.Transient(fmt.Errorf("decode %s page: %w", table, err))
	}
	return rows, nil
}

func (c *Client) newRequest(ctx context.Context, method, table string, q url.Values, body any) (*http.Request, error) {
	u := *c.base
	u.Path = u.Path + "/rest/v1/" + table
	if q != nil {
		u.RawQuery = q.Encode()
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", table, err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
	if c.tokens != nil {
		tok, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, remote.Transient(fmt.Errorf("device token: %w", err))
		}
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	return req, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); errors.Is(ctxErr, context.Canceled) {
			return nil, ctxErr
		}
		return nil, remote.Transient(err)
	}
	return resp, nil
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(b))
}
