// Package api is the request/response collaborator client: every
// operation that mutates or fetches canonical session state. Each call
// returns the updated canonical snapshot or a typed error carrying the
// service's human-readable message.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tablesync/session"
)

// ErrNotFound means the session no longer exists on the service.
var ErrNotFound = errors.New("api: session not found")

// RejectedError is an operation the service refused. Message is the
// service's own text and may be empty.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return "api: request rejected"
	}
	return "api: request rejected: " + e.Message
}

// TokenSource supplies the bearer token for a request. Credential
// storage lives with the caller; an empty string sends no header.
type TokenSource func() string

type Config struct {
	// BaseURL is the HTTP base, e.g. http://host:8080.
	BaseURL    string
	HTTPClient *http.Client
	Token      TokenSource
	Logger     *zap.Logger
}

type Client struct {
	base  string
	hc    *http.Client
	token TokenSource
	log   *zap.Logger
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("api: BaseURL is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Client{
		base:  strings.TrimRight(cfg.BaseURL, "/"),
		hc:    cfg.HTTPClient,
		token: cfg.Token,
		log:   cfg.Logger.Named("api"),
	}, nil
}

type actionRequest struct {
	Kind   session.ActionKind `json:"kind"`
	Amount int64              `json:"amount"`
}

type amountRequest struct {
	Amount int64 `json:"amount"`
}

// FetchSession retrieves the full canonical snapshot.
func (c *Client) FetchSession(ctx context.Context, id string) (*session.Session, error) {
	return c.sessionCall(ctx, http.MethodGet, "/sessions/"+id, nil)
}

// FetchHandHistory retrieves completed-hand records, newest last.
func (c *Client) FetchHandHistory(ctx context.Context, id string) ([]session.HandRecord, error) {
	var out []session.HandRecord
	if err := c.do(ctx, http.MethodGet, "/sessions/"+id+"/hands", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Start begins play for a session that is still waiting.
func (c *Client) Start(ctx context.Context, id string) (*session.Session, error) {
	return c.sessionCall(ctx, http.MethodPost, "/sessions/"+id+"/start", nil)
}

// SubmitAction submits a betting action for the viewer.
func (c *Client) SubmitAction(ctx context.Context, id string, kind session.ActionKind, amount int64) (*session.Session, error) {
	return c.sessionCall(ctx, http.MethodPost, "/sessions/"+id+"/actions", actionRequest{Kind: kind, Amount: amount})
}

// SetReady marks the viewer ready for the next hand.
func (c *Client) SetReady(ctx context.Context, id string) (*session.Session, error) {
	return c.sessionCall(ctx, http.MethodPost, "/sessions/"+id+"/ready", nil)
}

// CashOut removes the viewer's stake from play.
func (c *Client) CashOut(ctx context.Context, id string) (*session.Session, error) {
	return c.sessionCall(ctx, http.MethodPost, "/sessions/"+id+"/cash-out", nil)
}

// BuyBackIn returns a cashed-out viewer to the session.
func (c *Client) BuyBackIn(ctx context.Context, id string, amount int64) (*session.Session, error) {
	return c.sessionCall(ctx, http.MethodPost, "/sessions/"+id+"/buy-back-in", amountRequest{Amount: amount})
}

// Reset refreshes the session back to a clean between-hands state.
func (c *Client) Reset(ctx context.Context, id string) (*session.Session, error) {
	return c.sessionCall(ctx, http.MethodPost, "/sessions/"+id+"/reset", nil)
}

// Leave removes the viewer from the session entirely.
func (c *Client) Leave(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/sessions/"+id+"/participants/me", nil, nil)
}

func (c *Client) sessionCall(ctx context.Context, method, path string, body any) (*session.Session, error) {
	var out session.Session
	if err := c.do(ctx, method, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type errorPayload struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("api: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		if tok := c.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var payload errorPayload
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		_ = json.Unmarshal(raw, &payload)
		c.log.Debug("request rejected",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("message", payload.Error))
		return &RejectedError{Message: payload.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decode response: %w", err)
	}
	return nil
}
