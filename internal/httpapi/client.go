// Package httpapi implements the domain repositories against the chatsync
// REST API, authenticating every call with the session's bearer token.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"chatsync/internal/domain"
)

// TokenFunc supplies the bearer token for each request.
type TokenFunc func(ctx context.Context) (string, error)

type Client struct {
	base  *url.URL
	token TokenFunc
	http  *http.Client
}

func New(baseURL string, token TokenFunc, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{base: u, token: token, http: httpClient}, nil
}

// Chats, Participants, Messages and Profiles expose the client through
// each repository interface.
func (c *Client) Chats() *ChatRepo               { return &ChatRepo{c} }
func (c *Client) Participants() *ParticipantRepo { return &ParticipantRepo{c} }
func (c *Client) Messages() *MessageRepo         { return &MessageRepo{c} }
func (c *Client) Profiles() *ProfileRepo         { return &ProfileRepo{c} }

type apiError struct {
	Error string `json:"error"`
}

// do sends body as JSON and decodes the response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.base.JoinPath(path)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	tok, err := c.token(ctx)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr apiError
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&apiErr)
		return fmt.Errorf("%s %s: %w", method, path, statusError(resp.StatusCode, apiErr.Error))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func statusError(code int, msg string) error {
	var sentinel error
	switch code {
	case http.StatusNotFound:
		sentinel = domain.ErrNotFound
	case http.StatusUnauthorized:
		sentinel = domain.ErrUnauthorized
	case http.StatusForbidden:
		sentinel = domain.ErrForbidden
	case http.StatusConflict:
		sentinel = domain.ErrConflict
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		sentinel = domain.ErrInvalidInput
	default:
		return fmt.Errorf("status %d: %s", code, msg)
	}
	if msg == "" {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, msg)
}

func limitQuery(limit int) url.Values {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return q
}
