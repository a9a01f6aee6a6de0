package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	goahttp "goa.design/goa/v3/http"

	"watchpost/internal/api"
)

// ErrNotFound is returned when the daemon reports a missing resource.
var ErrNotFound = errors.New("not found")

// Client calls the daemon's dashboard API.
type Client struct {
	base  string
	token string
	doer  goahttp.Doer
}

// NewClient creates a client for base. debug dumps every exchange to stdout.
func NewClient(base, token string, timeoutSeconds int, debug bool) *Client {
	var (
		doer goahttp.Doer
	)
	{
		doer = &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second}
		if debug {
			doer = goahttp.NewDebugDoer(doer)
		}
	}
	return &Client{base: strings.TrimRight(base, "/"), token: token, doer: doer}
}

// Login exchanges credentials for a token.
func (c *Client) Login(ctx context.Context, username, password string) (*api.LoginResponse, error) {
	var out api.LoginResponse
	err := c.call(ctx, http.MethodPost, "/api/auth/login", api.LoginRequest{Username: username, Password: password}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Events lists stored events. status may be empty, "known" or "unknown".
func (c *Client) Events(ctx context.Context, limit int, status string) ([]api.EventView, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if status != "" {
		q.Set("status", status)
	}
	path := "/api/events"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out []api.EventView
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteEvent removes one event and its artifacts.
func (c *Client) DeleteEvent(ctx context.Context, id int64) error {
	var out api.DeleteResponse
	if err := c.call(ctx, http.MethodDelete, fmt.Sprintf("/api/events/%d", id), nil, &out); err != nil {
		return err
	}
	if !out.Success {
		return fmt.Errorf("event %d: %w", id, ErrNotFound)
	}
	return nil
}

// KnownFaces lists gallery identities.
func (c *Client) KnownFaces(ctx context.Context) ([]string, error) {
	var out api.KnownFacesResponse
	if err := c.call(ctx, http.MethodGet, "/api/known_faces", nil, &out); err != nil {
		return nil, err
	}
	return out.Names, nil
}

// Snapshot downloads the current preview frame.
func (c *Client) Snapshot(ctx context.Context) ([]byte, error) {
	resp, err := c.send(ctx, http.MethodGet, "/api/snapshot", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) call(ctx context.Context, method, path string, body, out interface{}) error {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound && method == http.MethodDelete:
		// the delete contract reports a miss in the body
	case resp.StatusCode >= 300:
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := goahttp.ResponseDecoder(resp).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		if err := goahttp.RequestEncoder(req).Encode(body); err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s %s: %w", method, path, err)
	}
	return resp, nil
}

func decodeError(resp *http.Response) error {
	var e api.ErrorResponse
	if err := goahttp.ResponseDecoder(resp).Decode(&e); err != nil || e.Error == "" {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	if e.RequestID != "" {
		return fmt.Errorf("server returned %s: %s [%s]", resp.Status, e.Error, e.RequestID)
	}
	return fmt.Errorf("server returned %s: %s", resp.Status, e.Error)
}
