// Package remote implements the facade's RemoteClient contract against
// the field-operations HTTP API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	apperrors "github.com/fieldops/fieldsync/internal/errors"
	"github.com/fieldops/fieldsync/internal/logging"
)

// Client talks JSON over HTTP to the remote system of record.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the API rooted at baseURL.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// Create POSTs a new record to /api/{table}.
func (c *Client) Create(ctx context.Context, table string, payload json.RawMessage) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, c.tableURL(table), payload)
}

// Update PUTs a full record to /api/{table}/{id}.
func (c *Client) Update(ctx context.Context, table, id string, payload json.RawMessage) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPut, c.recordURL(table, id), payload)
}

// Delete removes /api/{table}/{id}. A 404 counts as success: the record
// is gone either way, which keeps replayed deletes idempotent.
func (c *Client) Delete(ctx context.Context, table, id string) error {
	_, err := c.do(ctx, http.MethodDelete, c.recordURL(table, id), nil)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return nil
	}
	return err
}

// Get fetches /api/{table}/{id}.
func (c *Client) Get(ctx context.Context, table, id string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, c.recordURL(table, id), nil)
}

// List fetches /api/{table} with the filter as query parameters and
// returns the response rows.
func (c *Client) List(ctx context.Context, table string, filter map[string]string) ([]json.RawMessage, error) {
	u := c.tableURL(table)
	if len(filter) > 0 {
		q := url.Values{}
		for k, v := range filter {
			q.Set(k, v)
		}
		u += "?" + q.Encode()
	}

	body, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "decode list response", err)
	}
	return rows, nil
}

// UploadPhoto POSTs the photo payload, image included, to the dedicated
// upload endpoint.
func (c *Client) UploadPhoto(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, c.baseURL+"/api/photos/upload", payload)
}

// ProjectSummary fetches the live dashboard aggregate for a project.
func (c *Client) ProjectSummary(ctx context.Context, projectID string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, c.recordURL("projects", projectID)+"/summary", nil)
}

func (c *Client) tableURL(table string) string {
	return c.baseURL + "/api/" + url.PathEscape(table)
}

func (c *Client) recordURL(table, id string) string {
	return c.tableURL(table) + "/" + url.PathEscape(id)
}

func (c *Client) do(ctx context.Context, method, u string, payload json.RawMessage) (json.RawMessage, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "build request", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrOffline, "remote unreachable", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "read response", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("%s %s: not found", method, u))
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		logging.Debug("remote rejected request", logging.Fields{
			"method": method, "url": u, "status": resp.StatusCode,
		})
		return nil, apperrors.New(apperrors.ErrSyncFailed,
			fmt.Sprintf("%s %s: remote rejected with status %d", method, u, resp.StatusCode))
	default:
		return nil, apperrors.New(apperrors.ErrSyncFailed,
			fmt.Sprintf("%s %s: remote error status %d", method, u, resp.StatusCode))
	}
}
