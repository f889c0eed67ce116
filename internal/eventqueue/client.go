// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package eventqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/cardinalhq/eventrunner/internal/retry"
)

const (
	DefaultRequestTimeout = 30 * time.Second
	maxResponseSize       = 16 * 1024 * 1024
)

// Client talks to the event queue HTTP API. It is safe for concurrent use.
type Client struct {
	baseURL        *url.URL
	apiKey         string
	workerID       string
	httpClient     *http.Client
	requestTimeout time.Duration
	policy         retry.Policy

	mu    sync.Mutex
	polls map[string]pollCache
}

type pollCache struct {
	etag   string
	events []Event
}

var _ Queue = (*Client)(nil)

type Option func(*Client)

// WithHTTPClient replaces the instrumented default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) {
		c.policy = p
	}
}

// WithWorkerID sets the identity sent with claim and report calls.
func WithWorkerID(id string) Option {
	return func(c *Client) {
		c.workerID = id
	}
}

func NewClient(baseURL, apiKey string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid queue base URL %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid queue base URL %q: scheme must be http or https", baseURL)
	}
	if apiKey == "" {
		return nil, errors.New("queue API key is required")
	}

	c := &Client{
		baseURL: u,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		requestTimeout: DefaultRequestTimeout,
		policy:         retry.DefaultPolicy,
		polls:          map[string]pollCache{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.workerID == "" {
		c.workerID = uuid.NewString()
	}
	return c, nil
}

func (c *Client) WorkerID() string { return c.workerID }

func (c *Client) Poll(ctx context.Context, organizationID string) ([]Event, error) {
	endpoint := c.baseURL.JoinPath("organizations", url.PathEscape(organizationID), "events")
	endpoint.RawQuery = url.Values{"state": []string{string(StatePending)}}.Encode()

	c.mu.Lock()
	cached, haveCache := c.polls[organizationID]
	c.mu.Unlock()

	hdr := http.Header{}
	if haveCache && cached.etag != "" {
		hdr.Set("If-None-Match", cached.etag)
	}

	resp, err := c.send(ctx, "poll", http.MethodGet, endpoint.String(), nil, hdr)
	if err != nil {
		return nil, err
	}

	switch resp.status {
	case http.StatusNotModified:
		if haveCache {
			return append([]Event(nil), cached.events...), nil
		}
		return nil, &TransientError{Op: "poll", StatusCode: resp.status, Err: errors.New("not modified without a cached result")}
	case http.StatusOK:
	default:
		return nil, resp.unexpected("poll")
	}

	var pr pollResponse
	if err := json.Unmarshal(resp.body, &pr); err != nil {
		return nil, &TransientError{Op: "poll", StatusCode: resp.status, Err: fmt.Errorf("decode events: %w", err)}
	}

	pending := make([]Event, 0, len(pr.Events))
	for _, e := range pr.Events {
		if e.State == "" || e.State == StatePending {
			pending = append(pending, e)
		}
	}

	c.mu.Lock()
	if etag := resp.header.Get("ETag"); etag != "" {
		c.polls[organizationID] = pollCache{etag: etag, events: pending}
	} else {
		delete(c.polls, organizationID)
	}
	c.mu.Unlock()

	return append([]Event(nil), pending...), nil
}

func (c *Client) Claim(ctx context.Context, eventID string) (Event, error) {
	resp, err := c.post(ctx, "claim", eventID, workerRequest{WorkerID: c.workerID})
	if err != nil {
		return Event{}, err
	}
	switch resp.status {
	case http.StatusOK:
	case http.StatusConflict, http.StatusNotFound, http.StatusGone:
		recordClaimConflict(ctx)
		return Event{}, ErrClaimConflict
	default:
		return Event{}, resp.unexpected("claim")
	}

	var ev Event
	if err := json.Unmarshal(resp.body, &ev); err != nil {
		return Event{}, &TransientError{Op: "claim", StatusCode: resp.status, Err: fmt.Errorf("decode event: %w", err)}
	}
	return ev, nil
}

func (c *Client) Acknowledge(ctx context.Context, eventID, resultLocation string) error {
	return c.report(ctx, "acknowledge", eventID, workerRequest{WorkerID: c.workerID, ResultLocation: resultLocation})
}

func (c *Client) Fail(ctx context.Context, eventID, reason string) error {
	return c.report(ctx, "fail", eventID, workerRequest{WorkerID: c.workerID, Reason: reason})
}

func (c *Client) Release(ctx context.Context, eventID, reason string) error {
	return c.report(ctx, "release", eventID, workerRequest{WorkerID: c.workerID, Reason: reason})
}

func (c *Client) Heartbeat(ctx context.Context, eventID string) error {
	return c.report(ctx, "heartbeat", eventID, workerRequest{WorkerID: c.workerID})
}

// report sends a state change that answers 200 on success and 409 when
// this worker no longer owns the event.
func (c *Client) report(ctx context.Context, op, eventID string, body workerRequest) error {
	resp, err := c.post(ctx, op, eventID, body)
	if err != nil {
		return err
	}
	switch resp.status {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusConflict:
		return fmt.Errorf("%s %s: %w", op, eventID, ErrLeaseLost)
	case http.StatusNotFound, http.StatusGone:
		return fmt.Errorf("%s %s: %w", op, eventID, ErrEventGone)
	default:
		return resp.unexpected(op)
	}
}

func (c *Client) post(ctx context.Context, op, eventID string, body workerRequest) (*response, error) {
	endpoint := c.baseURL.JoinPath("events", url.PathEscape(eventID), op)
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", op, err)
	}
	return c.send(ctx, op, http.MethodPost, endpoint.String(), payload, nil)
}

type response struct {
	status int
	header http.Header
	body   []byte
}

func (r *response) unexpected(op string) error {
	return &FatalError{Op: op, StatusCode: r.status, Err: fmt.Errorf("unexpected response: %s", bytes.TrimSpace(r.body))}
}

// send performs one logical request with retries on transient failures.
// Statuses that callers interpret (2xx, 304, 404, 409, 410) are returned as
// responses; everything else becomes a TransientError or FatalError.
func (c *Client) send(ctx context.Context, op, method, endpoint string, payload []byte, hdr http.Header) (*response, error) {
	requestID := uuid.NewString()
	resp, err := retry.Do(ctx, c.policy, "queue."+op, IsTransient, func(ctx context.Context) (*response, error) {
		return c.sendOnce(ctx, op, method, endpoint, payload, hdr, requestID)
	})
	if err != nil {
		recordRequestError(ctx, op, err)
		return nil, err
	}
	return resp, nil
}

func (c *Client) sendOnce(ctx context.Context, op, method, endpoint string, payload []byte, hdr http.Header, requestID string) (*response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", op, err)
	}
	for k, v := range hdr {
		req.Header[k] = v
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	hresp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientError{Op: op, Err: err}
	}
	defer func() { _ = hresp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(hresp.Body, maxResponseSize))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientError{Op: op, StatusCode: hresp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	resp := &response{status: hresp.StatusCode, header: hresp.Header, body: data}
	switch code := hresp.StatusCode; {
	case code >= 200 && code < 300,
		code == http.StatusNotModified,
		code == http.StatusNotFound,
		code == http.StatusConflict,
		code == http.StatusGone:
		return resp, nil
	case code == http.StatusTooManyRequests, code >= 500:
		return nil, &TransientError{Op: op, StatusCode: code, Err: errors.New(http.StatusText(code))}
	default:
		return nil, resp.unexpected(op)
	}
}
