// Package executor performs upstream HTTP requests against the map backend.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/mohammed-shakir/heatstress-map/internal/core/observability"
)

// Interface is what domain services need from the upstream.
type Interface interface {
	Fetch(ctx context.Context, rawURL, accept string) ([]byte, string, error)
	Get(ctx context.Context, endpoint string, params url.Values, accept string) ([]byte, string, error)
	PostJSON(ctx context.Context, endpoint string, params url.Values, body any) ([]byte, error)
}

// StatusError is returned for non-2xx upstream responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Code, e.Body)
}

type Executor struct {
	logger   *slog.Logger
	client   *http.Client
	baseURL  *url.URL
	startNow func() time.Time // for tests
}

// New builds an executor; relative endpoints resolve against base.
func New(logger *slog.Logger, client *http.Client, base string) (*Executor, error) {
	u, err := url.Parse(strings.TrimRight(base, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Executor{
		logger:   logger,
		client:   client,
		baseURL:  u,
		startNow: time.Now,
	}, nil
}

// Resolve returns endpoint as an absolute URL string.
func (e *Executor) Resolve(endpoint string) (string, error) {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint, nil
	}
	ref, err := url.Parse(strings.TrimLeft(endpoint, "/"))
	if err != nil {
		return "", fmt.Errorf("parse endpoint %q: %w", endpoint, err)
	}
	return e.baseURL.ResolveReference(ref).String(), nil
}

// Fetch performs a GET on an already composed URL.
func (e *Executor) Fetch(ctx context.Context, rawURL, accept string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	return e.do(req)
}

// Get performs a GET on endpoint with params.
func (e *Executor) Get(ctx context.Context, endpoint string, params url.Values, accept string) ([]byte, string, error) {
	u, err := e.Resolve(endpoint)
	if err != nil {
		return nil, "", err
	}
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return e.Fetch(ctx, u, accept)
}

// PostJSON encodes body as JSON and POSTs it to endpoint.
func (e *Executor) PostJSON(ctx context.Context, endpoint string, params url.Values, body any) ([]byte, error) {
	u, err := e.Resolve(endpoint)
	if err != nil {
		return nil, err
	}
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, rdr)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	b, _, err := e.do(req)
	return b, err
}

func (e *Executor) do(req *http.Request) ([]byte, string, error) {
	start := e.startNow()
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	dur := time.Since(start)
	observability.ObserveUpstreamLatency(upstreamName(req.URL), dur.Seconds())
	e.logger.Debug("upstream done",
		"method", req.Method,
		"url", req.URL.Redacted(),
		"status", resp.StatusCode,
		"duration", dur.String())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, "", &StatusError{Code: resp.StatusCode, Body: string(b)}
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	return b, resp.Header.Get("Content-Type"), nil
}

// upstreamName labels latency metrics by the last path segment.
func upstreamName(u *url.URL) string {
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "root"
	}
	return name
}
