// Package report uploads a medical report to the analysis backend and returns
// the plain-language summary the dialogue walks through.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	// DefaultBaseURL is the analysis backend of a local deployment.
	DefaultBaseURL = "http://localhost:8080"

	// DefaultTimeout bounds one analysis request. Report analysis runs a
	// language model server-side and routinely takes tens of seconds.
	DefaultTimeout = 60 * time.Second

	// maxResponseBytes caps the decoded response body.
	maxResponseBytes = 4 << 20
)

// ErrNoSummary is returned when the backend answers successfully but without
// a summary.
var ErrNoSummary = errors.New("report: response has no summary")

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithBaseURL sets the backend root. Default: [DefaultBaseURL].
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithTimeout sets the per-request timeout. Default: [DefaultTimeout].
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client. Its transport is used as-is.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// Client talks to the report-analysis backend.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
}

// New returns a Client. Requests are traced through the global OTel
// providers unless [WithHTTPClient] supplies another client.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		timeout: DefaultTimeout,
		http:    &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// response is the JSON body of /analyze-report.
type response struct {
	Summary string `json:"summary"`
	Error   string `json:"error"`
}

// Analyze uploads the report read from r as multipart field "file" and
// returns the backend's summary.
func (c *Client) Analyze(ctx context.Context, filename string, r io.Reader) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("report: analyze: create form: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("report: analyze: read %q: %w", filename, err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("report: analyze: close form: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("analyze-report"), &body)
	if err != nil {
		return "", fmt.Errorf("report: analyze: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("report: analyze: %w", err)
	}
	defer resp.Body.Close()

	var out response
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out)

	if resp.StatusCode != http.StatusOK {
		if decodeErr == nil && out.Error != "" {
			return "", fmt.Errorf("report: analyze: %s: %s", resp.Status, out.Error)
		}
		return "", fmt.Errorf("report: analyze: unexpected status %s", resp.Status)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("report: analyze: decode response: %w", decodeErr)
	}
	if out.Error != "" {
		return "", fmt.Errorf("report: analyze: %s", out.Error)
	}
	summary := strings.TrimSpace(out.Summary)
	if summary == "" {
		return "", ErrNoSummary
	}
	return summary, nil
}

// Health calls the backend's /health endpoint. It fails on a non-200 answer
// or a body with status "error"; any other status ("ready", "ok") is healthy.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("health"), nil)
	if err != nil {
		return fmt.Errorf("report: health: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("report: health: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("report: health: unexpected status %s", resp.Status)
	}
	var body struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("report: health: decode: %w", err)
	}
	if body.Status == "error" {
		if body.Message != "" {
			return fmt.Errorf("report: health: backend error: %s", body.Message)
		}
		return errors.New("report: health: backend reports error")
	}
	return nil
}

func (c *Client) endpoint(path string) string {
	u, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return c.baseURL + "/" + path
	}
	return u
}
