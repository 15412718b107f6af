// Package apiclient is the JSON/HTTP client of the marketplace backend.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	sferrors "github.com/pilab-dev/storefront/errors"
	"github.com/pilab-dev/storefront/internal/metrics"
	"github.com/pilab-dev/storefront/log"
	"github.com/pilab-dev/storefront/tracing"
)

// DefaultBaseURL is used when no base URL is configured.
const DefaultBaseURL = "http://localhost:8080/api"

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 1 << 20

// TokenSource yields the persisted bearer token used to rehydrate the client.
type TokenSource interface {
	Get(ctx context.Context) string
}

// Config holds client configuration.
type Config struct {
	// BaseURL is the backend API root, e.g. "https://api.example.com/api".
	BaseURL string

	// HTTPClient is used as is when set. Otherwise a client is built from Jar and Timeout.
	HTTPClient *http.Client

	// Jar receives the cookie mirror of the token and is sent along with requests.
	Jar http.CookieJar

	// Timeout bounds a single request. Zero means no timeout.
	Timeout time.Duration

	// Tokens is consulted for the one 401 rehydration retry.
	Tokens TokenSource

	Logger log.Logger
}

// Client sends JSON requests to the backend. It is safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	tokens     TokenSource
	logger     log.Logger

	mu    sync.RWMutex
	token string
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	raw := cfg.BaseURL
	if raw == "" {
		raw = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid API base URL %q: %w", raw, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid API base URL %q: scheme and host are required", raw)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Jar:     cfg.Jar,
			Timeout: cfg.Timeout,
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.Nop()
	}

	return &Client{
		baseURL:    base,
		httpClient: httpClient,
		tokens:     cfg.Tokens,
		logger:     logger,
	}, nil
}

// BaseURL returns the API root.
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// SetToken sets the in-memory bearer token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// ClearToken removes the in-memory bearer token.
func (c *Client) ClearToken() {
	c.SetToken("")
}

// Token returns the in-memory bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Do sends a JSON request and decodes a successful response into out (when
// non-nil). Non-2xx responses become *errors.APIError; network and decoding
// failures wrap errors.ErrRequestFailed.
//
// A 401 is retried exactly once, and only when the client had no in-memory
// token while the TokenSource holds one; the retry carries that token.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	ctx, span := tracing.Tracer.Start(ctx, "apiclient "+method+" "+path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", path),
		),
	)
	defer span.End()

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	token := c.Token()
	status, respBody, err := c.send(ctx, method, path, query, payload, token)
	if err != nil {
		return c.fail(ctx, span, method, path, sferrors.NewTransportError(err))
	}

	if status == http.StatusUnauthorized && token == "" && c.tokens != nil {
		if stored := c.tokens.Get(ctx); stored != "" {
			metrics.APIRetriesTotal.Inc()
			span.AddEvent("token rehydrated")
			c.logger.Debug(ctx, "retrying request with rehydrated token", log.Fields{
				"path":  path,
				"token": log.MaskToken(stored),
			})

			c.SetToken(stored)
			status, respBody, err = c.send(ctx, method, path, query, payload, stored)
			if err != nil {
				return c.fail(ctx, span, method, path, sferrors.NewTransportError(err))
			}
		}
	}

	span.SetAttributes(attribute.Int("http.status_code", status))

	if status < 200 || status >= 300 {
		apiErr := decodeError(status, respBody)
		apiErr.Path = path
		return c.fail(ctx, span, method, path, apiErr)
	}

	if out != nil && len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return c.fail(ctx, span, method, path,
				sferrors.NewTransportError(fmt.Errorf("failed to decode response: %w", err)))
		}
	}

	return nil
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, payload []byte, token string) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path, query), reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.APIRequestsTotal.WithLabelValues(method, "error").Inc()
		return 0, nil, err
	}
	defer resp.Body.Close()

	metrics.APIRequestsTotal.WithLabelValues(method, statusClass(resp.StatusCode)).Inc()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return resp.StatusCode, respBody, nil
}

func (c *Client) resolve(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) fail(ctx context.Context, span trace.Span, method, path string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	c.logger.Warn(ctx, "backend request failed", log.Fields{
		"method": method,
		"path":   path,
		"status": sferrors.StatusOf(err),
		"error":  err.Error(),
	})
	return err
}

// errorBody is the union of error shapes the backend returns.
type errorBody struct {
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Errors  json.RawMessage `json:"errors"`
}

func decodeError(status int, body []byte) *sferrors.APIError {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return sferrors.NewAPIError(status, "", nil)
	}

	message := eb.Message
	if message == "" {
		message = eb.Error
	}
	return sferrors.NewAPIError(status, message, decodeDetails(eb.Errors))
}

// decodeDetails accepts errors as a list of strings or of {message} objects.
func decodeDetails(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}

	var objects []struct {
		Message string `json:"message"`
		Field   string `json:"field"`
	}
	if err := json.Unmarshal(raw, &objects); err != nil {
		return nil
	}
	details := make([]string, 0, len(objects))
	for _, o := range objects {
		switch {
		case o.Field != "" && o.Message != "":
			details = append(details, o.Field+": "+o.Message)
		case o.Message != "":
			details = append(details, o.Message)
		}
	}
	return details
}

func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}
