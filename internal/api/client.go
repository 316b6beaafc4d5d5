package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/rescale/filehub/internal/config"
	"github.com/rescale/filehub/internal/constants"
	"github.com/rescale/filehub/internal/http"
	"github.com/rescale/filehub/internal/logging"
	"github.com/rescale/filehub/internal/ratelimit"
)

// retryLogger adapts zerolog to the retryablehttp.LeveledLogger interface.
type retryLogger struct {
	logger *logging.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {
	// Too chatty: one line per attempt
}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg(msg)
}

// apiMetrics tracks API usage statistics
type apiMetrics struct {
	sync.Mutex
	totalCalls    int64
	callsByPath   map[string]int64
	windowStart   time.Time
	callsInWindow int64
}

// Client is the file service REST client.
type Client struct {
	httpClient     *nethttp.Client // retrying client for JSON calls
	readClient     *nethttp.Client // single attempt; list and dedup reads, retried by their callers' own schedule
	transferClient *nethttp.Client // non-retrying, no overall timeout; uploads and downloads
	config         *config.Config
	baseURL        *url.URL
	apiKey         string
	limiter        *ratelimit.RateLimiter
	logger         *logging.Logger
	metrics        *apiMetrics
}

// NewClient creates a new API client. A nil logger discards client logs.
func NewClient(cfg *config.Config, logger *logging.Logger) (*Client, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	raw := strings.TrimSpace(cfg.APIBaseURL)
	if raw == "" {
		return nil, errors.New("API base URL is empty")
	}
	base, err := url.Parse(strings.TrimSuffix(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid API base URL %q: %w", raw, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid API base URL %q: scheme must be http or https", raw)
	}

	httpClient, err := http.NewClient(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to configure HTTP client: %w", err)
	}

	retryClient := newRetryClient(httpClient, cfg.RetryMax, logger)
	readClient := newRetryClient(httpClient, 0, logger)

	transfer := *httpClient
	transfer.Timeout = 0

	rate, burst := cfg.RequestRate, cfg.RequestBurst
	if rate <= 0 {
		rate = constants.DefaultRequestRate
	}
	if burst <= 0 {
		burst = constants.DefaultRequestBurst
	}
	limiter := ratelimit.NewRateLimiter(rate, burst)
	limiter.SetLogger(logger)

	return &Client{
		httpClient:     retryClient.StandardClient(),
		readClient:     readClient.StandardClient(),
		transferClient: &transfer,
		config:         cfg,
		baseURL:        base,
		apiKey:         strings.TrimSpace(cfg.APIKey),
		limiter:        limiter,
		logger:         logger,
		metrics: &apiMetrics{
			callsByPath: make(map[string]int64),
			windowStart: time.Now(),
		},
	}, nil
}

func newRetryClient(httpClient *nethttp.Client, retryMax int, logger *logging.Logger) *retryablehttp.Client {
	rc := retryablehttp.NewClient()
	rc.HTTPClient = httpClient
	rc.RetryMax = retryMax
	rc.RetryWaitMin = constants.RetryWaitMin
	rc.RetryWaitMax = constants.RetryWaitMax
	rc.Logger = &retryLogger{logger: logger}
	// Hand the last response back so the status code reaches TransportError
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return rc
}

// GetConfig returns the configuration used by this API client
func (c *Client) GetConfig() *config.Config {
	return c.config
}

// TotalCalls returns the number of requests issued so far.
func (c *Client) TotalCalls() int64 {
	c.metrics.Lock()
	defer c.metrics.Unlock()
	return c.metrics.totalCalls
}

// resolve turns an API path or a storage reference into an absolute URL.
// Paths starting with "/" that are not under the API prefix (e.g. /media/...)
// resolve against the server root.
func (c *Client) resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", ref, err)
	}
	if u.IsAbs() {
		return u.String(), nil
	}
	return c.baseURL.ResolveReference(u).String(), nil
}

func (c *Client) apiURL(path string) string {
	return c.baseURL.String() + path
}

func (c *Client) recordCall(path string) {
	c.metrics.Lock()
	defer c.metrics.Unlock()

	c.metrics.totalCalls++
	c.metrics.callsByPath[path]++
	c.metrics.callsInWindow++

	if elapsed := time.Since(c.metrics.windowStart); elapsed >= 30*time.Second {
		c.logger.Debug().
			Float64("req_per_sec", float64(c.metrics.callsInWindow)/elapsed.Seconds()).
			Int64("total", c.metrics.totalCalls).
			Msg("API usage")
		c.metrics.callsInWindow = 0
		c.metrics.windowStart = time.Now()
	}
}

// newRequest builds an authenticated request with a fresh X-Request-ID.
func (c *Client) newRequest(ctx context.Context, method, rawURL string, body io.Reader) (*nethttp.Request, error) {
	req, err := nethttp.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Token "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	return req, nil
}

// send applies the rate limiter, issues the request and handles throttling.
// Network failures come back as *TransportError.
func (c *Client) send(client *nethttp.Client, req *nethttp.Request, op string) (*nethttp.Response, error) {
	path := req.URL.Path

	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("%s: rate limiter cancelled: %w", op, err)
	}
	c.recordCall(path)

	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", op, ctxErr)
		}
		c.logger.Warn().Err(err).Str("method", req.Method).Str("path", path).
			Str("request_id", req.Header.Get("X-Request-ID")).Msg("API call failed")
		return nil, &TransportError{Op: op, Method: req.Method, Path: path, Err: err}
	}

	if resp.StatusCode == nethttp.StatusTooManyRequests {
		event := c.logger.Warn().Str("method", req.Method).Str("path", path)
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, perr := strconv.Atoi(ra); perr == nil && secs > 0 {
				c.limiter.SetCooldown(time.Duration(secs) * time.Second)
			}
			event = event.Str("retry_after", ra)
		}
		event.Msg("Throttled by server")
	}

	return resp, nil
}

// doJSON sends an optional JSON body and returns the response. The caller
// closes the body.
func (c *Client) doJSON(ctx context.Context, op, method, path string, body interface{}) (*nethttp.Response, error) {
	return c.doJSONWith(ctx, c.httpClient, op, method, path, body)
}

// readOnce issues a GET with a single attempt. Polled and cached reads are
// refetched on the next tick or read instead.
func (c *Client) readOnce(ctx context.Context, op, path string) (*nethttp.Response, error) {
	return c.doJSONWith(ctx, c.readClient, op, nethttp.MethodGet, path, nil)
}

func (c *Client) doJSONWith(ctx context.Context, client *nethttp.Client, op, method, path string, body interface{}) (*nethttp.Response, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to marshal request body: %w", op, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, c.apiURL(path), reqBody)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.send(client, req, op)
}

// statusError drains resp and builds a TransportError for an unexpected status.
func statusError(op string, resp *nethttp.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody+1))
	return &TransportError{
		Op:         op,
		Method:     resp.Request.Method,
		Path:       resp.Request.URL.Path,
		StatusCode: resp.StatusCode,
		Body:       truncateBody(body),
	}
}

func expectStatus(op string, resp *nethttp.Response, codes ...int) error {
	for _, code := range codes {
		if resp.StatusCode == code {
			return nil
		}
	}
	return statusError(op, resp)
}

func decodeJSON(op string, resp *nethttp.Response, v interface{}) error {
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return &TransportError{
			Op:         op,
			Method:     resp.Request.Method,
			Path:       resp.Request.URL.Path,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("failed to decode response: %w", err),
		}
	}
	return nil
}
