package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/ashureev/learnsync/internal/domain"
	"github.com/ashureev/learnsync/internal/resilience"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultRateLimit = 5.0 // requests per second
	maxErrorBody     = 512
)

// Config configures the Client.
type Config struct {
	Timeout   time.Duration // HTTP timeout (default: 30s)
	RateLimit float64       // Requests per second (default: 5); <= 0 disables pacing
	Breaker   *resilience.Breaker
	HTTP      *http.Client
	Logger    *slog.Logger
}

// Option is a functional option for Client.
type Option func(*Config)

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Timeout = d
	}
}

// WithRateLimit sets the outbound rate in requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *Config) {
		c.RateLimit = rps
	}
}

// WithBreaker sets the circuit breaker shared by all calls.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *Config) {
		c.Breaker = b
	}
}

// WithHTTPClient replaces the underlying HTTP client. Timeout is then ignored.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Config) {
		c.HTTP = hc
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// Client talks to the learning service over HTTP/JSON.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *resilience.Breaker
	logger     *slog.Logger
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	cfg := Config{
		Timeout:   defaultTimeout,
		RateLimit: defaultRateLimit,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid remote base URL %q", baseURL)
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HTTP == nil {
		cfg.HTTP = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	if cfg.Breaker == nil {
		cfg.Breaker = resilience.New(resilience.Config{Counts: TripsBreaker})
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: cfg.HTTP,
		breaker:    cfg.Breaker,
		logger:     cfg.Logger,
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return c, nil
}

// BreakerState reports the circuit breaker position.
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}

// Chat sends a user message and returns the assistant reply.
func (c *Client) Chat(ctx context.Context, message string) (*ChatResponse, error) {
	const op = "chat"

	body, status, err := c.do(ctx, op, http.MethodPost, "/chat", chatRequest{Message: message})
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, &MalformedResponseError{Op: op, Reason: "invalid JSON"}
	}

	parsed := gjson.ParseBytes(body)
	if strings.EqualFold(parsed.Get("status").String(), "error") {
		detail := parsed.Get("details").String()
		if detail == "" {
			detail = parsed.Get("message").String()
		}
		return nil, &ServerError{Op: op, StatusCode: status, Detail: detail}
	}
	if parsed.Get("message").Type != gjson.String {
		return nil, &MalformedResponseError{Op: op, Reason: "missing message"}
	}

	var resp ChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &MalformedResponseError{Op: op, Reason: "decode chat response", Err: err}
	}
	return &resp, nil
}

// FetchTopics lists the topics of a module by name.
func (c *Client) FetchTopics(ctx context.Context, moduleName string) ([]RawTopic, error) {
	const op = "fetch topics"

	body, _, err := c.do(ctx, op, http.MethodGet, topicsPath(moduleName), nil)
	if err != nil {
		return nil, err
	}
	return parseTopics(op, body)
}

// StartModule registers the start of a module and returns its topics.
func (c *Client) StartModule(ctx context.Context, module domain.Module) ([]RawTopic, error) {
	const op = "start module"

	req := startModuleRequest{
		ModuleID:          module.ID,
		ModuleName:        module.Name,
		ModuleDescription: module.Description,
	}
	body, _, err := c.do(ctx, op, http.MethodPost, topicsPath(module.Name), req)
	if err != nil {
		return nil, err
	}
	return parseTopics(op, body)
}

// SetTopicCompletion pushes the completion flag of a topic.
func (c *Client) SetTopicCompletion(ctx context.Context, topicID string, completed bool) error {
	path := "/topics/" + url.PathEscape(topicID) + "/completion"
	_, _, err := c.do(ctx, "set topic completion", http.MethodPut, path, completionRequest{IsCompleted: completed})
	return err
}

// Health probes the service root.
func (c *Client) Health(ctx context.Context) error {
	_, _, err := c.do(ctx, "health", http.MethodGet, "/", nil)
	return err
}

// TrendingTech returns up to limit trending technology recommendations.
func (c *Client) TrendingTech(ctx context.Context, limit int) ([]TechRecommendation, error) {
	const op = "trending tech"

	if limit <= 0 {
		limit = 5
	}
	path := "/api/tech-recommendations/trending?limit=" + strconv.Itoa(limit)
	body, _, err := c.do(ctx, op, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var items []TechRecommendation
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, &MalformedResponseError{Op: op, Reason: "decode recommendations", Err: err}
	}
	return items, nil
}

// RateTech records whether a recommendation was effective.
func (c *Client) RateTech(ctx context.Context, id string, effective bool) (bool, error) {
	const op = "rate tech"

	body, _, err := c.do(ctx, op, http.MethodPost, "/api/tech-recommendations/rating",
		ratingRequest{ID: id, IsEffective: effective})
	if err != nil {
		return false, err
	}

	var resp ratingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return false, &MalformedResponseError{Op: op, Reason: "decode rating response", Err: err}
	}
	return resp.Success, nil
}

// do performs one request through the limiter and the breaker. It returns the
// body of a 2xx response, or a *TransportError / *ServerError.
func (c *Client) do(ctx context.Context, op, method, path string, payload interface{}) ([]byte, int, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("%s: marshal request: %w", op, err)
		}
		reqBody = bytes.NewReader(data)
	}

	var (
		body   []byte
		status int
	)
	err := c.breaker.Do(func() error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return &TransportError{Op: op, Err: fmt.Errorf("rate limit wait: %w", err)}
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
		if err != nil {
			return &TransportError{Op: op, Err: fmt.Errorf("create request: %w", err)}
		}
		req.Header.Set("Accept", "application/json")
		if reqBody != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return &TransportError{Op: op, Err: err}
		}
		defer resp.Body.Close()

		status = resp.StatusCode
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return &TransportError{Op: op, Err: fmt.Errorf("read body: %w", err)}
		}
		if status < 200 || status > 299 {
			return &ServerError{Op: op, StatusCode: status, Detail: errorDetail(body)}
		}
		return nil
	})

	if errors.Is(err, resilience.ErrOpen) {
		err = &TransportError{Op: op, Err: err}
	}
	if err != nil {
		c.logger.Debug("remote call failed", "op", op, "method", method, "path", path, "error", err)
		return nil, status, err
	}
	return body, status, nil
}

func topicsPath(moduleName string) string {
	return "/module-content/" + url.PathEscape(moduleName) + "/topics"
}

// errorDetail extracts a human-readable reason from an error body.
func errorDetail(body []byte) string {
	if gjson.ValidBytes(body) {
		for _, field := range []string{"detail", "details", "message", "error"} {
			if v := gjson.GetBytes(body, field); v.Exists() && v.String() != "" {
				return v.String()
			}
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	return s
}
