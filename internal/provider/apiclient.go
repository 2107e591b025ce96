package provider

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
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"healthbridge.app/syncer/common/logger"
	"healthbridge.app/syncer/common/metrics"
	"healthbridge.app/syncer/internal/domain"
	"healthbridge.app/syncer/internal/model"
)

var (
	// ErrUnauthorized means the provider rejected the access token.
	ErrUnauthorized = errors.New("provider rejected access token")
	// ErrBudgetExhausted means the per-sync request budget ran out.
	ErrBudgetExhausted = errors.New("provider request budget exhausted")
)

// StatusError is a non-retryable provider response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Body)
}

type APIClientConfig struct {
	Provider model.Provider
	BaseURL  string
	// Timeout bounds a single HTTP request.
	Timeout time.Duration
	// RequestInterval spaces consecutive requests across all syncs in the process.
	RequestInterval time.Duration
	MaxAttempts     uint
	HTTPClient      *http.Client
	Metrics         metrics.Recorder
}

// APIClient performs authenticated JSON requests against a provider API with
// request pacing and retries on transient failures.
type APIClient struct {
	provider    model.Provider
	baseURL     string
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxAttempts uint
	metrics     metrics.Recorder
}

func NewAPIClient(cfg APIClientConfig) *APIClient {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	if cfg.RequestInterval > 0 {
		limit = rate.Every(cfg.RequestInterval)
	}

	attempts := cfg.MaxAttempts
	if attempts == 0 {
		attempts = 3
	}

	rec := cfg.Metrics
	if rec == nil {
		rec = metrics.NewNoop()
	}

	return &APIClient{
		provider:    cfg.Provider,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:  httpClient,
		limiter:     rate.NewLimiter(limit, 1),
		maxAttempts: attempts,
		metrics:     rec,
	}
}

// Budget caps the number of requests one sync may issue. Safe for concurrent use.
type Budget struct {
	mu        sync.Mutex
	remaining int
	unlimited bool
}

// NewBudget returns a budget of n requests. n <= 0 means unlimited.
func NewBudget(n int) *Budget {
	return &Budget{remaining: n, unlimited: n <= 0}
}

func (b *Budget) spend() bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unlimited {
		return true
	}
	if b.remaining <= 0 {
		return false
	}
	b.remaining--
	return true
}

// Session binds an access token and a request budget.
type Session struct {
	client *APIClient
	token  string
	budget *Budget
}

func (c *APIClient) Session(accessToken string, budget *Budget) *Session {
	return &Session{client: c, token: accessToken, budget: budget}
}

func (s *Session) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	return s.client.do(ctx, http.MethodGet, path, query, nil, s.token, s.budget, out)
}

func (s *Session) PostJSON(ctx context.Context, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
	}
	return s.client.do(ctx, http.MethodPost, path, nil, payload, s.token, s.budget, out)
}

func (c *APIClient) do(ctx context.Context, method, path string, query url.Values, body []byte, token string, budget *Budget, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second

	operation := func() ([]byte, error) {
		if !budget.spend() {
			return nil, backoff.Permanent(ErrBudgetExhausted)
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.metrics.RecordProviderRequest(string(c.provider), 0, time.Since(start))
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, fmt.Errorf("%s %s: %w", method, path, err)
		}
		defer resp.Body.Close()
		c.metrics.RecordProviderRequest(string(c.provider), resp.StatusCode, time.Since(start))

		data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return data, nil
		case resp.StatusCode == http.StatusUnauthorized:
			return nil, backoff.Permanent(fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized))
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, backoff.Permanent(&domain.ProviderRateLimitError{
				Provider:   c.provider,
				RetryAfter: parseRetryAfter(resp.Header, time.Now()),
			})
		case resp.StatusCode >= 500:
			slog.WarnContext(ctx, "provider request failed, retrying",
				"method", method,
				"path", path,
				"status", resp.StatusCode)
			return nil, &StatusError{StatusCode: resp.StatusCode, Body: logger.Truncate(string(data), 200)}
		default:
			return nil, backoff.Permanent(&StatusError{StatusCode: resp.StatusCode, Body: logger.Truncate(string(data), 200)})
		}
	}

	data, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.maxAttempts),
		backoff.WithMaxElapsedTime(2*time.Minute),
	)
	if err != nil {
		return err
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// parseRetryAfter reads Retry-After as seconds or an HTTP date, falling back
// to Fitbit's reset header.
func parseRetryAfter(h http.Header, now time.Time) time.Duration {
	for _, key := range []string{"Retry-After", "Fitbit-Rate-Limit-Reset"} {
		v := strings.TrimSpace(h.Get(key))
		if v == "" {
			continue
		}
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
		if t, err := http.ParseTime(v); err == nil {
			if d := t.Sub(now); d > 0 {
				return d
			}
			return 0
		}
	}
	return 0
}
