package records

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/starford/arvore/internal/apperr"
)

// Source is the external record service as seen by the family search core.
// A miss is (nil, nil) / an empty slice, not an error.
type Source interface {
	LookupByIdentifier(ctx context.Context, id string) (*Person, error)
	LookupChildren(ctx context.Context, parentName string, role ParentRole) ([]Child, error)
}

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/132.0.0.0 Safari/537.36"

// maxBodySize caps a single upstream response.
const maxBodySize = 4 << 20

// BreakerConfig tunes the circuit breaker around upstream calls.
type BreakerConfig struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	FailureRatio float64
	MinRequests  uint32
}

// ClientConfig configures the HTTP record client.
type ClientConfig struct {
	BaseURL       string
	CPFToken      string
	ParentToken   string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
	UserAgent     string
	Breaker       BreakerConfig
}

// Client queries the upstream record API. It waits on a token bucket before
// every call and fails fast while the breaker is open.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

var _ Source = (*Client)(nil)

// NewClient builds a Client. A nil httpClient uses one with cfg.Timeout.
func NewClient(cfg ClientConfig, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	c := &Client{
		cfg:     cfg,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "records",
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.Breaker.MinRequests || counts.TotalFailures == 0 {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.Breaker.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("records: circuit breaker state changed",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	return c
}

// LookupByIdentifier fetches a person record. Undecodable or incomplete
// payloads are treated as a miss.
func (c *Client) LookupByIdentifier(ctx context.Context, id string) (*Person, error) {
	body, err := c.get(ctx, url.Values{
		"token": {c.cfg.CPFToken},
		"cpf":   {NormalizeIdentifier(id)},
	})
	if err != nil {
		return nil, err
	}
	p, err := DecodePerson(body, FormatJSON)
	if err != nil {
		c.logger.Warn("records: malformed person payload", slog.String("cpf", id), slog.String("error", err.Error()))
		return nil, nil
	}
	return p, nil
}

// LookupChildren fetches children registered under the given parent name.
func (c *Client) LookupChildren(ctx context.Context, parentName string, role ParentRole) ([]Child, error) {
	if parentName == "" {
		return []Child{}, nil
	}
	body, err := c.get(ctx, url.Values{
		"token":      {c.cfg.ParentToken},
		string(role): {parentName},
	})
	if err != nil {
		return nil, err
	}
	children, err := DecodeChildren(body)
	if err != nil {
		c.logger.Warn("records: malformed children payload", slog.String("role", string(role)), slog.String("error", err.Error()))
	}
	return children, nil
}

func (c *Client) get(ctx context.Context, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("records: rate limit wait: %w", err)
	}
	out, err := c.cb.Execute(func() (any, error) {
		return c.do(ctx, params)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("records: %w: %v", apperr.ErrUnavailable, err)
		}
		return nil, err
	}
	return out.([]byte), nil
}

func (c *Client) do(ctx context.Context, params url.Values) ([]byte, error) {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("records: parse base url: %w", err)
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("records: build request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("records: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("records: read body: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("records: unexpected status %d", resp.StatusCode)
	}
	return body, nil
}
