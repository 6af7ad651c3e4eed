// Package cmapi is a client for the Cloudera Manager REST API. It implements the
// paginated Impala query history feed consumed by corpus ingestion.
package cmapi

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is the default number of retries for transient errors.
	DefaultMaxRetries = 3

	// RetryDelay is the initial delay between retries.
	RetryDelay = 500 * time.Millisecond

	maxRetryDelay = 10 * time.Second
	maxErrorBody  = 512
)

// Config holds the connection settings of a Client.
type Config struct {
	Host       string
	Port       int
	APIVersion string
	Cluster    string
	Service    string
	Username   string
	Password   string

	TLS                bool
	CAFile             string
	InsecureSkipVerify bool

	Timeout    time.Duration
	RateLimit  float64
	Burst      int
	MaxRetries int
	RetryDelay time.Duration

	// Filter is passed verbatim as the query list filter expression.
	Filter string

	// HTTPClient overrides the transport. Timeout and TLS settings are then ignored.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to one Impala service of one cluster.
type Client struct {
	base       *url.URL
	cluster    string
	service    string
	username   string
	password   string
	filter     string
	http       *http.Client
	limiter    *rate.Limiter
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

// New creates a client from cfg.
func New(cfg Config) (*Client, error) {
	if cfg.Host == "" {
		return nil, errors.New("cmapi: host is required")
	}
	if cfg.Cluster == "" {
		return nil, errors.New("cmapi: cluster is required")
	}
	if cfg.Service == "" {
		cfg.Service = "impala"
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "v19"
	}
	if cfg.Port == 0 {
		cfg.Port = 7180
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = RetryDelay
	}

	scheme := "http"
	if cfg.TLS {
		scheme = "https"
	}
	base := &url.URL{
		Scheme: scheme,
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:   "/api/" + cfg.APIVersion,
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if cfg.TLS {
			tlsConfig, err := newTLSConfig(cfg.CAFile, cfg.InsecureSkipVerify)
			if err != nil {
				return nil, err
			}
			transport.TLSClientConfig = tlsConfig
		}
		httpClient = &http.Client{Timeout: cfg.Timeout, Transport: transport}
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Client{
		base:       base,
		cluster:    cfg.Cluster,
		service:    cfg.Service,
		username:   cfg.Username,
		password:   cfg.Password,
		filter:     cfg.Filter,
		http:       httpClient,
		limiter:    rate.NewLimiter(limit, burst),
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     logger,
	}, nil
}

func newTLSConfig(caFile string, insecure bool) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: insecure, //nolint:gosec // opt-in for self-signed lab clusters
	}
	if caFile == "" {
		return cfg, nil
	}
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("cmapi: read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("cmapi: no certificates found in %s", caFile)
	}
	cfg.RootCAs = pool
	return cfg, nil
}

// BaseURL returns the API root, e.g. https://cm:7183/api/v19.
func (c *Client) BaseURL() string {
	return c.base.String()
}

func (c *Client) servicePath(elem ...string) string {
	parts := append([]string{"clusters", c.cluster, "services", c.service}, elem...)
	return "/" + strings.Join(parts, "/")
}

// getJSON performs a throttled, retried GET and decodes the JSON body into out.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := *c.base
	u.Path += path
	u.RawQuery = query.Encode()
	target := u.String()

	backoff := retry.WithMaxRetries(uint64(c.maxRetries),
		retry.WithCappedDuration(maxRetryDelay, retry.NewExponential(c.retryDelay)))

	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}

		err := c.do(ctx, target, out)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if !retryable(err) {
			return err
		}
		c.logger.Debug("cluster manager request failed, retrying",
			slog.String("url", target),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
		return retry.RetryableError(err)
	})
}

func (c *Client) do(ctx context.Context, target string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("cmapi: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cmapi: GET %s: %w", target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			StatusCode: resp.StatusCode,
			URL:        target,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("cmapi: decode %s: %w", target, err)
	}
	return nil
}

func retryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return false
	}
	var typeErr *json.UnmarshalTypeError
	return !errors.As(err, &typeErr)
}
