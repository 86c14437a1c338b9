package finnhub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"equityflow/config"
	"equityflow/logger"
	"equityflow/models"
)

// ErrRateLimited is returned when Finnhub answers HTTP 429.
var ErrRateLimited = errors.New("finnhub: rate limited")

// ErrAuth is returned when Finnhub rejects the API key (HTTP 401/403).
// Authentication failures never heal on retry and abort the run.
var ErrAuth = errors.New("finnhub: authentication failed")

// APIError is a non-retryable or server-side error response from the API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("finnhub: http %d: %s", e.Status, e.Body)
}

// Retryable reports whether err is worth retrying: server-side failures and
// transport errors are, client-side rejections and auth failures are not.
func Retryable(err error) bool {
	if errors.Is(err, ErrAuth) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500
	}
	// Transport-level errors (timeouts, resets) get another chance.
	return true
}

// Client is a thin REST client for the Finnhub historical US-equity
// endpoints. It only performs single page fetches; pagination lives in the
// Reader.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	pageLimit  int
	log        *logger.Log
}

// NewClient creates a Finnhub client using a pooled transport. When localIP
// is non-empty, outbound connections bind to that address so sharded runs can
// spread across a multi-homed host.
func NewClient(cfg *config.Config, apiKey, localIP string) *Client {
	log := logger.GetLogger()

	transport := &http.Transport{
		MaxIdleConns:        cfg.Reader.ConnectionPool.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.Reader.ConnectionPool.MaxIdleConns,
		MaxConnsPerHost:     cfg.Reader.ConnectionPool.MaxConnsPerHost,
		IdleConnTimeout:     cfg.Reader.ConnectionPool.IdleConnTimeout,
		DisableCompression:  false,
	}

	if localIP != "" {
		if ip := net.ParseIP(localIP); ip != nil {
			dialer := &net.Dialer{LocalAddr: &net.TCPAddr{IP: ip}}
			transport.DialContext = dialer.DialContext
		}
	}

	httpClient := &http.Client{
		Transport: transport,
		Timeout:   cfg.Reader.Timeout,
	}

	log.WithComponent("finnhub_client").WithFields(logger.Fields{
		"base_url":           cfg.Reader.BaseURL,
		"page_limit":         cfg.Reader.PageLimit,
		"local_ip":           localIP,
		"max_conns_per_host": cfg.Reader.ConnectionPool.MaxConnsPerHost,
		"timeout":            cfg.Reader.Timeout,
	}).Info("finnhub client initialized")

	return &Client{
		httpClient: httpClient,
		baseURL:    cfg.Reader.BaseURL,
		token:      apiKey,
		pageLimit:  cfg.Reader.PageLimit,
		log:        log,
	}
}

// FetchTickPage fetches one page of historical trades for symbol on the given
// day, starting at row offset skip. It returns the decoded page along with
// the raw response body.
func (c *Client) FetchTickPage(ctx context.Context, symbol, date string, skip int64) (*models.TickPage, []byte, error) {
	body, err := c.get(ctx, "/stock/tick", symbol, date, skip)
	if err != nil {
		return nil, nil, err
	}
	var page models.TickPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, nil, fmt.Errorf("failed to decode tick page: %w", err)
	}
	return &page, body, nil
}

// FetchNBBOPage fetches one page of historical NBBO quotes for symbol on the
// given day, starting at row offset skip. It returns the decoded page along
// with the raw response body.
func (c *Client) FetchNBBOPage(ctx context.Context, symbol, date string, skip int64) (*models.NBBOPage, []byte, error) {
	body, err := c.get(ctx, "/stock/bbo", symbol, date, skip)
	if err != nil {
		return nil, nil, err
	}
	var page models.NBBOPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, nil, fmt.Errorf("failed to decode nbbo page: %w", err)
	}
	return &page, body, nil
}

func (c *Client) get(ctx context.Context, path, symbol, date string, skip int64) ([]byte, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("date", date)
	params.Set("limit", strconv.Itoa(c.pageLimit))
	params.Set("skip", strconv.FormatInt(skip, 10))

	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("X-Finnhub-Token", c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		logger.IncrementRateLimitHit()
		return nil, fmt.Errorf("%w: %s", ErrRateLimited, snippet(body))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s", ErrAuth, snippet(body))
	default:
		return nil, &APIError{Status: resp.StatusCode, Body: snippet(body)}
	}
}

// snippet truncates error bodies so log lines stay readable.
func snippet(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max])
	}
	return string(body)
}
