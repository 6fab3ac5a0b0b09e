package coincap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"coincapflow/config"
	"coincapflow/internal/metrics"
	"coincapflow/logger"

	"golang.org/x/time/rate"
)

// maxBodySize caps a single response; the largest CoinCap payload (a daily
// history series) stays well below it.
const maxBodySize = 32 << 20

// ErrEmptyPayload is returned when the response envelope has no data field.
var ErrEmptyPayload = errors.New("coincap: response has no data field")

// StatusError reports a non-2xx response.
type StatusError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("coincap: GET %s: status %d", e.Path, e.StatusCode)
	}
	return fmt.Sprintf("coincap: GET %s: status %d: %s", e.Path, e.StatusCode, e.Body)
}

type envelope struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// Client issues GET requests against the CoinCap REST API. Requests are
// serialised through a token bucket limiter.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *logger.Log
}

// NewClient builds a client from the coincap source section. Outbound
// connections are bound to source.coincap.local_ip when it is set.
func NewClient(cfg *config.Config) (*Client, error) {
	src := cfg.Source.Coincap
	base, err := url.Parse(src.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", src.BaseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", src.BaseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        src.ConnectionPool.MaxIdleConns,
		MaxIdleConnsPerHost: src.ConnectionPool.MaxIdleConns,
		MaxConnsPerHost:     src.ConnectionPool.MaxConnsPerHost,
		IdleConnTimeout:     src.ConnectionPool.IdleConnTimeout,
		DisableCompression:  false,
	}
	if src.LocalIP != "" {
		if ip := net.ParseIP(src.LocalIP); ip != nil {
			dialer := &net.Dialer{LocalAddr: &net.TCPAddr{IP: ip}}
			transport.DialContext = dialer.DialContext
		}
	}

	rps := src.RateLimit.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	burst := src.RateLimit.BurstSize
	if burst <= 0 {
		burst = 1
	}

	c := &Client{
		baseURL: base,
		httpClient: &http.Client{
			Transport: authTransport{agent: src.UserAgent, apiKey: src.APIKey, base: transport},
			Timeout:   src.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		log:     logger.GetLogger(),
	}

	c.log.WithComponent("coincap_client").WithFields(logger.Fields{
		"base_url":           base.String(),
		"max_idle_conns":     src.ConnectionPool.MaxIdleConns,
		"max_conns_per_host": src.ConnectionPool.MaxConnsPerHost,
		"timeout":            src.Timeout,
		"requests_per_sec":   rps,
	}).Info("coincap client initialized")

	return c, nil
}

// Fetch GETs base_url + path and returns the envelope's data field
// verbatim. A JSON null data field is returned as "null".
func (c *Client) Fetch(ctx context.Context, path string) (json.RawMessage, error) {
	resource := Resource(path)
	log := c.log.WithComponent("coincap_client").WithFields(logger.Fields{"path": path, "operation": "fetch"})
	start := time.Now()

	data, err := c.fetch(ctx, path)
	metrics.ObserveFetch(resource, err)
	logger.IncrementFetch(err != nil)
	if err != nil {
		log.WithError(err).Warn("fetch failed")
		return nil, err
	}

	logger.LogPerformanceEntry(log, "coincap_client", "fetch", time.Since(start), logger.Fields{"bytes": len(data)})
	return data, nil
}

func (c *Client) fetch(ctx context.Context, path string) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("parse path %q: %w", path, err)
	}
	target := c.baseURL.ResolveReference(ref)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Path: path, StatusCode: resp.StatusCode, Body: truncate(string(bytes.TrimSpace(body)), 256)}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if len(env.Data) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyPayload)
	}
	return env.Data, nil
}

// Resource returns the first segment of path, used as a metric label.
func Resource(path string) string {
	path = strings.TrimPrefix(path, "/")
	if i := strings.IndexAny(path, "/?"); i >= 0 {
		path = path[:i]
	}
	return path
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// AssetsPath lists the top limit assets by market cap.
func AssetsPath(limit int) string {
	if limit <= 0 {
		return "assets"
	}
	return "assets?limit=" + strconv.Itoa(limit)
}

// AssetPath addresses a single asset.
func AssetPath(id string) string {
	return "assets/" + url.PathEscape(id)
}

// HistoryPath addresses an asset's price history at interval (e.g. "d1").
func HistoryPath(id, interval string) string {
	q := url.Values{}
	q.Set("interval", interval)
	return "assets/" + url.PathEscape(id) + "/history?" + q.Encode()
}

// ExchangesPath lists all exchanges.
func ExchangesPath() string {
	return "exchanges"
}

// ExchangePath addresses a single exchange.
func ExchangePath(id string) string {
	return "exchanges/" + url.PathEscape(id)
}

// MarketsPath lists trading pairs filtered by base asset and quote asset.
func MarketsPath(assetID, quoteID string) string {
	return "markets?assetId=" + url.QueryEscape(assetID) + "&quoteId=" + url.QueryEscape(quoteID)
}
