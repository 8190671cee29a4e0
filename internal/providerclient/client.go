package providerclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gitlab.bluewillows.net/root/dnsfailover/internal/engine"
	"gitlab.bluewillows.net/root/dnsfailover/internal/metrics"
	"gitlab.bluewillows.net/root/dnsfailover/pkg/httputil"
)

const (
	// DefaultAPIEndpoint is the base URL for the provider's API v4.
	DefaultAPIEndpoint = "https://api.cloudflare.com/client/v4"

	// CallTimeout bounds every individual provider call, per spec.
	CallTimeout = 10 * time.Second

	// DefaultTunnelSuffix is appended to tunnel_id to form the CNAME content.
	DefaultTunnelSuffix = "cfargotunnel.com"
)

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type apiResponse struct {
	Success bool            `json:"success"`
	Errors  []apiError      `json:"errors"`
	Result  json.RawMessage `json:"result"`
}

type wireRecord struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	TTL     int    `json:"ttl"`
	Proxied bool   `json:"proxied"`
}

func (r wireRecord) toRecord() Record {
	return Record{ID: r.ID, Type: r.Type, Name: r.Name, Content: r.Content, TTL: r.TTL, Proxied: r.Proxied}
}

// Client talks to the authoritative DNS provider's HTTP API.
type Client struct {
	apiEndpoint     string
	token           string
	zoneID          string
	hostname        string
	tunnelID        string
	tunnelSuffix    string
	failoverAddress string
	ttl             int
	httpClient      *http.Client
	logger          *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client (used in tests).
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithAPIEndpoint overrides the API base URL, for testing against a fake server.
func WithAPIEndpoint(endpoint string) Option {
	return func(c *Client) { c.apiEndpoint = endpoint }
}

// WithTunnelSuffix overrides the CDN tunnel hostname suffix.
func WithTunnelSuffix(suffix string) Option {
	return func(c *Client) {
		if suffix != "" {
			c.tunnelSuffix = suffix
		}
	}
}

// WithTTL sets the TTL applied to created/updated records.
func WithTTL(ttl int) Option {
	return func(c *Client) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithRateLimit throttles outbound calls to the configured rate/burst,
// replacing the client's transport.
func WithRateLimit(requestsPerSecond float64, burst int) Option {
	return func(c *Client) {
		if requestsPerSecond <= 0 {
			return
		}
		c.httpClient = httputil.NewClient(&httputil.ClientConfig{
			Timeout:   CallTimeout,
			UserAgent: "dnsfailover/1.0",
			RateLimit: requestsPerSecond,
			RateBurst: burst,
		})
	}
}

// New constructs a Client for hostname/zoneID/tunnelID/failoverAddress,
// authenticating with token.
func New(token, zoneID, hostname, tunnelID, failoverAddress string, opts ...Option) *Client {
	c := &Client{
		apiEndpoint:     DefaultAPIEndpoint,
		token:           token,
		zoneID:          zoneID,
		hostname:        hostname,
		tunnelID:        tunnelID,
		tunnelSuffix:    DefaultTunnelSuffix,
		failoverAddress: failoverAddress,
		ttl:             300,
		httpClient:      httputil.NewClient(&httputil.ClientConfig{Timeout: CallTimeout, UserAgent: "dnsfailover/1.0"}),
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// doRequest issues a provider API call and records it under operation for
// ProviderAPIRequestsTotal/ProviderAPIDuration.
func (c *Client) doRequest(ctx context.Context, method, path, operation string, body io.Reader) (*apiResponse, error) {
	start := time.Now()
	resp, err := c.doRequestUnmetered(ctx, method, path, body)
	metrics.ProviderAPIDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ProviderAPIRequestsTotal.WithLabelValues(operation, "error").Inc()
		return nil, err
	}
	metrics.ProviderAPIRequestsTotal.WithLabelValues(operation, "success").Inc()
	return resp, nil
}

func (c *Client) doRequestUnmetered(ctx context.Context, method, path string, body io.Reader) (*apiResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.apiEndpoint+path, body)
	if err != nil {
		return nil, wrapErr(method+" "+path, KindNetwork, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, wrapErr(method+" "+path, KindNetwork, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapErr(method+" "+path, KindNetwork, err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, wrapErr(method+" "+path, KindAuth, ErrUnauthorized)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, wrapErr(method+" "+path, KindRateLimited, ErrRateLimited)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, wrapErr(method+" "+path, KindNotFound, ErrNotFound)
	}
	if resp.StatusCode >= 500 {
		return nil, wrapErr(method+" "+path, KindRemoteFailure, fmt.Errorf("status %d: %s", resp.StatusCode, respBody))
	}
	if resp.StatusCode >= 400 {
		return nil, wrapErr(method+" "+path, KindRemoteFailure, fmt.Errorf("status %d: %s", resp.StatusCode, respBody))
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, wrapErr(method+" "+path, KindRemoteFailure, fmt.Errorf("parsing response: %w", err))
	}
	if !apiResp.Success {
		msg := "unknown error"
		if len(apiResp.Errors) > 0 {
			msg = fmt.Sprintf("%s (code %d)", apiResp.Errors[0].Message, apiResp.Errors[0].Code)
		}
		return nil, wrapErr(method+" "+path, KindRemoteFailure, fmt.Errorf("%s", msg))
	}
	return &apiResp, nil
}

// Ping verifies connectivity and the API token, and updates ProviderHealthy.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodGet, "/user/tokens/verify", "ping", nil)
	if err != nil {
		metrics.ProviderHealthy.Set(0)
		return err
	}
	metrics.ProviderHealthy.Set(1)
	return nil
}

// findRecord looks up the first record matching name, or nil if none exists.
func (c *Client) findRecord(ctx context.Context, name string) (*Record, error) {
	params := url.Values{}
	params.Set("name", name)
	path := fmt.Sprintf("/zones/%s/dns_records?%s", c.zoneID, params.Encode())

	resp, err := c.doRequest(ctx, http.MethodGet, path, "get_record", nil)
	if err != nil {
		return nil, err
	}
	var records []wireRecord
	if err := json.Unmarshal(resp.Result, &records); err != nil {
		return nil, wrapErr("findRecord", KindRemoteFailure, fmt.Errorf("parsing records: %w", err))
	}
	if len(records) == 0 {
		return nil, nil
	}
	rec := records[0].toRecord()
	return &rec, nil
}

// GetRecord fetches the first record matching the full managed hostname.
func (c *Client) GetRecord(ctx context.Context) (*Record, error) {
	return c.findRecord(ctx, c.hostname)
}

// ReadTarget classifies the current record per spec §4.3.
func (c *Client) ReadTarget(ctx context.Context) (engine.DNSTarget, error) {
	rec, err := c.GetRecord(ctx)
	if err != nil {
		return engine.TargetUnknown, err
	}
	return classify(rec, c.failoverAddress, c.tunnelID), nil
}

// SetTarget idempotently steers the managed hostname's record at target.
func (c *Client) SetTarget(ctx context.Context, target engine.DNSTarget) error {
	label := subdomainLabel(c.hostname)
	desired := desiredRecord(target, label, c.tunnelID, c.tunnelSuffix, c.failoverAddress)

	existing, err := c.GetRecord(ctx)
	if err != nil {
		return err
	}
	if matches(existing, desired) {
		c.logger.Debug("record already converged", slog.String("hostname", c.hostname), slog.String("target", string(target)))
		return nil
	}

	body, err := json.Marshal(struct {
		Type    string `json:"type"`
		Name    string `json:"name"`
		Content string `json:"content"`
		TTL     int    `json:"ttl"`
		Proxied bool   `json:"proxied"`
	}{Type: desired.Type, Name: desired.Name, Content: desired.Content, TTL: c.ttl, Proxied: desired.Proxied})
	if err != nil {
		return wrapErr("SetTarget", KindRemoteFailure, err)
	}

	if existing == nil {
		path := fmt.Sprintf("/zones/%s/dns_records", c.zoneID)
		_, err = c.doRequest(ctx, http.MethodPost, path, "set_target", strings.NewReader(string(body)))
	} else {
		path := fmt.Sprintf("/zones/%s/dns_records/%s", c.zoneID, existing.ID)
		_, err = c.doRequest(ctx, http.MethodPut, path, "set_target", strings.NewReader(string(body)))
	}
	if err != nil {
		return err
	}

	c.logger.Info("updated DNS record",
		slog.String("hostname", c.hostname),
		slog.String("type", desired.Type),
		slog.String("content", desired.Content),
		slog.Bool("proxied", desired.Proxied),
	)
	return nil
}
