// Package backend is the client for the tracking backend's HTTP surface:
// site configuration, event ingestion, liveness pings, and the selector
// mapper endpoints. Exact response shapes beyond what the agent reads are a
// backend concern.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/xzrsniper/affiliate-tracking-sub001/internal/domain"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/logger"
)

// ErrUnauthorized is returned when the backend rejects a mapper token,
// meaning the configuration session expired.
var ErrUnauthorized = errors.New("backend: token rejected")

// Client talks to the tracking backend.
type Client struct {
	baseURL string
	http    *http.Client
	logger  logger.Logger
}

// NewClient creates a backend client. baseURL carries scheme and host, with
// no trailing slash required.
func NewClient(baseURL string, httpClient *http.Client, log logger.Logger) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(0)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		logger:  log,
	}
}

// FetchConfig retrieves the operator's detection hints for the site. Any
// failure returns an error and the zero SiteConfig; the caller falls back to
// pure heuristics.
func (c *Client) FetchConfig(ctx context.Context, siteID string) (domain.SiteConfig, error) {
	var cfg domain.SiteConfig

	endpoint := fmt.Sprintf("%s/configuration?site=%s", c.baseURL, url.QueryEscape(siteID))
	resp, err := c.get(ctx, endpoint)
	if err != nil {
		return cfg, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return cfg, fmt.Errorf("fetch configuration: status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return domain.SiteConfig{}, fmt.Errorf("decode configuration: %w", err)
	}
	if !cfg.Success {
		return domain.SiteConfig{}, errors.New("fetch configuration: backend reported failure")
	}
	return cfg, nil
}

// SendEvent delivers a conversion event over the primary JSON transport.
func (c *Client) SendEvent(ctx context.Context, ev domain.ConversionEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/event", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build event request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post event: %w", err)
	}
	defer discard(resp)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("post event: status %d", resp.StatusCode)
	}
	return nil
}

// SendPixel delivers the same event over the image-pixel fallback transport,
// for host pages whose network policy blocks the JSON POST.
func (c *Client) SendPixel(ctx context.Context, ev domain.ConversionEvent) error {
	q := url.Values{}
	q.Set("unique_code", ev.RefCode)
	q.Set("event_type", string(ev.EventType))
	q.Set("order_value", strconv.FormatFloat(ev.Value, 'f', -1, 64))
	q.Set("site_id", ev.SiteID)
	if ev.OrderID != "" {
		q.Set("order_id", ev.OrderID)
	}
	if ev.ClickID != "" {
		q.Set("click_id", ev.ClickID)
	}

	resp, err := c.get(ctx, c.baseURL+"/pixel.gif?"+q.Encode())
	if err != nil {
		return fmt.Errorf("pixel transport: %w", err)
	}
	defer discard(resp)

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("pixel transport: status %d", resp.StatusCode)
	}
	return nil
}

// PageView sends the fire-and-forget view ping for an attributed page load.
func (c *Client) PageView(ctx context.Context, refCode, visitorID string) error {
	endpoint := fmt.Sprintf("%s/view/%s?visitor_id=%s",
		c.baseURL, url.PathEscape(refCode), url.QueryEscape(visitorID))

	resp, err := c.get(ctx, endpoint)
	if err != nil {
		return fmt.Errorf("view ping: %w", err)
	}
	discard(resp)
	return nil
}

// Verify sends the periodic installation-liveness ping.
func (c *Client) Verify(ctx context.Context, pageHost, siteID, version string) error {
	q := url.Values{}
	q.Set("domain", pageHost)
	q.Set("site_id", siteID)
	q.Set("version", version)

	resp, err := c.get(ctx, c.baseURL+"/verify?"+q.Encode())
	if err != nil {
		return fmt.Errorf("verify ping: %w", err)
	}
	discard(resp)
	return nil
}

// ResolveCode exchanges a short configuration code for a full mapper token.
// The token is opaque; the agent relays it verbatim and never parses it.
func (c *Client) ResolveCode(ctx context.Context, shortCode string) (string, error) {
	resp, err := c.get(ctx, c.baseURL+"/cfg/"+url.PathEscape(shortCode))
	if err != nil {
		return "", fmt.Errorf("resolve config code: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusGone {
		return "", ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("resolve config code: status %d", resp.StatusCode)
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode config code response: %w", err)
	}
	if payload.Token == "" {
		return "", errors.New("resolve config code: empty token")
	}
	return payload.Token, nil
}

// SaveSelector submits the operator's captured selectors under the session
// token. ErrUnauthorized means the token expired.
func (c *Client) SaveSelector(ctx context.Context, token, selector, cartSelector string) error {
	payload := map[string]string{
		"token":    token,
		"selector": selector,
	}
	if cartSelector != "" {
		payload["cartSelector"] = cartSelector
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode selector payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/save-selector", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build selector request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("save selector: %w", err)
	}
	defer discard(resp)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode >= http.StatusBadRequest:
		return fmt.Errorf("save selector: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) get(ctx context.Context, endpoint string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	return c.http.Do(req)
}

// discard drains and closes the body so the connection can be reused.
func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
