// Package client talks to a running beaconscope bridge.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/sw33tLie/beaconscope/pkg/domains"
	"github.com/sw33tLie/beaconscope/pkg/event"
	"github.com/sw33tLie/beaconscope/pkg/storage"
)

type Client struct {
	base     string
	username string
	password string
	http     *retryablehttp.Client
}

// New creates a client for the bridge at baseURL (for example
// http://127.0.0.1:7411).
func New(baseURL, username, password string) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.Logger = log.New(io.Discard, "", 0)
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 100 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.HTTPClient.Timeout = 10 * time.Second

	return &Client{
		base:     strings.TrimSuffix(baseURL, "/"),
		username: username,
		password: password,
		http:     retryClient,
	}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bridge returned %d: %s", e.Code, strings.TrimSpace(e.Body))
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = b
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: string(b)}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func tabPath(tabID int, name string) string {
	return "/api/tabs/" + strconv.Itoa(tabID) + "/" + name
}

func (c *Client) Events(ctx context.Context, tabID int) ([]event.CapturedEvent, error) {
	var events []event.CapturedEvent
	err := c.do(ctx, http.MethodGet, tabPath(tabID, "events"), nil, &events)
	return events, err
}

func (c *Client) ClearEvents(ctx context.Context, tabID int) error {
	return c.do(ctx, http.MethodDelete, tabPath(tabID, "events"), nil, nil)
}

func (c *Client) EventCount(ctx context.Context, tabID int) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	err := c.do(ctx, http.MethodGet, tabPath(tabID, "count"), nil, &out)
	return out.Count, err
}

func (c *Client) Reloads(ctx context.Context, tabID int) ([]time.Time, error) {
	var out []time.Time
	err := c.do(ctx, http.MethodGet, tabPath(tabID, "reloads"), nil, &out)
	return out, err
}

func (c *Client) Domains(ctx context.Context) ([]domains.AllowedDomain, error) {
	var out []domains.AllowedDomain
	err := c.do(ctx, http.MethodGet, "/api/domains", nil, &out)
	return out, err
}

func (c *Client) IsDomainAllowed(ctx context.Context, domain string) (bool, error) {
	var out struct {
		Allowed bool `json:"allowed"`
	}
	err := c.do(ctx, http.MethodGet, "/api/domains/check?domain="+url.QueryEscape(domain), nil, &out)
	return out.Allowed, err
}

type domainRequest struct {
	Domain          string `json:"domain"`
	AllowSubdomains bool   `json:"allowSubdomains"`
}

func (c *Client) AutoAllowDomain(ctx context.Context, domain string) (domains.AutoAllowResult, error) {
	var out domains.AutoAllowResult
	err := c.do(ctx, http.MethodPost, "/api/domains/auto-allow", domainRequest{Domain: domain}, &out)
	return out, err
}

func (c *Client) AllowDomain(ctx context.Context, domain string, allowSubdomains bool) (domains.AllowedDomain, error) {
	var out domains.AllowedDomain
	err := c.do(ctx, http.MethodPost, "/api/domains", domainRequest{Domain: domain, AllowSubdomains: allowSubdomains}, &out)
	return out, err
}

func (c *Client) RemoveDomain(ctx context.Context, domain string) (bool, error) {
	var out struct {
		Removed bool `json:"removed"`
	}
	err := c.do(ctx, http.MethodDelete, "/api/domains", domainRequest{Domain: domain}, &out)
	return out.Removed, err
}

func (c *Client) MaxEvents(ctx context.Context) (int, error) {
	var out struct {
		MaxEvents int `json:"maxEvents"`
	}
	err := c.do(ctx, http.MethodGet, "/api/config", nil, &out)
	return out.MaxEvents, err
}

func (c *Client) StorageUsage(ctx context.Context) (storage.QuotaSnapshot, error) {
	var out storage.QuotaSnapshot
	err := c.do(ctx, http.MethodGet, "/api/storage", nil, &out)
	return out, err
}

// SyncTabs reports the host's full list of open tabs.
func (c *Client) SyncTabs(ctx context.Context, tabIDs []int) error {
	return c.do(ctx, http.MethodPut, "/api/tabs", map[string][]int{"tabs": tabIDs}, nil)
}
