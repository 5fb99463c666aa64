// Package graph is the Microsoft Graph client for the mirrored SharePoint
// lists: app-only authentication, site and list id resolution, paged item
// listing, and per-row field patches.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/dataset"
)

// WhitelistKey is the logical list key for the access whitelist, resolved
// alongside the dataset lists.
const WhitelistKey = "WHITELIST"

// ErrListNotFound is returned when a configured list cannot be resolved on
// the remote site, even after a re-scan.
var ErrListNotFound = errors.New("graph: list not found on site")

// Config carries the remote identity and site locators, normally read from
// the environment.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string

	// SiteURL is the full SharePoint site URL, e.g.
	// https://tenant.sharepoint.com/sites/PruebaFlujo
	SiteURL string

	// WhitelistList is the display name of the access whitelist list.
	WhitelistList string

	// Timeout bounds each HTTP call. Default: 30s.
	Timeout time.Duration

	// PageSize is the $top value for item listing. Default: 999.
	PageSize int
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.PageSize <= 0 {
		c.PageSize = 999
	}
	if c.WhitelistList == "" {
		c.WhitelistList = "whitelist_ips_mtess"
	}
}

// Client talks to the Graph API. Safe for concurrent use: resolved ids are
// guarded by a mutex, the HTTP layer is resty's shared client.
type Client struct {
	cfg    Config
	reg    dataset.Registry
	http   *resty.Client
	tokens oauth2.TokenSource
	logger *slog.Logger

	// host and siteName are split out of SiteURL.
	host     string
	siteName string

	mu      sync.Mutex
	siteID  string
	listIDs map[string]string // logical key ("IPS", "MTESS", "WHITELIST") -> list id
}

// Option customises the Client, mainly for tests.
type Option func(*Client)

// WithBaseURL points the client at a different API root (httptest servers).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.http.SetBaseURL(u) }
}

// WithTokenSource replaces the client-credential token source.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// New creates a Client. The token is acquired lazily on first use and
// refreshed by the oauth2 layer; an unreachable identity provider therefore
// surfaces on the first remote call, not at construction.
func New(cfg Config, reg dataset.Registry, logger *slog.Logger, opts ...Option) *Client {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", cfg.TenantID),
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}

	host, siteName := splitSiteURL(cfg.SiteURL)

	c := &Client{
		cfg:      cfg,
		reg:      reg,
		tokens:   cc.TokenSource(context.Background()),
		logger:   logger,
		host:     host,
		siteName: siteName,
		listIDs:  make(map[string]string),
	}

	c.http = resty.New().
		SetBaseURL("https://graph.microsoft.com/v1.0").
		SetTimeout(cfg.Timeout)
	c.http.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		tok, err := c.tokens.Token()
		if err != nil {
			return fmt.Errorf("graph: acquire token: %w", err)
		}
		req.SetAuthToken(tok.AccessToken)
		return nil
	})

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// splitSiteURL extracts the tenant host and site name from a full site URL.
// "https://tenant.sharepoint.com/sites/PruebaFlujo" -> ("tenant.sharepoint.com", "PruebaFlujo").
func splitSiteURL(u string) (host, site string) {
	base, rest, ok := strings.Cut(u, "/sites/")
	if !ok {
		return "", ""
	}
	host = strings.TrimPrefix(strings.TrimPrefix(base, "https://"), "http://")
	site, _, _ = strings.Cut(rest, "/")
	return host, site
}

// siteIDLocked resolves and caches the site id.
func (c *Client) siteIDLocked(ctx context.Context) (string, error) {
	if c.siteID != "" {
		return c.siteID, nil
	}

	var out struct {
		ID string `json:"id"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get(fmt.Sprintf("/sites/%s:/sites/%s", c.host, c.siteName))
	if err != nil {
		return "", fmt.Errorf("graph: resolve site: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("graph: resolve site: %s: %s", resp.Status(), resp.String())
	}

	c.siteID = out.ID
	c.logger.Info("graph: site resolved", "site", c.siteName, "id", c.siteID)
	return c.siteID, nil
}

// scanListsLocked fetches all lists on the site and records the ids of the
// configured ones by logical key.
func (c *Client) scanListsLocked(ctx context.Context) error {
	siteID, err := c.siteIDLocked(ctx)
	if err != nil {
		return err
	}

	var out struct {
		Value []struct {
			ID          string `json:"id"`
			DisplayName string `json:"displayName"`
		} `json:"value"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get(fmt.Sprintf("/sites/%s/lists", siteID))
	if err != nil {
		return fmt.Errorf("graph: list lists: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("graph: list lists: %s: %s", resp.Status(), resp.String())
	}

	wanted := map[string]string{WhitelistKey: c.cfg.WhitelistList}
	for id, m := range c.reg {
		wanted[string(id)] = m.List
	}

	c.listIDs = make(map[string]string, len(wanted))
	for _, lst := range out.Value {
		for key, name := range wanted {
			if lst.DisplayName == name {
				c.listIDs[key] = lst.ID
				c.logger.Info("graph: list resolved", "key", key, "name", name, "id", lst.ID)
			}
		}
	}
	for key, name := range wanted {
		if c.listIDs[key] == "" {
			c.logger.Warn("graph: list not found on site", "key", key, "name", name)
		}
	}
	return nil
}

// listID returns the resolved id for a logical list key, re-scanning the
// site's lists once when the key is unknown. A second miss aborts with
// ErrListNotFound so the caller can keep serving prior cache content.
func (c *Client) listID(ctx context.Context, key string) (siteID, listID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.listIDs[key] == "" {
		if err := c.scanListsLocked(ctx); err != nil {
			return "", "", err
		}
	}
	if c.listIDs[key] == "" {
		return "", "", fmt.Errorf("%w: %s", ErrListNotFound, key)
	}
	return c.siteID, c.listIDs[key], nil
}
