// Package configsvc is the client of the remote versioned configuration
// service. Every environment has its own base URL and its own OAuth2
// client-credentials token endpoint.
package configsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/clients"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/models"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/retry"
)

const System = "config-service"

type Endpoint struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

type Config struct {
	Endpoints map[models.Env]Endpoint
	Timeout   time.Duration
	// HTTPClient is the transport used for token and API calls.
	HTTPClient *http.Client
}

// Document is one version of a named configuration.
type Document struct {
	Version int64           `json:"version"`
	Payload json.RawMessage `json:"payload"`
}

type envClient struct {
	baseURL string
	http    *http.Client
}

type Client struct {
	envs    map[models.Env]envClient
	timeout time.Duration
	retrier *retry.Retrier
}

func New(ctx context.Context, cfg Config, retrier *retry.Retrier) (*Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("config service: at least one endpoint required")
	}
	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: 10 * time.Second}
	}
	tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, base)
	envs := make(map[models.Env]envClient, len(cfg.Endpoints))
	for env, ep := range cfg.Endpoints {
		if ep.BaseURL == "" {
			return nil, fmt.Errorf("config service: base url required for %s", env)
		}
		hc := base
		if ep.TokenURL != "" {
			cc := clientcredentials.Config{
				ClientID:     ep.ClientID,
				ClientSecret: ep.ClientSecret,
				TokenURL:     ep.TokenURL,
				Scopes:       ep.Scopes,
			}
			hc = cc.Client(tokenCtx)
		}
		envs[env] = envClient{baseURL: strings.TrimSuffix(ep.BaseURL, "/"), http: hc}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{envs: envs, timeout: timeout, retrier: retrier}, nil
}

func (c *Client) Current(ctx context.Context, env models.Env, name string) (Document, error) {
	return c.fetch(ctx, env, name, "current")
}

func (c *Client) Version(ctx context.Context, env models.Env, name string, version int64) (Document, error) {
	return c.fetch(ctx, env, name, strconv.FormatInt(version, 10))
}

func (c *Client) fetch(ctx context.Context, env models.Env, name, version string) (Document, error) {
	var doc Document
	path := "/configs/" + url.PathEscape(name) + "/versions/" + version
	err := c.call(ctx, env, "fetch "+version, http.MethodGet, path, nil, &doc)
	return doc, err
}

type updateRequest struct {
	BaseVersion int64           `json:"baseVersion"`
	Payload     json.RawMessage `json:"payload"`
}

// Validate is a dry run of Commit.
func (c *Client) Validate(ctx context.Context, env models.Env, name string, baseVersion int64, payload json.RawMessage) error {
	path := "/configs/" + url.PathEscape(name) + "/validate"
	return c.call(ctx, env, "validate", http.MethodPost, path, updateRequest{BaseVersion: baseVersion, Payload: payload}, nil)
}

// Commit writes payload on top of baseVersion and returns the new version.
func (c *Client) Commit(ctx context.Context, env models.Env, name string, baseVersion int64, payload json.RawMessage) (int64, error) {
	var out struct {
		Version int64 `json:"version"`
	}
	path := "/configs/" + url.PathEscape(name)
	if err := c.call(ctx, env, "commit", http.MethodPut, path, updateRequest{BaseVersion: baseVersion, Payload: payload}, &out); err != nil {
		return 0, err
	}
	return out.Version, nil
}

// Rollback activates version.
func (c *Client) Rollback(ctx context.Context, env models.Env, name string, version int64) error {
	path := "/configs/" + url.PathEscape(name) + "/rollback"
	return c.call(ctx, env, "rollback", http.MethodPost, path, map[string]int64{"version": version}, nil)
}

func (c *Client) call(ctx context.Context, env models.Env, op, method, path string, in, out interface{}) error {
	ec, ok := c.envs[env]
	if !ok {
		return fmt.Errorf("config service: no endpoint configured for %s", env)
	}
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("config service marshal %s: %w", op, err)
		}
		body = b
	}
	return c.retrier.Do(ctx, "config."+op, func(ctx context.Context) error {
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		req, err := http.NewRequestWithContext(reqCtx, method, ec.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("config service build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := ec.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode/100 != 2 {
			return clients.NewRemoteError(System, op, resp)
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("config service decode %s: %w", op, err)
		}
		return nil
	})
}
