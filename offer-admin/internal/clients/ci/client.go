// Package ci queues validation builds on the CI server. The build result key
// returned by the queue call is the correlation token the build's webhook
// later reports back.
package ci

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/clients"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/models"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/retry"
)

const System = "ci"

type Config struct {
	BaseURL string
	Token   string
	// Plans maps an environment to the CI plan key that validates it.
	Plans      map[models.Env]string
	Timeout    time.Duration
	HTTPClient *http.Client
}

type Client struct {
	baseURL string
	token   string
	plans   map[models.Env]string
	client  *http.Client
	timeout time.Duration
	retrier *retry.Retrier
}

func New(cfg Config, retrier *retry.Retrier) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("ci base url required")
	}
	if len(cfg.Plans) == 0 {
		return nil, fmt.Errorf("ci: at least one plan key required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		token:   cfg.Token,
		plans:   cfg.Plans,
		client:  client,
		timeout: timeout,
		retrier: retrier,
	}, nil
}

type queueResponse struct {
	BuildResultKey string `json:"buildResultKey"`
	BuildNumber    int    `json:"buildNumber"`
}

// Trigger queues a validation build for key in env and returns its build
// result key.
func (c *Client) Trigger(ctx context.Context, env models.Env, key models.Key) (string, error) {
	plan, ok := c.plans[env]
	if !ok {
		return "", fmt.Errorf("ci: no plan configured for %s", env)
	}
	q := url.Values{}
	q.Set("executeAllStages", "true")
	q.Set("bamboo.variable.store", key.Store)
	q.Set("bamboo.variable.entity", key.Code)
	q.Set("bamboo.variable.env", string(env))
	endpoint := c.baseURL + "/rest/api/latest/queue/" + url.PathEscape(plan) + "?" + q.Encode()

	return retry.Value(ctx, c.retrier, "ci.trigger", func(ctx context.Context) (string, error) {
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, nil)
		if err != nil {
			return "", fmt.Errorf("ci build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		if resp.StatusCode/100 != 2 {
			return "", clients.NewRemoteError(System, "queue build", resp)
		}
		var out queueResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", fmt.Errorf("ci decode response: %w", err)
		}
		if out.BuildResultKey == "" {
			return "", fmt.Errorf("ci: queue response missing buildResultKey")
		}
		return out.BuildResultKey, nil
	})
}
