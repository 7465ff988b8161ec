// Package billing talks to the subscription billing provider. Each
// environment is a separate provider site with its own base URL and key.
package billing

import (
	"bytes"
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

const System = "billing"

type Site struct {
	BaseURL string
	APIKey  string
}

type Config struct {
	Sites      map[models.Env]Site
	Timeout    time.Duration
	HTTPClient *http.Client
}

type Client struct {
	sites   map[models.Env]Site
	client  *http.Client
	timeout time.Duration
	retrier *retry.Retrier
}

func New(cfg Config, retrier *retry.Retrier) (*Client, error) {
	if len(cfg.Sites) == 0 {
		return nil, fmt.Errorf("billing: at least one site required")
	}
	sites := make(map[models.Env]Site, len(cfg.Sites))
	for env, s := range cfg.Sites {
		if s.BaseURL == "" {
			return nil, fmt.Errorf("billing: base url required for %s", env)
		}
		s.BaseURL = strings.TrimSuffix(s.BaseURL, "/")
		sites[env] = s
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{sites: sites, client: client, timeout: timeout, retrier: retrier}, nil
}

// Coupon is the billing artifact behind offers and retention offers.
type Coupon struct {
	Code            string `json:"code"`
	PlanCode        string `json:"planCode"`
	DiscountPercent int    `json:"discountPercent"`
	DurationMonths  int    `json:"durationMonths"`
	Name            string `json:"name,omitempty"`
}

type plan struct {
	Code               string `json:"code"`
	Name               string `json:"name"`
	PriceCents         int64  `json:"priceCents"`
	Currency           string `json:"currency"`
	BillingCycleMonths int    `json:"intervalLength"`
	TrialDays          int    `json:"trialLength,omitempty"`
}

// CreatePlan creates the plan if absent; an existing plan counts as success.
func (c *Client) CreatePlan(ctx context.Context, env models.Env, code string, p models.PlanPayload) error {
	return c.create(ctx, env, "create plan", "/plans", plan{
		Code:               code,
		Name:               p.Name,
		PriceCents:         p.PriceCents,
		Currency:           p.Currency,
		BillingCycleMonths: p.BillingCycleMonths,
		TrialDays:          p.TrialDays,
	})
}

// DeletePlan removes the plan; a missing plan counts as success.
func (c *Client) DeletePlan(ctx context.Context, env models.Env, code string) error {
	return c.remove(ctx, env, "delete plan", "/plans/"+url.PathEscape(code))
}

func (c *Client) CreateCoupon(ctx context.Context, env models.Env, coupon Coupon) error {
	return c.create(ctx, env, "create coupon", "/coupons", coupon)
}

func (c *Client) DeleteCoupon(ctx context.Context, env models.Env, code string) error {
	return c.remove(ctx, env, "delete coupon", "/coupons/"+url.PathEscape(code))
}

func (c *Client) create(ctx context.Context, env models.Env, op, path string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("billing marshal %s: %w", op, err)
	}
	return c.do(ctx, env, op, http.MethodPost, path, payload, http.StatusConflict)
}

func (c *Client) remove(ctx context.Context, env models.Env, op, path string) error {
	return c.do(ctx, env, op, http.MethodDelete, path, nil, http.StatusNotFound)
}

// do sends one request under the retry policy. tolerated is a status that
// means the desired end state already holds.
func (c *Client) do(ctx context.Context, env models.Env, op, method, path string, body []byte, tolerated int) error {
	site, ok := c.sites[env]
	if !ok {
		return fmt.Errorf("billing: no site configured for %s", env)
	}
	return c.retrier.Do(ctx, "billing."+op, func(ctx context.Context) error {
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		req, err := http.NewRequestWithContext(reqCtx, method, site.BaseURL+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("billing build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if site.APIKey != "" {
			req.SetBasicAuth(site.APIKey, "")
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode/100 == 2 || resp.StatusCode == tolerated {
			return nil
		}
		return clients.NewRemoteError(System, op, resp)
	})
}
