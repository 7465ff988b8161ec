package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/auth"
)

// client talks to the offer admin HTTP API.
type client struct {
	baseURL   string
	token     string
	principal string
	http      *http.Client
}

func newClient(baseURL, token, principal string) *client {
	return &client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		token:     token,
		principal: principal,
		http:      &http.Client{Timeout: 60 * time.Second},
	}
}

// apiError is the error body the service returns.
type apiError struct {
	Status           int    `json:"-"`
	Message          string `json:"error"`
	Code             string `json:"code"`
	System           string `json:"system"`
	Entity           string `json:"entity"`
	Env              string `json:"env"`
	RequiresOperator bool   `json:"requiresOperator"`
}

func (e *apiError) Error() string {
	msg := fmt.Sprintf("%s (%d %s)", e.Message, e.Status, e.Code)
	if e.RequiresOperator {
		msg += ": operator action required"
	}
	return msg
}

// do sends body as JSON and decodes a JSON response into out when out is
// non-nil.
func (c *client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.principal != "" {
		req.Header.Set(auth.DevPrincipalHeader, c.principal)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		apiErr := &apiError{Status: resp.StatusCode}
		if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
