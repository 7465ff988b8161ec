// Package clients holds what the outbound HTTP clients share.
package clients

import (
	"fmt"
	"io"
	"net/http"
	"strings"
)

// RemoteError is a non-2xx response from a remote collaborator.
type RemoteError struct {
	System string
	Op     string
	Status int
	Body   string
}

func (e *RemoteError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s returned %d", e.System, e.Op, e.Status)
	}
	return fmt.Sprintf("%s %s returned %d: %s", e.System, e.Op, e.Status, e.Body)
}

// StatusCode lets the retry layer classify the failure.
func (e *RemoteError) StatusCode() int { return e.Status }

// NewRemoteError reads at most 2KiB of resp's body into the error.
func NewRemoteError(system, op string, resp *http.Response) *RemoteError {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &RemoteError{System: system, Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}
