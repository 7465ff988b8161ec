package ci

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/clients"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/models"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/retry"
)

func TestTriggerReturnsBuildKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/api/latest/queue/OFF-STG", r.URL.Path)
		assert.Equal(t, "Bearer ci-token", r.Header.Get("Authorization"))
		assert.Equal(t, "annual", r.URL.Query().Get("bamboo.variable.entity"))
		assert.Equal(t, "STG", r.URL.Query().Get("bamboo.variable.env"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"buildResultKey":"OFF-STG-42","buildNumber":42}`))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, Token: "ci-token", Plans: map[models.Env]string{models.EnvStaging: "OFF-STG"}}, retry.New(retry.DefaultPolicy(), nil))
	require.NoError(t, err)

	key, err := c.Trigger(context.Background(), models.EnvStaging, models.Key{Store: "us", Code: "annual"})
	require.NoError(t, err)
	assert.Equal(t, "OFF-STG-42", key)
}

func TestTriggerRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "plan disabled", http.StatusBadRequest)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, Plans: map[models.Env]string{models.EnvProduction: "OFF-PROD"}}, retry.New(retry.DefaultPolicy(), nil))
	require.NoError(t, err)

	_, err = c.Trigger(context.Background(), models.EnvProduction, models.Key{Store: "us", Code: "annual"})
	var remote *clients.RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, http.StatusBadRequest, remote.Status)
}

func TestNewRequiresPlans(t *testing.T) {
	_, err := New(Config{BaseURL: "http://ci.local"}, nil)
	assert.Error(t, err)
}
