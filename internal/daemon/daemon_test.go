package daemon

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/dirprov/internal/config"
	"github.com/isometry/dirprov/internal/entity"
	"github.com/isometry/dirprov/internal/ldap/ldaptest"
	"github.com/isometry/dirprov/internal/provisioning"
)

func newTestDaemon(t *testing.T) (*Daemon, *ldaptest.Directory) {
	t.Helper()
	clk := testclock.NewClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	dir := ldaptest.New(clk)

	cfg := config.Default()
	cfg.Metrics.Enabled = false
	cfg.ShutdownTimeout = 5 * time.Second

	d, err := New(t.Context(), Options{
		Config:    cfg,
		Directory: dir,
		Registry:  prometheus.NewRegistry(),
		Clock:     clk,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d, dir
}

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(t.Context(), Options{})
	assert.Error(t, err)
}

func TestNewRejectsBadDIT(t *testing.T) {
	cfg := config.Default()
	cfg.DIT.MailBranchBase = "not a dn"
	_, err := New(t.Context(), Options{Config: cfg, Directory: ldaptest.New(nil)})
	assert.Error(t, err)
}

func TestHandlerEndpoints(t *testing.T) {
	d, _ := newTestDaemon(t)

	code, body := get(t, d.Handler(), "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok"}`, body)

	code, body = get(t, d.Handler(), "/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"connections"`)

	code, body = get(t, d.Handler(), "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "provisiond_cache_entries")

	code, _ = get(t, d.Handler(), "/nope")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestValidatorsWired(t *testing.T) {
	d, _ := newTestDaemon(t)
	ctx := t.Context()
	svc := d.Service()

	_, err := svc.CreateDomain(ctx, "example.com", entity.Attrs{entity.AttrDomainMaxAccounts: {"1"}})
	require.NoError(t, err)

	_, err = svc.CreateAccount(ctx, "alice@example.com", "secret", nil)
	require.NoError(t, err)
	_, err = svc.CreateAccount(ctx, "bob@example.com", "secret", nil)
	assert.ErrorIs(t, err, provisioning.ErrTooManyAccounts)

	code, body := get(t, d.Handler(), "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `provisiond_quota_checks_total{result="reject",validator=`)
}

func TestAutoProvisionerWired(t *testing.T) {
	d, _ := newTestDaemon(t)
	ctx := t.Context()

	domain, err := d.Service().CreateDomain(ctx, "example.com", nil)
	require.NoError(t, err)

	_, err = d.Provisioner().ProvisionByName(ctx, domain, "alice")
	assert.ErrorIs(t, err, provisioning.ErrNotEnabled, "domain has no auto-provisioning mode")
	assert.NotEmpty(t, d.Engine().NodeID())
}

func TestRunStopsOnCancel(t *testing.T) {
	d, _ := newTestDaemon(t)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
