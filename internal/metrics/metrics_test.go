package metrics

import (
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/dirprov/internal/cache"
	"github.com/isometry/dirprov/internal/entity"
)

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordQuotaCheck("domain_accounts", "pass")
		m.RecordQuotaRecount("domain_accounts")
		m.RecordCycle("example.com", "processed")
		m.RecordAccount("example.com", "created")
		m.SetBatchSize("example.com", 10)
	})
}

func TestRecorders(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordQuotaCheck("domain_accounts", "reject")
	m.RecordQuotaCheck("domain_accounts", "reject")
	m.RecordQuotaRecount("cos_features")
	m.RecordCycle("example.com", "skipped")
	m.RecordAccount("example.com", "stuck")
	m.SetBatchSize("example.com", 20)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.quotaChecks.WithLabelValues("domain_accounts", "reject")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.quotaRecounts.WithLabelValues("cos_features")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.autoProvCycles.WithLabelValues("example.com", "skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.autoProvAccounts.WithLabelValues("example.com", "stuck")))
	assert.Equal(t, 20.0, testutil.ToFloat64(m.autoProvBatchSize.WithLabelValues("example.com")))

	assert.Panics(t, func() { New(reg) }, "double registration")
}

func TestCacheCollector(t *testing.T) {
	clk := testclock.NewClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	set := cache.NewSet(t.Context(), cache.DefaultConfig(), clk)

	accounts := set.For(entity.KindAccount)
	accounts.Put(&entity.Entity{Kind: entity.KindAccount, ID: "1", Name: "alice@example.com", Attrs: entity.Attrs{}})
	_, _ = accounts.GetByID("1")
	_, _ = accounts.GetByID("2")
	set.ForeignNameMisses.Add("app:x")

	c := NewCacheCollector(set)
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	kinds := len(entity.AllKinds.Split())
	assert.Equal(t, kinds*7+2, testutil.CollectAndCount(c))
	assert.Equal(t, kinds, testutil.CollectAndCount(c, "provisiond_cache_hits_total"))

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetValue() == "account" || label.GetValue() == "foreign_name" {
					v := metric.GetGauge().GetValue() + metric.GetCounter().GetValue()
					values[mf.GetName()] = v
				}
			}
		}
	}
	assert.Equal(t, 1.0, values["provisiond_cache_entries"])
	assert.Equal(t, 1.0, values["provisiond_cache_hits_total"])
	assert.Equal(t, 1.0, values["provisiond_cache_misses_total"])
	assert.Equal(t, 0.5, values["provisiond_cache_hit_ratio"])
	assert.Equal(t, 1.0, values["provisiond_cache_negative_entries"])
}
