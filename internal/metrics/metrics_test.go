package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ObserveRecord("gmail", "completed")
		c.ObserveRebuild(time.Second, nil)
		c.ObserveChat("tasks")
		c.ObserveFallback("panic")
		c.CacheHit()
		c.CacheMiss()
		c.ObserveHTTP("GET", "/health", 200, time.Millisecond)
	})
}

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestCountersIncrement(t *testing.T) {
	c := New()

	c.ObserveRecord("gmail", "completed")
	c.ObserveRecord("gmail", "completed")
	c.ObserveRecord("ios_contacts", "failed")
	c.ObserveChat("who_am_i")
	c.CacheHit()

	body := scrape(t, c)
	assert.Contains(t, body, `persona_records_processed_total{source="gmail",status="completed"} 2`)
	assert.Contains(t, body, `persona_records_processed_total{source="ios_contacts",status="failed"} 1`)
	assert.Contains(t, body, `persona_chat_messages_total{intent="who_am_i"} 1`)
	assert.Contains(t, body, "persona_preference_cache_hits_total 1")
}

func TestSeparateRegistries(t *testing.T) {
	a, b := New(), New()
	a.ObserveChat("general")
	assert.NotContains(t, scrape(t, b), `intent="general"`)
}

func TestHandlerServesMetrics(t *testing.T) {
	c := New()
	c.ObserveRebuild(10*time.Millisecond, errors.New("boom"))

	assert.True(t, strings.Contains(scrape(t, c), `persona_preference_rebuild_duration_seconds_count{result="error"} 1`))
}
