package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/checkride-sync/internal/service"
)

func TestMetricsHandlerReady(t *testing.T) {
	healthy := PingFunc(func(context.Context) error { return nil })
	handler := NewMetricsHandler(service.NewMetricsService(), map[string]Pinger{"database": healthy, "share_store": healthy})

	c, w := newContext(http.MethodGet, "/ready", nil, nil)
	handler.Ready(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ready"`)

	handler = NewMetricsHandler(nil, map[string]Pinger{
		"database":    healthy,
		"share_store": PingFunc(func(context.Context) error { return errors.New("connection refused") }),
	})
	c, w = newContext(http.MethodGet, "/ready", nil, nil)
	handler.Ready(c)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")

	c, w = newContext(http.MethodGet, "/metrics", nil, nil)
	handler.Prometheus(c)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMetricsHandlerPrometheus(t *testing.T) {
	metrics := service.NewMetricsService()
	metrics.RecordProgressRefresh()
	handler := NewMetricsHandler(metrics, nil)

	c, w := newContext(http.MethodGet, "/metrics", nil, nil)
	handler.Prometheus(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "progress_refresh_total 1")
}
