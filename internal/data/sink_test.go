package data

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"ChainPulse/internal/biz"
	"ChainPulse/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSink(t *testing.T, sink *conf.Telemetry_Sink) *HTTPSink {
	t.Helper()
	s, err := NewTelemetrySink(&conf.Telemetry{Sink: sink}, log.NewStdLogger(os.Stdout))
	require.NoError(t, err)
	return s
}

func TestTelemetrySink_SendLogs(t *testing.T) {
	var received []biz.LogEntry
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Verify request shape
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/v1/logs", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "ChainPulse/1.0", r.Header.Get("User-Agent"))
		assert.Equal(t, "Bearer cp_live_4f***", r.Header.Get("Authorization"))

		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sink := newTestSink(t, &conf.Telemetry_Sink{
		LogsUrl:   server.URL + "/v1/logs",
		AuthToken: "cp_live_4f***",
	})

	entries := []biz.LogEntry{
		{Timestamp: time.Now(), Level: biz.LevelInfo, Message: "market-data loaded", CorrelationID: "cid-1"},
		{Timestamp: time.Now(), Level: biz.LevelWarn, Message: "sentiment fallback", CorrelationID: "cid-2"},
	}
	require.NoError(t, sink.SendLogs(context.Background(), entries))

	require.Len(t, received, 2)
	assert.Equal(t, "market-data loaded", received[0].Message)
	assert.Equal(t, "cid-2", received[1].CorrelationID)
}

func TestTelemetrySink_SendMetrics(t *testing.T) {
	var received []biz.PerformanceMetric
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := newTestSink(t, &conf.Telemetry_Sink{MetricsUrl: server.URL})

	metrics := []biz.PerformanceMetric{
		{Name: "coldstart.ttfp", Value: 842, Unit: "ms", Timestamp: time.Now()},
	}
	require.NoError(t, sink.SendMetrics(context.Background(), metrics))

	require.Len(t, received, 1)
	assert.Equal(t, "coldstart.ttfp", received[0].Name)
	assert.Equal(t, float64(842), received[0].Value)
}

func TestTelemetrySink_SendErrors(t *testing.T) {
	var received []biz.ErrorEvent
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := newTestSink(t, &conf.Telemetry_Sink{ErrorsUrl: server.URL})

	events := []biz.ErrorEvent{
		{Message: "market-data probe failed", Severity: biz.SeverityHigh, Timestamp: time.Now()},
	}
	require.NoError(t, sink.SendErrors(context.Background(), events))

	require.Len(t, received, 1)
	assert.Equal(t, biz.SeverityHigh, received[0].Severity)
}

func TestTelemetrySink_EmptyBatch(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := newTestSink(t, &conf.Telemetry_Sink{
		LogsUrl:    server.URL,
		MetricsUrl: server.URL,
		ErrorsUrl:  server.URL,
	})

	ctx := context.Background()
	assert.NoError(t, sink.SendLogs(ctx, nil))
	assert.NoError(t, sink.SendMetrics(ctx, nil))
	assert.NoError(t, sink.SendErrors(ctx, nil))
	assert.Equal(t, 0, hits, "empty batches should never hit the wire")
}

func TestTelemetrySink_UnconfiguredEndpoint(t *testing.T) {
	// No endpoints configured: batches are silently dropped
	sink := newTestSink(t, &conf.Telemetry_Sink{})

	err := sink.SendLogs(context.Background(), []biz.LogEntry{{Message: "dropped"}})
	assert.NoError(t, err)
}

func TestTelemetrySink_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("collector unavailable"))
	}))
	defer server.Close()

	sink := newTestSink(t, &conf.Telemetry_Sink{LogsUrl: server.URL})

	err := sink.SendLogs(context.Background(), []biz.LogEntry{{Message: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logs endpoint returned HTTP 502")
	assert.Contains(t, err.Error(), "collector unavailable")
}

func TestTelemetrySink_NetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	sink := newTestSink(t, &conf.Telemetry_Sink{MetricsUrl: url})

	err := sink.SendMetrics(context.Background(), []biz.PerformanceMetric{{Name: "x", Value: 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metrics post failed")
}

func TestTelemetrySink_InvalidProxy(t *testing.T) {
	_, err := NewTelemetrySink(&conf.Telemetry{
		Sink: &conf.Telemetry_Sink{
			LogsUrl:  "https://collector.example.com/v1/logs",
			ProxyUrl: "ftp://proxy.example.com:2121",
		},
	}, log.NewStdLogger(os.Stdout))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telemetry sink")
	assert.Contains(t, err.Error(), "unsupported proxy scheme")
}

func TestTelemetrySink_NilConfig(t *testing.T) {
	sink, err := NewTelemetrySink(nil, log.NewStdLogger(os.Stdout))
	require.NoError(t, err)
	assert.NoError(t, sink.SendLogs(context.Background(), []biz.LogEntry{{Message: "x"}}))
}
