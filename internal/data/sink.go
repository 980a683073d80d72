package data

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ChainPulse/internal/biz"
	"ChainPulse/internal/conf"
	"ChainPulse/pkg/httputil"
	pkglog "ChainPulse/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

// sinkUserAgent identifies ChainPulse to the telemetry collection endpoints.
const sinkUserAgent = "ChainPulse/1.0"

// defaultSinkTimeout caps one batch POST when no timeout is configured.
const defaultSinkTimeout = 10 * time.Second

// HTTPSink implements biz.TelemetrySink by POSTing JSON batches to the
// configured log, metric, and error endpoints. Transport failures are
// returned to the telemetry forwarder, which drops the batch; the sink never
// retries on its own.
type HTTPSink struct {
	client     *http.Client
	logsURL    string
	metricsURL string
	errorsURL  string
	authToken  string
	lh         *pkglog.LogHelper
}

// NewTelemetrySink creates the remote telemetry sink. Endpoints left empty
// are skipped; an invalid proxy URL is a configuration error and fails
// startup.
func NewTelemetrySink(tc *conf.Telemetry, logger log.Logger) (*HTTPSink, error) {
	s := &HTTPSink{
		lh: pkglog.NewLogHelper(logger),
	}

	timeout := defaultSinkTimeout
	proxyURL := ""
	if tc != nil && tc.Sink != nil {
		s.logsURL = tc.Sink.LogsUrl
		s.metricsURL = tc.Sink.MetricsUrl
		s.errorsURL = tc.Sink.ErrorsUrl
		s.authToken = tc.Sink.AuthToken
		proxyURL = tc.Sink.ProxyUrl
		if d := tc.Sink.Timeout.AsDuration(); d > 0 {
			timeout = d
		}
	}

	client, err := httputil.NewClient(proxyURL, timeout)
	if err != nil {
		return nil, fmt.Errorf("telemetry sink: %w", err)
	}
	s.client = client

	return s, nil
}

// SendLogs posts a batch of log entries to the log endpoint.
func (s *HTTPSink) SendLogs(ctx context.Context, entries []biz.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.post(ctx, s.logsURL, "logs", len(entries), entries)
}

// SendMetrics posts a batch of performance metrics to the metric endpoint.
func (s *HTTPSink) SendMetrics(ctx context.Context, metrics []biz.PerformanceMetric) error {
	if len(metrics) == 0 {
		return nil
	}
	return s.post(ctx, s.metricsURL, "metrics", len(metrics), metrics)
}

// SendErrors posts a batch of error events to the error endpoint.
func (s *HTTPSink) SendErrors(ctx context.Context, events []biz.ErrorEvent) error {
	if len(events) == 0 {
		return nil
	}
	return s.post(ctx, s.errorsURL, "errors", len(events), events)
}

// post ships one JSON batch. An empty endpoint means the signal is not
// collected remotely and the batch is silently dropped.
func (s *HTTPSink) post(ctx context.Context, url, signal string, count int, payload interface{}) error {
	if url == "" {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("sink: failed to marshal %s batch: %w", signal, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sink: failed to create %s request: %w", signal, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", sinkUserAgent)
	if s.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.authToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sink: %s post failed: %w", signal, err)
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	_ = resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sink: %s endpoint returned HTTP %d: %s", signal, resp.StatusCode, string(respBody))
	}

	s.lh.Sink("Telemetry batch shipped",
		"signal", signal,
		"count", count,
		"status", resp.StatusCode)
	return nil
}
