package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "missing service name", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: "service name"},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "invalid log level"},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "invalid log format"},
		{name: "bad exporter", mutate: func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "zipkin"
		}, wantErr: "invalid trace exporter"},
		{name: "bad sampling", mutate: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: "sampling rate"},
		{name: "metrics without address", mutate: func(c *Config) { c.Metrics.ListenAddress = "" }, wantErr: "listen address"},
		{name: "empty event buffer", mutate: func(c *Config) { c.Events.BufferSize = 0 }, wantErr: "buffer size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "debug", Format: "json"}, &buf)

	logger.WithEnvironment("prod").WithBatchID("b-1").WithResourceID("r").Info("applied")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "prod", entry["environment"])
	assert.Equal(t, "b-1", entry["batch_id"])
	assert.Equal(t, "r", entry["resource_id"])
	assert.Equal(t, "applied", entry["message"])
	assert.Equal(t, "info", entry["level"])
}

func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	assert.Zero(t, buf.Len())

	logger.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestLoggerContext(t *testing.T) {
	logger := NopLogger()
	ctx := logger.WithContext(context.Background())
	assert.Same(t, logger, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}

func TestMetricsDisabledIsNoop(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		m.RecordBatch("prod", "apply_model", "ok", time.Second)
		m.SetResourceCounts("prod", map[string]int{"available": 1})
		m.SetDirtyResources("prod", 1)
		m.SetModelVersion("prod", 1)
		m.RecordBlockedTransitions("prod", 1, 2)
		m.RecordDeployResult("prod", "successful")
		m.RecordError("permanent", "VALIDATION_ERROR")
		m.RecordRestore("prod", "restored")
	})
	assert.Nil(t, m.Registry())
}

func TestMetricsHandler(t *testing.T) {
	cfg := DefaultConfig().Metrics
	m, err := NewMetrics(cfg)
	require.NoError(t, err)

	m.RecordBatch("prod", "apply_model", "ok", 10*time.Millisecond)
	m.SetDirtyResources("prod", 4)
	m.RecordBlockedTransitions("prod", 2, 1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	assert.Contains(t, body, `froyo_batches_applied_total{environment="prod",kind="apply_model",status="ok"} 1`)
	assert.Contains(t, body, `froyo_dirty_resources{environment="prod"} 4`)
	assert.Contains(t, body, `froyo_blocked_transitions_total{direction="unblocked",environment="prod"} 2`)
}

func TestEventPublisherSync(t *testing.T) {
	cfg := TestConfig().Events
	ep, err := NewEventPublisher(cfg)
	require.NoError(t, err)
	defer ep.Shutdown(context.Background())

	var got []Event
	ep.Subscribe(func(e Event) { got = append(got, e) }, FilterByEnvironment("prod"))
	ep.AddFilter(FilterByLevel(EventLevelInfo))

	require.NoError(t, ep.PublishBatchApplied("prod", "b1", "apply_model", 2, 1, 0, 3))
	require.NoError(t, ep.PublishResourceBlocked("staging", "b2", "r"))

	require.Len(t, got, 1)
	assert.Equal(t, EventTypeBatchApplied, got[0].Type)
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].Timestamp.IsZero())
	assert.Equal(t, 3, got[0].Data["dirty"])
}

func TestEventPublisherAsyncFlushesOnShutdown(t *testing.T) {
	cfg := DefaultConfig().Events
	cfg.FlushInterval = time.Hour
	ep, err := NewEventPublisher(cfg)
	require.NoError(t, err)

	var mu sync.Mutex
	var types []string
	ep.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		types = append(types, e.Type)
	}, nil)

	require.NoError(t, ep.PublishModelRestored("prod", 4, 10))
	require.NoError(t, ep.PublishDeployReported("prod", "b", "r", "failed", "failed"))
	require.NoError(t, ep.Shutdown(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{EventTypeModelRestored, EventTypeDeployReported}, types)

	err = ep.Publish(Event{Type: "late"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "stopped"))
}

func TestDisabledPublisher(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, ep.Publish(Event{Type: "x"}))
	assert.NoError(t, ep.Shutdown(context.Background()))
}

func TestStartOperationWithoutTelemetry(t *testing.T) {
	ic := StartOperation(context.Background(), "noop")
	assert.Nil(t, ic.Span)
	assert.NotNil(t, ic.Logger)
	assert.NotPanics(t, func() { ic.End(nil) })
}

func TestStartBatch(t *testing.T) {
	tel := NewNopTelemetry()
	ctx := tel.WithContext(context.Background())
	assert.Same(t, tel, FromTelemetryContext(ctx))

	ic := StartOperation(ctx, "restore")
	require.NotNil(t, ic.Span)
	ic.End(assert.AnError)

	batch := tel.StartBatch(ctx, "b", "prod", "deploy_report", 1)
	require.NotNil(t, batch.Span)
	batch.End(nil)
	assert.NoError(t, tel.Shutdown(context.Background()))
}
