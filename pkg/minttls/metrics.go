package minttls

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce    sync.Once
	metricsInitErr error
	metricsInst    *sessionMetrics
)

// sessionMetrics collects handshake and transfer metrics for the backend.
type sessionMetrics struct {
	handshakesTotal   metric.Int64Counter
	handshakeDuration metric.Float64Histogram
	sessionsActive    metric.Int64UpDownCounter
	bytesTotal        metric.Int64Counter
}

// getSessionMetrics returns the singleton collector. Instrument creation
// errors disable metrics rather than failing session creation.
func getSessionMetrics() *sessionMetrics {
	metricsOnce.Do(func() {
		metricsInst, metricsInitErr = newSessionMetrics()
	})
	if metricsInitErr != nil {
		return nil
	}
	return metricsInst
}

func newSessionMetrics() (*sessionMetrics, error) {
	meter := otel.GetMeterProvider().Meter("tlswire.minttls")

	m := &sessionMetrics{}
	var err error

	m.handshakesTotal, err = meter.Int64Counter(
		"tlswire_handshakes_total",
		metric.WithDescription("Completed handshake attempts by role and result"),
		metric.WithUnit("{handshake}"),
	)
	if err != nil {
		return nil, err
	}

	m.handshakeDuration, err = meter.Float64Histogram(
		"tlswire_handshake_duration_seconds",
		metric.WithDescription("Wall time from session creation to handshake completion"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.sessionsActive, err = meter.Int64UpDownCounter(
		"tlswire_sessions_active",
		metric.WithDescription("Sessions created and not yet released"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, err
	}

	m.bytesTotal, err = meter.Int64Counter(
		"tlswire_bytes_total",
		metric.WithDescription("Application bytes moved through sessions by direction"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *sessionMetrics) recordSessionStart(role string) {
	if m == nil {
		return
	}
	m.sessionsActive.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("role", role),
	))
}

func (m *sessionMetrics) recordSessionEnd(role string) {
	if m == nil {
		return
	}
	m.sessionsActive.Add(context.Background(), -1, metric.WithAttributes(
		attribute.String("role", role),
	))
}

func (m *sessionMetrics) recordHandshake(role, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("role", role),
		attribute.String("result", result),
	)
	m.handshakesTotal.Add(ctx, 1, attrs)
	if result == "success" {
		m.handshakeDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
			attribute.String("role", role),
		))
	}
}

func (m *sessionMetrics) recordBytes(role, direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesTotal.Add(context.Background(), int64(n), metric.WithAttributes(
		attribute.String("role", role),
		attribute.String("direction", direction),
	))
}
