package httpapi

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/corpusmcp/internal/logging"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/corpusmcp/internal/httpapi"

// Metrics holds the HTTP Facade's OTEL instruments. Grounded on the
// teacher's internal/http/metrics.go (meter + counter/histogram set,
// MetricsMiddleware shape); renamed to this module's route surface,
// which is a small fixed set of routes rather than an open set of REST
// endpoints, so the route path itself is a safe metric label with no
// cardinality risk.
type Metrics struct {
	log            *logging.Logger
	meter          metric.Meter
	requestsTotal  metric.Int64Counter
	requestDur     metric.Float64Histogram
	activeRequests metric.Int64UpDownCounter
}

// NewMetrics creates the instrument set, logging (but not failing) on
// any individual instrument registration error.
func NewMetrics(log *logging.Logger) *Metrics {
	m := &Metrics{log: log, meter: otel.Meter(instrumentationName)}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error
	m.requestsTotal, err = m.meter.Int64Counter(
		"corpusmcp.http.requests_total",
		metric.WithDescription("Total HTTP requests labeled by method, path, and status code."),
		metric.WithUnit("{request}"),
	)
	m.logErr(err, "requests_total")

	m.requestDur, err = m.meter.Float64Histogram(
		"corpusmcp.http.request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	m.logErr(err, "request_duration_seconds")

	m.activeRequests, err = m.meter.Int64UpDownCounter(
		"corpusmcp.http.active_requests",
		metric.WithDescription("Number of HTTP requests currently being served, including open /sse streams."),
		metric.WithUnit("{request}"),
	)
	m.logErr(err, "active_requests")
}

func (m *Metrics) logErr(err error, instrument string) {
	if err != nil && m.log != nil {
		m.log.Warn(context.Background(), "httpapi: failed to create instrument", zap.String("instrument", instrument), zap.Error(err))
	}
}

// MetricsMiddleware records request count, duration, and in-flight
// count for every route, including long-lived /sse streams (whose
// "duration" is the stream's entire lifetime).
func (m *Metrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			ctx := c.Request().Context()

			if m.activeRequests != nil {
				m.activeRequests.Add(ctx, 1)
			}

			err := next(c)

			attrs := []attribute.KeyValue{
				attribute.String("method", c.Request().Method),
				attribute.String("path", c.Path()),
				attribute.Int("status", c.Response().Status),
			}
			if m.requestsTotal != nil {
				m.requestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
			}
			if m.requestDur != nil {
				m.requestDur.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
			}
			if m.activeRequests != nil {
				m.activeRequests.Add(ctx, -1)
			}
			return err
		}
	}
}
