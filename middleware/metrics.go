package middleware

import (
	"context"
	"time"

	"storefront/telemetry"

	"github.com/gin-gonic/gin"
)

// MetricsRecorder publishes request metrics. *telemetry.Metrics implements it.
type MetricsRecorder interface {
	RecordCount(ctx context.Context, name string, dimensions map[string]string) error
	RecordLatency(ctx context.Context, name string, d time.Duration, dimensions map[string]string) error
}

// MetricsMiddleware records count, latency and error metrics per route.
// With a nil recorder it only calls the next handler.
func MetricsMiddleware(recorder MetricsRecorder, serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if recorder == nil {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)
		status := c.Writer.Status()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		dimensions := map[string]string{
			"Service": serviceName,
			"Method":  c.Request.Method,
			"Path":    route,
			"Status":  statusCodeToRange(status),
		}

		// recorded off the request path
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			_ = recorder.RecordCount(ctx, telemetry.MetricHTTPRequests, dimensions)
			_ = recorder.RecordLatency(ctx, telemetry.MetricHTTPLatency, duration, dimensions)
			if status >= 400 {
				_ = recorder.RecordCount(ctx, telemetry.MetricHTTPErrors, dimensions)
				if status >= 500 {
					_ = recorder.RecordCount(ctx, telemetry.MetricHTTP5xx, dimensions)
				} else {
					_ = recorder.RecordCount(ctx, telemetry.MetricHTTP4xx, dimensions)
				}
			}
		}()
	}
}

func statusCodeToRange(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
