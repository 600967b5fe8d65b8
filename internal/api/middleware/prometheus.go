package middleware

import (
	"strconv"
	"time"

	"bank-saga/internal/pkg/telemetry"

	"github.com/gin-gonic/gin"
)

// Prometheus collects HTTP metrics for every route
func Prometheus() gin.HandlerFunc {
	return func(c *gin.Context) {
		telemetry.HTTPRequestsInFlight.Inc()
		defer telemetry.HTTPRequestsInFlight.Dec()

		start := time.Now()

		c.Next()

		duration := time.Since(start)

		method := c.Request.Method
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unknown"
		}
		statusCode := strconv.Itoa(c.Writer.Status())

		telemetry.HTTPDuration.WithLabelValues(method, endpoint, statusCode).Observe(duration.Seconds())
		telemetry.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	}
}
