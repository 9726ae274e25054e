package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouteUnmatched labels requests that hit no registered admin route.
const RouteUnmatched = "unmatched"

// probeRoutes are polled by supervisors and scrapers; they log at trace.
var probeRoutes = map[string]bool{
	"/health":  true,
	"/ready":   true,
	"/metrics": true,
}

// RequestLogger logs one line per admin request, tagged with the addressed session key.
// The Authorization header is reported as present or absent, never by value.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		route := adminRoute(c)

		event := logger.Debug()
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		case probeRoutes[route]:
			event = logger.Trace()
		}

		event = event.
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Bool("authorized", c.GetHeader("Authorization") != "")
		if key := c.Param("key"); key != "" {
			event = event.Str("session_key", key)
		}
		if route == RouteUnmatched {
			event = event.Str("path", c.Request.URL.Path)
		}
		if len(c.Errors) > 0 {
			event = event.Str("reason", c.Errors.Last().Error())
		}
		event.Msg("admin.request")
	}
}

// RequestMetricsMiddleware records admin requests by route template so session keys
// never become label values.
func RequestMetricsMiddleware(node string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		RecordHTTPRequest(node, c.Request.Method, adminRoute(c), c.Writer.Status(), time.Since(start))
	}
}

func adminRoute(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return RouteUnmatched
}
