package logger

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	headerRequestID = "X-Request-Id"
	ginLoggerKey    = "logger"
)

// quietPaths are health and scrape endpoints, logged at debug level only.
var quietPaths = map[string]bool{"/healthz": true, "/readyz": true, "/metrics": true}

// Middleware gives every request a request_id and a request-scoped logger
// (on both the gin and the request context) and logs one summary line per
// request. 5xx responses log at error level and 4xx at warn.
func Middleware(l *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		rid := c.GetHeader(headerRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Writer.Header().Set(headerRequestID, rid)
		bind(c, l.With("request_id", rid))

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"bytes", c.Writer.Size(),
			"client_ip", c.ClientIP(),
			"duration_ms", float64(time.Since(start).Microseconds()) / 1000,
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}

		log := FromGin(c)
		switch {
		case status >= 500 || len(c.Errors) > 0:
			log.Error("request", attrs...)
		case status >= 400:
			log.Warn("request", attrs...)
		case quietPaths[path]:
			log.Debug("request", attrs...)
		default:
			log.Info("request", attrs...)
		}
	}
}

// Annotate adds attributes to the request-scoped logger, so later handler
// logs and the request summary line carry them.
func Annotate(c *gin.Context, args ...any) {
	bind(c, FromGin(c).With(args...))
}

func bind(c *gin.Context, l *slog.Logger) {
	c.Set(ginLoggerKey, l)
	c.Request = c.Request.WithContext(With(c.Request.Context(), l))
}

// FromGin returns the request-scoped logger, or the request context's logger
// when Middleware is not installed.
func FromGin(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(ginLoggerKey); ok {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return From(c.Request.Context())
}
