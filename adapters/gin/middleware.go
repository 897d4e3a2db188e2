package gwgin

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	jwtkit "github.com/open-rails/streamgate/jwt"
	"github.com/open-rails/streamgate/proxy"
)

// RateLimiter is what the gateway needs from a limiter; both the memory
// and redis implementations satisfy it.
type RateLimiter interface {
	AllowNamed(bucket, key string) (bool, error)
}

// RequestIDMiddleware assigns every request a correlation id. An inbound
// X-Request-Id from the edge LB is honored; clients cannot inject one past
// the identity-header stripping in the forwarder.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(proxy.HeaderRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxRequestIDKey, id)
		c.Header(proxy.HeaderRequestID, id)
		c.Next()
	}
}

// AccessLogMiddleware emits one structured log line per request.
func AccessLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := logrus.Fields{
			"request_id": RequestID(c),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"duration":   time.Since(start).String(),
		}
		if id := Identity(c); id != nil {
			fields["subject_id"] = id.SubjectID
		}
		logrus.WithFields(fields).Info("request")
	}
}

// AuthMiddleware validates a bearer credential when one is present.
// Absence is fine at this stage (the route's policy decides later), but a
// present-and-invalid credential terminates the pipeline immediately, even
// on public routes.
func AuthMiddleware(validator *jwtkit.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" {
			c.Next()
			return
		}

		credential, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			// A malformed Authorization header is a failed validation,
			// not an anonymous request.
			credential = ""
		}
		identity, err := validator.Validate(credential)
		if err != nil {
			Fail(c, err)
			return
		}
		setIdentity(c, &identity)
		c.Next()
	}
}

// RateLimitMiddleware applies the per-client-IP limit to a bucket.
// Limiter errors fail open: an unreachable Redis must not take the
// platform down with it.
func RateLimitMiddleware(limiter RateLimiter, bucket string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		allowed, err := limiter.AllowNamed(bucket, c.ClientIP())
		if err != nil {
			logrus.WithError(err).Warn("rate limiter unavailable, failing open")
			c.Next()
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"detail": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
