package gwgin

import (
	"github.com/gin-gonic/gin"

	"github.com/open-rails/streamgate/core"
)

const (
	ctxIdentityKey  = "gw.identity"
	ctxRequestIDKey = "gw.request_id"
)

// Identity returns the verified caller, if the request carried a valid
// credential. nil means anonymous.
func Identity(c *gin.Context) *core.Identity {
	if v, ok := c.Get(ctxIdentityKey); ok {
		if id, ok := v.(*core.Identity); ok {
			return id
		}
	}
	return nil
}

func setIdentity(c *gin.Context, id *core.Identity) {
	c.Set(ctxIdentityKey, id)
}

// RequestID returns the request's correlation id, assigned by the
// RequestID middleware.
func RequestID(c *gin.Context) string {
	if v, ok := c.Get(ctxRequestIDKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
