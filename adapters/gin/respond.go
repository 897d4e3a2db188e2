// Package gwgin is the gateway's HTTP surface: per-request pipeline
// middleware, the proxy handler, and the small set of endpoints the
// gateway serves itself.
package gwgin

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/open-rails/streamgate/core"
)

// Fail renders err as the uniform failure envelope and aborts the request.
// This is the single place status-code mapping happens; components return
// tagged errors and never talk HTTP.
func Fail(c *gin.Context, err error) {
	status := core.HTTPStatus(err)
	if core.KindOf(err) == core.KindInternal {
		logrus.WithFields(logrus.Fields{
			"request_id": RequestID(c),
			"path":       c.Request.URL.Path,
		}).WithError(err).Error("internal gateway error")
	}
	c.AbortWithStatusJSON(status, gin.H{"detail": core.ClientDetail(err)})
}
