package gwgin

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/open-rails/streamgate/apikey"
	"github.com/open-rails/streamgate/core"
	"github.com/open-rails/streamgate/entitlements"
	jwtkit "github.com/open-rails/streamgate/jwt"
	"github.com/open-rails/streamgate/proxy"
	"github.com/open-rails/streamgate/routing"
	"github.com/open-rails/streamgate/upstream"
)

// Gateway composes the per-request pipeline: validate, route, authorize,
// entitlement-gate (playback only), forward. It owns no per-request state;
// everything here is read-only after Register.
type Gateway struct {
	Table     *routing.Table
	Forwarder *proxy.Forwarder
	Validator *jwtkit.Validator
	Resolver  *entitlements.Resolver
	Keys      jwtkit.KeySource
	Keyring   *apikey.Keyring
	Audit     core.AccessEventLogger
	Prober    *upstream.Prober
	Limiter   RateLimiter

	// PlayPrefix is the routing prefix whose requests are gated by the
	// entitlement resolver before forwarding.
	PlayPrefix string
	Version    string
}

// Register wires middleware and routes onto the engine.
func (g *Gateway) Register(r *gin.Engine) {
	if g.PlayPrefix == "" {
		g.PlayPrefix = "/play"
	}

	r.Use(RequestIDMiddleware())
	r.Use(AccessLogMiddleware())
	r.Use(RateLimitMiddleware(g.Limiter, "gateway"))
	r.Use(AuthMiddleware(g.Validator))

	r.GET("/", g.handleRoot)
	r.GET("/health", g.handleHealth)
	r.GET("/.well-known/jwks.json", g.handleJWKS)
	r.POST("/internal/entitlements/check", g.handleEntitlementCheck)

	// Everything else is proxied through the routing table.
	r.NoRoute(g.handleProxy)
}

func (g *Gateway) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "streamgate",
		"version": g.Version,
		"message": "streaming platform gateway",
	})
}

func (g *Gateway) handleHealth(c *gin.Context) {
	body := gin.H{
		"status":  "ok",
		"service": "streamgate",
		"version": g.Version,
	}
	if g.Prober != nil {
		body["upstreams"] = g.Prober.Statuses()
	}
	c.JSON(http.StatusOK, body)
}

func (g *Gateway) handleJWKS(c *gin.Context) {
	jwtkit.ServeJWKS(c.Writer, c.Request, jwtkit.KeySourceJWKS(g.Keys))
}

// handleProxy is the dispatch pipeline for every routed request.
func (g *Gateway) handleProxy(c *gin.Context) {
	path := c.Request.URL.Path

	match, err := g.Table.Route(path)
	if err != nil {
		Fail(c, err)
		g.record(c, "")
		return
	}

	identity := Identity(c)
	if err := match.Rule.Authorize(identity); err != nil {
		Fail(c, err)
		g.record(c, match.Service)
		return
	}

	// Gate on the request path, not the matched rule: a routes file may
	// split playback across several rules (/play, /play/live, ...) and
	// every one of them must pass the entitlement check.
	if path == g.PlayPrefix || strings.HasPrefix(path, g.PlayPrefix+"/") {
		if err := g.gatePlayback(c, identity, path); err != nil {
			Fail(c, err)
			g.record(c, match.Service)
			return
		}
	}

	if err := g.Forwarder.Forward(c.Writer, c.Request, match, identity, RequestID(c)); err != nil {
		Fail(c, err)
	}
	g.record(c, match.Service)
}

// gatePlayback resolves entitlements for a playback request. A denial
// short-circuits before any downstream call, so a playback URL can never
// leak to an unentitled caller.
func (g *Gateway) gatePlayback(c *gin.Context, identity *core.Identity, path string) error {
	if identity == nil {
		return core.Unauthenticated("")
	}
	ref, err := playContentRef(strings.TrimPrefix(path, g.PlayPrefix))
	if err != nil {
		return err
	}
	// evaluatedAt is the resolution time, taken here rather than at
	// request receipt, so retries never reuse a stale clock reading.
	verdict, err := g.Resolver.Resolve(c.Request.Context(), identity.SubjectID, ref, time.Now())
	if err != nil {
		return err
	}
	if !verdict.Allowed {
		return core.Forbidden("no entitlement for this content")
	}
	return nil
}

// playContentRef parses /play/<kind>/<id>[/...] remainders.
func playContentRef(rest string) (entitlements.ContentRef, error) {
	parts := strings.SplitN(strings.TrimPrefix(rest, "/"), "/", 3)
	if len(parts) < 2 || parts[1] == "" {
		return entitlements.ContentRef{}, core.NotFound("unknown playback path")
	}
	var kind entitlements.ContentKind
	switch parts[0] {
	case "ondemand":
		kind = entitlements.KindOndemand
	case "live":
		kind = entitlements.KindLive
	default:
		return entitlements.ContentRef{}, core.NotFound("unknown playback path")
	}
	return entitlements.ContentRef{ID: parts[1], Kind: kind}, nil
}

// checkRequest is the internal entitlement check payload.
type checkRequest struct {
	SubjectID  string                  `json:"subject_id" binding:"required"`
	ContentRef entitlements.ContentRef `json:"content_ref" binding:"required"`
}

// handleEntitlementCheck serves content services doing their own
// defense-in-depth checks. Guarded by service API keys, never exposed to
// end users.
func (g *Gateway) handleEntitlementCheck(c *gin.Context) {
	if _, ok := g.Keyring.Authenticate(c.GetHeader("X-Api-Key")); !ok {
		Fail(c, core.Unauthenticated("invalid api key"))
		return
	}

	var req checkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid request body"})
		return
	}

	verdict, err := g.Resolver.Resolve(c.Request.Context(), req.SubjectID, req.ContentRef, time.Now())
	if err != nil {
		Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, verdict)
}

// record emits the access event for a finished request, best-effort.
func (g *Gateway) record(c *gin.Context, service string) {
	if g.Audit == nil {
		return
	}
	status := c.Writer.Status()
	decision := "allowed"
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		decision = "denied"
	case status >= http.StatusBadRequest:
		decision = "error"
	}

	ev := core.AccessEvent{
		RequestID:  RequestID(c),
		Method:     c.Request.Method,
		Path:       c.Request.URL.Path,
		Service:    service,
		Status:     status,
		Decision:   decision,
		OccurredAt: time.Now(),
	}
	if id := Identity(c); id != nil {
		ev.SubjectID = id.SubjectID
	}

	// The response is already written; logging must not block or fail it.
	ctx := context.WithoutCancel(c.Request.Context())
	if err := g.Audit.LogAccess(ctx, ev); err != nil {
		logrus.WithError(err).Warn("failed to record access event")
	}
}
