// Package proxy relays validated, authorized requests to internal services
// and normalizes heterogeneous backend failures into the gateway's uniform
// response shape.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/open-rails/streamgate/core"
	"github.com/open-rails/streamgate/routing"
)

const (
	// HeaderSubjectID and friends are the structured identity metadata
	// propagated to internal services. Inbound copies are stripped before
	// forwarding so clients cannot spoof them.
	HeaderSubjectID    = "X-Subject-Id"
	HeaderSubjectRoles = "X-Subject-Roles"
	HeaderRequestID    = "X-Request-Id"

	// maxErrorBody bounds how much of an upstream error body is read for
	// normalization.
	maxErrorBody = 1 << 20
)

// hopHeaders are connection-level headers never relayed in either direction.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Forwarder relays requests over one process-wide connection pool, created
// at startup and shared read-only across request handlers.
type Forwarder struct {
	client   *http.Client
	services map[string]string
	timeout  time.Duration
}

// New builds a Forwarder for the configured service base URLs. timeout
// bounds each downstream call; on expiry the client gets 503, never a hung
// connection.
func New(services map[string]string, timeout time.Duration) *Forwarder {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 32,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Forwarder{
		client:   &http.Client{Transport: transport},
		services: services,
		timeout:  timeout,
	}
}

// Close releases pooled connections. Called once at shutdown.
func (f *Forwarder) Close() {
	f.client.CloseIdleConnections()
}

// Forward relays r to the service resolved in m and writes the relayed
// response to w. The request body passes through byte-identical; the
// gateway never reinterprets payloads. A returned error means nothing was
// written and the caller must render it.
//
// The outbound context derives from the inbound request, so a client
// disconnect aborts the in-flight downstream call.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, m routing.Match, identity *core.Identity, requestID string) error {
	base, ok := f.services[m.Service]
	if !ok {
		return core.Internal(errors.New("no base URL configured for service " + m.Service))
	}

	ctx, cancel := context.WithTimeout(r.Context(), f.timeout)
	defer cancel()

	url := strings.TrimSuffix(base, "/") + m.InternalPath
	if r.URL.RawQuery != "" {
		url += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, url, r.Body)
	if err != nil {
		return core.Internal(err)
	}
	copyHeaders(req.Header, r.Header)
	if r.ContentLength >= 0 {
		req.ContentLength = r.ContentLength
	}

	// Identity travels as structured metadata set by the gateway alone.
	req.Header.Del(HeaderSubjectID)
	req.Header.Del(HeaderSubjectRoles)
	if identity != nil {
		req.Header.Set(HeaderSubjectID, identity.SubjectID)
		if len(identity.Roles) > 0 {
			req.Header.Set(HeaderSubjectRoles, strings.Join(identity.Roles, ","))
		}
	}
	req.Header.Set(HeaderRequestID, requestID)

	resp, err := f.client.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		relayError(w, resp)
		return nil
	}

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		// Headers are already out; all we can do is log the broken relay.
		logrus.WithError(err).WithField("service", m.Service).Warn("response relay interrupted")
	}
	return nil
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		if isHopHeader(key) {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func isHopHeader(key string) bool {
	for _, h := range hopHeaders {
		if strings.EqualFold(key, h) {
			return true
		}
	}
	return false
}

// classifyTransportError separates unreachable/timed-out upstreams (503)
// from everything else (opaque 500). Context cancellation from the client
// side also lands on 503: the upstream never answered.
func classifyTransportError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return core.Unavailable("upstream timed out", err)
	case errors.Is(err, context.Canceled):
		return core.Unavailable("request canceled", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return core.Unavailable("upstream timed out", err)
		}
		return core.Unavailable("upstream unreachable", err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return core.Unavailable("upstream unreachable", err)
	}
	return core.Internal(err)
}

// relayError relays a downstream 4xx/5xx with its original status and a
// normalized {"detail": ...} body. Internal diagnostics in non-conforming
// upstream bodies are replaced with the generic status text.
func relayError(w http.ResponseWriter, resp *http.Response) {
	detail := http.StatusText(resp.StatusCode)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err == nil && len(body) > 0 {
		var envelope struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(body, &envelope) == nil && envelope.Detail != "" {
			detail = envelope.Detail
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}
