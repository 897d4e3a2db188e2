package core

import (
	"context"
	"time"
)

// AccessEvent describes one request that traversed the gateway.
type AccessEvent struct {
	RequestID  string
	SubjectID  string // empty for anonymous requests
	Method     string
	Path       string
	Service    string // resolved target service, empty when unroutable
	Status     int
	Decision   string // "allowed" | "denied" | "error"
	OccurredAt time.Time
}

// AccessEventLogger records access events to an external sink.
// Implementations must be non-blocking and best-effort: a logging failure
// never fails the request being logged.
type AccessEventLogger interface {
	LogAccess(ctx context.Context, ev AccessEvent) error
}
