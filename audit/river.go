// Package audit persists gateway access events through a river job queue:
// the request path only pays for a queue insert, and a background worker
// writes the event to Postgres.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/sirupsen/logrus"

	"github.com/open-rails/streamgate/core"
)

// QueueAudit is the dedicated river queue for access events, so audit
// backlog never starves other job kinds sharing the cluster.
const QueueAudit = "gateway_audit"

// EventArgs is the river job payload for one access event.
type EventArgs struct {
	ID         string    `json:"id"`
	SubjectID  string    `json:"subject_id,omitempty"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Service    string    `json:"service,omitempty"`
	Status     int       `json:"status"`
	Decision   string    `json:"decision"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (EventArgs) Kind() string { return "gateway_access_event" }

func (EventArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueAudit,
		MaxAttempts: 3,
	}
}

// EventWorker inserts access events into the access_events table.
type EventWorker struct {
	river.WorkerDefaults[EventArgs]

	db *pgxpool.Pool
}

func (w *EventWorker) Work(ctx context.Context, job *river.Job[EventArgs]) error {
	a := job.Args
	_, err := w.db.Exec(ctx, `
		INSERT INTO access_events (id, subject_id, method, path, service, status, decision, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		a.ID, nullable(a.SubjectID), a.Method, a.Path, nullable(a.Service), a.Status, a.Decision, a.OccurredAt)
	return err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// RiverLogger implements core.AccessEventLogger on a river client.
type RiverLogger struct {
	client *river.Client[pgx.Tx]
}

// NewRiverLogger builds the client and registers the event worker on the
// given pool. Start must be called before events are processed.
func NewRiverLogger(pool *pgxpool.Pool) (*RiverLogger, error) {
	workers := river.NewWorkers()
	river.AddWorker(workers, &EventWorker{db: pool})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			QueueAudit: {MaxWorkers: 2},
		},
		Workers: workers,
	})
	if err != nil {
		return nil, err
	}
	return &RiverLogger{client: client}, nil
}

// Start begins background job processing.
func (l *RiverLogger) Start(ctx context.Context) error {
	return l.client.Start(ctx)
}

// Stop drains in-flight jobs and shuts the client down.
func (l *RiverLogger) Stop(ctx context.Context) error {
	return l.client.Stop(ctx)
}

// LogAccess enqueues the event. Best-effort: the caller treats a returned
// error as log-and-continue, never as a request failure.
func (l *RiverLogger) LogAccess(ctx context.Context, ev core.AccessEvent) error {
	if ev.RequestID == "" {
		ev.RequestID = uuid.NewString()
	}
	_, err := l.client.Insert(ctx, EventArgs{
		ID:         ev.RequestID,
		SubjectID:  ev.SubjectID,
		Method:     ev.Method,
		Path:       ev.Path,
		Service:    ev.Service,
		Status:     ev.Status,
		Decision:   ev.Decision,
		OccurredAt: ev.OccurredAt,
	}, nil)
	return err
}

// LogrusLogger is the fallback sink when the gateway runs without
// Postgres: events go to the structured log instead of a table.
type LogrusLogger struct{}

func (LogrusLogger) LogAccess(_ context.Context, ev core.AccessEvent) error {
	logrus.WithFields(logrus.Fields{
		"request_id": ev.RequestID,
		"subject_id": ev.SubjectID,
		"method":     ev.Method,
		"path":       ev.Path,
		"service":    ev.Service,
		"status":     ev.Status,
		"decision":   ev.Decision,
	}).Info("access")
	return nil
}
