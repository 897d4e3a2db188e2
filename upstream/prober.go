// Package upstream tracks the health of the internal services behind the
// gateway by probing each configured base URL on a fixed schedule.
package upstream

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Status is the last observation for one service.
type Status struct {
	Service   string    `json:"service"`
	Healthy   bool      `json:"healthy"`
	CheckedAt time.Time `json:"checked_at"`
	Detail    string    `json:"detail,omitempty"`
}

// Prober probes each service's /health endpoint on a cron schedule and
// keeps the last observation in memory for the gateway's own /health
// endpoint. Probe results never gate request forwarding; they are
// operator-facing only.
type Prober struct {
	client   *http.Client
	services map[string]string
	sched    *cron.Cron
	spec     string

	mu       sync.RWMutex
	statuses map[string]Status
}

// New builds a prober for the configured service base URLs. spec is a cron
// schedule expression; empty defaults to every 30 seconds.
func New(services map[string]string, spec string) *Prober {
	if spec == "" {
		spec = "@every 30s"
	}
	return &Prober{
		client:   &http.Client{Timeout: 5 * time.Second},
		services: services,
		sched:    cron.New(),
		spec:     spec,
		statuses: make(map[string]Status, len(services)),
	}
}

// Start schedules probing and runs one immediate pass so /health has data
// before the first tick.
func (p *Prober) Start() error {
	if _, err := p.sched.AddFunc(p.spec, p.probeAll); err != nil {
		return fmt.Errorf("schedule upstream probes: %w", err)
	}
	go p.probeAll()
	p.sched.Start()
	return nil
}

// Stop halts the schedule and waits for a running pass to finish.
func (p *Prober) Stop() {
	ctx := p.sched.Stop()
	<-ctx.Done()
}

// Statuses returns a copy of the last observations.
func (p *Prober) Statuses() []Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Status, 0, len(p.statuses))
	for _, s := range p.statuses {
		out = append(out, s)
	}
	return out
}

func (p *Prober) probeAll() {
	for name, base := range p.services {
		p.record(p.probe(name, base))
	}
}

func (p *Prober) probe(name, base string) Status {
	st := Status{Service: name, CheckedAt: time.Now()}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := strings.TrimSuffix(base, "/") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		st.Detail = err.Error()
		return st
	}
	resp, err := p.client.Do(req)
	if err != nil {
		st.Detail = "unreachable"
		logrus.WithField("service", name).WithError(err).Debug("upstream probe failed")
		return st
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		st.Detail = fmt.Sprintf("status %d", resp.StatusCode)
		return st
	}
	st.Healthy = true
	return st
}

func (p *Prober) record(st Status) {
	p.mu.Lock()
	p.statuses[st.Service] = st
	p.mu.Unlock()
}
