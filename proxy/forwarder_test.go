package proxy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/open-rails/streamgate/core"
	"github.com/open-rails/streamgate/routing"
)

func testMatch(service string) routing.Match {
	rule := &routing.Rule{Prefix: "/x", Service: service, Rewrite: "/api/x", Auth: routing.Public}
	return routing.Match{Rule: rule, Service: service, InternalPath: "/api/x/1"}
}

func forwardTo(t *testing.T, upstream http.HandlerFunc, req *http.Request, identity *core.Identity) *httptest.ResponseRecorder {
	t.Helper()
	srv := httptest.NewServer(upstream)
	t.Cleanup(srv.Close)

	f := New(map[string]string{"svc": srv.URL}, 2*time.Second)
	t.Cleanup(f.Close)

	w := httptest.NewRecorder()
	if err := f.Forward(w, req, testMatch("svc"), identity, "req-1"); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	return w
}

func TestForward_PassthroughBodyAndQuery(t *testing.T) {
	var gotPath, gotQuery, gotBody, gotMethod string
	upstream := func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotMethod = r.Method
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"1"}`))
	}

	req := httptest.NewRequest(http.MethodPost, "/x/1?page=2&size=5", strings.NewReader(`{"title":"Heat"}`))
	req.Header.Set("Content-Type", "application/json")
	w := forwardTo(t, upstream, req, nil)

	if gotPath != "/api/x/1" {
		t.Errorf("upstream path = %q", gotPath)
	}
	if gotQuery != "page=2&size=5" {
		t.Errorf("upstream query = %q", gotQuery)
	}
	if gotMethod != http.MethodPost {
		t.Errorf("upstream method = %q", gotMethod)
	}
	if gotBody != `{"title":"Heat"}` {
		t.Errorf("upstream body = %q", gotBody)
	}
	if w.Code != http.StatusCreated {
		t.Errorf("status = %d", w.Code)
	}
	if w.Body.String() != `{"id":"1"}` {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestForward_IdentityHeaders(t *testing.T) {
	var gotSubject, gotRoles string
	upstream := func(w http.ResponseWriter, r *http.Request) {
		gotSubject = r.Header.Get(HeaderSubjectID)
		gotRoles = r.Header.Get(HeaderSubjectRoles)
		w.WriteHeader(http.StatusOK)
	}

	req := httptest.NewRequest(http.MethodGet, "/x/1", nil)
	// Spoofing attempt: must be stripped, never relayed.
	req.Header.Set(HeaderSubjectID, "evil")
	req.Header.Set(HeaderSubjectRoles, "admin")

	identity := &core.Identity{SubjectID: "u1", Roles: []string{"admin", "editor"}}
	forwardTo(t, upstream, req, identity)

	if gotSubject != "u1" {
		t.Errorf("subject header = %q, want u1", gotSubject)
	}
	if gotRoles != "admin,editor" {
		t.Errorf("roles header = %q", gotRoles)
	}
}

func TestForward_AnonymousStripsIdentityHeaders(t *testing.T) {
	var gotSubject string
	upstream := func(w http.ResponseWriter, r *http.Request) {
		gotSubject = r.Header.Get(HeaderSubjectID)
		w.WriteHeader(http.StatusOK)
	}

	req := httptest.NewRequest(http.MethodGet, "/x/1", nil)
	req.Header.Set(HeaderSubjectID, "evil")
	forwardTo(t, upstream, req, nil)

	if gotSubject != "" {
		t.Errorf("subject header = %q, want empty", gotSubject)
	}
}

func TestForward_RelaysErrorStatusAndDetail(t *testing.T) {
	upstream := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"detail":"no access"}`))
	}

	req := httptest.NewRequest(http.MethodGet, "/x/1", nil)
	w := forwardTo(t, upstream, req, nil)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("body not JSON: %v", err)
	}
	if body["detail"] != "no access" {
		t.Errorf("detail = %q, want %q", body["detail"], "no access")
	}
}

func TestForward_NormalizesNonConformingErrorBody(t *testing.T) {
	upstream := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Traceback (most recent call last): secret internals"))
	}

	req := httptest.NewRequest(http.MethodGet, "/x/1", nil)
	w := forwardTo(t, upstream, req, nil)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "Traceback") {
		t.Errorf("internal diagnostics leaked: %q", w.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("body not JSON: %v", err)
	}
	if body["detail"] == "" {
		t.Error("missing detail")
	}
}

func TestForward_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)

	f := New(map[string]string{"svc": srv.URL}, 50*time.Millisecond)
	t.Cleanup(f.Close)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x/1", nil)
	err := f.Forward(w, req, testMatch("svc"), nil, "req-1")
	if core.KindOf(err) != core.KindUnavailable {
		t.Fatalf("err = %v, want unavailable", err)
	}
}

func TestForward_ClientCancellationAbortsUpstream(t *testing.T) {
	started := make(chan struct{})
	aborted := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
		close(aborted)
	}))
	t.Cleanup(srv.Close)

	f := New(map[string]string{"svc": srv.URL}, 30*time.Second)
	t.Cleanup(f.Close)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/x/1", nil).WithContext(ctx)
	go func() {
		<-started
		cancel()
	}()

	w := httptest.NewRecorder()
	err := f.Forward(w, req, testMatch("svc"), nil, "req-1")
	if core.KindOf(err) != core.KindUnavailable {
		t.Fatalf("err = %v, want unavailable", err)
	}

	// The in-flight upstream call must be torn down, not left to run.
	select {
	case <-aborted:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream never observed the cancellation")
	}
}

func TestForward_Unreachable(t *testing.T) {
	// Reserved port with nothing listening.
	f := New(map[string]string{"svc": "http://127.0.0.1:1"}, time.Second)
	t.Cleanup(f.Close)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x/1", nil)
	err := f.Forward(w, req, testMatch("svc"), nil, "req-1")
	if core.KindOf(err) != core.KindUnavailable {
		t.Fatalf("err = %v, want unavailable", err)
	}
}

func TestForward_UnknownService(t *testing.T) {
	f := New(map[string]string{}, time.Second)
	t.Cleanup(f.Close)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x/1", nil)
	err := f.Forward(w, req, testMatch("ghost"), nil, "req-1")
	if err == nil || core.KindOf(err) != core.KindInternal {
		t.Fatalf("err = %v, want internal", err)
	}
}
