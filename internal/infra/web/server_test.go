package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"rfp-stream-core/internal/domain"
	"rfp-stream-core/internal/domain/model"
	"rfp-stream-core/internal/domain/ports/repository"
	"rfp-stream-core/internal/infra/stream"
	"rfp-stream-core/internal/usecase"

	"github.com/jackc/pgx/v4"
)

const testAPIKey = "test-admin-key"

type memJobs struct {
	mu    sync.Mutex
	store map[string]*model.Job
}

func (m *memJobs) Save(ctx context.Context, tx repository.Tx, job *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.store[job.ID] = &cp
	return nil
}

func (m *memJobs) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.store[id]; ok {
		cp := *j
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (m *memJobs) ListActive(ctx context.Context, tx repository.Tx, owner string) ([]*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Job
	for _, j := range m.store {
		if j.State.Terminal() {
			continue
		}
		if owner != "" && j.Owner != owner {
			continue
		}
		cp := *j
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memJobs) CountActiveByOwner(ctx context.Context, tx repository.Tx, owner string) (int, error) {
	jobs, _ := m.ListActive(ctx, tx, owner)
	return len(jobs), nil
}

func (m *memJobs) ListIdleSince(ctx context.Context, tx repository.Tx, cutoff time.Time) ([]*model.Job, error) {
	return nil, nil
}

func (m *memJobs) DeleteTerminalBefore(ctx context.Context, tx repository.Tx, cutoff time.Time) ([]string, error) {
	return nil, nil
}

type memEvents struct {
	mu     sync.Mutex
	events []*model.Event
}

func (m *memEvents) Append(ctx context.Context, tx repository.Tx, ev *model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ev
	m.events = append(m.events, &cp)
	return nil
}

func (m *memEvents) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Event, error) {
	return nil, domain.ErrNotFound
}

func (m *memEvents) ListByJob(ctx context.Context, tx repository.Tx, jobID string) ([]*model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Event
	for _, ev := range m.events {
		if ev.JobID == jobID {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memEvents) IncAttempts(ctx context.Context, tx repository.Tx, id string) error { return nil }

type memTx struct{}

func (memTx) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	return fn(ctx, nil)
}

type nopBus struct{}

func (nopBus) Publish(ev *model.Event) {}

type memAcks struct {
	mu    sync.Mutex
	store map[string]int64
}

func (m *memAcks) SetLastAcked(ctx context.Context, jobID, subscriberID string, seq uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[jobID+"/"+subscriberID] = int64(seq)
	return nil
}

func (m *memAcks) LastAcked(ctx context.Context, jobID, subscriberID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.store[jobID+"/"+subscriberID]; ok {
		return v, nil
	}
	return -1, nil
}

func (m *memAcks) Clear(ctx context.Context, jobID, subscriberID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, jobID+"/"+subscriberID)
	return nil
}

type testEnv struct {
	srv *httptest.Server
	reg *usecase.RegistryUseCase
	gw  *usecase.GatewayUseCase
	mux *stream.Mux
}

func newTestServer(t *testing.T) (*httptest.Server, *usecase.RegistryUseCase) {
	t.Helper()
	env := newTestEnv(t)
	return env.srv, env.reg
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	l := zerolog.Nop()
	mux := stream.NewMux(8, &l)
	reg := usecase.NewRegistryUseCase(
		&memJobs{store: make(map[string]*model.Job)},
		&memEvents{},
		memTx{},
		nopBus{},
		mux,
		32,
		&l,
	)
	gw := usecase.NewGatewayUseCase(mux, reg, &memAcks{store: make(map[string]int64)}, time.Minute, &l)
	srv := httptest.NewServer(NewServer(reg, gw, testAPIKey, &l).Router())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, reg: reg, gw: gw, mux: mux}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func doRequest(t *testing.T, method, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// logBuf collects log output written from server goroutines.
type logBuf struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuf) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuf) bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func TestServer_RequestLogCarriesTraceID(t *testing.T) {
	buf := &logBuf{}
	logger := zerolog.New(buf)

	srv := httptest.NewServer(NewServer(nil, nil, testAPIKey, &logger).Router())
	defer srv.Close()

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/jobs", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	// The completion line lands after the response is on the wire.
	waitFor(t, func() bool { return len(buf.bytes()) > 0 })
	var line map[string]interface{}
	if err := json.Unmarshal(buf.bytes(), &line); err != nil {
		t.Fatalf("request log is not JSON: %v (%s)", err, buf.bytes())
	}
	if line["trace_id"] == "" || line["trace_id"] == nil {
		t.Errorf("request log carries no trace_id: %s", buf.bytes())
	}
	if line["path"] != "/api/v1/jobs" {
		t.Errorf("path = %v, want /api/v1/jobs", line["path"])
	}
}

func TestServer_Healthz(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := doRequest(t, http.MethodGet, srv.URL+"/healthz", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", resp.StatusCode)
	}
}

func TestServer_Auth(t *testing.T) {
	srv, _ := newTestServer(t)
	url := srv.URL + "/api/v1/jobs"

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"malformed", "Token abc", http.StatusUnauthorized},
		{"wrong key", "Bearer wrong", http.StatusForbidden},
		{"valid", "Bearer " + testAPIKey, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, url, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestServer_GetJob(t *testing.T) {
	srv, reg := newTestServer(t)
	job, err := reg.CreateJob(context.Background(), model.JobKindClassification, "owner-1", nil)
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/jobs/"+job.ID, testAPIKey)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var dto struct {
		ID    string `json:"id"`
		Kind  string `json:"kind"`
		State string `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&dto); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dto.ID != job.ID || dto.Kind != "classification" || dto.State != "queued" {
		t.Errorf("dto = %+v, want the created job", dto)
	}
}

func TestServer_GetJobNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/jobs/ghost", testAPIKey)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestServer_ListActiveFiltersByOwner(t *testing.T) {
	srv, reg := newTestServer(t)
	ctx := context.Background()
	if _, err := reg.CreateJob(ctx, model.JobKindAIStream, "alice", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.CreateJob(ctx, model.JobKindAIStream, "bob", nil); err != nil {
		t.Fatal(err)
	}

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/jobs?owner=alice", testAPIKey)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out []struct {
		Owner string `json:"owner"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0].Owner != "alice" {
		t.Errorf("jobs = %+v, want alice's only", out)
	}
}

func TestServer_JobEvents(t *testing.T) {
	srv, reg := newTestServer(t)
	ctx := context.Background()
	job, err := reg.CreateJob(ctx, model.JobKindAIStream, "owner-1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reg.UpdateState(ctx, job.ID, model.JobStateRunning, ""); err != nil {
		t.Fatal(err)
	}

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/jobs/"+job.ID+"/events", testAPIKey)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out []struct {
		Type string `json:"type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 2 || out[0].Type != "job.created" || out[1].Type != "job.state_changed" {
		t.Errorf("events = %+v, want created then state_changed", out)
	}
}

func TestServer_Cancel(t *testing.T) {
	srv, reg := newTestServer(t)
	ctx := context.Background()
	job, err := reg.CreateJob(ctx, model.JobKindDocumentProcessing, "owner-1", nil)
	if err != nil {
		t.Fatal(err)
	}

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/jobs/"+job.ID+"/cancel", testAPIKey)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	got, _ := reg.GetJob(ctx, job.ID)
	if got.State != model.JobStateCancelled {
		t.Errorf("state = %s, want cancelled", got.State)
	}

	// Cancelling a terminal job conflicts.
	resp = doRequest(t, http.MethodPost, srv.URL+"/api/v1/jobs/"+job.ID+"/cancel", testAPIKey)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second cancel status = %d, want 409", resp.StatusCode)
	}
}

type discardConn struct{ id string }

func (c discardConn) ID() string                                    { return c.id }
func (c discardConn) Send(ctx context.Context, _ model.Chunk) error { return nil }
func (c discardConn) Close(err error)                               {}

func TestServer_ListSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	job, err := env.reg.CreateJob(ctx, model.JobKindAIStream, "owner-1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.gw.Attach(ctx, discardConn{id: "client-1"}, job.ID, 0); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}

	resp := doRequest(t, http.MethodGet, env.srv.URL+"/api/v1/sessions", testAPIKey)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out []struct {
		SubscriberID string `json:"subscriber_id"`
		JobID        string `json:"job_id"`
		LastAckedSeq int64  `json:"last_acked_seq"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0].SubscriberID != "client-1" || out[0].JobID != job.ID {
		t.Errorf("sessions = %+v, want the attached client", out)
	}
	if out[0].LastAckedSeq != -1 {
		t.Errorf("last_acked_seq = %d, want -1 before any ack", out[0].LastAckedSeq)
	}
}
