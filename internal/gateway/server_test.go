package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/dohr-michael/magpie/internal/drivers"
	"github.com/dohr-michael/magpie/internal/events"
	"github.com/dohr-michael/magpie/internal/records"
	"github.com/dohr-michael/magpie/internal/storage"
	"github.com/dohr-michael/magpie/internal/tasks"
)

// stubManager is an in-memory Manager for exercising the routes without a
// scheduler or browser pool behind them.
type stubManager struct {
	tasks     map[string]tasks.Task
	submitted []records.Query
	pool      drivers.Stats
	submitErr error
}

func newStubManager() *stubManager {
	return &stubManager{
		tasks: make(map[string]tasks.Task),
		pool:  drivers.Stats{Capacity: 2, Idle: 2},
	}
}

func (m *stubManager) Submit(q records.Query) (tasks.Task, error) {
	if m.submitErr != nil {
		return tasks.Task{}, m.submitErr
	}
	m.submitted = append(m.submitted, q)
	t := tasks.Task{
		ID:         "task_http1",
		Status:     tasks.StatusPending,
		StatusCode: 202,
		CreatedAt:  time.Now(),
		Input:      q,
	}
	m.tasks[t.ID] = t
	return t, nil
}

func (m *stubManager) GetStatus(id string) (tasks.Task, error) {
	t, ok := m.tasks[id]
	if !ok {
		return tasks.Task{}, tasks.ErrTaskNotFound
	}
	return t, nil
}

func (m *stubManager) Cancel(id string) (tasks.Task, error) {
	t, ok := m.tasks[id]
	if !ok {
		return tasks.Task{}, tasks.ErrTaskNotFound
	}
	if !t.Status.Terminal() {
		t.Status = tasks.StatusCancelled
		t.StatusCode = 200
		m.tasks[id] = t
	}
	return t, nil
}

func (m *stubManager) Kill(id string) (tasks.Task, error) {
	t, ok := m.tasks[id]
	if !ok {
		return tasks.Task{}, tasks.ErrTaskNotFound
	}
	if !t.Status.Terminal() {
		t.Status = tasks.StatusKilled
		t.StatusCode = 200
		m.tasks[id] = t
	}
	return t, nil
}

func (m *stubManager) List(statuses ...tasks.Status) []tasks.Task {
	out := []tasks.Task{}
	for _, t := range m.tasks {
		if len(statuses) == 0 {
			out = append(out, t)
			continue
		}
		for _, st := range statuses {
			if t.Status == st {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

func (m *stubManager) Stats() tasks.Stats {
	counts := make(map[tasks.Status]int)
	for _, t := range m.tasks {
		counts[t.Status]++
	}
	return tasks.Stats{Tasks: counts, Pool: m.pool}
}

// waitForEvents polls the bus history until at least n events are present.
func waitForEvents(bus *events.Bus, n int) {
	for i := 0; i < 200; i++ {
		if len(bus.History(100)) >= n {
			return
		}
		runtime.Gosched()
		time.Sleep(time.Millisecond)
	}
}

func newTestServer(t *testing.T) (*Server, *stubManager) {
	t.Helper()
	bus := events.NewBus(64)
	t.Cleanup(bus.Close)

	mgr := newStubManager()
	srv := NewServer(bus, mgr, "localhost", 0)
	t.Cleanup(srv.hub.Close)
	return srv, mgr
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decodeMetadata(t *testing.T, w *httptest.ResponseRecorder) tasks.Task {
	t.Helper()
	var body struct {
		Metadata tasks.Task `json:"metadata"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode metadata body: %v", err)
	}
	return body.Metadata
}

func TestHandleScrape(t *testing.T) {
	srv, mgr := newTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/scrape",
		`{"address": [2835, "KUTER", ""], "pages": ["Parcel", "Owner"], "num_results": 1}`)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", w.Code, w.Body.String())
	}

	got := decodeMetadata(t, w)
	if got.ID != "task_http1" {
		t.Fatalf("expected task_http1, got %q", got.ID)
	}
	if got.Status != tasks.StatusPending {
		t.Fatalf("expected Pending, got %q", got.Status)
	}
	if len(mgr.submitted) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(mgr.submitted))
	}
	q := mgr.submitted[0]
	if q.Address.Number != 2835 || q.Address.Street != "KUTER" {
		t.Fatalf("unexpected submitted address: %+v", q.Address)
	}
	if len(q.Pages) != 2 {
		t.Fatalf("expected 2 pages, got %v", q.Pages)
	}
}

func TestHandleScrape_Validation(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"not json", `{`, "invalid request body"},
		{"missing fields", `{"address": [1, "A", ""]}`, "missing required fields"},
		{"extra field", `{"address": [1, "A", ""], "pages": [], "num_results": 1, "bonus": true}`, "invalid request body"},
		{"address wrong arity", `{"address": [1, "A"], "pages": [], "num_results": 1}`, "address"},
		{"address wrong types", `{"address": ["1", "A", ""], "pages": [], "num_results": 1}`, "address"},
		{"pages not a list", `{"address": [1, "A", ""], "pages": "Parcel", "num_results": 1}`, "pages"},
		{"unknown page", `{"address": [1, "A", ""], "pages": ["Basement"], "num_results": 1}`, "unknown page"},
		{"num_results zero", `{"address": [1, "A", ""], "pages": ["Parcel"], "num_results": 0}`, "num_results"},
		{"num_results not int", `{"address": [1, "A", ""], "pages": ["Parcel"], "num_results": "many"}`, "num_results"},
		{"negative house number", `{"address": [-4, "A", ""], "pages": ["Parcel"], "num_results": 1}`, "address number"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, mgr := newTestServer(t)

			w := doRequest(t, srv, http.MethodPost, "/scrape", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d: %s", w.Code, w.Body.String())
			}

			var body map[string]string
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if !strings.Contains(body["error"], tc.want) {
				t.Fatalf("expected error mentioning %q, got %q", tc.want, body["error"])
			}
			if len(mgr.submitted) != 0 {
				t.Fatal("invalid request must not reach the manager")
			}
		})
	}
}

func TestHandleScrape_ClampsNumResults(t *testing.T) {
	srv, mgr := newTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/scrape",
		`{"address": [12, "ELM", "N"], "pages": ["Parcel"], "num_results": 99}`)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", w.Code, w.Body.String())
	}
	if mgr.submitted[0].NumResults != records.MaxResults {
		t.Fatalf("expected num_results clamped to %d, got %d", records.MaxResults, mgr.submitted[0].NumResults)
	}
}

func TestHandleScrape_ManagerClosed(t *testing.T) {
	srv, mgr := newTestServer(t)
	mgr.submitErr = tasks.ErrManagerClosed

	w := doRequest(t, srv, http.MethodPost, "/scrape",
		`{"address": [12, "ELM", ""], "pages": ["Parcel"], "num_results": 1}`)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleTaskStatus(t *testing.T) {
	srv, mgr := newTestServer(t)
	mgr.tasks["task_a"] = tasks.Task{ID: "task_a", Status: tasks.StatusRunning, StatusCode: 202}

	w := doRequest(t, srv, http.MethodGet, "/task/task_a/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	got := decodeMetadata(t, w)
	if got.Status != tasks.StatusRunning {
		t.Fatalf("expected Running, got %q", got.Status)
	}
}

func TestHandleTaskStatus_UnknownIs500(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/task/task_nope/status", "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500 for unknown id, got %d", w.Code)
	}
}

func TestHandleTaskResult(t *testing.T) {
	srv, mgr := newTestServer(t)

	now := time.Now()
	recs := []records.Record{{Heading: "2835 KUTER AVE"}}
	mgr.tasks["task_done"] = tasks.Task{
		ID: "task_done", Status: tasks.StatusCompleted, StatusCode: 200,
		FinishedAt: &now, Result: recs,
	}
	mgr.tasks["task_live"] = tasks.Task{ID: "task_live", Status: tasks.StatusRunning, StatusCode: 202}

	w := doRequest(t, srv, http.MethodGet, "/task/task_done/result", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	got := decodeMetadata(t, w)
	if len(got.Result) != 1 || got.Result[0].Heading != "2835 KUTER AVE" {
		t.Fatalf("unexpected result payload: %+v", got.Result)
	}

	w = doRequest(t, srv, http.MethodGet, "/task/task_live/result", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status 202 for live task, got %d", w.Code)
	}
	var pending map[string]any
	if err := json.NewDecoder(w.Body).Decode(&pending); err != nil {
		t.Fatalf("decode pending body: %v", err)
	}
	if pending["pending"] != true {
		t.Fatalf("expected pending indicator, got %v", pending)
	}

	w = doRequest(t, srv, http.MethodGet, "/task/task_nope/result", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for unknown id, got %d", w.Code)
	}
}

func TestHandleTaskResult_FailedCarriesError(t *testing.T) {
	srv, mgr := newTestServer(t)

	mgr.tasks["task_bad"] = tasks.Task{
		ID: "task_bad", Status: tasks.StatusFailed, StatusCode: 500,
		Error: &tasks.TaskError{Kind: tasks.KindExternalFailure, Message: "search failed: boom"},
	}

	w := doRequest(t, srv, http.MethodGet, "/task/task_bad/result", "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500 for failed task, got %d", w.Code)
	}
	got := decodeMetadata(t, w)
	if got.Error == nil || got.Error.Kind != tasks.KindExternalFailure {
		t.Fatalf("expected captured error detail, got %+v", got.Error)
	}
}

func TestHandleTaskResult_KilledHasNoResult(t *testing.T) {
	srv, mgr := newTestServer(t)
	mgr.tasks["task_k"] = tasks.Task{ID: "task_k", Status: tasks.StatusKilled, StatusCode: 200}

	w := doRequest(t, srv, http.MethodGet, "/task/task_k/result", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for killed task, got %d", w.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !strings.Contains(body["error"], "killed") {
		t.Fatalf("expected killed explanation, got %q", body["error"])
	}
}

func TestHandleTaskCancelAndKill(t *testing.T) {
	srv, mgr := newTestServer(t)
	mgr.tasks["task_c"] = tasks.Task{ID: "task_c", Status: tasks.StatusRunning, StatusCode: 202}
	mgr.tasks["task_k"] = tasks.Task{ID: "task_k", Status: tasks.StatusRunning, StatusCode: 202}

	w := doRequest(t, srv, http.MethodPost, "/task/task_c/cancel", "")
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: expected status 200, got %d", w.Code)
	}
	if got := decodeMetadata(t, w); got.Status != tasks.StatusCancelled {
		t.Fatalf("expected Cancelled, got %q", got.Status)
	}

	w = doRequest(t, srv, http.MethodPost, "/task/task_k/kill", "")
	if w.Code != http.StatusOK {
		t.Fatalf("kill: expected status 200, got %d", w.Code)
	}
	if got := decodeMetadata(t, w); got.Status != tasks.StatusKilled {
		t.Fatalf("expected Killed, got %q", got.Status)
	}

	// Signalling a finished task is a no-op that still answers with metadata.
	w = doRequest(t, srv, http.MethodPost, "/task/task_c/kill", "")
	if w.Code != http.StatusOK {
		t.Fatalf("kill terminal: expected status 200, got %d", w.Code)
	}
	if got := decodeMetadata(t, w); got.Status != tasks.StatusCancelled {
		t.Fatalf("terminal status must not change, got %q", got.Status)
	}

	w = doRequest(t, srv, http.MethodPost, "/task/task_nope/cancel", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for unknown id, got %d", w.Code)
	}
}

func TestHandleTasks(t *testing.T) {
	srv, mgr := newTestServer(t)
	mgr.tasks["task_a"] = tasks.Task{ID: "task_a", Status: tasks.StatusRunning}
	mgr.tasks["task_b"] = tasks.Task{ID: "task_b", Status: tasks.StatusCompleted}
	mgr.tasks["task_c"] = tasks.Task{ID: "task_c", Status: tasks.StatusCompleted}

	w := doRequest(t, srv, http.MethodGet, "/tasks", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var body struct {
		Tasks []tasks.Task `json:"tasks"`
		Count int          `json:"count"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Count != 3 || len(body.Tasks) != 3 {
		t.Fatalf("expected 3 tasks, got count=%d len=%d", body.Count, len(body.Tasks))
	}

	w = doRequest(t, srv, http.MethodGet, "/tasks?status=Completed", "")
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode filtered body: %v", err)
	}
	if body.Count != 2 {
		t.Fatalf("expected 2 completed tasks, got %d", body.Count)
	}

	// Filters are case-insensitive and combinable.
	w = doRequest(t, srv, http.MethodGet, "/tasks?status=running,completed", "")
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode combined body: %v", err)
	}
	if body.Count != 3 {
		t.Fatalf("expected 3 tasks for combined filter, got %d", body.Count)
	}

	w = doRequest(t, srv, http.MethodGet, "/tasks?status=Sleeping", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for unknown status, got %d", w.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	srv, mgr := newTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var body struct {
		Health     string        `json:"health"`
		DriverPool drivers.Stats `json:"driver_pool"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Health != "healthy" {
		t.Fatalf("expected healthy, got %q", body.Health)
	}
	if body.DriverPool.Capacity != 2 || body.DriverPool.Idle != 2 {
		t.Fatalf("unexpected driver pool stats: %+v", body.DriverPool)
	}

	mgr.pool = drivers.Stats{}
	w = doRequest(t, srv, http.MethodGet, "/health", "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500 for dead pool, got %d", w.Code)
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode unhealthy body: %v", err)
	}
	if body.Health != "unhealthy" {
		t.Fatalf("expected unhealthy, got %q", body.Health)
	}
}

func TestHandleEvents_WithHistory(t *testing.T) {
	srv, _ := newTestServer(t)

	srv.bus.Publish(events.NewTypedEventForTask(events.SourceManager, events.TaskPayload{
		TaskID: "task_e1", Status: string(tasks.StatusPending), StatusCode: 202,
	}, "task_e1"))
	srv.bus.Publish(events.NewTypedEventForTask(events.SourceManager, events.TaskPayload{
		TaskID: "task_e1", Status: string(tasks.StatusRunning), StatusCode: 202,
	}, "task_e1"))

	waitForEvents(srv.bus, 2)

	w := doRequest(t, srv, http.MethodGet, "/events", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var body []map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body) < 2 {
		t.Fatalf("expected at least 2 events, got %d", len(body))
	}
	if body[0]["task_id"] != "task_e1" {
		t.Fatalf("expected task_id task_e1, got %v", body[0]["task_id"])
	}
}

func TestHandleEvents_LimitParam(t *testing.T) {
	srv, _ := newTestServer(t)

	for i := 0; i < 10; i++ {
		srv.bus.Publish(events.NewTypedEvent(events.SourcePool, events.PoolStatsPayload{
			Capacity: 2, Idle: 1, Active: 1,
		}))
	}

	waitForEvents(srv.bus, 10)

	w := doRequest(t, srv, http.MethodGet, "/events?limit=5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var body []map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body) != 5 {
		t.Fatalf("expected 5 events with limit=5, got %d", len(body))
	}
}

func TestHandleStats_NotWired(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/stats", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503 without stats, got %d", w.Code)
	}
}

func TestHandleStats(t *testing.T) {
	srv, _ := newTestServer(t)

	st, err := storage.NewStatsTracker(t.TempDir(), srv.bus)
	if err != nil {
		t.Fatalf("NewStatsTracker: %v", err)
	}
	t.Cleanup(st.Close)
	srv.SetStats(st)

	w := doRequest(t, srv, http.MethodGet, "/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var day storage.DailyStats
	if err := json.NewDecoder(w.Body).Decode(&day); err != nil {
		t.Fatalf("decode stats body: %v", err)
	}
	if day.Date == "" {
		t.Fatal("expected a dated stats snapshot")
	}

	w = doRequest(t, srv, http.MethodGet, "/stats?day=2000-01-01", "")
	if err := json.NewDecoder(w.Body).Decode(&day); err != nil {
		t.Fatalf("decode day body: %v", err)
	}
	if day.Date != "2000-01-01" || day.Submitted != 0 {
		t.Fatalf("expected empty stats for 2000-01-01, got %+v", day)
	}
}

func TestHandleArchive(t *testing.T) {
	srv, _ := newTestServer(t)

	dir := t.TempDir()
	idx, err := storage.OpenIndex(dir + "/index.db")
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	t.Cleanup(func() { idx.Close() })

	arch, err := storage.NewArchive(dir, idx)
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}
	srv.SetArchive(arch, idx)

	now := time.Now()
	saved := tasks.Task{
		ID: "task_arc1", Status: tasks.StatusCompleted, StatusCode: 200,
		CreatedAt: now, FinishedAt: &now,
		Input: records.Query{
			Address:    records.Address{Number: 2835, Street: "KUTER"},
			Pages:      []string{records.PageParcel},
			NumResults: 1,
		},
		Result: []records.Record{{Heading: "2835 KUTER AVE"}},
	}
	if err := arch.Save(saved); err != nil {
		t.Fatalf("Save: %v", err)
	}

	w := doRequest(t, srv, http.MethodGet, "/archive", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var list struct {
		Entries []storage.IndexEntry `json:"entries"`
		Count   int                  `json:"count"`
	}
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("decode archive list: %v", err)
	}
	if list.Count != 1 || list.Entries[0].TaskID != "task_arc1" {
		t.Fatalf("unexpected archive list: %+v", list)
	}

	w = doRequest(t, srv, http.MethodGet, "/archive?street=kut", "")
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("decode street filter: %v", err)
	}
	if list.Count != 1 {
		t.Fatalf("expected 1 street match, got %d", list.Count)
	}

	w = doRequest(t, srv, http.MethodGet, "/archive/task_arc1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	got := decodeMetadata(t, w)
	if len(got.Result) != 1 || got.Result[0].Heading != "2835 KUTER AVE" {
		t.Fatalf("expected archived records, got %+v", got.Result)
	}

	w = doRequest(t, srv, http.MethodGet, "/archive/task_nope", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
}
