package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/codeagentd/internal/workflow"
	v1 "github.com/fyrsmithlabs/codeagentd/pkg/api/v1"
)

// fakeOrchestrator serves canned snapshots without running a pipeline.
type fakeOrchestrator struct {
	submitted []workflow.Request
	submitErr error
	tasks     map[string]*workflow.Snapshot
	order     []string
	cancelled map[string]string
}

func newFakeOrchestrator() *fakeOrchestrator {
	return &fakeOrchestrator{
		tasks:     map[string]*workflow.Snapshot{},
		cancelled: map[string]string{},
	}
}

func (f *fakeOrchestrator) addTask(id string, stage workflow.Stage, requirement string) *workflow.Snapshot {
	progress, _ := workflow.StageProgress(stage)
	snap := &workflow.Snapshot{
		ID:       id,
		Stage:    stage,
		Progress: progress,
		Request:  workflow.Request{Requirement: requirement, Target: "widget-service"},
		Stats:    map[string]any{},
	}
	f.tasks[id] = snap
	f.order = append(f.order, id)
	return snap
}

func (f *fakeOrchestrator) Submit(ctx context.Context, req workflow.Request) (*workflow.Snapshot, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submitted = append(f.submitted, req)
	snap := f.addTask("task_abc123def456", workflow.StageInit, req.Requirement)
	snap.BranchName = "simple-caching-layer-deadbeef"
	snap.Stats["estimated_duration"] = "3-5 minutes"
	return snap, nil
}

func (f *fakeOrchestrator) Get(id string) (*workflow.Snapshot, error) {
	snap, ok := f.tasks[id]
	if !ok {
		return nil, workflow.ErrTaskNotFound
	}
	return snap, nil
}

func (f *fakeOrchestrator) Cancel(id, reason string) (bool, error) {
	snap, ok := f.tasks[id]
	if !ok {
		return false, workflow.ErrTaskNotFound
	}
	if snap.Stage.IsTerminal() {
		return false, nil
	}
	f.cancelled[id] = reason
	snap.Stage = workflow.StageCancelled
	return true, nil
}

func (f *fakeOrchestrator) List() []*workflow.Snapshot {
	out := make([]*workflow.Snapshot, 0, len(f.order))
	for i := len(f.order) - 1; i >= 0; i-- {
		out = append(out, f.tasks[f.order[i]])
	}
	return out
}

func (f *fakeOrchestrator) ActiveCount() int { return len(f.tasks) - len(f.cancelled) }

func (f *fakeOrchestrator) Uptime() time.Duration { return 90 * time.Second }

func newTestServer(engine Orchestrator) *Server {
	return NewServer(Options{Port: 0, Version: "test"}, engine, nil)
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)
	return rec
}

func TestSubmitAcceptsTask(t *testing.T) {
	engine := newFakeOrchestrator()
	srv := newTestServer(engine)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/code",
		`{"requirements":"Add a simple caching layer","target_service":"widget-service"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp v1.CodeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "task_abc123def456", resp.TaskID)
	assert.Equal(t, v1.StatusInitiated, resp.Status)
	assert.Equal(t, "simple-caching-layer-deadbeef", resp.BranchName)
	assert.Equal(t, "3-5 minutes", resp.EstimatedDuration)

	require.Len(t, engine.submitted, 1)
	assert.Equal(t, "normal", engine.submitted[0].Priority)
}

func TestSubmitRejectsInvalidPayloads(t *testing.T) {
	srv := newTestServer(newFakeOrchestrator())

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"requirements":`},
		{"vague requirements", `{"requirements":"add cache","target_service":"svc"}`},
		{"missing target", `{"requirements":"Add a simple caching layer"}`},
		{"bad priority", `{"requirements":"Add a simple caching layer","target_service":"svc","priority":"urgent"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, srv, http.MethodPost, "/api/v1/code", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var resp v1.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestSubmitEngineFailure(t *testing.T) {
	engine := newFakeOrchestrator()
	engine.submitErr = fmt.Errorf("worker pool exhausted")
	srv := newTestServer(engine)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/code",
		`{"requirements":"Add a simple caching layer","target_service":"widget-service"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStatusEndpoint(t *testing.T) {
	engine := newFakeOrchestrator()
	snap := engine.addTask("task_abc123def456", workflow.StageGeneration, "Add a simple caching layer")
	snap.CommitID = "abc123"
	srv := newTestServer(engine)

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/code/task_abc123def456/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp v1.StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, v1.StatusCoding, resp.Status)
	assert.Equal(t, 60, resp.Progress)
	assert.Equal(t, "abc123", resp.CommitHash)
}

func TestStatusUnknownTask(t *testing.T) {
	srv := newTestServer(newFakeOrchestrator())

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/code/task_missing/status", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelEndpoint(t *testing.T) {
	engine := newFakeOrchestrator()
	engine.addTask("task_abc123def456", workflow.StagePlanning, "Add a simple caching layer")
	srv := newTestServer(engine)

	rec := doJSON(t, srv, http.MethodDelete, "/api/v1/code/task_abc123def456",
		`{"reason":"changed my mind"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp v1.CancelResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, v1.StatusCancelled, resp.Status)
	assert.Equal(t, "changed my mind", engine.cancelled["task_abc123def456"])
}

func TestCancelDefaultsReason(t *testing.T) {
	engine := newFakeOrchestrator()
	engine.addTask("task_abc123def456", workflow.StagePlanning, "Add a simple caching layer")
	srv := newTestServer(engine)

	rec := doJSON(t, srv, http.MethodDelete, "/api/v1/code/task_abc123def456", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled by user request", engine.cancelled["task_abc123def456"])
}

func TestCancelTerminalAndUnknownTasks(t *testing.T) {
	engine := newFakeOrchestrator()
	engine.addTask("task_done", workflow.StageCompleted, "Add a simple caching layer")
	srv := newTestServer(engine)

	rec := doJSON(t, srv, http.MethodDelete, "/api/v1/code/task_done", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, srv, http.MethodDelete, "/api/v1/code/task_missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListEndpoint(t *testing.T) {
	engine := newFakeOrchestrator()
	for i := 0; i < 5; i++ {
		engine.addTask(fmt.Sprintf("task_%012d", i), workflow.StageCompleted, "Add a simple caching layer")
	}
	engine.addTask("task_in_progress", workflow.StageGeneration, "Add a simple caching layer")
	srv := newTestServer(engine)

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/tasks", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp v1.ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 6, resp.Total)
	assert.Len(t, resp.Tasks, 6)
	// Newest first.
	assert.Equal(t, "task_in_progress", resp.Tasks[0].TaskID)
}

func TestListPaginationAndFilter(t *testing.T) {
	engine := newFakeOrchestrator()
	for i := 0; i < 5; i++ {
		engine.addTask(fmt.Sprintf("task_%012d", i), workflow.StageCompleted, "Add a simple caching layer")
	}
	engine.addTask("task_in_progress", workflow.StageGeneration, "Add a simple caching layer")
	srv := newTestServer(engine)

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/tasks?page=2&page_size=4", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp v1.ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 6, resp.Total)
	assert.Len(t, resp.Tasks, 2)
	assert.Equal(t, 2, resp.Page)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/tasks?status=coding", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "task_in_progress", resp.Tasks[0].TaskID)

	// Out of range pages return an empty slice, not an error.
	rec = doJSON(t, srv, http.MethodGet, "/api/v1/tasks?page=99", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Tasks)
	assert.Equal(t, 6, resp.Total)
}

func TestHealthEndpoint(t *testing.T) {
	engine := newFakeOrchestrator()
	engine.addTask("task_abc123def456", workflow.StageGeneration, "Add a simple caching layer")
	srv := newTestServer(engine)

	rec := doJSON(t, srv, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp v1.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "codeagentd", resp.Service)
	assert.Equal(t, "test", resp.Version)
	assert.Equal(t, 90.0, resp.UptimeSeconds)
	assert.Equal(t, 1, resp.ActiveWorkflows)
}
