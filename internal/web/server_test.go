package web

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/example/stitchflow/internal/observability"
	"github.com/example/stitchflow/internal/service"
	"github.com/example/stitchflow/internal/storage/sqlite"
	"github.com/example/stitchflow/internal/template"
)

const testTemplateYAML = `
id: basic_tee
name: Basic T-Shirt
operations:
  - id: cut
    sequence: 10
    machine_type: cutting
    minutes_per_piece: 0.8
  - id: join
    sequence: 20
    machine_type: overlock
    minutes_per_piece: 1.2
    dependencies: [cut]
`

// testEnv provides a minimal environment for web tests.
type testEnv struct {
	storage *sqlite.SQLiteStorage
	server  *Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	ctx := context.Background()
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	tmpl, err := template.Parse([]byte(testTemplateYAML))
	if err != nil {
		t.Fatalf("failed to parse template: %v", err)
	}
	catalog := template.NewCatalog()
	if err := catalog.Add(tmpl); err != nil {
		t.Fatalf("failed to add template: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	metrics := observability.NewMetrics()

	server := NewServer(":0", Services{
		Workflow: service.NewWorkflowService(store, catalog, nil, metrics, logger),
		Matcher:  service.NewMatcherService(store, nil, metrics, logger),
		Progress: service.NewProgressService(store, metrics),
		Bundles:  service.NewBundleService(store, nil, metrics, logger),
		Roster:   service.NewRosterService(store, logger),
	})

	return &testEnv{storage: store, server: server}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rr, req)
	return rr
}

var supervisorHeaders = map[string]string{"X-Actor-ID": "sup-1", "X-Actor-Role": "supervisor"}

func (e *testEnv) createLot(t *testing.T) CreateLotResponse {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/api/lots", CreateLotRequest{
		TemplateID:  "basic_tee",
		TotalPieces: 100,
	}, supervisorHeaders)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create lot: status %d, body %s", rr.Code, rr.Body.String())
	}
	var resp CreateLotResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode create lot response: %v", err)
	}
	return resp
}

func TestLotLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	created := env.createLot(t)

	if len(created.WorkItems) != 2 {
		t.Fatalf("expected 2 work items, got %d", len(created.WorkItems))
	}

	// Fetch the lot back.
	rr := env.do(t, http.MethodGet, "/api/lots/"+created.Lot.ID, nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get lot: status %d", rr.Code)
	}
	var lot LotInfo
	if err := json.Unmarshal(rr.Body.Bytes(), &lot); err != nil {
		t.Fatalf("decode lot: %v", err)
	}
	if lot.TotalPieces != 100 {
		t.Errorf("totalPieces = %d, want 100", lot.TotalPieces)
	}

	// Progress projection.
	rr = env.do(t, http.MethodGet, "/api/lots/"+created.Lot.ID+"/progress", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get progress: status %d", rr.Code)
	}
	var progress ProgressInfo
	if err := json.Unmarshal(rr.Body.Bytes(), &progress); err != nil {
		t.Fatalf("decode progress: %v", err)
	}
	if progress.Total != 2 || progress.ProgressPercent != 0 {
		t.Errorf("progress total=%d percent=%d", progress.Total, progress.ProgressPercent)
	}

	// Status filter on the work item list.
	rr = env.do(t, http.MethodGet, "/api/lots/"+created.Lot.ID+"/work-items?status=READY", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list work items: status %d", rr.Code)
	}
	var list ListWorkItemsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.WorkItems) != 1 || list.WorkItems[0].OperationID != "cut" {
		t.Errorf("ready filter returned %+v", list.WorkItems)
	}
}

func TestAssignmentFlowOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	created := env.createLot(t)

	var cutID string
	for _, item := range created.WorkItems {
		if item.OperationID == "cut" {
			cutID = item.ID
		}
	}

	// Register an operator.
	rr := env.do(t, http.MethodPost, "/api/operators", RegisterOperatorRequest{
		Name:                "Ana",
		MachineCapabilities: []string{"cutting"},
	}, supervisorHeaders)
	if rr.Code != http.StatusCreated {
		t.Fatalf("register operator: status %d, body %s", rr.Code, rr.Body.String())
	}
	var op OperatorInfo
	if err := json.Unmarshal(rr.Body.Bytes(), &op); err != nil {
		t.Fatalf("decode operator: %v", err)
	}

	// Assignment requires an identity.
	rr = env.do(t, http.MethodPost, "/api/assignments", AssignRequest{WorkItemID: cutID, OperatorID: op.ID}, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("anonymous assign: status %d, want 401", rr.Code)
	}

	rr = env.do(t, http.MethodPost, "/api/assignments", AssignRequest{WorkItemID: cutID, OperatorID: op.ID}, supervisorHeaders)
	if rr.Code != http.StatusCreated {
		t.Fatalf("assign: status %d, body %s", rr.Code, rr.Body.String())
	}

	// A second claim maps to 409.
	rr = env.do(t, http.MethodPost, "/api/assignments", AssignRequest{WorkItemID: cutID, OperatorID: op.ID}, supervisorHeaders)
	if rr.Code != http.StatusConflict {
		t.Errorf("double assign: status %d, want 409", rr.Code)
	}

	// Drive the item to completion through the transition endpoints.
	opHeaders := map[string]string{"X-Actor-ID": op.ID, "X-Actor-Role": "operator"}
	rr = env.do(t, http.MethodPost, "/api/work-items/"+cutID+"/start", nil, opHeaders)
	if rr.Code != http.StatusOK {
		t.Fatalf("start: status %d, body %s", rr.Code, rr.Body.String())
	}
	rr = env.do(t, http.MethodPost, "/api/work-items/"+cutID+"/progress", RecordProgressRequest{CompletedPieces: 100}, opHeaders)
	if rr.Code != http.StatusOK {
		t.Fatalf("progress: status %d, body %s", rr.Code, rr.Body.String())
	}
	rr = env.do(t, http.MethodPost, "/api/work-items/"+cutID+"/complete", nil, opHeaders)
	if rr.Code != http.StatusOK {
		t.Fatalf("complete: status %d, body %s", rr.Code, rr.Body.String())
	}

	// Downstream item is now in the ready pool.
	rr = env.do(t, http.MethodGet, "/api/work-items/ready", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("ready list: status %d", rr.Code)
	}
	var ready ListWorkItemsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &ready); err != nil {
		t.Fatalf("decode ready list: %v", err)
	}
	if len(ready.WorkItems) != 1 || ready.WorkItems[0].OperationID != "join" {
		t.Errorf("ready pool = %+v, want join", ready.WorkItems)
	}
}

func TestErrorMappingOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	created := env.createLot(t)

	tests := []struct {
		name       string
		method     string
		path       string
		body       any
		headers    map[string]string
		wantStatus int
	}{
		{
			name:       "unknown lot",
			method:     http.MethodGet,
			path:       "/api/lots/nope",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "unknown template",
			method:     http.MethodPost,
			path:       "/api/lots",
			body:       CreateLotRequest{TemplateID: "nope", TotalPieces: 10},
			headers:    supervisorHeaders,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "non-positive pieces",
			method:     http.MethodPost,
			path:       "/api/lots",
			body:       CreateLotRequest{TemplateID: "basic_tee"},
			headers:    supervisorHeaders,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "operator cannot split",
			method:     http.MethodPost,
			path:       "/api/bundles/split",
			body:       SplitRequest{WorkItemID: created.WorkItems[0].ID, PieceCounts: []int{50, 50}},
			headers:    map[string]string{"X-Actor-ID": "op-9", "X-Actor-Role": "operator"},
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "split piece mismatch",
			method:     http.MethodPost,
			path:       "/api/bundles/split",
			body:       SplitRequest{WorkItemID: created.WorkItems[0].ID, PieceCounts: []int{20, 30}},
			headers:    supervisorHeaders,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "bad status filter",
			method:     http.MethodGet,
			path:       "/api/lots/" + created.Lot.ID + "/work-items?status=WAT",
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, tt.method, tt.path, tt.body, tt.headers)
			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d; body: %s", rr.Code, tt.wantStatus, rr.Body.String())
			}
		})
	}
}

func TestBundleSplitOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	created := env.createLot(t)

	var cutID string
	for _, item := range created.WorkItems {
		if item.OperationID == "cut" {
			cutID = item.ID
		}
	}

	rr := env.do(t, http.MethodPost, "/api/bundles/split",
		SplitRequest{WorkItemID: cutID, PieceCounts: []int{60, 40}}, supervisorHeaders)
	if rr.Code != http.StatusCreated {
		t.Fatalf("split: status %d, body %s", rr.Code, rr.Body.String())
	}
	var children ListWorkItemsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &children); err != nil {
		t.Fatalf("decode children: %v", err)
	}
	if len(children.WorkItems) != 2 {
		t.Fatalf("expected 2 children, got %d", len(children.WorkItems))
	}

	// Merge them back.
	rr = env.do(t, http.MethodPost, "/api/bundles/merge",
		MergeRequest{WorkItemIDs: []string{children.WorkItems[0].ID, children.WorkItems[1].ID}}, supervisorHeaders)
	if rr.Code != http.StatusCreated {
		t.Fatalf("merge: status %d, body %s", rr.Code, rr.Body.String())
	}
	var merged WorkItemInfo
	if err := json.Unmarshal(rr.Body.Bytes(), &merged); err != nil {
		t.Fatalf("decode merged: %v", err)
	}
	if merged.Pieces != 100 {
		t.Errorf("merged pieces = %d, want 100", merged.Pieces)
	}
}
