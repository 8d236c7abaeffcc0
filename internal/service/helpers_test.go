package service

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/example/stitchflow/internal/domain"
	"github.com/example/stitchflow/internal/observability"
	"github.com/example/stitchflow/internal/storage/sqlite"
	"github.com/example/stitchflow/internal/template"
)

const testTemplateYAML = `
id: basic_tee
name: Basic T-Shirt
garment: tshirt
operations:
  - id: cut
    sequence: 10
    name: Cut panels
    machine_type: cutting
    minutes_per_piece: 0.8
  - id: join
    sequence: 20
    name: Join shoulders
    machine_type: overlock
    minutes_per_piece: 1.2
    dependencies: [cut]
  - id: hem
    sequence: 30
    name: Hem bottom
    machine_type: flatlock
    minutes_per_piece: 0.9
    dependencies: [join]
`

var (
	supervisor = domain.Actor{ID: "sup-1", Role: domain.RoleSupervisor}
	operator1  = domain.Actor{ID: "op-1", Role: domain.RoleOperator}
)

// testEnv wires the services against an in-memory database.
type testEnv struct {
	storage  *sqlite.SQLiteStorage
	catalog  *template.Catalog
	workflow *WorkflowService
	matcher  *MatcherService
	progress *ProgressService
	bundles  *BundleService
	roster   *RosterService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	tmpl, err := template.Parse([]byte(testTemplateYAML))
	if err != nil {
		t.Fatalf("failed to parse test template: %v", err)
	}
	catalog := template.NewCatalog()
	if err := catalog.Add(tmpl); err != nil {
		t.Fatalf("failed to add template: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	metrics := observability.NewMetrics()

	return &testEnv{
		storage:  store,
		catalog:  catalog,
		workflow: NewWorkflowService(store, catalog, nil, metrics, logger),
		matcher:  NewMatcherService(store, nil, metrics, logger),
		progress: NewProgressService(store, metrics),
		bundles:  NewBundleService(store, nil, metrics, logger),
		roster:   NewRosterService(store, logger),
	}
}

// createLot expands the test template for a 100-piece lot.
func (e *testEnv) createLot(t *testing.T) (*domain.Lot, map[domain.OperationID]*domain.WorkItem) {
	t.Helper()

	lot, items, err := e.workflow.CreateLot(context.Background(), &CreateLotRequest{
		TemplateID:  "basic_tee",
		Style:       "crew-neck",
		TotalPieces: 100,
	})
	if err != nil {
		t.Fatalf("failed to create lot: %v", err)
	}

	byOp := make(map[domain.OperationID]*domain.WorkItem, len(items))
	for _, item := range items {
		byOp[item.OperationID] = item
	}
	return lot, byOp
}

// registerOperator adds a roster entry with the given capabilities.
func (e *testEnv) registerOperator(t *testing.T, name string, maxLoad int, machines ...domain.MachineType) *domain.Operator {
	t.Helper()

	op, err := e.roster.RegisterOperator(context.Background(), &RegisterOperatorRequest{
		Name:                name,
		MachineCapabilities: machines,
		MaxLoad:             maxLoad,
	})
	if err != nil {
		t.Fatalf("failed to register operator: %v", err)
	}
	return op
}

// driveToCompletion walks an item through assign, start, full progress, complete.
func (e *testEnv) driveToCompletion(t *testing.T, item *domain.WorkItem, op *domain.Operator) {
	t.Helper()
	ctx := context.Background()

	if _, err := e.matcher.Assign(ctx, supervisor, item.ID, op.ID); err != nil {
		t.Fatalf("assign %s failed: %v", item.OperationID, err)
	}
	actor := domain.Actor{ID: op.ID, Role: domain.RoleOperator}
	if _, err := e.workflow.StartWork(ctx, actor, item.ID); err != nil {
		t.Fatalf("start %s failed: %v", item.OperationID, err)
	}
	if _, err := e.workflow.RecordProgress(ctx, actor, item.ID, item.Pieces); err != nil {
		t.Fatalf("progress %s failed: %v", item.OperationID, err)
	}
	if _, err := e.workflow.CompleteWork(ctx, actor, item.ID); err != nil {
		t.Fatalf("complete %s failed: %v", item.OperationID, err)
	}
}

func (e *testEnv) getItem(t *testing.T, id string) *domain.WorkItem {
	t.Helper()
	item, err := e.workflow.GetWorkItem(context.Background(), id)
	if err != nil {
		t.Fatalf("get work item failed: %v", err)
	}
	return item
}

func (e *testEnv) getOperator(t *testing.T, id string) *domain.Operator {
	t.Helper()
	op, err := e.roster.GetOperator(context.Background(), id)
	if err != nil {
		t.Fatalf("get operator failed: %v", err)
	}
	return op
}
