package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/example/stitchflow/internal/domain"
	"github.com/example/stitchflow/internal/storage"
)

func newTestStore(t *testing.T) *SQLiteStorage {
	t.Helper()

	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return store
}

func createLotWithItem(t *testing.T, store *SQLiteStorage) (*domain.Lot, *domain.WorkItem) {
	t.Helper()
	ctx := context.Background()

	lot := domain.NewLot("lot-1", "basic_tee", "crew-neck", 100)
	lot.Attributes["has_embroidery"] = true
	item := domain.NewWorkItem("wi-1", lot.ID, "", domain.OperationDefinition{
		ID: "cut", Sequence: 10, Name: "Cut panels",
		MachineType: domain.MachineCutting, MinutesPerPiece: 0.8,
	}, 100)

	uow, err := store.BeginImmediate(ctx)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	defer uow.Rollback()
	if err := uow.Lots().Create(ctx, lot); err != nil {
		t.Fatalf("create lot failed: %v", err)
	}
	if err := uow.WorkItems().Create(ctx, item); err != nil {
		t.Fatalf("create work item failed: %v", err)
	}
	if err := uow.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	return lot, item
}

func TestLotRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	lot, _ := createLotWithItem(t, store)

	uow, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	defer uow.Rollback()

	got, err := uow.Lots().Get(ctx, lot.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.TemplateID != "basic_tee" || got.TotalPieces != 100 {
		t.Errorf("lot round trip mismatch: %+v", got)
	}
	if got.Attributes["has_embroidery"] != true {
		t.Errorf("attributes not preserved: %v", got.Attributes)
	}
	if got.Version != 1 {
		t.Errorf("expected version 1, got %d", got.Version)
	}

	if _, err := uow.Lots().Get(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestWorkItemStaleVersionUpdate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, item := createLotWithItem(t, store)

	// First writer wins.
	uow, err := store.BeginImmediate(ctx)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	first, err := uow.WorkItems().Get(ctx, item.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if err := first.Assign("op-1", "sup-1"); err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	if err := uow.WorkItems().Update(ctx, first); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if err := uow.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if first.Version != 2 {
		t.Errorf("expected version bump to 2, got %d", first.Version)
	}

	// Second writer holds the stale snapshot (version 1).
	uow2, err := store.BeginImmediate(ctx)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	defer uow2.Rollback()
	stale := *item
	stale.Status = domain.StatusBlocked
	if err := uow2.WorkItems().Update(ctx, &stale); !errors.Is(err, domain.ErrConcurrentModify) {
		t.Fatalf("expected ErrConcurrentModify, got %v", err)
	}
	uow2.Rollback()

	// The row still carries the first writer's state.
	uow3, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	defer uow3.Rollback()
	got, err := uow3.WorkItems().Get(ctx, item.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != domain.StatusAssigned || got.AssignedOperatorID != "op-1" {
		t.Errorf("stale write leaked: status=%s operator=%s", got.Status, got.AssignedOperatorID)
	}
}

func TestListByLotFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	lot, _ := createLotWithItem(t, store)

	second := domain.NewWorkItem("wi-2", lot.ID, "", domain.OperationDefinition{
		ID: "join", Sequence: 20, Dependencies: []domain.OperationID{"cut"},
	}, 100)

	uow, err := store.BeginImmediate(ctx)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := uow.WorkItems().Create(ctx, second); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := uow.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	read, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	defer read.Rollback()

	all, err := read.WorkItems().ListByLot(ctx, lot.ID, storage.ListOptions{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 items, got %d", len(all))
	}

	pending, err := read.WorkItems().ListByLot(ctx, lot.ID, storage.ListOptions{
		Statuses: []domain.Status{domain.StatusPending},
	})
	if err != nil {
		t.Fatalf("filtered list failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "wi-2" {
		t.Errorf("status filter mismatch: %+v", pending)
	}

	deps := pending[0].Dependencies
	if len(deps) != 1 || deps[0] != "cut" {
		t.Errorf("dependencies not preserved: %v", deps)
	}
}

func TestOperatorAdjustLoadFloorsAtZero(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	operator := domain.NewOperator("op-1", "Mei", []domain.MachineType{domain.MachineOverlock}, 3)

	uow, err := store.BeginImmediate(ctx)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := uow.Operators().Create(ctx, operator); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := uow.Operators().AdjustLoad(ctx, operator.ID, 2); err != nil {
		t.Fatalf("adjust failed: %v", err)
	}
	if err := uow.Operators().AdjustLoad(ctx, operator.ID, -5); err != nil {
		t.Fatalf("adjust failed: %v", err)
	}
	if err := uow.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	read, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	defer read.Rollback()
	got, err := read.Operators().Get(ctx, operator.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.CurrentLoad != 0 {
		t.Errorf("expected load floored at 0, got %d", got.CurrentLoad)
	}
}

func TestAssignmentGetActive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, item := createLotWithItem(t, store)

	assignment := domain.NewAssignment("as-1", item.ID, "op-1", "sup-1", domain.MethodManual)

	uow, err := store.BeginImmediate(ctx)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := uow.Assignments().Create(ctx, assignment); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := uow.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	read, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	active, err := read.Assignments().GetActive(ctx, item.ID)
	if err != nil {
		t.Fatalf("get active failed: %v", err)
	}
	if active.OperatorID != "op-1" || active.ApprovalState != domain.ApprovalConfirmed {
		t.Errorf("unexpected assignment: %+v", active)
	}
	read.Rollback()

	// Release and verify no active assignment remains.
	uow2, err := store.BeginImmediate(ctx)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	active.Release()
	if err := uow2.Assignments().Update(ctx, active); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if err := uow2.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	read2, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	defer read2.Rollback()
	if _, err := read2.Assignments().GetActive(ctx, item.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound after release, got %v", err)
	}

	history, err := read2.Assignments().ListByWorkItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(history) != 1 || !history[0].Released {
		t.Errorf("history mismatch: %+v", history)
	}
}
