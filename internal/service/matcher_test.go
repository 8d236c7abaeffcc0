package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/example/stitchflow/internal/domain"
)

func TestAssignRequiresCompatibleMachine(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, items := env.createLot(t)

	// Overlock operator against a cutting item.
	joiner := env.registerOperator(t, "Bo", 0, domain.MachineOverlock)
	_, err := env.matcher.Assign(ctx, supervisor, items["cut"].ID, joiner.ID)
	if !errors.Is(err, domain.ErrIncompatibleAssignment) {
		t.Fatalf("expected ErrIncompatibleAssignment, got %v", err)
	}

	// A multi-skill operator takes anything.
	multi, regErr := env.roster.RegisterOperator(ctx, &RegisterOperatorRequest{Name: "Cy", MultiSkill: true})
	if regErr != nil {
		t.Fatalf("register failed: %v", regErr)
	}
	if _, err := env.matcher.Assign(ctx, supervisor, items["cut"].ID, multi.ID); err != nil {
		t.Fatalf("multi-skill assign failed: %v", err)
	}
}

func TestAssignEnforcesCapacity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Two lots give two ready cut items.
	_, first := env.createLot(t)
	_, second := env.createLot(t)

	cutter := env.registerOperator(t, "Ana", 1, domain.MachineCutting)
	if _, err := env.matcher.Assign(ctx, supervisor, first["cut"].ID, cutter.ID); err != nil {
		t.Fatalf("first assign failed: %v", err)
	}

	_, err := env.matcher.Assign(ctx, supervisor, second["cut"].ID, cutter.ID)
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected capacity rejection, got %v", err)
	}

	after := env.getOperator(t, cutter.ID)
	if after.CurrentLoad != 1 {
		t.Errorf("expected load 1, got %d", after.CurrentLoad)
	}
}

func TestAssignInactiveOperatorRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, items := env.createLot(t)

	cutter := env.registerOperator(t, "Ana", 0, domain.MachineCutting)
	if _, err := env.roster.SetActive(ctx, cutter.ID, false); err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}

	if _, err := env.matcher.Assign(ctx, supervisor, items["cut"].ID, cutter.ID); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected rejection for inactive operator, got %v", err)
	}
}

func TestDoubleAssignFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, items := env.createLot(t)

	ana := env.registerOperator(t, "Ana", 0, domain.MachineCutting)
	bo := env.registerOperator(t, "Bo", 0, domain.MachineCutting)

	if _, err := env.matcher.Assign(ctx, supervisor, items["cut"].ID, ana.ID); err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	if _, err := env.matcher.Assign(ctx, supervisor, items["cut"].ID, bo.ID); !errors.Is(err, domain.ErrAlreadyAssigned) {
		t.Errorf("expected ErrAlreadyAssigned, got %v", err)
	}
}

// TestConcurrentClaims races two assignment attempts on the same ready item:
// exactly one must win and the loser must see AlreadyAssigned.
func TestConcurrentClaims(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, items := env.createLot(t)

	ana := env.registerOperator(t, "Ana", 0, domain.MachineCutting)
	bo := env.registerOperator(t, "Bo", 0, domain.MachineCutting)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, op := range []string{ana.ID, bo.ID} {
		wg.Add(1)
		go func(idx int, operatorID string) {
			defer wg.Done()
			_, err := env.matcher.Assign(ctx, supervisor, items["cut"].ID, operatorID)
			results[idx] = err
		}(i, op)
	}
	wg.Wait()

	var wins, losses int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, domain.ErrAlreadyAssigned):
			losses++
		default:
			t.Errorf("unexpected claim error: %v", err)
		}
	}
	if wins != 1 || losses != 1 {
		t.Errorf("wins=%d losses=%d, want exactly one of each", wins, losses)
	}

	item := env.getItem(t, items["cut"].ID)
	if item.Status != domain.StatusAssigned {
		t.Errorf("expected ASSIGNED, got %s", item.Status)
	}
}

func TestSelfAssignmentApprovalFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, items := env.createLot(t)

	cutter := env.registerOperator(t, "Ana", 0, domain.MachineCutting)
	self := domain.Actor{ID: cutter.ID, Role: domain.RoleOperator}

	claimed, err := env.matcher.Assign(ctx, self, items["cut"].ID, cutter.ID)
	if err != nil {
		t.Fatalf("self assign failed: %v", err)
	}
	if claimed.Status != domain.StatusSelfAssigned {
		t.Fatalf("expected SELF_ASSIGNED, got %s", claimed.Status)
	}

	// A second self-assign while one is pending is a conflict, not a claim race.
	if _, err := env.matcher.Assign(ctx, self, items["cut"].ID, cutter.ID); !errors.Is(err, domain.ErrAssignmentConflict) {
		t.Errorf("expected ErrAssignmentConflict, got %v", err)
	}

	// Operators cannot approve.
	if _, err := env.matcher.ApproveSelfAssignment(ctx, self, items["cut"].ID); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Errorf("expected ErrPermissionDenied for operator approval, got %v", err)
	}

	approved, err := env.matcher.ApproveSelfAssignment(ctx, supervisor, items["cut"].ID)
	if err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if approved.Status != domain.StatusAssigned {
		t.Errorf("expected ASSIGNED after approval, got %s", approved.Status)
	}
}

func TestSelfAssignmentRejectionReturnsToReady(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, items := env.createLot(t)

	cutter := env.registerOperator(t, "Ana", 0, domain.MachineCutting)
	self := domain.Actor{ID: cutter.ID, Role: domain.RoleOperator}

	if _, err := env.matcher.Assign(ctx, self, items["cut"].ID, cutter.ID); err != nil {
		t.Fatalf("self assign failed: %v", err)
	}

	released, err := env.matcher.RejectSelfAssignment(ctx, supervisor, items["cut"].ID, "needs a senior cutter")
	if err != nil {
		t.Fatalf("reject failed: %v", err)
	}
	if released.Status != domain.StatusReady {
		t.Errorf("expected READY after rejection, got %s", released.Status)
	}
	if released.AssignedOperatorID != "" {
		t.Errorf("operator not cleared: %s", released.AssignedOperatorID)
	}

	after := env.getOperator(t, cutter.ID)
	if after.CurrentLoad != 0 {
		t.Errorf("expected load released, got %d", after.CurrentLoad)
	}

	// The item is claimable again.
	if _, err := env.matcher.Assign(ctx, supervisor, items["cut"].ID, cutter.ID); err != nil {
		t.Errorf("reassign after rejection failed: %v", err)
	}
}

func TestBulkConfirmPartialFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, items := env.createLot(t)

	cutter := env.registerOperator(t, "Ana", 0, domain.MachineCutting)
	joiner := env.registerOperator(t, "Bo", 0, domain.MachineOverlock)

	outcomes := env.matcher.BulkConfirm(ctx, supervisor, []Proposal{
		{WorkItemID: items["cut"].ID, OperatorID: cutter.ID},
		// join is still PENDING; this proposal must fail alone.
		{WorkItemID: items["join"].ID, OperatorID: joiner.ID},
	})
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	if outcomes[0].Err != nil {
		t.Errorf("first proposal should commit, got %v", outcomes[0].Err)
	}
	if !errors.Is(outcomes[1].Err, domain.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition for pending item, got %v", outcomes[1].Err)
	}

	// The failing proposal did not roll back the good one.
	item := env.getItem(t, items["cut"].ID)
	if item.Status != domain.StatusAssigned {
		t.Errorf("expected ASSIGNED, got %s", item.Status)
	}
}

func TestUnassignReturnsItemAndLoad(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, items := env.createLot(t)

	cutter := env.registerOperator(t, "Ana", 0, domain.MachineCutting)
	if _, err := env.matcher.Assign(ctx, supervisor, items["cut"].ID, cutter.ID); err != nil {
		t.Fatalf("assign failed: %v", err)
	}

	intruder := domain.Actor{ID: "op-other", Role: domain.RoleOperator}
	if _, err := env.matcher.Unassign(ctx, intruder, items["cut"].ID); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Errorf("expected ErrPermissionDenied for foreign unassign, got %v", err)
	}

	released, err := env.matcher.Unassign(ctx, supervisor, items["cut"].ID)
	if err != nil {
		t.Fatalf("unassign failed: %v", err)
	}
	if released.Status != domain.StatusReady {
		t.Errorf("expected READY, got %s", released.Status)
	}

	after := env.getOperator(t, cutter.ID)
	if after.CurrentLoad != 0 {
		t.Errorf("expected load 0 after unassign, got %d", after.CurrentLoad)
	}
}

func TestRankOperators(t *testing.T) {
	item := &domain.WorkItem{MachineType: domain.MachineOverlock}

	busy := &domain.Operator{ID: "busy", MachineCapabilities: []domain.MachineType{domain.MachineOverlock}, CurrentLoad: 3, MaxLoad: 4}
	idle := &domain.Operator{ID: "idle", MachineCapabilities: []domain.MachineType{domain.MachineOverlock}, CurrentLoad: 0, MaxLoad: 4}
	wrong := &domain.Operator{ID: "wrong", MachineCapabilities: []domain.MachineType{domain.MachineCutting}, CurrentLoad: 0, MaxLoad: 4}

	ranked := RankOperators(item, []*domain.Operator{wrong, busy, idle})
	got := []string{ranked[0].ID, ranked[1].ID, ranked[2].ID}
	want := []string{"idle", "busy", "wrong"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rank order %v, want %v", got, want)
		}
	}
}
