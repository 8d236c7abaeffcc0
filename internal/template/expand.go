package template

import (
	"fmt"

	"github.com/antonmedv/expr"

	"github.com/example/stitchflow/internal/domain"
	"github.com/example/stitchflow/pkg/id"
)

// Expand instantiates work items for a lot from a validated template: one
// item per operation, or one per operation per roll when the lot is flagged
// PerRoll. Operations whose rule evaluates to false against the lot's
// attributes are skipped entirely, together with any dependency edges that
// pointed at them.
func Expand(tmpl *domain.OperationTemplate, lot *domain.Lot) ([]*domain.WorkItem, error) {
	kept := make([]domain.OperationDefinition, 0, len(tmpl.Operations))
	skipped := make(map[domain.OperationID]bool)
	for _, op := range tmpl.Operations {
		apply, err := evaluateRule(op.Rule, lot)
		if err != nil {
			return nil, fmt.Errorf("%w: operation %s: %v", domain.ErrInvalidTemplate, op.ID, err)
		}
		if !apply {
			skipped[op.ID] = true
			continue
		}
		kept = append(kept, op)
	}

	// Drop dependency edges that pointed at skipped operations so the
	// remaining graph stays satisfiable.
	for i := range kept {
		if len(kept[i].Dependencies) == 0 {
			continue
		}
		deps := make([]domain.OperationID, 0, len(kept[i].Dependencies))
		for _, dep := range kept[i].Dependencies {
			if !skipped[dep] {
				deps = append(deps, dep)
			}
		}
		kept[i].Dependencies = deps
	}

	var items []*domain.WorkItem
	if lot.PerRoll && len(lot.Rolls) > 0 {
		for _, roll := range lot.Rolls {
			for _, op := range kept {
				items = append(items, domain.NewWorkItem(id.Generate(), lot.ID, roll.ID, op, roll.Pieces))
			}
		}
	} else {
		for _, op := range kept {
			items = append(items, domain.NewWorkItem(id.Generate(), lot.ID, "", op, lot.TotalPieces))
		}
	}
	return items, nil
}

// evaluateRule runs an operation's applicability rule against the lot.
// An empty rule always applies.
func evaluateRule(rule string, lot *domain.Lot) (bool, error) {
	if rule == "" {
		return true, nil
	}
	env := map[string]any{
		"style":  lot.Style,
		"pieces": lot.TotalPieces,
		"attrs":  lot.Attributes,
	}
	program, err := expr.Compile(rule, expr.Env(env))
	if err != nil {
		return false, fmt.Errorf("rule compilation failed: %w", err)
	}
	result, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("rule execution failed: %w", err)
	}
	apply, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("rule result is not a boolean")
	}
	return apply, nil
}
