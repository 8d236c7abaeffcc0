package domain

import "fmt"

// OperationID identifies an operation within a template.
type OperationID string

// MachineType identifies a class of sewing machinery.
type MachineType string

const (
	MachineCutting    MachineType = "cutting"
	MachineSingle     MachineType = "single_needle"
	MachineOverlock   MachineType = "overlock"
	MachineFlatlock   MachineType = "flatlock"
	MachineButtonhole MachineType = "buttonhole"
	MachineBartack    MachineType = "bartack"
	MachineIron       MachineType = "iron"
	MachineManual     MachineType = "manual"
)

// OperationDefinition describes one production operation in a template.
// Sequence is an ordering hint for display; readiness is dependency-driven.
type OperationDefinition struct {
	ID              OperationID   `yaml:"id"`
	Sequence        int           `yaml:"sequence"`
	Name            string        `yaml:"name"`
	MachineType     MachineType   `yaml:"machine_type"`
	SkillLevel      int           `yaml:"skill_level"`
	MinutesPerPiece float64       `yaml:"minutes_per_piece"`
	Rate            float64       `yaml:"rate"`
	Dependencies    []OperationID `yaml:"dependencies"`
	// Rule is an optional expr expression evaluated against the lot's
	// attributes at expansion time. When it evaluates to false the
	// operation is skipped for that lot.
	Rule string `yaml:"rule,omitempty"`
}

// OperationTemplate is a reusable, dependency-graphed list of operations for
// a garment type.
type OperationTemplate struct {
	ID         string                `yaml:"id"`
	Name       string                `yaml:"name"`
	Garment    string                `yaml:"garment"`
	Operations []OperationDefinition `yaml:"operations"`
}

// Validate rejects templates with duplicate operation ids, dependency
// references to unknown operations, or dependency cycles.
func (t *OperationTemplate) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: template id is required", ErrInvalidTemplate)
	}
	if len(t.Operations) == 0 {
		return fmt.Errorf("%w: template %s has no operations", ErrInvalidTemplate, t.ID)
	}

	byID := make(map[OperationID]*OperationDefinition, len(t.Operations))
	for i := range t.Operations {
		op := &t.Operations[i]
		if op.ID == "" {
			return fmt.Errorf("%w: template %s has an operation without an id", ErrInvalidTemplate, t.ID)
		}
		if _, dup := byID[op.ID]; dup {
			return fmt.Errorf("%w: template %s has duplicate operation %s", ErrInvalidTemplate, t.ID, op.ID)
		}
		byID[op.ID] = op
	}

	for _, op := range t.Operations {
		for _, dep := range op.Dependencies {
			if _, ok := byID[dep]; !ok {
				return fmt.Errorf("%w: operation %s depends on unknown operation %s",
					ErrInvalidTemplate, op.ID, dep)
			}
			if dep == op.ID {
				return fmt.Errorf("%w: operation %s depends on itself", ErrInvalidTemplate, op.ID)
			}
		}
	}

	if cycle := findCycle(byID); cycle != "" {
		return fmt.Errorf("%w: dependency cycle involving operation %s", ErrInvalidTemplate, cycle)
	}

	return nil
}

// Operation returns the definition for an operation id, if present.
func (t *OperationTemplate) Operation(id OperationID) (*OperationDefinition, bool) {
	for i := range t.Operations {
		if t.Operations[i].ID == id {
			return &t.Operations[i], true
		}
	}
	return nil, false
}

const (
	colorWhite = 0 // unvisited
	colorGray  = 1 // on the current path
	colorBlack = 2 // fully explored
)

// findCycle runs a three-color DFS over the dependency graph and returns an
// operation id on a cycle, or "" when the graph is a DAG.
func findCycle(ops map[OperationID]*OperationDefinition) OperationID {
	color := make(map[OperationID]int, len(ops))

	var visit func(id OperationID) OperationID
	visit = func(id OperationID) OperationID {
		color[id] = colorGray
		for _, dep := range ops[id].Dependencies {
			switch color[dep] {
			case colorGray:
				return dep
			case colorWhite:
				if hit := visit(dep); hit != "" {
					return hit
				}
			}
		}
		color[id] = colorBlack
		return ""
	}

	for id := range ops {
		if color[id] == colorWhite {
			if hit := visit(id); hit != "" {
				return hit
			}
		}
	}
	return ""
}
