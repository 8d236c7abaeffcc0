package domain

import "time"

// Operator is a production worker who can be assigned work items.
// CurrentLoad is mutated only by the assignment matcher, in the same
// transaction as the corresponding work item status change.
type Operator struct {
	ID                  string
	Name                string
	MachineCapabilities []MachineType
	// MultiSkill grants wildcard machine compatibility.
	MultiSkill  bool
	CurrentLoad int
	MaxLoad     int
	Efficiency  float64
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Version     int64
}

// NewOperator creates an active operator with zero load.
func NewOperator(id, name string, capabilities []MachineType, maxLoad int) *Operator {
	now := time.Now().UTC()
	return &Operator{
		ID:                  id,
		Name:                name,
		MachineCapabilities: append([]MachineType(nil), capabilities...),
		MaxLoad:             maxLoad,
		Efficiency:          1.0,
		Active:              true,
		CreatedAt:           now,
		UpdatedAt:           now,
		Version:             1,
	}
}

// CanOperate returns true if the operator is compatible with the machine type.
func (o *Operator) CanOperate(machine MachineType) bool {
	if o.MultiSkill {
		return true
	}
	for _, m := range o.MachineCapabilities {
		if m == machine {
			return true
		}
	}
	return false
}

// HasCapacity returns true if the operator can take more work.
func (o *Operator) HasCapacity() bool {
	return o.MaxLoad <= 0 || o.CurrentLoad < o.MaxLoad
}

// LoadRatio returns CurrentLoad/MaxLoad for ranking. Operators without a
// load cap rank by raw load against an implied cap.
func (o *Operator) LoadRatio() float64 {
	if o.MaxLoad <= 0 {
		return float64(o.CurrentLoad)
	}
	return float64(o.CurrentLoad) / float64(o.MaxLoad)
}
