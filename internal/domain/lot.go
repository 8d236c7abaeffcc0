package domain

import "time"

// Roll is a physical roll of fabric contributing pieces to a lot.
type Roll struct {
	ID     string
	Number int
	Pieces int
}

// Lot is a batch of garment pieces moving through production as a unit.
// Lots are archived on completion, never deleted.
type Lot struct {
	ID          string
	TemplateID  string
	Style       string
	TotalPieces int
	Rolls       []Roll
	// PerRoll indicates the lot was expanded with one work item per
	// operation per roll instead of one per operation.
	PerRoll bool
	// Attributes feed template operation rules (e.g. layers, has_embroidery).
	Attributes map[string]any
	Archived   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Version    int64
}

// NewLot creates a new lot for a template.
func NewLot(id, templateID, style string, totalPieces int) *Lot {
	now := time.Now().UTC()
	return &Lot{
		ID:          id,
		TemplateID:  templateID,
		Style:       style,
		TotalPieces: totalPieces,
		Attributes:  make(map[string]any),
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}
}

// Archive marks the lot as archived.
func (l *Lot) Archive() {
	l.Archived = true
	l.UpdatedAt = time.Now().UTC()
}
