package web

import (
	"time"

	"github.com/example/stitchflow/internal/domain"
	"github.com/example/stitchflow/internal/service"
)

// LotInfo is the wire shape of a lot.
type LotInfo struct {
	ID          string         `json:"id"`
	TemplateID  string         `json:"templateId"`
	Style       string         `json:"style,omitempty"`
	TotalPieces int            `json:"totalPieces"`
	Rolls       []RollInfo     `json:"rolls,omitempty"`
	PerRoll     bool           `json:"perRoll"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	Archived    bool           `json:"archived"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	Version     int64          `json:"version"`
}

// RollInfo is the wire shape of a fabric roll.
type RollInfo struct {
	ID     string `json:"id,omitempty"`
	Number int    `json:"number"`
	Pieces int    `json:"pieces"`
}

// WorkItemInfo is the wire shape of a work item.
type WorkItemInfo struct {
	ID                 string     `json:"id"`
	LotID              string     `json:"lotId"`
	RollID             string     `json:"rollId,omitempty"`
	OperationID        string     `json:"operationId"`
	OperationName      string     `json:"operationName"`
	Sequence           int        `json:"sequence"`
	Dependencies       []string   `json:"dependencies,omitempty"`
	MachineType        string     `json:"machineType"`
	SkillLevel         int        `json:"skillLevel"`
	Pieces             int        `json:"pieces"`
	CompletedPieces    int        `json:"completedPieces"`
	Status             string     `json:"status"`
	AssignedOperatorID string     `json:"assignedOperatorId,omitempty"`
	AssignedBy         string     `json:"assignedBy,omitempty"`
	Rate               float64    `json:"rate,omitempty"`
	EstimatedMinutes   float64    `json:"estimatedMinutes,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	StartedAt          *time.Time `json:"startedAt,omitempty"`
	CompletedAt        *time.Time `json:"completedAt,omitempty"`
	UpdatedAt          time.Time  `json:"updatedAt"`
	Version            int64      `json:"version"`
}

// OperatorInfo is the wire shape of a roster entry.
type OperatorInfo struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	MachineCapabilities []string `json:"machineCapabilities,omitempty"`
	MultiSkill          bool     `json:"multiSkill"`
	CurrentLoad         int      `json:"currentLoad"`
	MaxLoad             int      `json:"maxLoad"`
	Efficiency          float64  `json:"efficiency"`
	Active              bool     `json:"active"`
	Version             int64    `json:"version"`
}

// ProgressInfo is the wire shape of a lot progress snapshot.
type ProgressInfo struct {
	LotID               string          `json:"lotId"`
	Total               int             `json:"total"`
	Completed           int             `json:"completed"`
	InProgress          int             `json:"inProgress"`
	Pending             int             `json:"pending"`
	Blocked             int             `json:"blocked"`
	OnHold              int             `json:"onHold"`
	Rejected            int             `json:"rejected"`
	ProgressPercent     int             `json:"progressPercent"`
	CurrentOperation    *OperationInfo  `json:"currentOperation,omitempty"`
	EstimatedCompletion *time.Time      `json:"estimatedCompletion,omitempty"`
	Bottleneck          *BottleneckInfo `json:"bottleneck,omitempty"`
}

// OperationInfo identifies a lot's current operation.
type OperationInfo struct {
	OperationID string `json:"operationId"`
	Name        string `json:"name"`
	Sequence    int    `json:"sequence"`
	Status      string `json:"status"`
}

// BottleneckInfo names the operation with the lowest completion ratio.
type BottleneckInfo struct {
	OperationID     string  `json:"operationId"`
	Name            string  `json:"name"`
	CompletionRatio float64 `json:"completionRatio"`
}

// CreateLotRequest is the body of POST /api/lots.
type CreateLotRequest struct {
	TemplateID  string         `json:"templateId"`
	Style       string         `json:"style"`
	TotalPieces int            `json:"totalPieces"`
	Rolls       []RollInfo     `json:"rolls,omitempty"`
	PerRoll     bool           `json:"perRoll"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// CreateLotResponse returns the created lot and its expanded work items.
type CreateLotResponse struct {
	Lot       LotInfo        `json:"lot"`
	WorkItems []WorkItemInfo `json:"workItems"`
}

// ListLotsResponse is the body of GET /api/lots.
type ListLotsResponse struct {
	Lots []LotInfo `json:"lots"`
}

// ListWorkItemsResponse is the body of work item list endpoints.
type ListWorkItemsResponse struct {
	WorkItems []WorkItemInfo `json:"workItems"`
}

// ListOperatorsResponse is the body of GET /api/operators.
type ListOperatorsResponse struct {
	Operators []OperatorInfo `json:"operators"`
}

// RecordProgressRequest is the body of POST /api/work-items/:id/progress.
type RecordProgressRequest struct {
	CompletedPieces int `json:"completedPieces"`
}

// RejectRequest carries an optional reason for a rejection.
type RejectRequest struct {
	Reason string `json:"reason,omitempty"`
}

// AssignRequest is the body of POST /api/assignments.
type AssignRequest struct {
	WorkItemID string `json:"workItemId"`
	OperatorID string `json:"operatorId"`
}

// BulkConfirmRequest is the body of POST /api/assignments/bulk.
type BulkConfirmRequest struct {
	Proposals []AssignRequest `json:"proposals"`
}

// BulkOutcome is one per-item result of a bulk confirmation.
type BulkOutcome struct {
	WorkItemID string `json:"workItemId"`
	OperatorID string `json:"operatorId"`
	Error      string `json:"error,omitempty"`
}

// BulkConfirmResponse is the body of the bulk confirmation response.
type BulkConfirmResponse struct {
	Outcomes []BulkOutcome `json:"outcomes"`
}

// RegisterOperatorRequest is the body of POST /api/operators.
type RegisterOperatorRequest struct {
	Name                string   `json:"name"`
	MachineCapabilities []string `json:"machineCapabilities,omitempty"`
	MultiSkill          bool     `json:"multiSkill"`
	MaxLoad             int      `json:"maxLoad"`
	Efficiency          float64  `json:"efficiency,omitempty"`
}

// SetActiveRequest is the body of POST /api/operators/:id/active.
type SetActiveRequest struct {
	Active bool `json:"active"`
}

// SplitRequest is the body of POST /api/bundles/split.
type SplitRequest struct {
	WorkItemID  string `json:"workItemId"`
	PieceCounts []int  `json:"pieceCounts"`
}

// MergeRequest is the body of POST /api/bundles/merge.
type MergeRequest struct {
	WorkItemIDs []string `json:"workItemIds"`
}

// RefreshResponse reports how many items a readiness re-scan promoted.
type RefreshResponse struct {
	Promoted int `json:"promoted"`
}

// convertLot converts a domain.Lot to its wire shape.
func convertLot(lot *domain.Lot) LotInfo {
	info := LotInfo{
		ID:          lot.ID,
		TemplateID:  lot.TemplateID,
		Style:       lot.Style,
		TotalPieces: lot.TotalPieces,
		PerRoll:     lot.PerRoll,
		Attributes:  lot.Attributes,
		Archived:    lot.Archived,
		CreatedAt:   lot.CreatedAt,
		UpdatedAt:   lot.UpdatedAt,
		Version:     lot.Version,
	}
	for _, roll := range lot.Rolls {
		info.Rolls = append(info.Rolls, RollInfo{ID: roll.ID, Number: roll.Number, Pieces: roll.Pieces})
	}
	return info
}

// convertWorkItem converts a domain.WorkItem to its wire shape.
func convertWorkItem(item *domain.WorkItem) WorkItemInfo {
	info := WorkItemInfo{
		ID:                 item.ID,
		LotID:              item.LotID,
		RollID:             item.RollID,
		OperationID:        string(item.OperationID),
		OperationName:      item.OperationName,
		Sequence:           item.Sequence,
		MachineType:        string(item.MachineType),
		SkillLevel:         item.SkillLevel,
		Pieces:             item.Pieces,
		CompletedPieces:    item.CompletedPieces,
		Status:             item.Status.String(),
		AssignedOperatorID: item.AssignedOperatorID,
		AssignedBy:         item.AssignedBy,
		Rate:               item.Rate,
		EstimatedMinutes:   item.EstimatedMinutes,
		CreatedAt:          item.CreatedAt,
		StartedAt:          item.StartedAt,
		CompletedAt:        item.CompletedAt,
		UpdatedAt:          item.UpdatedAt,
		Version:            item.Version,
	}
	for _, dep := range item.Dependencies {
		info.Dependencies = append(info.Dependencies, string(dep))
	}
	return info
}

// convertWorkItems converts a slice, keeping the response array non-null.
func convertWorkItems(items []*domain.WorkItem) []WorkItemInfo {
	infos := make([]WorkItemInfo, 0, len(items))
	for _, item := range items {
		infos = append(infos, convertWorkItem(item))
	}
	return infos
}

// convertOperator converts a domain.Operator to its wire shape.
func convertOperator(operator *domain.Operator) OperatorInfo {
	info := OperatorInfo{
		ID:          operator.ID,
		Name:        operator.Name,
		MultiSkill:  operator.MultiSkill,
		CurrentLoad: operator.CurrentLoad,
		MaxLoad:     operator.MaxLoad,
		Efficiency:  operator.Efficiency,
		Active:      operator.Active,
		Version:     operator.Version,
	}
	for _, machine := range operator.MachineCapabilities {
		info.MachineCapabilities = append(info.MachineCapabilities, string(machine))
	}
	return info
}

// convertProgress converts a progress snapshot to its wire shape.
func convertProgress(p *service.LotProgress) ProgressInfo {
	info := ProgressInfo{
		LotID:               p.LotID,
		Total:               p.Total,
		Completed:           p.Completed,
		InProgress:          p.InProgress,
		Pending:             p.Pending,
		Blocked:             p.Blocked,
		OnHold:              p.OnHold,
		Rejected:            p.Rejected,
		ProgressPercent:     p.ProgressPercent,
		EstimatedCompletion: p.EstimatedCompletion,
	}
	if p.CurrentOperation != nil {
		info.CurrentOperation = &OperationInfo{
			OperationID: string(p.CurrentOperation.OperationID),
			Name:        p.CurrentOperation.Name,
			Sequence:    p.CurrentOperation.Sequence,
			Status:      p.CurrentOperation.Status.String(),
		}
	}
	if p.Bottleneck != nil {
		info.Bottleneck = &BottleneckInfo{
			OperationID:     string(p.Bottleneck.OperationID),
			Name:            p.Bottleneck.Name,
			CompletionRatio: p.Bottleneck.CompletionRatio,
		}
	}
	return info
}
