package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/example/stitchflow/internal/domain"
	"github.com/example/stitchflow/internal/storage"
	"github.com/example/stitchflow/pkg/id"
)

// RosterService maintains the operator registry the matcher draws from.
type RosterService struct {
	storage storage.Storage
	logger  *slog.Logger
}

// NewRosterService creates a RosterService.
func NewRosterService(store storage.Storage, logger *slog.Logger) *RosterService {
	return &RosterService{
		storage: store,
		logger:  logger.With("component", "roster"),
	}
}

// RegisterOperatorRequest is the request for RegisterOperator.
type RegisterOperatorRequest struct {
	Name                string
	MachineCapabilities []domain.MachineType
	MultiSkill          bool
	// MaxLoad of zero or less means unlimited concurrent assignments.
	MaxLoad    int
	Efficiency float64
}

// RegisterOperator adds an operator to the roster.
func (s *RosterService) RegisterOperator(ctx context.Context, req *RegisterOperatorRequest) (*domain.Operator, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("%w: operator name is required", domain.ErrInvalidArgument)
	}
	if !req.MultiSkill && len(req.MachineCapabilities) == 0 {
		return nil, fmt.Errorf("%w: operator needs at least one machine capability", domain.ErrInvalidArgument)
	}

	operator := domain.NewOperator(id.Generate(), req.Name, req.MachineCapabilities, req.MaxLoad)
	operator.MultiSkill = req.MultiSkill
	if req.Efficiency > 0 {
		operator.Efficiency = req.Efficiency
	}

	uow, err := s.storage.BeginImmediate(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	if err := uow.Operators().Create(ctx, operator); err != nil {
		return nil, err
	}
	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	s.logger.Info("operator registered", "operator_id", operator.ID, "name", operator.Name)
	return operator, nil
}

// GetOperator retrieves an operator by ID.
func (s *RosterService) GetOperator(ctx context.Context, operatorID string) (*domain.Operator, error) {
	uow, err := s.storage.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	return uow.Operators().Get(ctx, operatorID)
}

// ListOperators lists the roster, optionally filtered to active operators.
func (s *RosterService) ListOperators(ctx context.Context, activeOnly bool) ([]*domain.Operator, error) {
	uow, err := s.storage.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	return uow.Operators().List(ctx, activeOnly)
}

// SetActive flips an operator's availability. Deactivated operators keep
// their live assignments but stop receiving new ones.
func (s *RosterService) SetActive(ctx context.Context, operatorID string, active bool) (*domain.Operator, error) {
	uow, err := s.storage.BeginImmediate(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	operator, err := uow.Operators().Get(ctx, operatorID)
	if err != nil {
		return nil, err
	}
	if operator.Active != active {
		operator.Active = active
		if err := uow.Operators().Update(ctx, operator); err != nil {
			return nil, err
		}
	}
	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	s.logger.Info("operator availability changed", "operator_id", operatorID, "active", active)
	return operator, nil
}
