package service

import (
	"context"
	"log/slog"

	"github.com/example/stitchflow/internal/domain"
	"github.com/example/stitchflow/internal/observability"
)

// StatusNotifier is the fire-and-forget hook for external observability.
// Implementations may fail; failures never roll back the transition that
// triggered them.
type StatusNotifier interface {
	NotifyStatusChange(ctx context.Context, workItemID string, oldStatus, newStatus domain.Status) error
}

// statusChange is a transition recorded during a transaction, delivered to
// the notifier only after commit.
type statusChange struct {
	workItemID string
	oldStatus  domain.Status
	newStatus  domain.Status
}

// notifyAll delivers recorded changes, logging and counting failures.
func notifyAll(ctx context.Context, notifier StatusNotifier, metrics *observability.Metrics, logger *slog.Logger, changes []statusChange) {
	if notifier == nil {
		return
	}
	for _, c := range changes {
		if err := notifier.NotifyStatusChange(ctx, c.workItemID, c.oldStatus, c.newStatus); err != nil {
			if metrics != nil {
				metrics.NotifyFailed()
			}
			logger.Warn("status change notification failed",
				"work_item_id", c.workItemID,
				"old_status", c.oldStatus.String(),
				"new_status", c.newStatus.String(),
				"error", err)
		}
	}
}

// LogNotifier is a StatusNotifier that just logs transitions.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) NotifyStatusChange(_ context.Context, workItemID string, oldStatus, newStatus domain.Status) error {
	n.Logger.Info("work item status changed",
		"work_item_id", workItemID,
		"old_status", oldStatus.String(),
		"new_status", newStatus.String())
	return nil
}
