package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"depotwatch-backend/internal/database"
	"depotwatch-backend/internal/models"
)

func (e *Engine) ListAlerts(ctx context.Context, companyID string, status *models.AlertStatus) ([]models.StagnationAlert, error) {
	if status != nil && !status.Valid() {
		return nil, invalid("status", "must be ACTIVE, ACKNOWLEDGED or DISMISSED")
	}
	opCtx, cancel := e.opContext(ctx)
	defer cancel()
	return e.store.ListAlerts(opCtx, companyID, status)
}

// AcknowledgeAlert marks an ACTIVE alert as reviewed by an operator
func (e *Engine) AcknowledgeAlert(ctx context.Context, companyID, alertID, by string, notes *string) (*models.StagnationAlert, error) {
	return e.resolveAlert(ctx, companyID, alertID, models.AlertResolution{
		Status: models.AlertStatusAcknowledged,
		By:     by,
		Notes:  notes,
	})
}

func (e *Engine) DismissAlert(ctx context.Context, companyID, alertID, by string, notes *string) (*models.StagnationAlert, error) {
	return e.resolveAlert(ctx, companyID, alertID, models.AlertResolution{
		Status: models.AlertStatusDismissed,
		By:     by,
		Notes:  notes,
	})
}

// DismissAllAlerts dismisses every ACTIVE alert of the company in one store update
// and notifies a resolution for each of them
func (e *Engine) DismissAllAlerts(ctx context.Context, companyID, by string, notes *string) (int, error) {
	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	resolved, err := e.store.ResolveActiveAlerts(opCtx, companyID, models.AlertResolution{
		Status: models.AlertStatusDismissed,
		By:     by,
		At:     e.now().Unix(),
		Notes:  notes,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to dismiss alerts: %w", err)
	}
	for i := range resolved {
		e.emitter.AlertResolved(&resolved[i])
	}
	count := len(resolved)

	e.logger.Info("✅ Dismissed all active stagnation alerts",
		zap.String("company_id", companyID),
		zap.String("by", by),
		zap.Int("count", count))
	return count, nil
}

func (e *Engine) resolveAlert(ctx context.Context, companyID, alertID string, res models.AlertResolution) (*models.StagnationAlert, error) {
	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	alert, err := e.getAlert(opCtx, companyID, alertID)
	if err != nil {
		return nil, err
	}

	unlock, err := e.lockDriver(opCtx, companyID, alert.DriverID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Reload under the lock, another operator may have resolved it meanwhile
	alert, err = e.getAlert(opCtx, companyID, alertID)
	if err != nil {
		return nil, err
	}
	if alert.Status != models.AlertStatusActive {
		return nil, ErrAlertNotActive
	}

	now := e.now().Unix()
	alert.Status = res.Status
	alert.AcknowledgedBy = &res.By
	alert.AcknowledgedAt = &now
	alert.ResolutionNotes = res.Notes
	alert.UpdatedAt = now

	if err := e.store.UpdateAlert(opCtx, alert); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrAlertNotActive
		}
		return nil, fmt.Errorf("failed to update alert: %w", err)
	}

	e.emitter.AlertResolved(alert)
	return alert, nil
}

func (e *Engine) getAlert(ctx context.Context, companyID, alertID string) (*models.StagnationAlert, error) {
	alert, err := e.store.GetAlert(ctx, companyID, alertID)
	if errors.Is(err, database.ErrNotFound) || (err == nil && alert == nil) {
		return nil, ErrAlertNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load alert: %w", err)
	}
	return alert, nil
}
