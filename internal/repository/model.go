package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"training-status/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// ErrModelNotFound is returned when a model has no training project mapped to it,
// or when no model record matches a status update.
var ErrModelNotFound = errors.New("model not found")

// update_model_training_upd raises no_data_found when no row matches.
const noDataFound pq.ErrorCode = "P0002"

// ModelRepository resolves models and records their training status.
type ModelRepository interface {
	ResolveModel(ctx context.Context, modelID string) (string, error)
	UpdateModelStatus(ctx context.Context, update models.ModelStatusUpdate) error
}

type modelRepository struct {
	db     Querier
	logger *zap.Logger
}

func NewModelRepository(db Querier, logger *zap.Logger) ModelRepository {
	return &modelRepository{db: db, logger: logger}
}

// ResolveModel returns the training project id of a model.
func (r *modelRepository) ResolveModel(ctx context.Context, modelID string) (string, error) {
	var cvProjectID sql.NullString
	query := `SELECT id_cv_project FROM get_model_sel($1)`
	err := sqlx.GetContext(ctx, r.db, &cvProjectID, query, modelID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrModelNotFound, modelID)
	}
	if err != nil {
		r.logger.Error("error getting hash cv project", zap.Error(err))
		return "", fmt.Errorf("failed to resolve model: %w", err)
	}
	if !cvProjectID.Valid || cvProjectID.String == "" {
		return "", fmt.Errorf("%w: %s has no training project", ErrModelNotFound, modelID)
	}
	return cvProjectID.String, nil
}

func (r *modelRepository) UpdateModelStatus(ctx context.Context, u models.ModelStatusUpdate) error {
	query := `CALL update_model_training_upd($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.ExecContext(ctx, query, u.Lob, u.ProjectID, u.ModelID, u.CvProjectID, u.Status, u.UserID, u.Accuracy)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == noDataFound {
		r.logger.Warn("no model record matched status update",
			zap.String("lob", u.Lob),
			zap.String("project_id", u.ProjectID),
			zap.String("model_id", u.ModelID),
			zap.String("status", u.Status),
		)
		return fmt.Errorf("%w: no record for lob %s, project %s, model %s", ErrModelNotFound, u.Lob, u.ProjectID, u.ModelID)
	}
	if err != nil {
		r.logger.Error("error updating database model", zap.Error(err), zap.String("status", u.Status))
		return fmt.Errorf("failed to update model status: %w", err)
	}
	return nil
}
