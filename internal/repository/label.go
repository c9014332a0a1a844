package repository

import (
	"context"
	"fmt"

	"training-status/internal/models"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// LabelRepository reads and writes the labels of a model.
type LabelRepository interface {
	GetLabels(ctx context.Context, modelID, projectID string) ([]models.Label, error)
	UpdateLabel(ctx context.Context, label models.Label, userID int64) error
}

type labelRepository struct {
	db     Querier
	logger *zap.Logger
}

func NewLabelRepository(db Querier, logger *zap.Logger) LabelRepository {
	return &labelRepository{db: db, logger: logger}
}

func (r *labelRepository) GetLabels(ctx context.Context, modelID, projectID string) ([]models.Label, error) {
	query := `
		SELECT id, hash_identifier_label, hash_identifier_model, hash_identifier_project,
		       tag_title, field_type, min_percentage, accuracy, negative, color_tag,
		       precision, recall, image_count, activate, user_created, user_modified,
		       date_created, date_modified, deleted, id_cv_tag
		FROM get_all_label_sel($1, $2)
	`
	var labels []models.Label
	if err := sqlx.SelectContext(ctx, r.db, &labels, query, modelID, projectID); err != nil {
		r.logger.Error("Connection get labels error", zap.Error(err))
		return nil, fmt.Errorf("failed to get labels: %w", err)
	}
	return labels, nil
}

// UpdateLabel writes every label column back, so fields other than the
// metrics must be carried over from the stored row.
func (r *labelRepository) UpdateLabel(ctx context.Context, label models.Label, userID int64) error {
	query := `CALL update_label_upd($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := r.db.ExecContext(ctx, query,
		label.HashIdentifierLabel,
		label.HashIdentifierProject,
		label.HashIdentifierModel,
		label.TagTitle,
		label.FieldType,
		label.MinPercentage,
		label.Accuracy,
		label.Negative,
		label.Precision,
		label.Recall,
		label.ImageCount,
		label.ColorTag,
		userID,
	)
	if err != nil {
		r.logger.Error("Error updating cv tag in db", zap.Error(err), zap.String("hash_label", label.HashIdentifierLabel))
		return fmt.Errorf("failed to update label: %w", err)
	}
	return nil
}
