package service

import (
	"context"
	"fmt"
	"strings"

	"training-status/internal/models"
	"training-status/internal/repository"

	"go.uber.org/zap"
)

const (
	noIterationsMessage   = "There are not iteration training"
	trainingFailedMessage = "Training failed"
)

// TrainingService is the part of the Custom Vision training API used here.
type TrainingService interface {
	ListIterations(ctx context.Context, projectID string) ([]models.Iteration, error)
	GetIteration(ctx context.Context, projectID, iterationID string) (*models.Iteration, error)
	GetPerformance(ctx context.Context, projectID, iterationID string) (*models.IterationPerformance, error)
	PublishIteration(ctx context.Context, projectID, iterationID, publishName, predictionResourceID string, overwrite bool) error
}

// StatusRequest identifies the model whose training status is checked.
// Identifiers are expected to be sanitized and lowercased already.
type StatusRequest struct {
	ModelID   string
	ProjectID string
	Lob       string
	UserID    int64
}

// TrainingStatusService reconciles a local model record with the state of
// its latest training iteration.
type TrainingStatusService struct {
	training             TrainingService
	predictionResourceID string
	logger               *zap.Logger
}

func NewTrainingStatusService(training TrainingService, predictionResourceID string, logger *zap.Logger) *TrainingStatusService {
	return &TrainingStatusService{
		training:             training,
		predictionResourceID: predictionResourceID,
		logger:               logger,
	}
}

// Reconcile checks the latest iteration of the model's training project and
// records the result. An empty iteration list is reported as an outcome; any
// returned error means the check was aborted.
func (s *TrainingStatusService) Reconcile(ctx context.Context, store repository.Session, req StatusRequest) (*models.Outcome, error) {
	logger := s.logger.With(zap.String("model_id", req.ModelID), zap.String("project_id", req.ProjectID))

	cvProjectID, err := store.Models().ResolveModel(ctx, req.ModelID)
	if err != nil {
		logger.Error("Error getting custom vision project for model", zap.Error(err))
		return nil, fmt.Errorf("failed to resolve model %s: %w", req.ModelID, err)
	}

	iterations, err := s.training.ListIterations(ctx, cvProjectID)
	if err != nil {
		logger.Error("Cannot get iterations", zap.Error(err))
		return nil, err
	}
	if len(iterations) == 0 {
		return &models.Outcome{
			ModelInfo: models.ModelInfo{ModelID: req.ModelID, Status: models.ModelStatusError},
			TrainResult: models.TrainResult{
				Errors: []models.ErrorEntry{{Code: "0", Message: noIterationsMessage}},
			},
		}, nil
	}

	latest := LatestIteration(iterations)
	iteration, err := s.training.GetIteration(ctx, cvProjectID, latest.ID)
	if err != nil {
		logger.Error("Error getting training status", zap.Error(err), zap.String("iteration_id", latest.ID))
		return nil, err
	}

	outcome := &models.Outcome{
		ModelInfo: models.ModelInfo{
			ModelID:             req.ModelID,
			Status:              string(iteration.Status),
			CreatedDateTime:     iteration.Created,
			LastUpdatedDateTime: iteration.LastModified,
		},
		TrainResult: models.TrainResult{Errors: []models.ErrorEntry{}},
	}

	update := models.ModelStatusUpdate{
		Lob:         req.Lob,
		ProjectID:   req.ProjectID,
		ModelID:     req.ModelID,
		CvProjectID: cvProjectID,
		Status:      string(iteration.Status),
		UserID:      req.UserID,
	}

	switch iteration.Status {
	case models.IterationTraining:
		if err := store.Models().UpdateModelStatus(ctx, update); err != nil {
			return nil, err
		}
		return outcome, nil

	case models.IterationFailed:
		if err := store.Models().UpdateModelStatus(ctx, update); err != nil {
			return nil, err
		}
		outcome.TrainResult.Errors = append(outcome.TrainResult.Errors, models.ErrorEntry{Code: "0", Message: trainingFailedMessage})
		return outcome, nil

	case models.IterationCompleted:
		if err := s.completeTraining(ctx, store, req, cvProjectID, iteration, outcome, update); err != nil {
			return nil, err
		}
		return outcome, nil

	default:
		logger.Warn("Unhandled iteration status", zap.String("status", string(iteration.Status)), zap.String("iteration_id", iteration.ID))
		return outcome, nil
	}
}

// completeTraining publishes the iteration if needed and fans its per-tag
// metrics out to the model's labels. Label updates and the "trained" model
// status share one transaction.
func (s *TrainingStatusService) completeTraining(
	ctx context.Context,
	store repository.Session,
	req StatusRequest,
	cvProjectID string,
	iteration *models.Iteration,
	outcome *models.Outcome,
	update models.ModelStatusUpdate,
) error {
	logger := s.logger.With(zap.String("model_id", req.ModelID), zap.String("iteration_id", iteration.ID))

	if !iteration.IsPublished() {
		if err := s.training.PublishIteration(ctx, cvProjectID, iteration.ID, req.ModelID, s.predictionResourceID, true); err != nil {
			logger.Error("Error publishing iteration", zap.Error(err))
			return err
		}
		logger.Info("Published iteration", zap.String("publish_name", req.ModelID))
	}

	performance, err := s.training.GetPerformance(ctx, cvProjectID, iteration.ID)
	if err != nil {
		logger.Error("Error get iteration performance", zap.Error(err))
		return err
	}
	tags := models.TagMetricsFrom(performance)

	labels, err := store.Labels().GetLabels(ctx, req.ModelID, req.ProjectID)
	if err != nil {
		return err
	}

	updates := LabelUpdates(tags, labels)
	update.Status = models.ModelStatusTrained
	update.Accuracy = 0

	err = store.WithinTx(ctx, func(labelRepo repository.LabelRepository, modelRepo repository.ModelRepository) error {
		for _, label := range updates {
			if err := labelRepo.UpdateLabel(ctx, label, req.UserID); err != nil {
				return err
			}
		}
		return modelRepo.UpdateModelStatus(ctx, update)
	})
	if err != nil {
		return err
	}
	logger.Info("Stored training metrics", zap.Int("tags", len(tags)), zap.Int("labels_updated", len(updates)))

	outcome.TrainResult.Precision = &performance.Precision
	outcome.TrainResult.Recall = &performance.Recall
	outcome.TrainResult.AP = &performance.AveragePrecision
	outcome.TrainResult.Tags = tags
	return nil
}

// LatestIteration returns the most recently created iteration, ties going to
// the later list position. Iterations without a creation time only count when
// none has one; then the last element wins.
func LatestIteration(iterations []models.Iteration) models.Iteration {
	latest := -1
	for i, it := range iterations {
		if it.Created == nil {
			continue
		}
		if latest < 0 || !it.Created.Before(*iterations[latest].Created) {
			latest = i
		}
	}
	if latest < 0 {
		return iterations[len(iterations)-1]
	}
	return iterations[latest]
}

// LabelUpdates pairs each tag metric with every label whose lowercased hash
// identifier equals the tag name. Unmatched labels are left out; a tag may
// match any number of labels.
func LabelUpdates(tags []models.TagMetric, labels []models.Label) []models.Label {
	var updates []models.Label
	for _, tag := range tags {
		for _, label := range labels {
			if strings.ToLower(label.HashIdentifierLabel) == tag.TagName {
				updates = append(updates, label.WithMetrics(tag))
			}
		}
	}
	return updates
}
