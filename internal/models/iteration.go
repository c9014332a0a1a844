package models

import "time"

// IterationStatus is the lifecycle state reported by the training service.
type IterationStatus string

const (
	IterationTraining  IterationStatus = "Training"
	IterationCompleted IterationStatus = "Completed"
	IterationFailed    IterationStatus = "Failed"
)

// Iteration is a training iteration as returned by the Custom Vision training API.
type Iteration struct {
	ID                        string          `json:"id"`
	Name                      string          `json:"name"`
	Status                    IterationStatus `json:"status"`
	Created                   *time.Time      `json:"created"`
	LastModified              *time.Time      `json:"lastModified"`
	TrainedAt                 *time.Time      `json:"trainedAt,omitempty"`
	ProjectID                 string          `json:"projectId"`
	PublishName               *string         `json:"publishName"`
	OriginalPublishResourceID *string         `json:"originalPublishResourceId,omitempty"`
	TrainingType              string          `json:"trainingType,omitempty"`
}

// IsPublished reports whether the iteration already has a prediction publish name.
func (i *Iteration) IsPublished() bool {
	return i.PublishName != nil && *i.PublishName != ""
}

// TagPerformance is the per-tag entry of an iteration performance report.
type TagPerformance struct {
	ID                    string  `json:"id"`
	Name                  string  `json:"name"`
	Precision             float64 `json:"precision"`
	PrecisionStdDeviation float64 `json:"precisionStdDeviation"`
	Recall                float64 `json:"recall"`
	RecallStdDeviation    float64 `json:"recallStdDeviation"`
	AveragePrecision      float64 `json:"averagePrecision"`
}

// IterationPerformance holds aggregate and per-tag metrics for an iteration.
type IterationPerformance struct {
	PerTagPerformance     []TagPerformance `json:"perTagPerformance"`
	Precision             float64          `json:"precision"`
	PrecisionStdDeviation float64          `json:"precisionStdDeviation"`
	Recall                float64          `json:"recall"`
	RecallStdDeviation    float64          `json:"recallStdDeviation"`
	AveragePrecision      float64          `json:"averagePrecision"`
}
