package models

import (
	"encoding/json"
	"time"
)

// Status values written to the model record that do not come from the training service.
const (
	ModelStatusTrained = "trained"
	ModelStatusError   = "Error"
	ModelStatusFailed  = "failed"
)

// ModelInfo is the modelInfo part of a status response.
type ModelInfo struct {
	ModelID             string     `json:"modelId"`
	Status              string     `json:"status"`
	CreatedDateTime     *time.Time `json:"createdDateTime"`
	LastUpdatedDateTime *time.Time `json:"lastUpdatedDateTime"`
}

// TagMetric is the per-tag performance reported back to the caller.
type TagMetric struct {
	TagName   string  `json:"tagName"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	AP        float64 `json:"ap"`
}

// ErrorEntry is a single {code, message} pair in a train result.
type ErrorEntry struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// TrainResult carries aggregate metrics, per-tag metrics and errors.
// Errors is always serialized, as an empty list on success.
type TrainResult struct {
	Precision *float64     `json:"precision,omitempty"`
	Recall    *float64     `json:"recall,omitempty"`
	AP        *float64     `json:"ap,omitempty"`
	Tags      []TagMetric  `json:"tags,omitempty"`
	Errors    []ErrorEntry `json:"errors"`
}

// MarshalJSON always emits tags alongside the aggregate metrics, as an empty
// list when no tag has metrics.
func (r TrainResult) MarshalJSON() ([]byte, error) {
	type plain TrainResult
	var tags *[]TagMetric
	if r.AP != nil || len(r.Tags) > 0 {
		list := r.Tags
		if list == nil {
			list = []TagMetric{}
		}
		tags = &list
	}
	return json.Marshal(struct {
		plain
		Tags *[]TagMetric `json:"tags,omitempty"`
	}{plain: plain(r), Tags: tags})
}

// Outcome is the full response body of a status check.
type Outcome struct {
	ModelInfo   ModelInfo   `json:"modelInfo"`
	TrainResult TrainResult `json:"trainResult"`
}

// ModelStatusUpdate holds the arguments of the update_model_training_upd routine.
type ModelStatusUpdate struct {
	Lob         string
	ProjectID   string
	ModelID     string
	CvProjectID string
	Status      string
	UserID      int64
	Accuracy    float64
}

// TagMetricsFrom converts a performance report into the caller-facing tag list.
func TagMetricsFrom(p *IterationPerformance) []TagMetric {
	tags := make([]TagMetric, 0, len(p.PerTagPerformance))
	for _, t := range p.PerTagPerformance {
		tags = append(tags, TagMetric{
			TagName:   t.Name,
			Precision: t.Precision,
			Recall:    t.Recall,
			AP:        t.AveragePrecision,
		})
	}
	return tags
}

// FailureOutcome is the body returned when a status check aborts.
func FailureOutcome(modelID, message string, now time.Time) Outcome {
	return Outcome{
		ModelInfo: ModelInfo{
			ModelID:             modelID,
			Status:              ModelStatusFailed,
			CreatedDateTime:     &now,
			LastUpdatedDateTime: &now,
		},
		TrainResult: TrainResult{
			Errors: []ErrorEntry{{Code: "0", Message: message}},
		},
	}
}
