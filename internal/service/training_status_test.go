package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"training-status/internal/models"
	"training-status/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type publishCall struct {
	projectID, iterationID, publishName, predictionResourceID string
	overwrite                                                 bool
}

type fakeTraining struct {
	iterations  []models.Iteration
	iteration   *models.Iteration
	performance *models.IterationPerformance

	listErr, getErr, perfErr, publishErr error

	requestedIteration string
	publishCalls       []publishCall
	performanceCalls   int
}

func (f *fakeTraining) ListIterations(ctx context.Context, projectID string) ([]models.Iteration, error) {
	return f.iterations, f.listErr
}

func (f *fakeTraining) GetIteration(ctx context.Context, projectID, iterationID string) (*models.Iteration, error) {
	f.requestedIteration = iterationID
	return f.iteration, f.getErr
}

func (f *fakeTraining) GetPerformance(ctx context.Context, projectID, iterationID string) (*models.IterationPerformance, error) {
	f.performanceCalls++
	return f.performance, f.perfErr
}

func (f *fakeTraining) PublishIteration(ctx context.Context, projectID, iterationID, publishName, predictionResourceID string, overwrite bool) error {
	f.publishCalls = append(f.publishCalls, publishCall{projectID, iterationID, publishName, predictionResourceID, overwrite})
	return f.publishErr
}

// fakeStore keeps labels and model updates in memory. Writes made inside
// WithinTx are applied only when the callback succeeds.
type fakeStore struct {
	projects map[string]string
	labels   []models.Label

	modelUpdates []models.ModelStatusUpdate
	labelUserIDs []int64

	resolveErr     error
	labelsErr      error
	updateLabelErr error
	txCalls        int
}

func newFakeStore(labels ...models.Label) *fakeStore {
	return &fakeStore{projects: map[string]string{"m1": "cv-1"}, labels: labels}
}

func (s *fakeStore) Models() repository.ModelRepository { return (*fakeModels)(s) }

func (s *fakeStore) Labels() repository.LabelRepository { return (*fakeLabels)(s) }

func (s *fakeStore) WithinTx(ctx context.Context, fn func(repository.LabelRepository, repository.ModelRepository) error) error {
	s.txCalls++
	staged := &fakeStore{
		projects:       s.projects,
		labels:         append([]models.Label(nil), s.labels...),
		modelUpdates:   append([]models.ModelStatusUpdate(nil), s.modelUpdates...),
		labelUserIDs:   append([]int64(nil), s.labelUserIDs...),
		updateLabelErr: s.updateLabelErr,
	}
	if err := fn(staged.Labels(), staged.Models()); err != nil {
		return err
	}
	s.labels, s.modelUpdates, s.labelUserIDs = staged.labels, staged.modelUpdates, staged.labelUserIDs
	return nil
}

type fakeModels fakeStore

func (m *fakeModels) ResolveModel(ctx context.Context, modelID string) (string, error) {
	if m.resolveErr != nil {
		return "", m.resolveErr
	}
	id, ok := m.projects[modelID]
	if !ok {
		return "", repository.ErrModelNotFound
	}
	return id, nil
}

func (m *fakeModels) UpdateModelStatus(ctx context.Context, update models.ModelStatusUpdate) error {
	m.modelUpdates = append(m.modelUpdates, update)
	return nil
}

type fakeLabels fakeStore

func (l *fakeLabels) GetLabels(ctx context.Context, modelID, projectID string) ([]models.Label, error) {
	if l.labelsErr != nil {
		return nil, l.labelsErr
	}
	var out []models.Label
	for _, label := range l.labels {
		if label.HashIdentifierModel == modelID && label.HashIdentifierProject == projectID {
			out = append(out, label)
		}
	}
	return out, nil
}

func (l *fakeLabels) UpdateLabel(ctx context.Context, label models.Label, userID int64) error {
	if l.updateLabelErr != nil {
		return l.updateLabelErr
	}
	for i, stored := range l.labels {
		if stored.ID == label.ID {
			l.labels[i] = label
		}
	}
	l.labelUserIDs = append(l.labelUserIDs, userID)
	return nil
}

func ts(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func ptr[T any](v T) *T { return &v }

func label(id int64, hash string) models.Label {
	return models.Label{
		ID:                    id,
		HashIdentifierLabel:   hash,
		HashIdentifierModel:   "m1",
		HashIdentifierProject: "p1",
		TagTitle:              "title " + hash,
		FieldType:             "text",
		MinPercentage:         0.65,
		ColorTag:              "#123456",
		ImageCount:            40,
		Negative:              true,
	}
}

var request = StatusRequest{ModelID: "m1", ProjectID: "p1", Lob: "l1", UserID: 42}

func newService(training *fakeTraining) *TrainingStatusService {
	return NewTrainingStatusService(training, "prediction-resource", zap.NewNop())
}

func TestReconcile_NoIterations(t *testing.T) {
	store := newFakeStore()
	svc := newService(&fakeTraining{})

	outcome, err := svc.Reconcile(context.Background(), store, request)
	require.NoError(t, err)

	body, err := json.Marshal(outcome)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"modelInfo":{"modelId":"m1","status":"Error","createdDateTime":null,"lastUpdatedDateTime":null},
		"trainResult":{"errors":[{"code":"0","message":"There are not iteration training"}]}
	}`, string(body))
	assert.Empty(t, store.modelUpdates)
}

func TestReconcile_Training(t *testing.T) {
	store := newFakeStore(label(1, "cat"))
	training := &fakeTraining{
		iterations: []models.Iteration{{ID: "it-1"}},
		iteration:  &models.Iteration{ID: "it-1", Status: models.IterationTraining, Created: ts("2024-01-01T10:00:00Z"), LastModified: ts("2024-01-01T10:30:00Z")},
	}

	outcome, err := newService(training).Reconcile(context.Background(), store, request)
	require.NoError(t, err)

	assert.Equal(t, "Training", outcome.ModelInfo.Status)
	assert.Equal(t, ts("2024-01-01T10:00:00Z"), outcome.ModelInfo.CreatedDateTime)
	assert.Equal(t, ts("2024-01-01T10:30:00Z"), outcome.ModelInfo.LastUpdatedDateTime)
	assert.NotNil(t, outcome.TrainResult.Errors)
	assert.Empty(t, outcome.TrainResult.Errors)
	assert.Nil(t, outcome.TrainResult.Precision)
	assert.Nil(t, outcome.TrainResult.Tags)

	require.Len(t, store.modelUpdates, 1)
	assert.Equal(t, models.ModelStatusUpdate{
		Lob: "l1", ProjectID: "p1", ModelID: "m1", CvProjectID: "cv-1",
		Status: "Training", UserID: 42, Accuracy: 0,
	}, store.modelUpdates[0])
	assert.Empty(t, training.publishCalls)
	assert.Zero(t, training.performanceCalls)
}

func TestReconcile_Failed(t *testing.T) {
	store := newFakeStore()
	training := &fakeTraining{
		iterations: []models.Iteration{{ID: "it-1"}},
		iteration:  &models.Iteration{ID: "it-1", Status: models.IterationFailed},
	}

	outcome, err := newService(training).Reconcile(context.Background(), store, request)
	require.NoError(t, err)

	assert.Equal(t, "Failed", outcome.ModelInfo.Status)
	assert.Equal(t, []models.ErrorEntry{{Code: "0", Message: "Training failed"}}, outcome.TrainResult.Errors)
	require.Len(t, store.modelUpdates, 1)
	assert.Equal(t, "Failed", store.modelUpdates[0].Status)
	assert.Zero(t, store.modelUpdates[0].Accuracy)
}

func completedTraining(publishName *string) *fakeTraining {
	return &fakeTraining{
		iterations: []models.Iteration{{ID: "it-1"}},
		iteration: &models.Iteration{
			ID: "it-1", Status: models.IterationCompleted, PublishName: publishName,
			Created: ts("2024-02-01T00:00:00Z"), LastModified: ts("2024-02-01T02:00:00Z"),
		},
		performance: &models.IterationPerformance{
			Precision: 0.91, Recall: 0.82, AveragePrecision: 0.87,
			PerTagPerformance: []models.TagPerformance{
				{Name: "cat", Precision: 0.9, Recall: 0.8, AveragePrecision: 0.85},
			},
		},
	}
}

func TestReconcile_CompletedUnpublished(t *testing.T) {
	store := newFakeStore(label(1, "cat"))
	training := completedTraining(nil)

	outcome, err := newService(training).Reconcile(context.Background(), store, request)
	require.NoError(t, err)

	require.Len(t, training.publishCalls, 1)
	assert.Equal(t, publishCall{
		projectID: "cv-1", iterationID: "it-1", publishName: "m1",
		predictionResourceID: "prediction-resource", overwrite: true,
	}, training.publishCalls[0])

	updated := store.labels[0]
	require.NotNil(t, updated.Accuracy)
	assert.Equal(t, 0.85, *updated.Accuracy)
	assert.Equal(t, 0.9, *updated.Precision)
	assert.Equal(t, 0.8, *updated.Recall)
	assert.Equal(t, []int64{42}, store.labelUserIDs)

	require.Len(t, store.modelUpdates, 1)
	assert.Equal(t, "trained", store.modelUpdates[0].Status)
	assert.Zero(t, store.modelUpdates[0].Accuracy)
	assert.Equal(t, 1, store.txCalls)

	assert.Equal(t, "Completed", outcome.ModelInfo.Status)
	assert.Equal(t, ptr(0.91), outcome.TrainResult.Precision)
	assert.Equal(t, ptr(0.82), outcome.TrainResult.Recall)
	assert.Equal(t, ptr(0.87), outcome.TrainResult.AP)
	assert.Equal(t, []models.TagMetric{{TagName: "cat", Precision: 0.9, Recall: 0.8, AP: 0.85}}, outcome.TrainResult.Tags)
	assert.Empty(t, outcome.TrainResult.Errors)
	assert.NotNil(t, outcome.TrainResult.Errors)
}

func TestReconcile_CompletedWithoutTagMetrics(t *testing.T) {
	training := completedTraining(ptr("m1"))
	training.performance.PerTagPerformance = nil

	outcome, err := newService(training).Reconcile(context.Background(), newFakeStore(label(1, "cat")), request)
	require.NoError(t, err)

	body, err := json.Marshal(outcome.TrainResult)
	require.NoError(t, err)
	assert.JSONEq(t, `{"precision":0.91,"recall":0.82,"ap":0.87,"tags":[],"errors":[]}`, string(body))
}

func TestReconcile_CompletedAlreadyPublished(t *testing.T) {
	store := newFakeStore(label(1, "cat"))
	training := completedTraining(ptr("m1"))

	_, err := newService(training).Reconcile(context.Background(), store, request)
	require.NoError(t, err)
	assert.Empty(t, training.publishCalls)

	// A second check stays idempotent with respect to publishing.
	_, err = newService(training).Reconcile(context.Background(), store, request)
	require.NoError(t, err)
	assert.Empty(t, training.publishCalls)
}

func TestReconcile_CompletedEmptyPublishNameIsUnpublished(t *testing.T) {
	training := completedTraining(ptr(""))
	_, err := newService(training).Reconcile(context.Background(), newFakeStore(), request)
	require.NoError(t, err)
	assert.Len(t, training.publishCalls, 1)
}

func TestReconcile_CompletedLabelMatching(t *testing.T) {
	upper := label(1, "CAT")
	other := label(2, "dog")
	duplicate := label(3, "cat")
	foreign := label(4, "cat")
	foreign.HashIdentifierProject = "p2"

	store := newFakeStore(upper, other, duplicate, foreign)
	training := completedTraining(ptr("m1"))

	_, err := newService(training).Reconcile(context.Background(), store, request)
	require.NoError(t, err)

	byID := map[int64]models.Label{}
	for _, l := range store.labels {
		byID[l.ID] = l
	}

	for _, id := range []int64{1, 3} {
		l := byID[id]
		require.NotNil(t, l.Accuracy, "label %d", id)
		assert.Equal(t, 0.85, *l.Accuracy)
		assert.Equal(t, 0.9, *l.Precision)
		assert.Equal(t, 0.8, *l.Recall)
		assert.Equal(t, 0.65, l.MinPercentage)
		assert.Equal(t, "#123456", l.ColorTag)
		assert.Equal(t, 40, l.ImageCount)
		assert.True(t, l.Negative)
	}
	assert.Equal(t, other, byID[2])
	assert.Equal(t, foreign, byID[4])
	assert.Len(t, store.labelUserIDs, 2)
}

func TestReconcile_UnknownStatus(t *testing.T) {
	store := newFakeStore()
	training := &fakeTraining{
		iterations: []models.Iteration{{ID: "it-1"}},
		iteration:  &models.Iteration{ID: "it-1", Status: "Queued"},
	}

	outcome, err := newService(training).Reconcile(context.Background(), store, request)
	require.NoError(t, err)
	assert.Equal(t, "Queued", outcome.ModelInfo.Status)
	assert.Empty(t, outcome.TrainResult.Errors)
	assert.Nil(t, outcome.TrainResult.Precision)
	assert.Empty(t, store.modelUpdates)
}

func TestReconcile_UsesLatestIteration(t *testing.T) {
	training := &fakeTraining{
		iterations: []models.Iteration{
			{ID: "old", Created: ts("2024-01-01T00:00:00Z")},
			{ID: "new", Created: ts("2024-03-01T00:00:00Z")},
		},
		iteration: &models.Iteration{ID: "new", Status: models.IterationTraining},
	}

	_, err := newService(training).Reconcile(context.Background(), newFakeStore(), request)
	require.NoError(t, err)
	assert.Equal(t, "new", training.requestedIteration)
}

func TestReconcile_Failures(t *testing.T) {
	boom := errors.New("boom")

	t.Run("unmapped model", func(t *testing.T) {
		store := newFakeStore()
		_, err := newService(&fakeTraining{}).Reconcile(context.Background(), store, StatusRequest{ModelID: "nope"})
		assert.True(t, errors.Is(err, repository.ErrModelNotFound))
	})

	t.Run("list iterations", func(t *testing.T) {
		_, err := newService(&fakeTraining{listErr: boom}).Reconcile(context.Background(), newFakeStore(), request)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("iteration status", func(t *testing.T) {
		training := &fakeTraining{iterations: []models.Iteration{{ID: "it-1"}}, getErr: boom}
		_, err := newService(training).Reconcile(context.Background(), newFakeStore(), request)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("publish aborts before metrics", func(t *testing.T) {
		store := newFakeStore(label(1, "cat"))
		training := completedTraining(nil)
		training.publishErr = boom

		_, err := newService(training).Reconcile(context.Background(), store, request)
		assert.ErrorIs(t, err, boom)
		assert.Zero(t, training.performanceCalls)
		assert.Empty(t, store.modelUpdates)
	})

	t.Run("performance", func(t *testing.T) {
		store := newFakeStore(label(1, "cat"))
		training := completedTraining(ptr("m1"))
		training.perfErr = boom

		_, err := newService(training).Reconcile(context.Background(), store, request)
		assert.ErrorIs(t, err, boom)
		assert.Nil(t, store.labels[0].Accuracy)
		assert.Empty(t, store.modelUpdates)
	})

	t.Run("label update rolls back metrics and model status", func(t *testing.T) {
		store := newFakeStore(label(1, "cat"))
		store.updateLabelErr = boom
		training := completedTraining(ptr("m1"))

		_, err := newService(training).Reconcile(context.Background(), store, request)
		assert.ErrorIs(t, err, boom)
		assert.Nil(t, store.labels[0].Accuracy)
		assert.Empty(t, store.modelUpdates)
	})

	t.Run("get labels", func(t *testing.T) {
		store := newFakeStore()
		store.labelsErr = boom
		_, err := newService(completedTraining(ptr("m1"))).Reconcile(context.Background(), store, request)
		assert.ErrorIs(t, err, boom)
	})
}

func TestLatestIteration(t *testing.T) {
	t.Run("service order without timestamps picks last", func(t *testing.T) {
		got := LatestIteration([]models.Iteration{{ID: "a"}, {ID: "b"}, {ID: "c"}})
		assert.Equal(t, "c", got.ID)
	})

	t.Run("newest creation time wins regardless of position", func(t *testing.T) {
		got := LatestIteration([]models.Iteration{
			{ID: "a", Created: ts("2024-01-03T00:00:00Z")},
			{ID: "b", Created: ts("2024-01-01T00:00:00Z")},
			{ID: "c", Created: ts("2024-01-02T00:00:00Z")},
		})
		assert.Equal(t, "a", got.ID)
	})

	t.Run("ties resolve to the later position", func(t *testing.T) {
		got := LatestIteration([]models.Iteration{
			{ID: "a", Created: ts("2024-01-01T00:00:00Z")},
			{ID: "b", Created: ts("2024-01-01T00:00:00Z")},
		})
		assert.Equal(t, "b", got.ID)
	})

	t.Run("iterations without timestamps are skipped when others have one", func(t *testing.T) {
		got := LatestIteration([]models.Iteration{
			{ID: "a", Created: ts("2024-03-01T00:00:00Z")},
			{ID: "b"},
			{ID: "c", Created: ts("2024-01-01T00:00:00Z")},
		})
		assert.Equal(t, "a", got.ID)

		got = LatestIteration([]models.Iteration{
			{ID: "a", Created: ts("2024-01-01T00:00:00Z")},
			{ID: "b"},
		})
		assert.Equal(t, "a", got.ID)
	})
}

func TestLabelUpdates(t *testing.T) {
	tags := []models.TagMetric{
		{TagName: "cat", Precision: 0.9, Recall: 0.8, AP: 0.85},
		{TagName: "bird", Precision: 0.1, Recall: 0.2, AP: 0.3},
	}
	labels := []models.Label{label(1, "Cat"), label(2, "dog")}

	updates := LabelUpdates(tags, labels)
	require.Len(t, updates, 1)
	assert.Equal(t, int64(1), updates[0].ID)
	assert.Equal(t, 0.85, *updates[0].Accuracy)

	// the input rows are not modified
	assert.Nil(t, labels[0].Accuracy)
}
