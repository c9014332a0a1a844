package handler

import (
	"context"
	"net/http"
	"time"

	"training-status/internal/middleware"
	"training-status/internal/models"
	"training-status/internal/repository"
	"training-status/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const genericFailureMessage = "error getting prediction"

// Reconciler runs a single training status check.
type Reconciler interface {
	Reconcile(ctx context.Context, store repository.Session, req service.StatusRequest) (*models.Outcome, error)
}

// SessionProvider opens a store session on a customer's database.
type SessionProvider interface {
	Session(ctx context.Context, customerID string) (repository.ClosableSession, error)
}

// TrainingStatusHandler serves training status checks.
type TrainingStatusHandler struct {
	reconciler Reconciler
	sessions   SessionProvider
	logger     *zap.Logger
	now        func() time.Time
}

func NewTrainingStatusHandler(reconciler Reconciler, sessions SessionProvider, logger *zap.Logger) *TrainingStatusHandler {
	return &TrainingStatusHandler{
		reconciler: reconciler,
		sessions:   sessions,
		logger:     logger,
		now:        time.Now,
	}
}

// GetTrainingStatus publishes and reports the latest training iteration of a model.
// GET /api/v1/training/status?hashIdentifierLob=&hashIdentifierProject=&hashIdentifierModel=
func (h *TrainingStatusHandler) GetTrainingStatus(c *gin.Context) {
	logger := middleware.LoggerFrom(c, h.logger)

	customer := identifier(c.GetString(middleware.CustomerIDKey))
	userID := c.GetInt64(middleware.UserIDKey)
	lob := lowerIdentifier(c.Query("hashIdentifierLob"))
	project := lowerIdentifier(c.Query("hashIdentifierProject"))
	model := lowerIdentifier(c.Query("hashIdentifierModel"))

	switch {
	case model == "":
		c.String(http.StatusBadRequest, "unspecified or not valid model")
		return
	case customer == "":
		c.String(http.StatusBadRequest, "unspecified or invalid customer")
		return
	case lob == "":
		c.String(http.StatusBadRequest, "unspecified or invalid lob")
		return
	case project == "":
		c.String(http.StatusBadRequest, "unspecified or invalid hashIdentifierProject")
		return
	}

	logger = logger.With(zap.String("customer_id", customer), zap.String("model_id", model))

	ctx := c.Request.Context()
	session, err := h.sessions.Session(ctx, customer)
	if err != nil {
		logger.Error("Error, connecting to database", zap.Error(err))
		c.JSON(http.StatusBadRequest, models.FailureOutcome(model, genericFailureMessage, h.now()))
		return
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("Failed to release database session", zap.Error(err))
		}
	}()

	outcome, err := h.reconciler.Reconcile(ctx, session, service.StatusRequest{
		ModelID:   model,
		ProjectID: project,
		Lob:       lob,
		UserID:    userID,
	})
	if err != nil {
		logger.Error("error getting prediction", zap.Error(err))
		c.JSON(http.StatusBadRequest, models.FailureOutcome(model, genericFailureMessage, h.now()))
		return
	}

	c.JSON(http.StatusOK, outcome)
}
