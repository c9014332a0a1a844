package customvision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"training-status/internal/models"
)

const apiPrefix = "/customvision/v3.3/Training"

// ErrNotFound is matched by API errors carrying HTTP 404.
var ErrNotFound = errors.New("custom vision resource not found")

// APIError is returned when the training API answers with a non-200 status.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" && e.Message == "" {
		return fmt.Sprintf("custom vision returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("custom vision returned status %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Options configures a Client.
type Options struct {
	Endpoint    string
	TrainingKey string
	Timeout     time.Duration
	// Threshold and OverlapThreshold are sent with performance requests.
	Threshold        float64
	OverlapThreshold float64
}

// Client is a client for the Custom Vision training API.
type Client struct {
	baseURL          string
	trainingKey      string
	threshold        float64
	overlapThreshold float64
	httpClient       *http.Client
}

// NewClient creates a new training API client.
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:          strings.TrimRight(opts.Endpoint, "/"),
		trainingKey:      opts.TrainingKey,
		threshold:        opts.Threshold,
		overlapThreshold: opts.OverlapThreshold,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ListIterations returns the iterations of a project in the order the service lists them.
func (c *Client) ListIterations(ctx context.Context, projectID string) ([]models.Iteration, error) {
	var result []models.Iteration
	path := fmt.Sprintf("%s/projects/%s/iterations", apiPrefix, url.PathEscape(projectID))
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, fmt.Errorf("failed to list iterations: %w", err)
	}
	return result, nil
}

// GetIteration returns the live state of a single iteration.
func (c *Client) GetIteration(ctx context.Context, projectID, iterationID string) (*models.Iteration, error) {
	var result models.Iteration
	path := fmt.Sprintf("%s/projects/%s/iterations/%s", apiPrefix, url.PathEscape(projectID), url.PathEscape(iterationID))
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, fmt.Errorf("failed to get iteration: %w", err)
	}
	return &result, nil
}

// GetPerformance returns aggregate and per-tag metrics of an iteration.
func (c *Client) GetPerformance(ctx context.Context, projectID, iterationID string) (*models.IterationPerformance, error) {
	query := url.Values{}
	query.Set("threshold", strconv.FormatFloat(c.threshold, 'f', -1, 64))
	query.Set("overlapThreshold", strconv.FormatFloat(c.overlapThreshold, 'f', -1, 64))

	var result models.IterationPerformance
	path := fmt.Sprintf("%s/projects/%s/iterations/%s/performance", apiPrefix, url.PathEscape(projectID), url.PathEscape(iterationID))
	if err := c.do(ctx, http.MethodGet, path, query, &result); err != nil {
		return nil, fmt.Errorf("failed to get iteration performance: %w", err)
	}
	return &result, nil
}

// PublishIteration publishes an iteration to a prediction resource under publishName.
// With overwrite set an existing publication with the same name is replaced.
func (c *Client) PublishIteration(ctx context.Context, projectID, iterationID, publishName, predictionResourceID string, overwrite bool) error {
	query := url.Values{}
	query.Set("publishName", publishName)
	query.Set("predictionId", predictionResourceID)
	query.Set("overwrite", strconv.FormatBool(overwrite))

	var published bool
	path := fmt.Sprintf("%s/projects/%s/iterations/%s/publish", apiPrefix, url.PathEscape(projectID), url.PathEscape(iterationID))
	if err := c.do(ctx, http.MethodPost, path, query, &published); err != nil {
		return fmt.Errorf("failed to publish iteration: %w", err)
	}
	if !published {
		return errors.New("failed to publish iteration: service did not confirm publication")
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Training-Key", c.trainingKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var envelope struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &envelope) == nil {
			apiErr.Code, apiErr.Message = envelope.Code, envelope.Message
		}
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
