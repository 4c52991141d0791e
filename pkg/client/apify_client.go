package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	apifyBaseURL = "https://api.apify.com/v2"
)

// Actor run states as reported by the platform
const (
	RunStatusReady     = "READY"
	RunStatusRunning   = "RUNNING"
	RunStatusSucceeded = "SUCCEEDED"
	RunStatusFailed    = "FAILED"
	RunStatusAborting  = "ABORTING"
	RunStatusAborted   = "ABORTED"
	RunStatusTimingOut = "TIMING-OUT"
	RunStatusTimedOut  = "TIMED-OUT"
)

var (
	// ErrActorRunFailed is returned when an actor run ends in any state but SUCCEEDED.
	ErrActorRunFailed = errors.New("actor run did not succeed")
	// ErrMissingAPIKey is returned when the client has no token to send.
	ErrMissingAPIKey = errors.New("missing Apify API key")
)

// APIError is a non-success HTTP answer from the platform.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: unexpected status code %d: %s", e.Op, e.StatusCode, e.Body)
}

// Apify is the subset of the platform API the scrapers use.
type Apify interface {
	RunActorAndGetResponse(ctx context.Context, actorID string, input any, limit uint) (*DatasetResponse, error)
	ValidateApiKey(ctx context.Context) error
}

// ApifyClient represents a client for the Apify API
type ApifyClient struct {
	apiToken string
	baseUrl  string
	options  *Options
}

// ActorRunResponse represents the response from running an actor
type ActorRunResponse struct {
	Data struct {
		ID               string `json:"id"`
		Status           string `json:"status"`
		StatusMessage    string `json:"statusMessage"`
		DefaultDatasetId string `json:"defaultDatasetId"`
	} `json:"data"`
}

// DatasetResponse represents the response from getting dataset items
type DatasetResponse struct {
	Data struct {
		Items  []json.RawMessage `json:"items"`
		Count  int               `json:"count"`
		Offset int               `json:"offset"`
		Limit  int               `json:"limit"`
	} `json:"data"`
}

// NewApifyClient creates a new Apify client with functional options
func NewApifyClient(apiToken string, opts ...Option) (*ApifyClient, error) {
	logrus.Info("Creating new ApifyClient with API token")

	options, err := NewOptions(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create options: %w", err)
	}

	baseUrl := apifyBaseURL
	if options.BaseURL != "" {
		baseUrl = options.BaseURL
	}

	return &ApifyClient{
		apiToken: apiToken,
		baseUrl:  baseUrl,
		options:  options,
	}, nil
}

// HTTPClient exposes the configured http client
func (c *ApifyClient) HTTPClient() *http.Client {
	return c.options.HttpClient
}

func (c *ApifyClient) endpoint(path string, query url.Values) string {
	if query == nil {
		query = url.Values{}
	}
	query.Set("token", c.apiToken)
	return c.baseUrl + path + "?" + query.Encode()
}

// do sends a request and returns the body when the status matches want.
func (c *ApifyClient) do(ctx context.Context, op, method, endpoint string, payload any, want int) ([]byte, error) {
	if c.apiToken == "" {
		return nil, ErrMissingAPIKey
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("error marshaling %s input: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("error creating %s request: %w", op, err)
	}
	if payload != nil {
		req.Header.Add("Content-Type", "application/json")
	}

	resp, err := c.options.HttpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error making %s request: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading %s response body: %w", op, err)
	}

	if resp.StatusCode != want {
		logrus.Debugf("%s: unexpected status code %d: %s", op, resp.StatusCode, string(data))
		return nil, &APIError{Op: op, StatusCode: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}

// RunActor runs an actor with the given input
func (c *ApifyClient) RunActor(ctx context.Context, actorId string, input any) (*ActorRunResponse, error) {
	logrus.Infof("Running actor %s", actorId)

	body, err := c.do(ctx, "run actor", http.MethodPost, c.endpoint("/acts/"+actorId+"/runs", nil), input, http.StatusCreated)
	if err != nil {
		return nil, err
	}

	var runResp ActorRunResponse
	if err := json.Unmarshal(body, &runResp); err != nil {
		return nil, fmt.Errorf("error parsing response: %w", err)
	}

	logrus.Infof("Actor run started with ID: %s", runResp.Data.ID)
	return &runResp, nil
}

// GetActorRun gets the status of an actor run
func (c *ApifyClient) GetActorRun(ctx context.Context, runId string) (*ActorRunResponse, error) {
	logrus.Debugf("Getting actor run status: %s", runId)

	body, err := c.do(ctx, "get actor run", http.MethodGet, c.endpoint("/actor-runs/"+runId, nil), nil, http.StatusOK)
	if err != nil {
		return nil, err
	}

	var runResp ActorRunResponse
	if err := json.Unmarshal(body, &runResp); err != nil {
		return nil, fmt.Errorf("error parsing response: %w", err)
	}
	return &runResp, nil
}

// GetDatasetItems gets items from a dataset with pagination
func (c *ApifyClient) GetDatasetItems(ctx context.Context, datasetId string, offset, limit int) (*DatasetResponse, error) {
	logrus.Debugf("Getting dataset items: %s (offset: %d, limit: %d)", datasetId, offset, limit)

	q := url.Values{}
	q.Set("offset", fmt.Sprint(offset))
	q.Set("limit", fmt.Sprint(limit))
	body, err := c.do(ctx, "get dataset items", http.MethodGet, c.endpoint("/datasets/"+datasetId+"/items", q), nil, http.StatusOK)
	if err != nil {
		return nil, err
	}

	// Apify returns a direct array of items, not wrapped in a data object
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("error parsing response: %w", err)
	}

	resp := &DatasetResponse{}
	resp.Data.Items = items
	resp.Data.Count = len(items)
	resp.Data.Offset = offset
	resp.Data.Limit = limit

	logrus.Debugf("Retrieved %d items from dataset", len(items))
	return resp, nil
}

// RunActorAndGetResponse starts an actor, waits for it to finish and returns
// up to limit items of its default dataset.
func (c *ApifyClient) RunActorAndGetResponse(ctx context.Context, actorID string, input any, limit uint) (*DatasetResponse, error) {
	run, err := c.RunActor(ctx, actorID, input)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(c.options.PollInterval)
	defer ticker.Stop()

	for !isTerminal(run.Data.Status) {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for actor run %s: %w", run.Data.ID, ctx.Err())
		case <-ticker.C:
		}
		if run, err = c.GetActorRun(ctx, run.Data.ID); err != nil {
			return nil, err
		}
	}

	if run.Data.Status != RunStatusSucceeded {
		return nil, fmt.Errorf("%w: actor %s run %s ended %s %s", ErrActorRunFailed, actorID, run.Data.ID, run.Data.Status, run.Data.StatusMessage)
	}

	return c.GetDatasetItems(ctx, run.Data.DefaultDatasetId, 0, int(limit))
}

func isTerminal(status string) bool {
	switch status {
	case RunStatusSucceeded, RunStatusFailed, RunStatusAborted, RunStatusTimedOut:
		return true
	default:
		return false
	}
}

// ValidateApiKey tests if the API token is valid by making a request to /users/me
// This endpoint doesn't consume any actor runs or quotas - it's perfect for validation
func (c *ApifyClient) ValidateApiKey(ctx context.Context) error {
	logrus.Debug("Testing Apify API token")
	_, err := c.do(ctx, "validate api key", http.MethodGet, c.endpoint("/users/me", nil), nil, http.StatusOK)
	if err != nil {
		return err
	}
	logrus.Debug("Apify API token validation successful")
	return nil
}
