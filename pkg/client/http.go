package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/masa-finance/lead-worker/api/types"
)

// Client represents a client to interact with the job server.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	options    *Options
}

// NewClient creates a new Client instance.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	options, err := NewOptions(opts...)
	if err != nil {
		return nil, err
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: options.HttpClient,
		options:    options,
	}, nil
}

func (c *Client) post(path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("error marshaling request: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.options.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.options.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("error sending %s request: %w", req.Method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respErr := types.JobError{}
		if json.Unmarshal(body, &respErr) == nil && respErr.Error != "" {
			return &APIError{Op: req.URL.Path, StatusCode: resp.StatusCode, Body: respErr.Error}
		}
		return &APIError{Op: req.URL.Path, StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("error unmarshaling response: %w", err)
	}
	return nil
}

// SubmitJob queues an acquisition and returns a handle to poll for its result.
func (c *Client) SubmitJob(job types.JobRequest) (*JobResult, error) {
	var jobResp types.JobResponse
	if err := c.post("/job/add", job, &jobResp); err != nil {
		return nil, err
	}
	return &JobResult{UUID: jobResp.UID, client: c, maxRetries: 60, delay: c.options.PollInterval}, nil
}

// RunJob runs an acquisition synchronously.
func (c *Client) RunJob(job types.JobRequest) (*types.RunResult, error) {
	var res types.RunResult
	if err := c.post("/job/run", job, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetResult retrieves the current state of a job.
func (c *Client) GetResult(jobUUID string) (*types.JobResult, error) {
	var res types.JobResult
	if err := c.get("/job/status/"+url.PathEscape(jobUUID), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// LeadsByNiche lists the stored leads tagged with niche.
func (c *Client) LeadsByNiche(niche string) ([]types.LeadRecord, error) {
	var leads []types.LeadRecord
	if err := c.get("/leads/niche/"+url.PathEscape(niche), &leads); err != nil {
		return nil, err
	}
	return leads, nil
}

// LeadCounts returns the number of stored leads per niche.
func (c *Client) LeadCounts() (map[string]int, error) {
	counts := map[string]int{}
	if err := c.get("/leads/counts", &counts); err != nil {
		return nil, err
	}
	return counts, nil
}

// SetPollDelay overrides the delay used by results returned from SubmitJob.
func (c *Client) SetPollDelay(d time.Duration) {
	c.options.PollInterval = d
}
