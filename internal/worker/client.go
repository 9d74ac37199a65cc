package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/PeerHerholz/neuroscout/pkg/model"
)

// HTTPError is a non-2xx response from the server.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Client communicates with the neuroscout server API on behalf of a worker.
type Client struct {
	baseURL    string
	httpClient *http.Client
	workerID   string
}

// NewClient creates a new worker API client with connection pooling.
func NewClient(baseURL string) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
	}
}

// WorkerID returns the registered worker ID.
func (c *Client) WorkerID() string {
	return c.workerID
}

// Register registers the worker with the server and stores the worker ID.
func (c *Client) Register(ctx context.Context, name, hostname string, concurrency int) (*model.Worker, error) {
	body, err := json.Marshal(map[string]any{
		"name":        name,
		"hostname":    hostname,
		"concurrency": concurrency,
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/api/v1/workers", body)
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}

	var worker model.Worker
	if err := decodeResponseData(resp, &worker); err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}

	c.workerID = worker.ID
	return &worker, nil
}

// Heartbeat updates last_seen and extends the leases of running jobs.
func (c *Client) Heartbeat(ctx context.Context) error {
	resp, err := c.doRequest(ctx, http.MethodPut,
		fmt.Sprintf("/api/v1/workers/%s/heartbeat", c.workerID), nil)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	resp.Body.Close()
	return nil
}

// Checkout requests a job from the server. Returns nil if no work available (204).
func (c *Client) Checkout(ctx context.Context) (*model.Job, error) {
	resp, err := c.doRequest(ctx, http.MethodGet,
		fmt.Sprintf("/api/v1/workers/%s/work", c.workerID), nil)
	if err != nil {
		return nil, fmt.Errorf("checkout: %w", err)
	}

	if resp.StatusCode == http.StatusNoContent {
		resp.Body.Close()
		return nil, nil
	}

	var job model.Job
	if err := decodeResponseData(resp, &job); err != nil {
		return nil, fmt.Errorf("checkout: %w", err)
	}

	return &job, nil
}

// ReportComplete sends the final job outcome.
func (c *Client) ReportComplete(ctx context.Context, jobID string, result model.CompleteRequest) error {
	body, err := json.Marshal(result)
	if err != nil {
		return err
	}

	resp, err := c.doRequest(ctx, http.MethodPut,
		fmt.Sprintf("/api/v1/workers/%s/jobs/%s/complete", c.workerID, jobID), body)
	if err != nil {
		return fmt.Errorf("report complete: %w", err)
	}
	resp.Body.Close()
	return nil
}

// Deregister removes the worker from the server.
func (c *Client) Deregister(ctx context.Context) error {
	resp, err := c.doRequest(ctx, http.MethodDelete,
		fmt.Sprintf("/api/v1/workers/%s", c.workerID), nil)
	if err != nil {
		return fmt.Errorf("deregister: %w", err)
	}
	resp.Body.Close()
	return nil
}

// doRequest executes an HTTP request and returns the response.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	return resp, nil
}

// decodeResponseData extracts the data field from the API response envelope.
func decodeResponseData(resp *http.Response, dest any) error {
	defer resp.Body.Close()

	var envelope struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Error  *model.APIError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}

	return json.Unmarshal(envelope.Data, dest)
}
