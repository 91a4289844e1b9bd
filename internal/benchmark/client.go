package benchmark

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/copyleftdev/seqopt/internal/optimization"
)

// EvaluateRequest is the body of POST /api/v1/tasks/{name}/evaluate.
type EvaluateRequest struct {
	Samples []optimization.Sample `json:"samples"`
}

// EvaluateResponse is the reply to an EvaluateRequest.
type EvaluateResponse struct {
	Task   string    `json:"task"`
	Values []float64 `json:"values"`
}

// TasksResponse is the reply of GET /api/v1/tasks.
type TasksResponse struct {
	Tasks []TaskInfo `json:"tasks"`
}

// Client talks to the evaluation service. It is safe for concurrent use.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a client for the service at baseURL. A nil httpClient
// is replaced by one with a 30 second timeout.
func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	if baseURL == "" {
		return nil, optimization.ConfigErrorf("server URL must be provided for remote evaluation").WithComponent("benchmark")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, optimization.ConfigErrorf("invalid server URL %q: %v", baseURL, err).WithComponent("benchmark")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), client: httpClient}, nil
}

// Tasks lists the problems served remotely.
func (c *Client) Tasks(ctx context.Context) ([]TaskInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/tasks", nil)
	if err != nil {
		return nil, fmt.Errorf("benchmark: create request: %w", err)
	}
	var resp TasksResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

// Evaluate scores samples on the named remote problem.
func (c *Client) Evaluate(ctx context.Context, task string, samples []optimization.Sample) ([]float64, error) {
	body, err := json.Marshal(EvaluateRequest{Samples: samples})
	if err != nil {
		return nil, fmt.Errorf("benchmark: marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/tasks/"+url.PathEscape(task)+"/evaluate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("benchmark: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp EvaluateResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Values) != len(samples) {
		return nil, optimization.DataContractErrorf("server returned %d values for %d samples", len(resp.Values), len(samples)).WithComponent("benchmark")
	}
	return resp.Values, nil
}

func (c *Client) do(req *http.Request, dest any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("benchmark: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		switch resp.StatusCode {
		case http.StatusNotFound, http.StatusUnprocessableEntity:
			return optimization.WrapErrorf(optimization.ErrConfiguration, "remote: %s", msg).WithComponent("benchmark")
		case http.StatusBadRequest:
			return optimization.WrapErrorf(optimization.ErrDataContract, "remote: %s", msg).WithComponent("benchmark")
		default:
			return fmt.Errorf("benchmark: %s %s: HTTP %d: %s", req.Method, req.URL.Path, resp.StatusCode, msg)
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("benchmark: decode response: %w", err)
	}
	return nil
}

// remoteProblem evaluates through the service while describing itself with
// the locally built definition.
type remoteProblem struct {
	info   TaskInfo
	client *Client
}

func (p *remoteProblem) Info() TaskInfo { return p.info }

func (p *remoteProblem) Evaluate(ctx context.Context, samples []optimization.Sample) ([]float64, error) {
	for i, smp := range samples {
		if !p.info.Space.Contains(smp) {
			return nil, optimization.DataContractErrorf("sample %d %v is outside the search space", i, smp).WithComponent("benchmark")
		}
	}
	return p.client.Evaluate(ctx, p.info.Name, samples)
}
