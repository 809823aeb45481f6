package genapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/reelforge/reelforge/internal/config"
)

// Client talks to the asynchronous generation API. Callers create a task and
// poll its status themselves; the client never blocks waiting for a result.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

// TaskState is a snapshot of a remote task.
type TaskState struct {
	TaskID     string
	State      string
	ResultURLs []string
	FailCode   string
	FailMsg    string
}

// Done reports whether the task reached a terminal state.
func (s TaskState) Done() bool {
	return s.State == "success" || s.State == "fail"
}

func (s TaskState) Succeeded() bool { return s.State == "success" }

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	return &Client{
		apiKey:  cfg.GenAPIKey,
		baseURL: strings.TrimRight(cfg.GenAPIBaseURL, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		log: log,
	}
}

// CreateTask submits a generation job and returns the vendor task id.
func (c *Client) CreateTask(ctx context.Context, model string, input map[string]any) (string, error) {
	fullURL, err := c.endpoint("/api/v1/jobs/createTask", nil)
	if err != nil {
		return "", err
	}

	payload := map[string]any{
		"model": model,
		"input": input,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("post create task: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 300 {
		if c.log != nil {
			c.log.Error("create task failed", "status", resp.StatusCode, "model", model, "body", truncateBody(rawBody))
		}
		return "", fmt.Errorf("gen api error: status=%d body=%s", resp.StatusCode, truncateBody(rawBody))
	}

	var createResp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			TaskID string `json:"taskId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &createResp); err != nil {
		return "", fmt.Errorf("decode create task response: %w (body=%s)", err, truncateBody(rawBody))
	}
	if createResp.Code != 200 {
		return "", fmt.Errorf("create task failed: code=%d msg=%s", createResp.Code, createResp.Msg)
	}
	if createResp.Data.TaskID == "" {
		return "", fmt.Errorf("empty taskId in response")
	}

	if c.log != nil {
		c.log.Info("task created", "task_id", createResp.Data.TaskID, "model", model)
	}
	return createResp.Data.TaskID, nil
}

// TaskStatus fetches the current state of a task. Result URLs are only
// populated once the task has succeeded.
func (c *Client) TaskStatus(ctx context.Context, taskID string) (TaskState, error) {
	params := url.Values{}
	params.Set("taskId", taskID)
	fullURL, err := c.endpoint("/api/v1/jobs/recordInfo", params)
	if err != nil {
		return TaskState{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return TaskState{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return TaskState{}, fmt.Errorf("get task status: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return TaskState{}, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 300 {
		if c.log != nil {
			c.log.Error("poll task status failed", "status", resp.StatusCode, "task_id", taskID, "body", truncateBody(rawBody))
		}
		return TaskState{}, fmt.Errorf("gen api error: status=%d body=%s", resp.StatusCode, truncateBody(rawBody))
	}

	var statusResp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			TaskID     string `json:"taskId"`
			State      string `json:"state"`
			ResultJSON string `json:"resultJson"`
			FailCode   string `json:"failCode"`
			FailMsg    string `json:"failMsg"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &statusResp); err != nil {
		return TaskState{}, fmt.Errorf("decode status response: %w (body=%s)", err, truncateBody(rawBody))
	}
	if statusResp.Code != 200 {
		return TaskState{}, fmt.Errorf("get task status failed: code=%d msg=%s", statusResp.Code, statusResp.Msg)
	}

	state := TaskState{
		TaskID:   statusResp.Data.TaskID,
		State:    statusResp.Data.State,
		FailCode: statusResp.Data.FailCode,
		FailMsg:  statusResp.Data.FailMsg,
	}
	if state.State == "success" && statusResp.Data.ResultJSON != "" {
		var result struct {
			ResultURLs []string `json:"resultUrls"`
		}
		if err := json.Unmarshal([]byte(statusResp.Data.ResultJSON), &result); err != nil {
			return TaskState{}, fmt.Errorf("parse resultJson: %w", err)
		}
		state.ResultURLs = result.ResultURLs
	}
	return state, nil
}

func (c *Client) endpoint(path string, params url.Values) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	ep, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if params != nil {
		ep.RawQuery = params.Encode()
	}
	return base.ResolveReference(ep).String(), nil
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
