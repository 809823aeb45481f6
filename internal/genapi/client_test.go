package genapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/reelforge/reelforge/internal/config"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := config.Config{GenAPIKey: "test-key", GenAPIBaseURL: srv.URL}
	return NewClient(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCreateTask(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/v1/jobs/createTask" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
				t.Errorf("unexpected auth header %q", got)
			}
			var payload struct {
				Model string         `json:"model"`
				Input map[string]any `json:"input"`
			}
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				t.Errorf("decode payload: %v", err)
			}
			if payload.Model != "sora-2/text-to-video" {
				t.Errorf("unexpected model %q", payload.Model)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"code": 200,
				"data": map[string]string{"taskId": "task-42"},
			})
		})

		taskID, err := c.CreateTask(context.Background(), "sora-2/text-to-video", map[string]any{"prompt": "a cat"})
		if err != nil {
			t.Fatalf("create task: %v", err)
		}
		if taskID != "task-42" {
			t.Fatalf("expected task-42, got %q", taskID)
		}
	})

	t.Run("api_level_error_code", func(t *testing.T) {
		c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"code": 402, "msg": "insufficient balance"})
		})
		if _, err := c.CreateTask(context.Background(), "sora-2/text-to-video", nil); err == nil {
			t.Fatal("expected error for non-200 api code")
		}
	})

	t.Run("http_error", func(t *testing.T) {
		c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream broken", http.StatusBadGateway)
		})
		if _, err := c.CreateTask(context.Background(), "sora-2/text-to-video", nil); err == nil {
			t.Fatal("expected error for HTTP 502")
		}
	})
}

func TestTaskStatus(t *testing.T) {
	t.Run("success_with_results", func(t *testing.T) {
		c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			if got := r.URL.Query().Get("taskId"); got != "task-42" {
				t.Errorf("unexpected taskId %q", got)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"code": 200,
				"data": map[string]any{
					"taskId":     "task-42",
					"state":      "success",
					"resultJson": `{"resultUrls":["https://cdn/result.mp4"]}`,
				},
			})
		})

		state, err := c.TaskStatus(context.Background(), "task-42")
		if err != nil {
			t.Fatalf("task status: %v", err)
		}
		if !state.Done() || !state.Succeeded() {
			t.Fatalf("expected terminal success, got %+v", state)
		}
		if len(state.ResultURLs) != 1 || state.ResultURLs[0] != "https://cdn/result.mp4" {
			t.Fatalf("unexpected result urls %v", state.ResultURLs)
		}
	})

	t.Run("failed_task_carries_reason", func(t *testing.T) {
		c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"code": 200,
				"data": map[string]any{
					"taskId":   "task-42",
					"state":    "fail",
					"failCode": "CONTENT_POLICY",
					"failMsg":  "prompt rejected",
				},
			})
		})

		state, err := c.TaskStatus(context.Background(), "task-42")
		if err != nil {
			t.Fatalf("task status: %v", err)
		}
		if !state.Done() || state.Succeeded() {
			t.Fatalf("expected terminal failure, got %+v", state)
		}
		if state.FailMsg != "prompt rejected" {
			t.Fatalf("unexpected fail message %q", state.FailMsg)
		}
	})

	t.Run("in_flight_is_not_done", func(t *testing.T) {
		c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"code": 200,
				"data": map[string]any{"taskId": "task-42", "state": "generating"},
			})
		})

		state, err := c.TaskStatus(context.Background(), "task-42")
		if err != nil {
			t.Fatalf("task status: %v", err)
		}
		if state.Done() {
			t.Fatalf("generating state must not be terminal: %+v", state)
		}
	})
}
