// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/agentforge/pkg/llm"
	"github.com/teradata-labs/agentforge/pkg/types"
)

func okResponse() messagesResponse {
	return messagesResponse{
		ID:         "msg_01",
		Model:      "claude-sonnet-4-5-20250929",
		StopReason: "tool_use",
		Content: []contentBlock{
			{Type: "text", Text: "editing now"},
			{Type: "tool_use", ID: "tu_01", Name: "edit_file", Input: map[string]interface{}{
				"path": "main.go",
			}},
		},
		Usage: usage{InputTokens: 1200, OutputTokens: 80},
	}
}

func testRequest() *llm.Request {
	return &llm.Request{
		System:   "system prompt",
		Messages: []types.Message{{Role: "user", Content: "fix the bug"}},
		Tools: []llm.ToolSchema{{
			Name:        "edit_file",
			Description: "edit a file",
			InputSchema: map[string]interface{}{"type": "object"},
		}},
	}
}

func TestClient_Complete(t *testing.T) {
	var gotReq messagesRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, apiVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(okResponse())
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test-key", Endpoint: server.URL})
	resp, err := client.Complete(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, "system prompt", gotReq.System)
	require.Len(t, gotReq.Messages, 1)
	assert.Equal(t, "user", gotReq.Messages[0].Role)
	require.Len(t, gotReq.Tools, 1)

	assert.Equal(t, "editing now", resp.Content)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "edit_file", resp.ToolCalls[0].Name)
	assert.Equal(t, "tu_01", resp.ToolCalls[0].ID)
	assert.Equal(t, 1280, resp.Usage.TotalTokens)
	assert.Positive(t, resp.Usage.CostUSD)
}

func TestClient_RetriesOn429HonoringRetryAfter(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"type":"rate_limit_error","message":"slow down"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(okResponse())
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "k", Endpoint: server.URL, MaxRetries: 2})
	resp, err := client.Complete(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "editing now", resp.Content)
}

func TestClient_DoesNotRetryOn400(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"bad tool schema"}}`))
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "k", Endpoint: server.URL})
	_, err := client.Complete(context.Background(), testRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad tool schema")
	assert.Equal(t, int32(1), calls.Load())
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, int64(0), int64(parseRetryAfter("")))
	assert.Equal(t, int64(5e9), int64(parseRetryAfter("5")))
	assert.Equal(t, int64(0), int64(parseRetryAfter("not-a-date")))
}

func TestNewClient_Defaults(t *testing.T) {
	client := NewClient(Config{APIKey: "k"})
	assert.Equal(t, DefaultModel, client.Model())
	assert.Equal(t, "anthropic", client.Name())
	assert.Equal(t, DefaultEndpoint, client.endpoint)
	assert.Equal(t, DefaultMaxTokens, client.maxTokens)
}
