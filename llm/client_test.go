package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/araliadata/openrag/llm"
	_ "github.com/araliadata/openrag/llm/providers"
)

// fastRetry keeps test retries in the millisecond range.
func fastRetry(attempts int) llm.RetryConfig {
	return llm.RetryConfig{
		MaxAttempts:       attempts,
		BackoffBase:       time.Millisecond,
		BackoffMultiplier: 1.0,
		MaxBackoff:        5 * time.Millisecond,
	}
}

func openAICompletion(content string, prompt, completion int) map[string]any {
	return map[string]any{
		"id":    "chatcmpl-1",
		"model": "test-model",
		"choices": []map[string]any{
			{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]any{
			"prompt_tokens":     prompt,
			"completion_tokens": completion,
			"total_tokens":      prompt + completion,
		},
	}
}

func newOpenAIClient(t *testing.T, serverURL string, opts ...llm.ClientOption) *llm.Client {
	t.Helper()
	opts = append([]llm.ClientOption{llm.WithRetryConfig(fastRetry(2))}, opts...)
	client, err := llm.NewClient(llm.Config{
		Provider: "openai",
		APIKey:   "sk-test",
		Model:    "test-model",
		Endpoint: serverURL,
	}, opts...)
	require.NoError(t, err)
	return client
}

func TestCompleteSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req["model"])

		_ = json.NewEncoder(w).Encode(openAICompletion("hello there", 12, 4))
	}))
	defer server.Close()

	client := newOpenAIClient(t, server.URL)
	resp, err := client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "hello there", resp.Content)
	assert.Equal(t, "test-model", resp.Model)
	assert.Equal(t, 16, resp.Usage.TotalTokens)
	assert.NotEmpty(t, resp.RequestID)
}

func TestCompleteRetriesTransientErrors(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(openAICompletion("recovered", 5, 5))
	}))
	defer server.Close()

	client := newOpenAIClient(t, server.URL)
	resp, err := client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "recovered", resp.Content)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestCompleteDoesNotRetryFatalErrors(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newOpenAIClient(t, server.URL)
	_, err := client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)

	assert.Contains(t, err.Error(), "authentication failed")
	assert.Equal(t, int32(1), attempts.Load(), "fatal errors stop the retry loop")
}

func TestCompleteExhaustsRetries(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newOpenAIClient(t, server.URL, llm.WithRetryConfig(fastRetry(3)))
	_, err := client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)

	assert.Contains(t, err.Error(), "rate limited")
	assert.Equal(t, int32(3), attempts.Load())
}

func TestUsageAccumulates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(openAICompletion("ok", 10, 5))
	}))
	defer server.Close()

	client := newOpenAIClient(t, server.URL)
	ctx := context.Background()

	_, err := client.Invoke(ctx, []llm.Message{{Role: "user", Content: "one"}})
	require.NoError(t, err)
	first := client.Usage()

	_, err = client.Invoke(ctx, []llm.Message{{Role: "user", Content: "two"}})
	require.NoError(t, err)
	second := client.Usage()

	assert.Equal(t, 15, first.TotalTokens)
	assert.Equal(t, 30, second.TotalTokens)

	delta := second.Sub(first)
	assert.Equal(t, 10, delta.PromptTokens)
	assert.Equal(t, 5, delta.CompletionTokens)
}

func TestInvokeStructured(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		format, ok := req["response_format"].(map[string]any)
		require.True(t, ok, "structured calls request JSON mode")
		assert.Equal(t, "json_object", format["type"])

		content := "Here you go:\n```json\n{\"dataset_key\": [\"ds-1\"], \"dataset_name\": [\"Accidents\"]}\n```"
		_ = json.NewEncoder(w).Encode(openAICompletion(content, 8, 8))
	}))
	defer server.Close()

	var out struct {
		DatasetKeys  []string `json:"dataset_key"`
		DatasetNames []string `json:"dataset_name"`
	}

	client := newOpenAIClient(t, server.URL)
	resp, err := client.InvokeStructured(context.Background(), []llm.Message{{Role: "user", Content: "pick"}}, &out)
	require.NoError(t, err)

	assert.Equal(t, []string{"ds-1"}, out.DatasetKeys)
	assert.Equal(t, []string{"Accidents"}, out.DatasetNames)
	assert.Equal(t, 16, resp.Usage.TotalTokens)
}

func TestInvokeStructuredRejectsGarbage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(openAICompletion("I could not produce the requested structure.", 4, 4))
	}))
	defer server.Close()

	var out struct {
		DatasetKeys []string `json:"dataset_key"`
	}

	client := newOpenAIClient(t, server.URL)
	_, err := client.InvokeStructured(context.Background(), []llm.Message{{Role: "user", Content: "pick"}}, &out)
	require.Error(t, err)
}

func TestNewClientValidation(t *testing.T) {
	_, err := llm.NewClient(llm.Config{Provider: "openai"})
	assert.Error(t, err, "model is required")

	_, err = llm.NewClient(llm.Config{Provider: "does-not-exist", Model: "m"})
	assert.Error(t, err)
}

func TestProviderForKey(t *testing.T) {
	tests := []struct {
		name   string
		apiKey string
		want   string
	}{
		{"anthropic key", "sk-ant-api03-abc", "anthropic"},
		{"google key", "AIzaSyExample", "gemini"},
		{"openai key", "sk-proj-abc", "openai"},
		{"unknown key", "whatever", "openai"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, llm.ProviderForKey(tt.apiKey))
		})
	}
}
