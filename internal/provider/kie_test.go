package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKIE_SuccessfulTask(t *testing.T) {
	var gotPayload map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/jobs/createTask":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
			assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
			json.NewEncoder(w).Encode(map[string]any{
				"code": 200,
				"data": map[string]any{"taskId": "t-1"},
			})
		case "/api/v1/jobs/recordInfo":
			assert.Equal(t, "t-1", r.URL.Query().Get("taskId"))
			resultJSON, _ := json.Marshal(map[string]any{
				"resultUrls": []string{serverURL(r) + "/img.png"},
			})
			json.NewEncoder(w).Encode(map[string]any{
				"code": 200,
				"data": map[string]any{"state": "success", "resultJson": string(resultJSON)},
			})
		case "/img.png":
			w.Write(bytes.Repeat([]byte{0x89}, 4096))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	k := NewKIE(KIEConfig{APIKey: "test-key", BaseURL: server.URL, Model: "nano-banana-pro"}, testLogger())

	result, err := k.Attempt(context.Background(), Request{
		Prompt:          "a red fox",
		SourceImageURLs: []string{"https://cdn/ref.jpg"},
	})
	require.NoError(t, err)
	assert.Len(t, result.Bytes, 4096)
	assert.Contains(t, result.URL, "/img.png")

	input := gotPayload["input"].(map[string]any)
	assert.Equal(t, "a red fox", input["prompt"])
	assert.NotNil(t, input["image_input"], "reference images are passed through")
	assert.Equal(t, "nano-banana-pro", gotPayload["model"])
}

func TestKIE_FailedTask(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/jobs/createTask":
			json.NewEncoder(w).Encode(map[string]any{
				"code": 200,
				"data": map[string]any{"taskId": "t-2"},
			})
		case "/api/v1/jobs/recordInfo":
			json.NewEncoder(w).Encode(map[string]any{
				"code": 200,
				"data": map[string]any{"state": "fail", "failMsg": "content policy", "failCode": "400"},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	k := NewKIE(KIEConfig{APIKey: "test-key", BaseURL: server.URL, Model: "nano-banana-pro"}, testLogger())

	_, err := k.Attempt(context.Background(), Request{Prompt: "a red fox"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "content policy")
}

func TestKIE_CreateTaskRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"code": 401, "msg": "bad key"})
	}))
	defer server.Close()

	k := NewKIE(KIEConfig{APIKey: "wrong", BaseURL: server.URL, Model: "nano-banana-pro"}, testLogger())

	_, err := k.Attempt(context.Background(), Request{Prompt: "a red fox"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
}

func TestPollinations_ReturnsBytes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/prompt/")
		w.Write(bytes.Repeat([]byte{0x89}, 4096))
	}))
	defer server.Close()

	p := NewPollinations(server.URL)
	result, err := p.Attempt(context.Background(), Request{Prompt: "a red fox"})
	require.NoError(t, err)
	assert.Len(t, result.Bytes, 4096)
	assert.Empty(t, result.URL)
}

func TestPollinations_RejectsTinyPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("nope"))
	}))
	defer server.Close()

	p := NewPollinations(server.URL)
	_, err := p.Attempt(context.Background(), Request{Prompt: "a red fox"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too small")
}

func serverURL(r *http.Request) string {
	return fmt.Sprintf("http://%s", r.Host)
}
