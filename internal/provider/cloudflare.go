package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Cloudflare runs text-to-image models on Workers AI. Text-only: reference
// images are ignored.
type Cloudflare struct {
	accountID  string
	apiToken   string
	model      string
	httpClient *http.Client
}

type CloudflareConfig struct {
	AccountID string
	APIToken  string
	Model     string
}

func NewCloudflare(cfg CloudflareConfig) *Cloudflare {
	return &Cloudflare{
		accountID:  cfg.AccountID,
		apiToken:   cfg.APIToken,
		model:      cfg.Model,
		httpClient: &http.Client{},
	}
}

func (c *Cloudflare) Name() string { return "cloudflare" }

func (c *Cloudflare) Attempt(ctx context.Context, genReq Request) (*Result, error) {
	endpoint := fmt.Sprintf("https://api.cloudflare.com/client/v4/accounts/%s/ai/run/%s", c.accountID, c.model)

	body, err := json.Marshal(map[string]any{"prompt": genReq.Prompt})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post workers ai: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("workers ai error: status=%d body=%s", resp.StatusCode, truncateBody(rawBody))
	}

	// Some models respond with raw image bytes, others with JSON carrying
	// a base64 image.
	data := rawBody
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var jsonResp struct {
			Result struct {
				Image string `json:"image"`
			} `json:"result"`
		}
		if err := json.Unmarshal(rawBody, &jsonResp); err != nil {
			return nil, fmt.Errorf("decode workers ai response: %w", err)
		}
		if jsonResp.Result.Image == "" {
			return nil, fmt.Errorf("empty image in workers ai response")
		}
		data, err = base64.StdEncoding.DecodeString(jsonResp.Result.Image)
		if err != nil {
			return nil, fmt.Errorf("decode base64 image: %w", err)
		}
	}

	if err := validateArtifact(data); err != nil {
		return nil, err
	}
	return &Result{Bytes: data}, nil
}
