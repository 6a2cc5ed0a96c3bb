package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// MaxSourceImages caps how many reference images are passed to providers
// that support image conditioning.
const MaxSourceImages = 4

// minArtifactBytes rejects degenerate payloads (error pages, truncated
// bodies) that vendors occasionally return with a 200 status.
const minArtifactBytes = 1024

// Request is the uniform generation request every provider accepts.
// Providers without image conditioning ignore SourceImageURLs.
type Request struct {
	Prompt          string
	SourceImageURLs []string
}

// Result is a successfully generated artifact. URL is set when the vendor
// hosts the image; Bytes always carries the validated payload.
type Result struct {
	URL   string
	Bytes []byte
}

// Provider is one interchangeable generation backend.
type Provider interface {
	Name() string
	Attempt(ctx context.Context, req Request) (*Result, error)
}

// validateArtifact enforces the minimum plausible image size.
func validateArtifact(data []byte) error {
	if len(data) < minArtifactBytes {
		return fmt.Errorf("artifact too small: %d bytes", len(data))
	}
	return nil
}

// fetchArtifact downloads a vendor-hosted image and validates it.
func fetchArtifact(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build artifact request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download artifact: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("artifact status: %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	if err := validateArtifact(data); err != nil {
		return nil, err
	}
	return data, nil
}
