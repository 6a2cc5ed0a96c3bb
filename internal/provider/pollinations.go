package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Pollinations is the free image.pollinations.ai endpoint: one GET with the
// prompt in the path, image bytes back. No auth, no image conditioning,
// which makes it the cheapest last tier of the chain.
type Pollinations struct {
	baseURL    string
	httpClient *http.Client
}

func NewPollinations(baseURL string) *Pollinations {
	return &Pollinations{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

func (p *Pollinations) Name() string { return "pollinations" }

func (p *Pollinations) Attempt(ctx context.Context, req Request) (*Result, error) {
	endpoint := fmt.Sprintf("%s/prompt/%s?nologo=true", p.baseURL, url.PathEscape(req.Prompt))

	data, err := fetchArtifact(ctx, p.httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("pollinations: %w", err)
	}
	return &Result{Bytes: data}, nil
}
