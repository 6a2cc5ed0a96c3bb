package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrAllFailed is returned when every provider in the chain was exhausted.
var ErrAllFailed = errors.New("all providers failed")

// Chain tries providers in a fixed priority order until one produces a
// valid artifact. Priority reflects the operator's quality ranking, so the
// first success wins even if a later provider might also have succeeded.
type Chain struct {
	providers      []Provider
	attemptTimeout time.Duration
	log            *slog.Logger
}

func NewChain(log *slog.Logger, attemptTimeout time.Duration, providers ...Provider) (*Chain, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}
	if attemptTimeout <= 0 {
		attemptTimeout = 2 * time.Minute
	}
	return &Chain{
		providers:      providers,
		attemptTimeout: attemptTimeout,
		log:            log,
	}, nil
}

// Names lists the configured providers in priority order.
func (c *Chain) Names() []string {
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		names = append(names, p.Name())
	}
	return names
}

// Generate runs the fallback chain. Every per-provider fault, including a
// timeout or panic, counts as "try the next one". The aggregate error
// carries the last observed failure for diagnostics.
func (c *Chain) Generate(ctx context.Context, req Request) (*Result, error) {
	if len(req.SourceImageURLs) > MaxSourceImages {
		req.SourceImageURLs = req.SourceImageURLs[:MaxSourceImages]
	}

	var lastErr error
	for _, p := range c.providers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := time.Now()
		result, err := c.attempt(ctx, p, req)
		if err != nil {
			c.log.Warn("provider attempt failed",
				"provider", p.Name(), "duration", time.Since(start), "err", err)
			lastErr = err
			continue
		}
		if result == nil || len(result.Bytes) == 0 {
			lastErr = fmt.Errorf("provider %s returned empty artifact", p.Name())
			continue
		}

		c.log.Info("provider attempt succeeded",
			"provider", p.Name(), "duration", time.Since(start), "size", len(result.Bytes))
		return result, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no providers configured")
	}
	return nil, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

func (c *Chain) attempt(ctx context.Context, p Provider, req Request) (result *Result, err error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	// A panicking provider must not take down the whole chain.
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("provider %s panicked: %v", p.Name(), r)
		}
	}()

	return p.Attempt(attemptCtx, req)
}
