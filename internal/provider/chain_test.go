package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func validBytes() []byte {
	return bytes.Repeat([]byte{0x89}, minArtifactBytes)
}

type fakeProvider struct {
	name    string
	result  *Result
	err     error
	delay   time.Duration
	panics  bool
	calls   atomic.Int32
	lastReq Request
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Attempt(ctx context.Context, req Request) (*Result, error) {
	f.calls.Add(1)
	f.lastReq = req
	if f.panics {
		panic("vendor client blew up")
	}
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func TestChain_ShortCircuitsOnFirstSuccess(t *testing.T) {
	a := &fakeProvider{name: "a", err: errors.New("a down")}
	b := &fakeProvider{name: "b", result: &Result{Bytes: validBytes(), URL: "https://b/img.png"}}
	c := &fakeProvider{name: "c", result: &Result{Bytes: validBytes()}}

	chain, err := NewChain(testLogger(), time.Second, a, b, c)
	require.NoError(t, err)

	result, err := chain.Generate(context.Background(), Request{Prompt: "fox"})
	require.NoError(t, err)
	assert.Equal(t, "https://b/img.png", result.URL)
	assert.EqualValues(t, 1, a.calls.Load())
	assert.EqualValues(t, 1, b.calls.Load())
	assert.EqualValues(t, 0, c.calls.Load(), "providers after the first success must not run")
}

func TestChain_ExhaustionCarriesLastError(t *testing.T) {
	a := &fakeProvider{name: "a", err: errors.New("a down")}
	b := &fakeProvider{name: "b", err: errors.New("b exploded")}

	chain, err := NewChain(testLogger(), time.Second, a, b)
	require.NoError(t, err)

	_, err = chain.Generate(context.Background(), Request{Prompt: "fox"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllFailed)
	assert.Contains(t, err.Error(), "b exploded")
}

func TestChain_EmptyArtifactIsFailure(t *testing.T) {
	a := &fakeProvider{name: "a", result: &Result{}}
	b := &fakeProvider{name: "b", result: &Result{Bytes: validBytes()}}

	chain, err := NewChain(testLogger(), time.Second, a, b)
	require.NoError(t, err)

	result, err := chain.Generate(context.Background(), Request{Prompt: "fox"})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Bytes)
	assert.EqualValues(t, 1, b.calls.Load())
}

func TestChain_TimeoutFallsThrough(t *testing.T) {
	slow := &fakeProvider{name: "slow", delay: time.Second, result: &Result{Bytes: validBytes()}}
	fast := &fakeProvider{name: "fast", result: &Result{Bytes: validBytes()}}

	chain, err := NewChain(testLogger(), 20*time.Millisecond, slow, fast)
	require.NoError(t, err)

	result, err := chain.Generate(context.Background(), Request{Prompt: "fox"})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Bytes)
	assert.EqualValues(t, 1, fast.calls.Load())
}

func TestChain_PanicIsContained(t *testing.T) {
	angry := &fakeProvider{name: "angry", panics: true}
	calm := &fakeProvider{name: "calm", result: &Result{Bytes: validBytes()}}

	chain, err := NewChain(testLogger(), time.Second, angry, calm)
	require.NoError(t, err)

	result, err := chain.Generate(context.Background(), Request{Prompt: "fox"})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Bytes)
}

func TestChain_TruncatesSourceImages(t *testing.T) {
	p := &fakeProvider{name: "p", result: &Result{Bytes: validBytes()}}
	chain, err := NewChain(testLogger(), time.Second, p)
	require.NoError(t, err)

	refs := make([]string, 0, MaxSourceImages+3)
	for i := 0; i < MaxSourceImages+3; i++ {
		refs = append(refs, fmt.Sprintf("https://cdn/ref-%d.jpg", i))
	}

	_, err = chain.Generate(context.Background(), Request{Prompt: "fox", SourceImageURLs: refs})
	require.NoError(t, err)
	assert.Len(t, p.lastReq.SourceImageURLs, MaxSourceImages)
}

func TestChain_RequiresProviders(t *testing.T) {
	_, err := NewChain(testLogger(), time.Second)
	assert.Error(t, err)
}

func TestValidateArtifact(t *testing.T) {
	assert.Error(t, validateArtifact(nil))
	assert.Error(t, validateArtifact([]byte("tiny")))
	assert.NoError(t, validateArtifact(validBytes()))
}
