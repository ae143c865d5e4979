// Package openaitest provides a scriptable openai.Client for tests.
package openaitest

import (
	"context"
	"errors"
	"sync"

	"github.com/yungbote/storyforge-backend/internal/platform/openai"
)

// Fake answers calls through its hooks and records every request.
type Fake struct {
	// JSON returns the raw completion for a structured call.
	JSON  func(req openai.TextRequest) (string, error)
	Text  func(req openai.TextRequest) (string, error)
	Image func(req openai.ImageRequest) (openai.ImageResult, error)

	mu         sync.Mutex
	textCalls  []openai.TextRequest
	imageCalls []openai.ImageRequest
}

var _ openai.Client = (*Fake)(nil)

func (f *Fake) GenerateJSON(ctx context.Context, req openai.TextRequest, out any) error {
	f.recordText(req)
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.JSON == nil {
		return errors.New("openaitest: no JSON hook")
	}
	raw, err := f.JSON(req)
	if err != nil {
		return err
	}
	if req.Sink != nil {
		req.Sink(raw, "")
	}
	return openai.DecodeStageObject(req.Stage, raw, req.Required, out)
}

func (f *Fake) GenerateText(ctx context.Context, req openai.TextRequest) (string, error) {
	f.recordText(req)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if f.Text == nil {
		return "", errors.New("openaitest: no Text hook")
	}
	return f.Text(req)
}

func (f *Fake) StreamText(ctx context.Context, req openai.TextRequest, sink openai.StreamSink) (string, error) {
	out, err := f.GenerateText(ctx, req)
	if err == nil && sink != nil {
		sink(out, "")
	}
	return out, err
}

func (f *Fake) GenerateImage(ctx context.Context, req openai.ImageRequest) (openai.ImageResult, error) {
	f.mu.Lock()
	f.imageCalls = append(f.imageCalls, req)
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return openai.ImageResult{}, err
	}
	if f.Image == nil {
		return openai.ImageResult{}, errors.New("openaitest: no Image hook")
	}
	return f.Image(req)
}

func (f *Fake) recordText(req openai.TextRequest) {
	f.mu.Lock()
	f.textCalls = append(f.textCalls, req)
	f.mu.Unlock()
}

func (f *Fake) TextCalls() []openai.TextRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]openai.TextRequest(nil), f.textCalls...)
}

func (f *Fake) ImageCalls() []openai.ImageRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]openai.ImageRequest(nil), f.imageCalls...)
}
