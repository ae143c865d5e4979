package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"
)

const imagesPath = "/v1/images/generations"

type imagesRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	N      int      `json:"n"`
	Size   string   `json:"size,omitempty"`
	Image  []string `json:"image,omitempty"`
}

type imagesResponse struct {
	Data []struct {
		URL           string `json:"url"`
		B64JSON       string `json:"b64_json"`
		RevisedPrompt string `json:"revised_prompt"`
	} `json:"data"`
}

// GenerateImage returns a result with a non-empty URL or an error. Inline
// base64 results are uploaded through the configured mirror.
func (c *client) GenerateImage(ctx context.Context, req ImageRequest) (ImageResult, error) {
	var out ImageResult
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return out, errors.New("image prompt required")
	}
	model := firstNonEmpty(req.Model, c.cfg.ImageModel)
	size := firstNonEmpty(req.Size, c.cfg.ImageSize)
	body := imagesRequest{Model: model, Prompt: prompt, N: 1, Size: size, Image: req.References}

	started := time.Now()
	err := c.withRetry(ctx, "image", func(int) error {
		var resp imagesResponse
		if err := c.post(ctx, imagesPath, body, &resp); err != nil {
			return err
		}
		if len(resp.Data) == 0 {
			return invalidResponse("image response has no data")
		}
		item := resp.Data[0]
		url := strings.TrimSpace(item.URL)
		if url == "" && strings.TrimSpace(item.B64JSON) != "" {
			mirrored, err := c.mirrorInline(ctx, item.B64JSON)
			if err != nil {
				return err
			}
			url = mirrored
		}
		if url == "" {
			return invalidResponse("image response has an empty url")
		}
		out = ImageResult{
			URL:           url,
			Provider:      c.cfg.Provider,
			Model:         model,
			Size:          size,
			RevisedPrompt: strings.TrimSpace(item.RevisedPrompt),
		}
		return nil
	})
	observe("image", model, err, started)
	if err != nil {
		return ImageResult{}, err
	}
	return out, nil
}

func (c *client) mirrorInline(ctx context.Context, b64 string) (string, error) {
	if c.mirror == nil {
		return "", invalidResponse("image returned inline but no image storage is configured")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil || len(raw) == 0 {
		return "", invalidResponse("decode inline image: %v", err)
	}
	url, err := c.mirror.MirrorImage(ctx, raw, http.DetectContentType(raw))
	if err != nil {
		// Storage failures are ours, not the provider's.
		return "", err
	}
	return url, nil
}
