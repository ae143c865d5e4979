package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"
)

const chatPath = "/v1/chat/completions"

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
	Stream         bool           `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"delta"`
	} `json:"choices"`
	Error json.RawMessage `json:"error,omitempty"`
}

// userPayload is the user turn: stage name, mode, source input, prior outputs, and feedback.
func userPayload(req TextRequest) (string, error) {
	payload := map[string]any{
		"stage": req.Stage,
		"mode":  firstNonEmpty(req.Mode, "general"),
	}
	if strings.TrimSpace(req.Input) != "" {
		payload["input"] = req.Input
	}
	if len(req.Prior) > 0 {
		payload["prior_stage_outputs"] = req.Prior
	}
	if strings.TrimSpace(req.Feedback) != "" {
		payload["user_feedback"] = req.Feedback
	}
	if len(req.Documents) > 0 {
		payload["documents"] = req.Documents
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (c *client) chatBody(req TextRequest, jsonMode, stream bool) (chatRequest, error) {
	user, err := userPayload(req)
	if err != nil {
		return chatRequest{}, err
	}
	body := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: strings.TrimSpace(req.System)},
			{Role: "user", Content: user},
		},
		Stream: stream,
	}
	if jsonMode {
		body.ResponseFormat = map[string]any{"type": "json_object"}
	}
	return body, nil
}

func (c *client) GenerateJSON(ctx context.Context, req TextRequest, out any) error {
	var (
		content string
		err     error
	)
	if req.Sink != nil && c.cfg.Stream {
		content, err = c.stream(ctx, req, true, req.Sink)
		if err != nil {
			return err
		}
		return decodeStageObject(req.Stage, content, req.Required, out)
	}
	_, err = c.complete(ctx, req, true, func(content string) error {
		return decodeStageObject(req.Stage, content, req.Required, out)
	})
	return err
}

func (c *client) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	content, err := c.complete(ctx, req, false, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

func (c *client) StreamText(ctx context.Context, req TextRequest, sink StreamSink) (string, error) {
	return c.stream(ctx, req, false, sink)
}

// complete runs a non-streaming call; check runs inside the retry loop so a
// malformed body counts as invalid_response and is retried.
func (c *client) complete(ctx context.Context, req TextRequest, jsonMode bool, check func(string) error) (string, error) {
	body, err := c.chatBody(req, jsonMode, false)
	if err != nil {
		return "", err
	}
	started := time.Now()
	var content string
	err = c.withRetry(ctx, "text:"+req.Stage, func(int) error {
		var resp chatResponse
		if err := c.post(ctx, chatPath, body, &resp); err != nil {
			return err
		}
		if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
			return invalidResponse("empty completion")
		}
		content = resp.Choices[0].Message.Content
		if check != nil {
			return check(content)
		}
		return nil
	})
	observe("text", c.cfg.Model, err, started)
	return content, err
}

// stream retries only while nothing has reached the sink. Once a delta was
// emitted, a broken stream ends the call with the content received so far.
func (c *client) stream(ctx context.Context, req TextRequest, jsonMode bool, sink StreamSink) (string, error) {
	body, err := c.chatBody(req, jsonMode, true)
	if err != nil {
		return "", err
	}
	started := time.Now()
	var full strings.Builder
	emitted := false

	err = c.withRetry(ctx, "stream:"+req.Stage, func(int) error {
		if emitted {
			return nil
		}
		resp, err := c.send(ctx, chatPath, body, true)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		streamErr := streamSSE(resp.Body, func(_ string, data string) error {
			data = strings.TrimSpace(data)
			if data == "" || data == "[DONE]" {
				return nil
			}
			var chunk chatChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				return nil
			}
			if len(chunk.Error) > 0 && !bytes.Equal(chunk.Error, []byte("null")) {
				return &ProviderError{Kind: KindUpstreamUnavailable, Body: string(chunk.Error)}
			}
			for _, choice := range chunk.Choices {
				content, reasoning := choice.Delta.Content, choice.Delta.ReasoningContent
				if content == "" && reasoning == "" {
					continue
				}
				full.WriteString(content)
				emitted = true
				if sink != nil {
					sink(content, reasoning)
				}
			}
			return nil
		})
		if streamErr == nil {
			if !emitted {
				return invalidResponse("stream ended without content")
			}
			return nil
		}
		if emitted {
			c.log.Warn("Model stream interrupted after output; keeping partial content",
				"stage", req.Stage,
				"chars", full.Len(),
				"error", streamErr.Error(),
			)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, ok := streamErr.(*ProviderError); ok {
			return streamErr
		}
		return &ProviderError{Kind: KindTransportFailure, Err: streamErr}
	})
	observe("stream", c.cfg.Model, err, started)
	if err != nil {
		return "", err
	}
	return full.String(), nil
}

// DecodeStageObject is the check GenerateJSON applies to a completion.
func DecodeStageObject(stage, content string, required []string, out any) error {
	return decodeStageObject(stage, content, required, out)
}

// decodeStageObject enforces a single JSON object carrying every required key.
func decodeStageObject(stage, content string, required []string, out any) error {
	trimmed := strings.TrimSpace(content)
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
		return invalidResponse("stage %s: response is not a JSON object: %v", stage, err)
	}
	var missing []string
	for _, key := range required {
		raw, ok := fields[key]
		if !ok || len(raw) == 0 || string(raw) == "null" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &ValidationError{Stage: stage, Missing: missing}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal([]byte(trimmed), out); err != nil {
		return &ValidationError{Stage: stage, Detail: err.Error()}
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
