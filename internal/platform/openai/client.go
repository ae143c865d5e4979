package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/yungbote/storyforge-backend/internal/observability"
	"github.com/yungbote/storyforge-backend/internal/pkg/httpx"
	"github.com/yungbote/storyforge-backend/internal/platform/envutil"
	"github.com/yungbote/storyforge-backend/internal/platform/logger"
)

// StreamSink receives incremental output. Either delta may be empty.
type StreamSink func(contentDelta, reasoningDelta string)

// TextRequest is one structured call to the text endpoint.
type TextRequest struct {
	System    string
	Stage     string
	Mode      string
	Input     string
	Prior     map[string]any
	Feedback  string
	Documents []map[string]any
	// Required lists keys the JSON object must contain.
	Required []string
	// Sink switches the call to streaming when set and streaming is enabled.
	Sink StreamSink
}

type ImageRequest struct {
	Prompt     string
	References []string
	Size       string
	Model      string
}

type ImageResult struct {
	URL           string `json:"url"`
	Provider      string `json:"provider"`
	Model         string `json:"model"`
	Size          string `json:"size"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
}

// ImageMirror stores inline image bytes and returns a public http(s) URL.
type ImageMirror interface {
	MirrorImage(ctx context.Context, data []byte, mimeType string) (string, error)
}

// Client is the model client used by the generation, overlay, and image services.
type Client interface {
	// GenerateJSON decodes the stage's JSON object into out after checking Required keys.
	GenerateJSON(ctx context.Context, req TextRequest, out any) error
	// GenerateText returns free text, used for prompt rewrites.
	GenerateText(ctx context.Context, req TextRequest) (string, error)
	// StreamText emits deltas to sink and returns the concatenated content.
	StreamText(ctx context.Context, req TextRequest, sink StreamSink) (string, error)
	GenerateImage(ctx context.Context, req ImageRequest) (ImageResult, error)
}

type Config struct {
	APIKey            string
	BaseURL           string
	Model             string
	ImageModel        string
	ImageSize         string
	Provider          string
	Timeout           time.Duration
	MaxAttempts       int
	BackoffBase       time.Duration
	MaxBackoff        time.Duration
	RequestsPerMinute int
	Stream            bool
}

func ConfigFromEnv() Config {
	return Config{
		APIKey:            envutil.String("OPENAI_API_KEY", ""),
		BaseURL:           envutil.String("OPENAI_BASE_URL", "https://api.openai.com"),
		Model:             envutil.String("OPENAI_MODEL", "gpt-4o-mini"),
		ImageModel:        envutil.String("OPENAI_IMAGE_MODEL", "gpt-image-1"),
		ImageSize:         envutil.String("IMAGE_DEFAULT_SIZE", "960x1280"),
		Provider:          envutil.String("OPENAI_PROVIDER_NAME", "openai"),
		Timeout:           envutil.Seconds("OPENAI_TIMEOUT_SECONDS", 180*time.Second),
		MaxAttempts:       envutil.Int("OPENAI_MAX_ATTEMPTS", 5),
		BackoffBase:       envutil.Millis("OPENAI_BACKOFF_BASE_MS", 2*time.Second),
		MaxBackoff:        envutil.Seconds("OPENAI_MAX_BACKOFF_SECONDS", 30*time.Second),
		RequestsPerMinute: envutil.Int("OPENAI_REQUESTS_PER_MINUTE", 0),
		Stream:            envutil.Bool("OPENAI_STREAM", false),
	}
}

type client struct {
	log        *logger.Logger
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	mirror     ImageMirror
}

type Option func(*client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithImageMirror uploads inline (b64_json) image results so callers always get a URL.
func WithImageMirror(m ImageMirror) Option {
	return func(c *client) { c.mirror = m }
}

func NewClient(log *logger.Logger, cfg Config, opts ...Option) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 180 * time.Second
	}
	if cfg.Provider == "" {
		cfg.Provider = "openai"
	}
	c := &client{
		log:        log.With("service", "ModelClient"),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.RequestsPerMinute > 0 {
		burst := cfg.RequestsPerMinute / 10
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// withRetry runs call until it succeeds, fails with a non-retryable error, or
// MaxAttempts is exhausted. Provider Retry-After hints override the computed backoff.
func (c *client) withRetry(ctx context.Context, op string, call func(attempt int) error) error {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		err := call(attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return err
		}
		if attempt == c.cfg.MaxAttempts {
			break
		}

		sleepFor := httpx.Jitter(httpx.Backoff(c.cfg.BackoffBase, attempt, c.cfg.MaxBackoff))
		var pe *ProviderError
		if errors.As(err, &pe) && pe.RetryAfter > 0 {
			sleepFor = pe.RetryAfter
			if c.cfg.MaxBackoff > 0 && sleepFor > c.cfg.MaxBackoff {
				sleepFor = c.cfg.MaxBackoff
			}
		}
		c.log.Warn("Model request retrying",
			"op", op,
			"attempt", attempt,
			"max_attempts", c.cfg.MaxAttempts,
			"kind", string(KindOf(err)),
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		if err := httpx.Sleep(ctx, sleepFor); err != nil {
			return err
		}
	}
	return fmt.Errorf("%s: giving up after %d attempts: %w", op, c.cfg.MaxAttempts, lastErr)
}

func (c *client) newRequest(ctx context.Context, path string, body any, stream bool) (*http.Request, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	return req, nil
}

// send performs one HTTP round trip and classifies failures. On success the
// caller owns resp.Body.
func (c *client) send(ctx context.Context, path string, body any, stream bool) (*http.Response, error) {
	req, err := c.newRequest(ctx, path, body, stream)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, transportError(err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	_ = resp.Body.Close()
	return nil, classifyStatus(resp.StatusCode, string(raw), httpx.RetryAfter(resp.Header, time.Now()))
}

// post sends body and decodes a JSON response into out.
func (c *client) post(ctx context.Context, path string, body any, out any) error {
	resp, err := c.send(ctx, path, body, false)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ProviderError{Kind: KindTransportFailure, StatusCode: resp.StatusCode, Err: err}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return invalidResponse("decode %s response: %v", path, err)
	}
	return nil
}

func observe(kind, model string, err error, started time.Time) {
	m := observability.Current()
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = string(KindOf(err))
		if status == "" {
			status = "error"
		}
	}
	m.ObserveModelCall(kind, model, status, time.Since(started))
}
