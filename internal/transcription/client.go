package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gitloop/internal/httpclient"
	"gitloop/internal/language"
	"gitloop/internal/retry"
	"gitloop/internal/services"
	"gitloop/internal/transcript"
)

const (
	defaultBaseURL        = "https://api.groq.com/openai/v1"
	defaultModel          = "whisper-large-v3-turbo"
	defaultHTTPTimeout    = 5 * time.Minute
	defaultRetryAttempts  = 4
	defaultRetryBaseDelay = 2 * time.Second
	defaultRetryMaxDelay  = 60 * time.Second
	maxErrorBody          = 512
)

// Config captures the settings for an OpenAI-compatible transcription API.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	MaxUploadBytes int64
	TimeoutSeconds int
	RetryAttempts  int
}

// Client transcribes audio through the /audio/transcriptions endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
	policy     retry.Policy
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.policy.BaseDelay = baseDelay
		c.policy.MaxDelay = maxDelay
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.policy.Sleeper = sleeper
	}
}

// NewClient constructs a transcription client. An empty API key is a
// configuration error.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.APIKey == "" {
		return nil, services.Wrap(services.ErrConfiguration, "transcription", "client",
			"api key required (set GROQ_API_KEY or transcription.api_key)", nil)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = defaultRetryAttempts
	}
	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		policy: retry.Policy{
			Attempts:  attempts,
			BaseDelay: defaultRetryBaseDelay,
			MaxDelay:  defaultRetryMaxDelay,
		},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Name identifies the backend in logs and the transcript cache.
func (c *Client) Name() string { return "groq" }

// Capabilities reports URL support and the upload ceiling.
func (c *Client) Capabilities() Capabilities {
	return Capabilities{URL: true, MaxUploadBytes: c.cfg.MaxUploadBytes}
}

type verboseResponse struct {
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Text     string  `json:"text"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// Transcribe sends one request, retrying rate limits and service errors
// with capped exponential backoff that honours Retry-After.
func (c *Client) Transcribe(ctx context.Context, req Request) (Result, error) {
	if len(req.Audio) == 0 && req.Path != "" {
		data, err := os.ReadFile(req.Path)
		if err != nil {
			return Result{}, services.Wrap(services.ErrMaterialUnavailable, "transcription", "read audio", req.Path, err)
		}
		req.Audio = data
		if req.FileName == "" {
			req.FileName = filepath.Base(req.Path)
		}
	}
	if len(req.Audio) == 0 && req.URL == "" {
		return Result{}, services.Wrap(services.ErrConfiguration, "transcription", "request", "audio or url required", nil)
	}
	if len(req.Audio) > 0 && c.cfg.MaxUploadBytes > 0 && int64(len(req.Audio)) > c.cfg.MaxUploadBytes {
		return Result{}, services.Wrap(services.ErrPayloadTooLarge, "transcription", "request",
			fmt.Sprintf("%d bytes exceeds upload ceiling %d", len(req.Audio), c.cfg.MaxUploadBytes), nil)
	}
	return retry.Value(ctx, c.policy, func(ctx context.Context) (Result, error) {
		return c.transcribeOnce(ctx, req)
	})
}

func (c *Client) transcribeOnce(ctx context.Context, req Request) (Result, error) {
	body, contentType, err := c.encodeForm(req)
	if err != nil {
		return Result{}, err
	}
	endpoint, err := url.JoinPath(c.cfg.BaseURL, "audio", "transcriptions")
	if err != nil {
		return Result{}, services.Wrap(services.ErrConfiguration, "transcription", "request", "build url", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return Result{}, services.Wrap(services.ErrConfiguration, "transcription", "request", "new request", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, services.Wrap(services.ErrTranscriptionService, "transcription", "request",
			fmt.Sprintf("http error (timeout=%s)", c.httpClient.Timeout), err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, services.Wrap(services.ErrTranscriptionService, "transcription", "request", "read body", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return Result{}, statusError(resp, payload)
	}

	var decoded verboseResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return Result{}, services.Permanent(services.Wrap(services.ErrTranscriptionService, "transcription", "decode",
			"unexpected response body", err))
	}
	return decoded.result(), nil
}

func (c *Client) encodeForm(req Request) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	fields := [][2]string{
		{"model", c.cfg.Model},
		{"response_format", "verbose_json"},
		{"timestamp_granularities[]", "segment"},
		{"temperature", "0"},
	}
	if lang := language.Base(req.Language); lang != "" {
		fields = append(fields, [2]string{"language", lang})
	}
	if len(req.Audio) == 0 {
		fields = append(fields, [2]string{"url", req.URL})
	}
	for _, field := range fields {
		if err := writer.WriteField(field[0], field[1]); err != nil {
			return nil, "", fmt.Errorf("encode form: %w", err)
		}
	}
	if len(req.Audio) > 0 {
		name := req.FileName
		if name == "" {
			name = "audio.flac"
		}
		part, err := writer.CreateFormFile("file", name)
		if err != nil {
			return nil, "", fmt.Errorf("encode form: %w", err)
		}
		if _, err := part.Write(req.Audio); err != nil {
			return nil, "", fmt.Errorf("encode form: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("encode form: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}

func statusError(resp *http.Response, body []byte) error {
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > maxErrorBody {
		snippet = snippet[:maxErrorBody] + "..."
	}
	cause := &httpclient.StatusError{URL: resp.Request.URL.String(), StatusCode: resp.StatusCode}
	msg := fmt.Sprintf("http %d: %s", resp.StatusCode, snippet)
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		delay, ok := httpclient.ParseRetryAfter(resp.Header.Get("Retry-After"))
		err := services.Wrap(services.ErrRateLimit, "transcription", "request", msg, cause)
		if ok {
			cause.RetryAfter = delay
			return services.WithRetryAfter(err, delay)
		}
		return err
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		return services.Wrap(services.ErrPayloadTooLarge, "transcription", "request", msg, cause)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return services.Wrap(services.ErrConfiguration, "transcription", "request", msg, cause)
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode >= http.StatusInternalServerError:
		err := services.Wrap(services.ErrTranscriptionService, "transcription", "request", msg, cause)
		if delay, ok := httpclient.ParseRetryAfter(resp.Header.Get("Retry-After")); ok {
			return services.WithRetryAfter(err, delay)
		}
		return err
	default:
		return services.Permanent(services.Wrap(services.ErrTranscriptionService, "transcription", "request", msg, cause))
	}
}

func (r verboseResponse) result() Result {
	result := Result{
		Language: language.Base(r.Language),
		Duration: seconds(r.Duration),
	}
	for _, seg := range r.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		result.Segments = append(result.Segments, transcript.Segment{
			Text:  text,
			Start: seconds(seg.Start),
			End:   seconds(seg.End),
		})
	}
	if len(result.Segments) == 0 {
		if text := strings.TrimSpace(r.Text); text != "" {
			result.Segments = []transcript.Segment{{Text: text, End: result.Duration}}
		}
	}
	return result
}

func seconds(value float64) time.Duration {
	return time.Duration(value * float64(time.Second)).Round(time.Millisecond)
}

// IsFatal reports whether err must abort a multi-chunk transcription
// rather than become a gap.
func IsFatal(err error) bool {
	return errors.Is(err, services.ErrPayloadTooLarge) || errors.Is(err, services.ErrConfiguration)
}
