package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"cvSync/internal/cv"
	"cvSync/internal/metrics"
)

const (
	defaultBaseURL      = "https://api.openai.com/v1/chat/completions"
	defaultModel        = "gpt-4o-mini"
	defaultTimeout      = 30 * time.Second
	defaultMaxRetries   = 3
	defaultInitialDelay = 1 * time.Second
)

// Client 通过 OpenAI 兼容的 chat completions 接口执行润色与翻译。
type Client struct {
	apiKey       string
	baseURL      string
	model        string
	timeout      time.Duration
	maxRetries   int
	initialDelay time.Duration
	limiter      *rate.Limiter
	quota        *Quota
	http         *http.Client
	logger       *slog.Logger
}

// Option 配置 Client。
type Option func(*Client)

// WithBaseURL 设置 chat completions 端点。
func WithBaseURL(url string) Option {
	return func(c *Client) {
		if strings.TrimSpace(url) != "" {
			c.baseURL = url
		}
	}
}

// WithModel 设置模型名。
func WithModel(model string) Option {
	return func(c *Client) {
		if strings.TrimSpace(model) != "" {
			c.model = model
		}
	}
}

// WithTimeout 设置单次调用（含重试）的超时。
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetry 设置最大尝试次数与首次退避时长。
func WithRetry(maxRetries int, initialDelay time.Duration) Option {
	return func(c *Client) {
		if maxRetries > 0 {
			c.maxRetries = maxRetries
		}
		if initialDelay > 0 {
			c.initialDelay = initialDelay
		}
	}
}

// WithRateLimit 限制每秒请求数；rps <= 0 表示不限速。
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithQuota 设置每日调用配额。
func WithQuota(q *Quota) Option {
	return func(c *Client) { c.quota = q }
}

// WithLogger 设置日志记录器。
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient 替换底层 HTTP 客户端。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// NewClient 创建 LLM 客户端。
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:       apiKey,
		baseURL:      defaultBaseURL,
		model:        defaultModel,
		timeout:      defaultTimeout,
		maxRetries:   defaultMaxRetries,
		initialDelay: defaultInitialDelay,
		http:         &http.Client{},
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Polish 修正 lang 语言文本的语法与拼写。
func (c *Client) Polish(ctx context.Context, lang cv.Language, texts map[string]string) (map[string]string, error) {
	return c.complete(ctx, "polish", polishPrompt(lang), texts)
}

// Translate 把文本从 from 翻译为 to。
func (c *Client) Translate(ctx context.Context, from, to cv.Language, texts map[string]string) (map[string]string, error) {
	return c.complete(ctx, "translate", translatePrompt(from, to), texts)
}

func (c *Client) complete(ctx context.Context, op, system string, texts map[string]string) (out map[string]string, err error) {
	if len(texts) == 0 {
		return map[string]string{}, nil
	}

	start := time.Now()
	defer func() {
		metrics.ObserveLLMCall(op, outcome(err), time.Since(start).Seconds())
	}()

	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: api key not set", ErrUnavailable)
	}
	if c.quota != nil && !c.quota.Allow(ctx) {
		return nil, fmt.Errorf("%w: daily quota reached", ErrQuotaExceeded)
	}

	payload, err := json.Marshal(texts)
	if err != nil {
		return nil, fmt.Errorf("marshal texts: %w", err)
	}
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: string(payload)},
		},
		Temperature:    0,
		ResponseFormat: responseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	content, err := c.send(ctx, body)
	if err != nil {
		return nil, err
	}
	return parseMapping(content, texts)
}

// send 带指数退避地发送请求：429（非配额）与 5xx 重试，其余 4xx 不重试。
func (c *Client) send(ctx context.Context, body []byte) (string, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt-1))) * c.initialDelay
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return "", fmt.Errorf("%w: rate limiter: %v", ErrUnavailable, err)
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%w: request failed: %v", ErrUnavailable, err)
			if ctx.Err() != nil {
				return "", lastErr
			}
			continue
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			var apiErr apiError
			_ = json.Unmarshal(respBody, &apiErr)
			msg := apiErr.Error.Message
			if msg == "" {
				msg = strings.TrimSpace(string(respBody))
			}
			if resp.StatusCode == http.StatusTooManyRequests && isQuotaCode(apiErr.Error.Code, apiErr.Error.Type) {
				return "", fmt.Errorf("%w: %s", ErrQuotaExceeded, msg)
			}
			lastErr = fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, msg)
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				c.logger.Warn("llm request failed, retrying",
					slog.Int("status", resp.StatusCode),
					slog.Int("attempt", attempt+1),
				)
				continue
			}
			return "", lastErr
		}

		var chat chatResponse
		if err := json.Unmarshal(respBody, &chat); err != nil {
			return "", fmt.Errorf("%w: decode response: %v", ErrSchemaMismatch, err)
		}
		if len(chat.Choices) == 0 {
			return "", fmt.Errorf("%w: no choices returned", ErrSchemaMismatch)
		}
		return chat.Choices[0].Message.Content, nil
	}
	return "", fmt.Errorf("max retries (%d) exceeded: %w", c.maxRetries, lastErr)
}

func isQuotaCode(code, typ string) bool {
	return code == "insufficient_quota" || typ == "insufficient_quota"
}

// parseMapping 解析模型输出，要求是与 want 键集合一致的字符串映射。
func parseMapping(content string, want map[string]string) (map[string]string, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var raw map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: key %q is %T, want string", ErrSchemaMismatch, k, v)
		}
		out[k] = s
	}
	if !cv.SameKeys(want, out) {
		return nil, fmt.Errorf("%w: expected %d keys, got %d", ErrSchemaMismatch, len(want), len(out))
	}
	return out, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, ErrSchemaMismatch):
		return "schema_mismatch"
	default:
		return "unavailable"
	}
}
