package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"tradeloop/internal/logger"
)

// OpenAIChatClient OpenAI 兼容接口客户端（/chat/completions）。
// 大多数第三方推理服务都兼容该协议，换供应商只需改 BaseURL 与 Model。
type OpenAIChatClient struct {
	BaseURL      string
	APIKey       string
	Model        string
	Timeout      time.Duration
	MaxRetries   int
	ExtraHeaders map[string]string
}

func (c *OpenAIChatClient) Call(ctx context.Context, payload ChatPayload) (string, error) {
	ctx = ensureCtx(ctx)
	timeout := c.effectiveTimeout()
	maxRetries := normalizeRetries(c.MaxRetries)
	url := c.completionsURL()

	body := c.buildBody(payload)
	httpc := &http.Client{Timeout: timeout}
	return c.doCompletions(ctx, httpc, url, body, maxRetries)
}

// effectiveTimeout 不回写字段，Call 可被并发调用。
func (c *OpenAIChatClient) effectiveTimeout() time.Duration {
	if c.Timeout <= 0 {
		return 60 * time.Second
	}
	return c.Timeout
}

func (c *OpenAIChatClient) completionsURL() string {
	url := strings.TrimRight(c.BaseURL, "/")
	if url == "" {
		url = "https://api.openai.com/v1"
	}
	url = strings.TrimSuffix(url, "/chat/completions")
	return url + "/chat/completions"
}

func (c *OpenAIChatClient) buildBody(payload ChatPayload) []byte {
	msgs := make([]map[string]any, 0, 2)
	if strings.TrimSpace(payload.System) != "" {
		msgs = append(msgs, map[string]any{"role": "system", "content": payload.System})
	}
	msgs = append(msgs, map[string]any{"role": "user", "content": payload.User})

	maxTokens := payload.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	body := map[string]any{
		"model":       c.Model,
		"messages":    msgs,
		"temperature": 0.4,
		"max_tokens":  maxTokens,
	}
	b, _ := json.Marshal(body)
	return b
}

func (c *OpenAIChatClient) doCompletions(ctx context.Context, httpc *http.Client, url string, body []byte, maxRetries int) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt == 0 {
			logger.Debugf("[AI] 请求: POST %s headers=%v", url, redactHeaders(c.headers()))
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return "", err
		}
		for k, v := range c.headers() {
			req.Header.Set(k, v)
		}
		resp, err := httpc.Do(req)
		if err != nil {
			lastErr = err
			break
		}

		if resp.StatusCode/100 == 2 {
			content, err := decodeChatContent(resp)
			if err != nil {
				lastErr = err
				break
			}
			return content, nil
		}

		msg := parseChatError(resp)
		lastErr = fmt.Errorf("status=%d: %s", resp.StatusCode, msg)
		if shouldRetry(resp.StatusCode) && attempt < maxRetries {
			wait := parseRetryAfter(resp.Header.Get("Retry-After"), attempt)
			time.Sleep(wait)
			continue
		}
		break
	}
	return "", lastErr
}

func decodeChatContent(resp *http.Response) (string, error) {
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			logger.Debugf("[AI] response body close failed: %v", cerr)
		}
	}()
	var r struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", err
	}
	if len(r.Choices) == 0 {
		return "", fmt.Errorf("empty choices")
	}
	out := strings.TrimSpace(r.Choices[0].Message.Content)
	if out == "" {
		return "", fmt.Errorf("empty message content")
	}
	return out, nil
}

func parseChatError(resp *http.Response) string {
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			logger.Debugf("[AI] response body close failed: %v", cerr)
		}
	}()
	var eresp struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&eresp); err == nil && strings.TrimSpace(eresp.Error.Message) != "" {
		return eresp.Error.Message
	}
	return resp.Status
}

func (c *OpenAIChatClient) headers() map[string]string {
	out := map[string]string{"Content-Type": "application/json"}
	if c.APIKey != "" {
		out["Authorization"] = "Bearer " + c.APIKey
	}
	for k, v := range c.ExtraHeaders {
		out[k] = v
	}
	return out
}

// OpenAIModelProvider 把客户端包装成 ModelProvider。
type OpenAIModelProvider struct {
	id      string
	enabled bool
	client  interface {
		Call(ctx context.Context, payload ChatPayload) (string, error)
	}
}

func NewOpenAIModelProvider(id string, enabled bool, client interface {
	Call(context.Context, ChatPayload) (string, error)
}) *OpenAIModelProvider {
	return &OpenAIModelProvider{id: id, enabled: enabled, client: client}
}

func (p *OpenAIModelProvider) ID() string    { return p.id }
func (p *OpenAIModelProvider) Enabled() bool { return p.enabled }
func (p *OpenAIModelProvider) Call(ctx context.Context, payload ChatPayload) (string, error) {
	return p.client.Call(ctx, payload)
}
