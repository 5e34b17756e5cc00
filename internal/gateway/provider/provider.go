package provider

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// ChatPayload 一次模型调用的输入。
type ChatPayload struct {
	System    string
	User      string
	MaxTokens int
}

// ModelProvider 模型提供方统一接口。
type ModelProvider interface {
	ID() string
	Enabled() bool
	Call(ctx context.Context, payload ChatPayload) (string, error)
}

// ModelCfg 配置文件里的模型条目。
type ModelCfg struct {
	ID      string            `toml:"id"`
	APIURL  string            `toml:"api_url"`
	APIKey  string            `toml:"api_key"`
	Model   string            `toml:"model"`
	Enabled bool              `toml:"enabled"`
	Headers map[string]string `toml:"headers"`
}

// BuildProvidersFromConfig 根据配置条目构造 Provider 列表。
func BuildProvidersFromConfig(models []ModelCfg, timeout time.Duration) []ModelProvider {
	out := make([]ModelProvider, 0, len(models))
	for _, m := range models {
		if !m.Enabled {
			continue
		}
		id := strings.TrimSpace(m.ID)
		if id == "" {
			id = "openai:" + strings.TrimSpace(m.Model)
		}
		client := &OpenAIChatClient{
			BaseURL:      m.APIURL,
			APIKey:       m.APIKey,
			Model:        m.Model,
			ExtraHeaders: m.Headers,
		}
		if timeout > 0 {
			client.Timeout = timeout
		}
		out = append(out, NewOpenAIModelProvider(id, true, client))
	}
	return out
}

func ensureCtx(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func normalizeRetries(n int) int {
	if n < 0 {
		return 0
	}
	if n > 5 {
		return 5
	}
	return n
}

func shouldRetry(status int) bool {
	return status == 429 || status/100 == 5
}

// parseRetryAfter 解析 Retry-After 头，缺省指数退避。
func parseRetryAfter(raw string, attempt int) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && secs > 0 {
		if secs > 30 {
			secs = 30
		}
		return time.Duration(secs) * time.Second
	}
	wait := time.Duration(1<<uint(attempt)) * time.Second
	if wait > 16*time.Second {
		wait = 16 * time.Second
	}
	return wait
}

func redactHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		lk := strings.ToLower(k)
		if strings.Contains(lk, "auth") || strings.Contains(lk, "key") || strings.Contains(lk, "token") {
			if len(v) > 4 {
				out[k] = "****" + v[len(v)-4:]
			} else {
				out[k] = "****"
			}
			continue
		}
		out[k] = v
	}
	return out
}
