package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// 模型输出经常混着解释文字和 ```json 围栏，这里做健壮抽取：
// 剥围栏后扫描首个括号配对完整的 JSON 对象，字符串与转义按 JSON 规则跳过。

// ErrNoJSON 原始文本里找不到完整的 JSON 对象。
var ErrNoJSON = errors.New("no json object in model output")

// ExtractJSONObject 从模型原始输出中抽取首个完整的 JSON 对象文本。
func ExtractJSONObject(raw string) (string, error) {
	raw = stripFences(raw)
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", fmt.Errorf("%w: %.80q", ErrNoJSON, raw)
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		ch := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("%w: 括号不配对", ErrNoJSON)
}

func stripFences(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "```") {
		return raw
	}
	raw = strings.TrimPrefix(raw, "```")
	if nl := strings.IndexByte(raw, '\n'); nl >= 0 {
		// 跳过围栏语言标记行（如 "json"）。
		head := strings.TrimSpace(raw[:nl])
		if head == "" || len(head) <= 10 && !strings.ContainsAny(head, "{}") {
			raw = raw[nl+1:]
		}
	}
	if idx := strings.LastIndex(raw, "```"); idx >= 0 {
		raw = raw[:idx]
	}
	return strings.TrimSpace(raw)
}

// stanceReply 模型方向判断的期望结构。
type stanceReply struct {
	Stance     string  `json:"stance"`
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// parseStanceReply 解析模型输出为方向判断。confidence 兼容 0-100 与 0-1 两种标度。
func parseStanceReply(raw string) (stanceReply, error) {
	text, err := ExtractJSONObject(raw)
	if err != nil {
		return stanceReply{}, err
	}
	var r stanceReply
	if err := json.Unmarshal([]byte(text), &r); err != nil {
		return stanceReply{}, fmt.Errorf("解析模型输出失败: %w", err)
	}
	r.Stance = strings.ToLower(strings.TrimSpace(r.Stance))
	r.Action = strings.ToLower(strings.TrimSpace(r.Action))
	if r.Confidence > 1 {
		r.Confidence /= 100
	}
	if r.Confidence < 0 {
		r.Confidence = 0
	}
	if r.Confidence > 1 {
		r.Confidence = 1
	}
	return r, nil
}
