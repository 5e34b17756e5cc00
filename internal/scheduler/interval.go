package scheduler

import (
	"strconv"
	"strings"
	"time"
)

// ParseIntervalDuration 把 "5m"/"1h"/"1d" 这类周期串解析为 time.Duration。
// 不认识的格式返回 (0, false)。
func ParseIntervalDuration(interval string) (time.Duration, bool) {
	s := strings.ToLower(strings.TrimSpace(interval))
	if len(s) < 2 {
		return 0, false
	}
	unit := s[len(s)-1]
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, false
	}
	switch unit {
	case 's':
		return time.Duration(n) * time.Second, true
	case 'm':
		return time.Duration(n) * time.Minute, true
	case 'h':
		return time.Duration(n) * time.Hour, true
	case 'd':
		return time.Duration(n) * 24 * time.Hour, true
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, true
	default:
		return 0, false
	}
}
