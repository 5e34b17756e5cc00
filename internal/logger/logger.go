package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// 中文说明：
// 统一的进程级日志封装。底层使用 zerolog，对外暴露 printf 风格接口，
// 业务代码不直接依赖 zerolog 类型。

var (
	mu  sync.RWMutex
	log = newLogger(os.Stderr, zerolog.InfoLevel, true)

	// sinks 额外接收 INFO 及以上级别的日志行（例如 dashboard 的日志环）。
	sinks []func(line string)
)

// Setup 根据配置初始化全局 logger。level 取 debug/info/warn/error。
func Setup(level string, pretty bool) {
	lv := zerolog.InfoLevel
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lv = zerolog.DebugLevel
	case "info":
		lv = zerolog.InfoLevel
	case "warn":
		lv = zerolog.WarnLevel
	case "error":
		lv = zerolog.ErrorLevel
	}
	mu.Lock()
	log = newLogger(os.Stderr, lv, pretty)
	mu.Unlock()
}

func newLogger(w io.Writer, lv zerolog.Level, pretty bool) zerolog.Logger {
	var out io.Writer = w
	if pretty {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	return zerolog.New(out).Level(lv).With().Timestamp().Logger()
}

// AddSink 注册一个日志副本接收器（INFO 及以上）。
func AddSink(fn func(line string)) {
	if fn == nil {
		return
	}
	mu.Lock()
	sinks = append(sinks, fn)
	mu.Unlock()
}

func fanout(msg string) {
	mu.RLock()
	fns := sinks
	mu.RUnlock()
	for _, fn := range fns {
		fn(msg)
	}
}

func Debugf(format string, args ...any) {
	mu.RLock()
	l := log
	mu.RUnlock()
	l.Debug().Msgf(format, args...)
}

func Infof(format string, args ...any) {
	mu.RLock()
	l := log
	mu.RUnlock()
	l.Info().Msgf(format, args...)
	fanout(fmt.Sprintf(format, args...))
}

func Warnf(format string, args ...any) {
	mu.RLock()
	l := log
	mu.RUnlock()
	l.Warn().Msgf(format, args...)
	fanout(fmt.Sprintf(format, args...))
}

func Errorf(format string, args ...any) {
	mu.RLock()
	l := log
	mu.RUnlock()
	l.Error().Msgf(format, args...)
	fanout(fmt.Sprintf(format, args...))
}
