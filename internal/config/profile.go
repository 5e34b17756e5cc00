package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"tradeloop/internal/logger"
)

// InstrumentProfile 单标的风控覆盖项。未设置的字段沿用全局配置。
type InstrumentProfile struct {
	MaxLeverage        int     `yaml:"max_leverage,omitempty"`
	DefaultStopLossPct float64 `yaml:"default_stop_loss_pct,omitempty"`
	RiskPctPerTrade    float64 `yaml:"risk_pct_per_trade,omitempty"`
	MinRiskReward      float64 `yaml:"min_risk_reward,omitempty"`
	Default            bool    `yaml:"default,omitempty"`
}

// profileFile profiles.yaml 的结构。
type profileFile struct {
	Profiles map[string]InstrumentProfile `yaml:"profiles"`
}

// ProfileStore 按标的查找风控覆盖项，带 default 条目兜底。
type ProfileStore struct {
	mu       sync.RWMutex
	path     string
	modTime  time.Time
	profiles map[string]InstrumentProfile
	fallback InstrumentProfile
	hasFall  bool
}

// LoadProfiles 读取 profiles.yaml。文件不存在不是错误：返回空 store。
func LoadProfiles(path string) (*ProfileStore, error) {
	store := &ProfileStore{
		path:     strings.TrimSpace(path),
		profiles: make(map[string]InstrumentProfile),
	}
	if store.path == "" {
		return store, nil
	}
	if err := store.reload(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *ProfileStore) reload() error {
	info, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("读取 profiles 失败: %w", err)
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("读取 profiles 失败: %w", err)
	}
	var file profileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("解析 profiles 失败: %w", err)
	}
	profiles := make(map[string]InstrumentProfile, len(file.Profiles))
	var fallback InstrumentProfile
	hasFall := false
	for name, p := range file.Profiles {
		profiles[strings.ToUpper(strings.TrimSpace(name))] = p
		if p.Default {
			fallback = p
			hasFall = true
		}
	}
	s.mu.Lock()
	s.profiles = profiles
	s.fallback = fallback
	s.hasFall = hasFall
	s.modTime = info.ModTime()
	s.mu.Unlock()
	return nil
}

// MaybeReload 在文件 mtime 变化时重新加载，供每循环调用。
// 重载失败保留现有覆盖项，只记一条告警。
func (s *ProfileStore) MaybeReload() {
	if s == nil || s.path == "" {
		return
	}
	info, err := os.Stat(s.path)
	if err != nil {
		return
	}
	s.mu.RLock()
	changed := !info.ModTime().Equal(s.modTime)
	s.mu.RUnlock()
	if !changed {
		return
	}
	if err := s.reload(); err != nil {
		logger.Warnf("profiles 重载失败，沿用旧覆盖项: %v", err)
	}
}

// Lookup 查找标的覆盖项；没有专属条目时返回 default 条目。
func (s *ProfileStore) Lookup(symbol string) (InstrumentProfile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.profiles[strings.ToUpper(strings.TrimSpace(symbol))]; ok {
		return p, true
	}
	if s.hasFall {
		return s.fallback, true
	}
	return InstrumentProfile{}, false
}
