package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写临时配置失败: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
[exchange]
dry_run = true

[symbols]
static = ["btc", "eth"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if cfg.Cycle.Interval != "5m" || cfg.Cycle.MaxOpensPerCycle != 1 {
		t.Fatalf("循环默认值错误: %+v", cfg.Cycle)
	}
	if len(cfg.Market.Intervals) != 3 {
		t.Fatalf("行情周期默认值错误: %v", cfg.Market.Intervals)
	}
	if cfg.CycleTimeout() != 3*time.Minute {
		t.Fatalf("循环超时默认值错误: %v", cfg.CycleTimeout())
	}
	if cfg.Dashboard.Listen != ":8080" {
		t.Fatalf("面板监听默认值错误: %s", cfg.Dashboard.Listen)
	}
}

func TestLoadRejectsLiveWithoutKeys(t *testing.T) {
	path := writeTempConfig(t, `
[exchange]
dry_run = false

[symbols]
static = ["btc"]
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("实盘无密钥应拒绝启动")
	}
}

func TestLoadRejectsEmptySymbols(t *testing.T) {
	path := writeTempConfig(t, `
[exchange]
dry_run = true
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("无标的来源应拒绝启动")
	}
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	path := writeTempConfig(t, `
[log]
level = "verbose"

[exchange]
dry_run = true

[symbols]
static = ["btc"]
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("非法日志级别应拒绝启动")
	}
}

func TestProfileLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	content := `
profiles:
  BTCUSDT:
    max_leverage: 10
    default_stop_loss_pct: 1.5
  conservative:
    default: true
    max_leverage: 3
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写 profiles 失败: %v", err)
	}
	store, err := LoadProfiles(path)
	if err != nil {
		t.Fatalf("加载 profiles 失败: %v", err)
	}

	p, ok := store.Lookup("btcusdt")
	if !ok || p.MaxLeverage != 10 {
		t.Fatalf("专属条目查找错误: %+v", p)
	}
	p, ok = store.Lookup("ETHUSDT")
	if !ok || p.MaxLeverage != 3 {
		t.Fatalf("default 兜底错误: %+v", p)
	}
}

func TestProfileMissingFile(t *testing.T) {
	store, err := LoadProfiles(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("缺失文件不应报错: %v", err)
	}
	if _, ok := store.Lookup("BTCUSDT"); ok {
		t.Fatalf("空 store 不应命中")
	}
}
