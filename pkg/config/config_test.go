package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
wallets:
  - "0xabc"
markets:
  - slug: btc-up-2026
    condition_id: cond-1
    yes_asset_id: tok-yes
    no_asset_id: tok-no
strategy:
  trade_fraction: 0.03
  hard_stop_cents: 30
  require_bias: false
bias:
  window_minutes: 15
orders:
  slippage: 0.05
`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesFileValuesAndDefaults(t *testing.T) {
	cfg, err := LoadFromFile(writeTemp(t, sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.GetTradeFraction(); got != 0.03 {
		t.Errorf("trade fraction: got %v, want 0.03", got)
	}
	if got := cfg.GetHardStopCents(); got != 30 {
		t.Errorf("hard stop: got %d, want 30", got)
	}
	if cfg.GetRequireBias() {
		t.Error("require_bias=false 应该生效")
	}
	if got := cfg.GetBiasWindow(); got != 15*time.Minute {
		t.Errorf("bias window: got %v, want 15m", got)
	}
	// 未配置的项吃默认值
	if got := cfg.GetTakeProfitCents(); got != 10 {
		t.Errorf("take profit default: got %d, want 10", got)
	}
	if got := cfg.GetFastCycleInterval(); got != 5*time.Second {
		t.Errorf("fast cycle default: got %v, want 5s", got)
	}
	if got := cfg.GetMaxReserveFraction(); got != 0.5 {
		t.Errorf("max reserve default: got %v, want 0.5", got)
	}
}

func TestRequireBiasDefaultsTrue(t *testing.T) {
	yaml := `
wallets: ["0xabc"]
markets:
  - {slug: m1, condition_id: c1, yes_asset_id: y, no_asset_id: n}
`
	cfg, err := LoadFromFile(writeTemp(t, yaml))
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.GetRequireBias() {
		t.Error("require_bias 缺省应为 true")
	}
}

func TestValidateRejectsBadBands(t *testing.T) {
	yaml := `
wallets: ["0xabc"]
markets:
  - {slug: m1, condition_id: c1, yes_asset_id: y, no_asset_id: n}
strategy:
  entry_band_min_cents: 80
  entry_band_max_cents: 20
`
	if _, err := LoadFromFile(writeTemp(t, yaml)); err == nil {
		t.Fatal("倒置的入场边界应该报错")
	}
}

func TestValidateRejectsMissingMarkets(t *testing.T) {
	if _, err := LoadFromFile(writeTemp(t, `wallets: ["0xabc"]`)); err == nil {
		t.Fatal("无市场配置应该报错")
	}
}

func TestEnvOverridesWallets(t *testing.T) {
	t.Setenv("TRACKED_WALLETS", "0x111, 0x222")
	yaml := `
wallets: ["0xabc"]
markets:
  - {slug: m1, condition_id: c1, yes_asset_id: y, no_asset_id: n}
`
	cfg, err := LoadFromFile(writeTemp(t, yaml))
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Wallets) != 2 || cfg.Wallets[0] != "0x111" || cfg.Wallets[1] != "0x222" {
		t.Errorf("环境变量覆盖失败: %v", cfg.Wallets)
	}
}
