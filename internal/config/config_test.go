package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

const minimalSim = `
environment:
  mode: sim
monitor:
  tickers: [AAPL, SPY]
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalSim))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Environment.LogLevel != "info" {
		t.Errorf("log level = %q, expected info", cfg.Environment.LogLevel)
	}
	if cfg.Ledger.Path != "portfolio.json" {
		t.Errorf("ledger path = %q", cfg.Ledger.Path)
	}
	if cfg.Ledger.StartingCash != 100_000 {
		t.Errorf("starting cash = %v", cfg.Ledger.StartingCash)
	}
	if cfg.Ledger.MarginMultiple != 2.0 {
		t.Errorf("margin multiple = %v", cfg.Ledger.MarginMultiple)
	}
	if cfg.RefreshInterval() != 30*time.Second {
		t.Errorf("refresh interval = %v", cfg.RefreshInterval())
	}
	if cfg.Dashboard.Port != 9847 {
		t.Errorf("dashboard port = %d", cfg.Dashboard.Port)
	}
	if cfg.IsLive() {
		t.Error("sim config must not report live")
	}
}

func TestLoadExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("TEST_DESK_TOKEN", "sekrit")

	content := minimalSim + `
dashboard:
  enabled: true
  auth_token: ${TEST_DESK_TOKEN}
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Dashboard.AuthToken != "sekrit" {
		t.Errorf("auth token = %q, expected expansion", cfg.Dashboard.AuthToken)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	content := minimalSim + `
strategy:
  symbol: SPY
`
	if _, err := Load(writeConfig(t, content)); err == nil {
		t.Error("expected error for unknown top-level field")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "invalid mode",
			content: `
environment:
  mode: paper
monitor:
  tickers: [SPY]
`,
			wantErr: "environment.mode",
		},
		{
			name: "live mode requires api key",
			content: `
environment:
  mode: live
broker:
  account_id: ABC123
monitor:
  tickers: [SPY]
`,
			wantErr: "broker.api_key",
		},
		{
			name: "live mode requires account id",
			content: `
environment:
  mode: live
broker:
  api_key: token
monitor:
  tickers: [SPY]
`,
			wantErr: "broker.account_id",
		},
		{
			name: "no tickers",
			content: `
environment:
  mode: sim
monitor:
  refresh_interval: 30s
`,
			wantErr: "monitor.tickers",
		},
		{
			name: "bad refresh interval",
			content: `
environment:
  mode: sim
monitor:
  tickers: [SPY]
  refresh_interval: sometimes
`,
			wantErr: "monitor.refresh_interval",
		},
		{
			name: "negative starting cash",
			content: `
environment:
  mode: sim
ledger:
  starting_cash: -5
monitor:
  tickers: [SPY]
`,
			wantErr: "ledger.starting_cash",
		},
		{
			name: "margin multiple below one",
			content: `
environment:
  mode: sim
ledger:
  margin_multiple: 0.5
monitor:
  tickers: [SPY]
`,
			wantErr: "ledger.margin_multiple",
		},
		{
			name: "bad dashboard port",
			content: `
environment:
  mode: sim
monitor:
  tickers: [SPY]
dashboard:
  port: 123456
`,
			wantErr: "dashboard.port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLiveConfigValid(t *testing.T) {
	content := `
environment:
  mode: live
  log_level: debug
broker:
  provider: tradier
  api_key: token
  account_id: ABC123
  sandbox: true
  timeout: 10s
monitor:
  tickers: [SPY]
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.IsLive() {
		t.Error("expected live mode")
	}
	if cfg.BrokerTimeout() != 10*time.Second {
		t.Errorf("broker timeout = %v", cfg.BrokerTimeout())
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}
