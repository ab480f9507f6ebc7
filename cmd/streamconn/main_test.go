package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/xiaonanln/streamconn/internal/bench"
)

const testConfig = `
server:
  pairs: 10
  power_shards: 20
  report_interval: 1s
client:
  addrs: [127.0.0.1:9000]
  conns_per_addr: 2
  power_shards: 20
  dial:
    dscp: 10
`

func writeTestConfig(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "bench.yaml")
	if err := os.WriteFile(path, []byte(testConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestServeFlagsOverrideConfig(t *testing.T) {
	flagged := bench.DefaultConfig()
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	addServeFlags(fs, flagged)
	if err := fs.Parse([]string{"--power-shards=8", "--dscp=46", "--report-interval=5s", "--poll"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(writeTestConfig(t), flagged, func(c *bench.Config) {
		applyServeFlags(c, flagged, fs)
	})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.PowerShards != 8 || cfg.Server.Dial.DSCP != 46 || cfg.Server.ReportInterval != 5*time.Second || !cfg.Server.Poll {
		t.Errorf("flags not applied: %+v", cfg.Server)
	}
	if cfg.Server.Pairs != 10 {
		t.Errorf("pairs = %d, want 10 from the config file", cfg.Server.Pairs)
	}
}

func TestBenchFlagsOverrideConfig(t *testing.T) {
	flagged := bench.DefaultConfig()
	fs := pflag.NewFlagSet("bench", pflag.ContinueOnError)
	addBenchFlags(fs, flagged)
	if err := fs.Parse([]string{"--power-shards=4", "--dscp=46", "--poll"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(writeTestConfig(t), flagged, func(c *bench.Config) {
		applyBenchFlags(c, flagged, fs, []string{"127.0.0.1:9001", "127.0.0.1:9002"})
	})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Client.PowerShards != 4 || cfg.Client.Dial.DSCP != 46 || !cfg.Client.Poll {
		t.Errorf("flags not applied: %+v", cfg.Client)
	}
	if len(cfg.Client.Addrs) != 2 || cfg.Client.Addrs[0] != "127.0.0.1:9001" {
		t.Errorf("addrs = %v", cfg.Client.Addrs)
	}
	if cfg.Client.ConnsPerAddr != 2 {
		t.Errorf("conns_per_addr = %d, want 2 from the config file", cfg.Client.ConnsPerAddr)
	}
}

func TestLoadConfigWithoutFile(t *testing.T) {
	flagged := bench.DefaultConfig()
	cfg, err := loadConfig("", flagged, func(*bench.Config) {
		t.Errorf("apply called without a config file")
	})
	if err != nil || cfg != flagged {
		t.Errorf("loadConfig(\"\") = %p, %v; want the flagged config", cfg, err)
	}
}
