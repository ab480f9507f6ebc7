package bench

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/xiaonanln/streamconn"
	"gopkg.in/yaml.v2"
)

const (
	defaultListenAddr   = "0.0.0.0:10086"
	defaultPowerShards  = 16
	defaultPairs        = 100000
	defaultConnsPerAddr = 16
	defaultWarmup       = time.Second
	defaultDuration     = 10 * time.Second
	defaultSeriesPeriod = 10 * time.Millisecond
	defaultPercentile   = 99.9
)

// ServerConfig configures one bench server. Peers lists every server of the
// cluster, this one included at index Index; shard s is owned by
// Peers[s % len(Peers)].
type ServerConfig struct {
	Listen         string                `yaml:"listen"`
	Index          int                   `yaml:"index"`
	Peers          []string              `yaml:"peers"`
	PowerShards    uint                  `yaml:"power_shards"`
	Pairs          int                   `yaml:"pairs"`
	Poll           bool                  `yaml:"poll"`
	ReportInterval time.Duration         `yaml:"report_interval"`
	Dial           streamconn.DialConfig `yaml:"dial"`
}

// ClientConfig configures the load generator
type ClientConfig struct {
	Addrs        []string `yaml:"addrs"`
	ConnsPerAddr int      `yaml:"conns_per_addr"`
	// TargetOps is the offered load in requests per second, zero runs closed loop
	TargetOps   float64       `yaml:"target_ops"`
	Warmup      time.Duration `yaml:"warmup"`
	Duration    time.Duration `yaml:"duration"`
	PowerShards uint          `yaml:"power_shards"`
	Poll        bool          `yaml:"poll"`
	// TimeSeriesFile receives (start, offset, latency percentile) rows when set
	TimeSeriesFile     string                `yaml:"timeseries_file"`
	TimeSeriesInterval time.Duration         `yaml:"timeseries_interval"`
	TimeSeriesNth      float64               `yaml:"timeseries_nth"`
	Dial               streamconn.DialConfig `yaml:"dial"`
}

// Config is the bench configuration file
type Config struct {
	Server ServerConfig `yaml:"server"`
	Client ClientConfig `yaml:"client"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:      defaultListenAddr,
			PowerShards: defaultPowerShards,
			Pairs:       defaultPairs,
			Dial:        *streamconn.DefaultDialConfig(),
		},
		Client: ClientConfig{
			ConnsPerAddr:       defaultConnsPerAddr,
			Warmup:             defaultWarmup,
			Duration:           defaultDuration,
			PowerShards:        defaultPowerShards,
			TimeSeriesInterval: defaultSeriesPeriod,
			TimeSeriesNth:      defaultPercentile,
			Dial:               *streamconn.DefaultDialConfig(),
		},
	}
}

// LoadConfig reads a YAML file over the defaults
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

func flagsOf(poll bool) streamconn.Flags {
	if poll {
		return streamconn.Poll
	}
	return 0
}

func (cfg *ServerConfig) Validate() error {
	if cfg.Listen == "" {
		return errors.New("server listen address is empty")
	}
	if len(cfg.Peers) > 0 && (cfg.Index < 0 || cfg.Index >= len(cfg.Peers)) {
		return errors.Errorf("server index %d out of range of %d peers", cfg.Index, len(cfg.Peers))
	}
	if cfg.PowerShards > 32 {
		return errors.Errorf("power_shards %d exceeds 32", cfg.PowerShards)
	}
	if cfg.Pairs < 0 {
		return errors.New("negative pairs")
	}
	return nil
}

func (cfg *ClientConfig) Validate() error {
	if len(cfg.Addrs) == 0 {
		return errors.New("no server addresses")
	}
	if cfg.ConnsPerAddr <= 0 {
		return errors.Errorf("conns_per_addr must be positive, got %d", cfg.ConnsPerAddr)
	}
	if cfg.TargetOps < 0 {
		return errors.New("negative target_ops")
	}
	if cfg.Warmup < 0 || cfg.Duration <= 0 {
		return errors.Errorf("invalid warmup %s or duration %s", cfg.Warmup, cfg.Duration)
	}
	if cfg.PowerShards > 32 {
		return errors.Errorf("power_shards %d exceeds 32", cfg.PowerShards)
	}
	if cfg.TimeSeriesFile != "" && cfg.TimeSeriesInterval <= 0 {
		return errors.New("timeseries_interval must be positive")
	}
	if cfg.TimeSeriesNth <= 0 || cfg.TimeSeriesNth > 100 {
		return errors.Errorf("timeseries_nth %v out of (0, 100]", cfg.TimeSeriesNth)
	}
	return nil
}
