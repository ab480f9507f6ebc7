package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"k8s.io/klog/v2"

	"github.com/xiaonanln/streamconn/internal/bench"
)

const version = "0.1.0"

func newCmdVersion() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Display version",
		Long:  "Display version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("streamconn %v\n", version)
		},
	}
}

// loadConfig reads the config file when one is given and applies the flags
// the user changed on top of it
func loadConfig(path string, flagged *bench.Config, apply func(cfg *bench.Config)) (*bench.Config, error) {
	if path == "" {
		return flagged, nil
	}
	cfg, err := bench.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	apply(cfg)
	return cfg, nil
}

func addServeFlags(fs *pflag.FlagSet, cfg *bench.Config) {
	fs.StringVarP(&cfg.Server.Listen, "listen", "l", cfg.Server.Listen, "Address to listen on")
	fs.IntVar(&cfg.Server.Index, "index", cfg.Server.Index, "Index of this server in --peers")
	fs.StringSliceVar(&cfg.Server.Peers, "peers", cfg.Server.Peers, "Addresses of all servers, in shard ownership order")
	fs.UintVar(&cfg.Server.PowerShards, "power-shards", cfg.Server.PowerShards, "Log2 of the number of shards")
	fs.IntVar(&cfg.Server.Pairs, "pairs", cfg.Server.Pairs, "Number of key/value pairs to preload")
	fs.BoolVar(&cfg.Server.Poll, "poll", cfg.Server.Poll, "Busy-poll sockets instead of parking")
	fs.DurationVar(&cfg.Server.ReportInterval, "report-interval", cfg.Server.ReportInterval, "Log the request rate at this interval, 0 disables")
	fs.Uint8Var(&cfg.Server.Dial.DSCP, "dscp", cfg.Server.Dial.DSCP, "DSCP value for accepted connections")
}

// applyServeFlags copies every server flag set on the command line from flagged into cfg
func applyServeFlags(cfg, flagged *bench.Config, fs *pflag.FlagSet) {
	if fs.Changed("listen") {
		cfg.Server.Listen = flagged.Server.Listen
	}
	if fs.Changed("index") {
		cfg.Server.Index = flagged.Server.Index
	}
	if fs.Changed("peers") {
		cfg.Server.Peers = flagged.Server.Peers
	}
	if fs.Changed("power-shards") {
		cfg.Server.PowerShards = flagged.Server.PowerShards
	}
	if fs.Changed("pairs") {
		cfg.Server.Pairs = flagged.Server.Pairs
	}
	if fs.Changed("poll") {
		cfg.Server.Poll = flagged.Server.Poll
	}
	if fs.Changed("report-interval") {
		cfg.Server.ReportInterval = flagged.Server.ReportInterval
	}
	if fs.Changed("dscp") {
		cfg.Server.Dial.DSCP = flagged.Server.Dial.DSCP
	}
}

func newCmdServe() *cobra.Command {
	cfgFile := ""
	cfg := bench.DefaultConfig()

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a bench key/value server",
		Long:  "Run a key/value server answering bench requests for the shards it owns and redirecting the rest.",
		Example: `
# Run the second of three servers
$ streamconn serve --listen 0.0.0.0:10087 --index 1 --peers a:10086,b:10087,c:10088
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			final, err := loadConfig(cfgFile, cfg, func(c *bench.Config) {
				applyServeFlags(c, cfg, cmd.Flags())
			})
			if err != nil {
				return err
			}
			klog.V(2).Infof("server config: %+v", final.Server)

			s, err := bench.NewServer(&final.Server)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return s.Serve(ctx)
		},
	}

	serveCmd.Flags().StringVarP(&cfgFile, "config", "c", "", "Path to a YAML bench config file")
	addServeFlags(serveCmd.Flags(), cfg)
	return serveCmd
}

func addBenchFlags(fs *pflag.FlagSet, cfg *bench.Config) {
	fs.IntVar(&cfg.Client.ConnsPerAddr, "conns", cfg.Client.ConnsPerAddr, "Workers, each owning one connection per server")
	fs.Float64Var(&cfg.Client.TargetOps, "target-ops", cfg.Client.TargetOps, "Offered load in requests per second, 0 runs closed loop")
	fs.DurationVar(&cfg.Client.Duration, "duration", cfg.Client.Duration, "Measurement duration")
	fs.DurationVar(&cfg.Client.Warmup, "warmup", cfg.Client.Warmup, "Warmup before measuring")
	fs.UintVar(&cfg.Client.PowerShards, "power-shards", cfg.Client.PowerShards, "Log2 of the number of shards")
	fs.BoolVar(&cfg.Client.Poll, "poll", cfg.Client.Poll, "Busy-poll sockets instead of parking")
	fs.StringVar(&cfg.Client.TimeSeriesFile, "timeseries", cfg.Client.TimeSeriesFile, "Write per-interval latency percentiles to this file")
	fs.Uint8Var(&cfg.Client.Dial.DSCP, "dscp", cfg.Client.Dial.DSCP, "DSCP value for outgoing connections")
}

// applyBenchFlags copies the server addresses and every client flag set on the
// command line from flagged into cfg
func applyBenchFlags(cfg, flagged *bench.Config, fs *pflag.FlagSet, args []string) {
	if len(args) > 0 {
		cfg.Client.Addrs = args
	}
	if fs.Changed("conns") {
		cfg.Client.ConnsPerAddr = flagged.Client.ConnsPerAddr
	}
	if fs.Changed("target-ops") {
		cfg.Client.TargetOps = flagged.Client.TargetOps
	}
	if fs.Changed("duration") {
		cfg.Client.Duration = flagged.Client.Duration
	}
	if fs.Changed("warmup") {
		cfg.Client.Warmup = flagged.Client.Warmup
	}
	if fs.Changed("power-shards") {
		cfg.Client.PowerShards = flagged.Client.PowerShards
	}
	if fs.Changed("poll") {
		cfg.Client.Poll = flagged.Client.Poll
	}
	if fs.Changed("timeseries") {
		cfg.Client.TimeSeriesFile = flagged.Client.TimeSeriesFile
	}
	if fs.Changed("dscp") {
		cfg.Client.Dial.DSCP = flagged.Client.Dial.DSCP
	}
}

func newCmdBench() *cobra.Command {
	cfgFile := ""
	cfg := bench.DefaultConfig()

	benchCmd := &cobra.Command{
		Use:   "bench [<addr>...]",
		Short: "Run the load generator",
		Long:  "Send random key lookups to the bench servers and report throughput and latency percentiles.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				cfg.Client.Addrs = args
			}
			final, err := loadConfig(cfgFile, cfg, func(c *bench.Config) {
				applyBenchFlags(c, cfg, cmd.Flags(), args)
			})
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			client, err := bench.NewClient(ctx, &final.Client)
			if err != nil {
				return err
			}
			defer client.Close()

			klog.Infof("running %d workers against %d servers for %s", final.Client.ConnsPerAddr, len(final.Client.Addrs), final.Client.Duration)
			res, err := client.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Println(bench.ResultHeader)
			fmt.Println(res)
			return nil
		},
	}

	benchCmd.Flags().StringVarP(&cfgFile, "config", "c", "", "Path to a YAML bench config file")
	addBenchFlags(benchCmd.Flags(), cfg)
	return benchCmd
}

func main() {
	klogFlags := flag.NewFlagSet("klog", flag.ExitOnError)
	klog.InitFlags(klogFlags)
	defer klog.Flush()

	rootCmd := &cobra.Command{
		Use:          "streamconn",
		Long:         "streamconn serves and benchmarks exact-length request/response traffic over vectored stream connections.",
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}
	rootCmd.PersistentFlags().AddGoFlagSet(klogFlags)
	rootCmd.AddCommand(newCmdVersion())
	rootCmd.AddCommand(newCmdServe())
	rootCmd.AddCommand(newCmdBench())

	if err := rootCmd.Execute(); err != nil {
		klog.Errorf("An error occurred: %v", err)
		klog.Flush()
		os.Exit(1)
	}
}
