package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pingcap-incubator/tinytablet/kv/clock"
	"github.com/pingcap-incubator/tinytablet/kv/config"
	"github.com/pingcap-incubator/tinytablet/kv/tablet"
	"github.com/pingcap-incubator/tinytablet/kv/workload"
	"github.com/pingcap-incubator/tinytablet/log"
	"github.com/pingcap/errors"
	zaplog "github.com/pingcap/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var (
	configPath string
	statusAddr string
	logLevel   string
	writers    int
	readers    int
	keys       int
	writeRate  float64
	duration   time.Duration
	replicate  bool
)

var (
	gitHash = "None"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mvcc-bench",
		Short: "Run a read/write workload against a single tablet and check snapshot visibility",
		RunE:  run,
	}
	rootCmd.SilenceUsage = true
	bindFlags(rootCmd.Flags())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errors.ErrorStack(err))
		os.Exit(1)
	}
}

func bindFlags(flags *pflag.FlagSet) {
	flags.StringVarP(&configPath, "config", "c", "", "config file path (toml or yaml)")
	flags.StringVar(&statusAddr, "status-addr", "", "address serving /metrics and /status")
	flags.StringVarP(&logLevel, "log-level", "L", "", "log level")
	flags.IntVar(&writers, "writers", 0, "number of concurrent writers")
	flags.IntVar(&readers, "readers", 0, "number of concurrent readers")
	flags.IntVar(&keys, "keys", 0, "number of distinct keys")
	flags.Float64Var(&writeRate, "write-rate", 0, "writes per second across all writers, 0 is unlimited")
	flags.DurationVarP(&duration, "duration", "d", 0, "how long to run")
	flags.BoolVar(&replicate, "replicate", true, "replay the write log into a follower tablet and compare")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	conf := config.NewDefaultConfig()
	if configPath != "" {
		var err error
		if conf, err = config.LoadFile(configPath); err != nil {
			return nil, err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("status-addr") {
		conf.StatusAddr = statusAddr
	}
	if flags.Changed("log-level") {
		conf.Log.Level = logLevel
	}
	if flags.Changed("writers") {
		conf.Workload.Writers = writers
	}
	if flags.Changed("readers") {
		conf.Workload.Readers = readers
	}
	if flags.Changed("keys") {
		conf.Workload.Keys = keys
	}
	if flags.Changed("write-rate") {
		conf.Workload.WriteRate = writeRate
	}
	if flags.Changed("duration") {
		conf.Workload.Duration = config.NewDuration(duration)
	}
	return conf, conf.Validate()
}

func run(cmd *cobra.Command, _ []string) error {
	conf, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err = log.InitLogger(&conf.Log); err != nil {
		return err
	}
	defer log.LogPanic()
	zaplog.Info("starting mvcc-bench", zap.String("git-hash", gitHash), zap.Reflect("config", conf))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handleSignal(cancel)
	if conf.StatusAddr != "" {
		go serveStatus(conf.StatusAddr)
	}

	leaderClock, err := clock.New(&conf.Clock)
	if err != nil {
		return err
	}
	leader := tablet.NewTablet("leader", leaderClock, conf.Mvcc)
	defer leader.Close()
	writer := tablet.NewLocalWriter(leader, atomic.NewInt64(0))

	summary, err := workload.Run(ctx, writer, conf.Workload)
	if summary != nil {
		fmt.Println(summary)
	}
	if err != nil {
		return err
	}
	if !replicate {
		return nil
	}

	followerClock, err := clock.New(&conf.Clock)
	if err != nil {
		return err
	}
	follower := tablet.NewTablet("follower", followerClock, conf.Mvcc)
	defer follower.Close()
	entries := writer.Log()
	if len(entries) == 0 {
		return nil
	}
	last, err := workload.Replicate(follower, entries, conf.Tablet.ApplyWorkers)
	if err != nil {
		return err
	}
	if err = workload.Compare(context.Background(), leader, follower, last); err != nil {
		return err
	}
	fmt.Printf("follower matches leader at %v after %d entries\n", last, len(entries))
	return nil
}

func serveStatus(addr string) {
	zaplog.Info("listening", zap.String("status-addr", addr))
	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/status", func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusOK)
	})
	if err := http.ListenAndServe(addr, nil); err != nil {
		zaplog.Error("status server stopped", zap.Error(err))
	}
}

func handleSignal(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	go func() {
		sig := <-sigCh
		zaplog.Info("got signal to exit", zap.Stringer("signal", sig))
		cancel()
	}()
}
