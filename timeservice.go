// Synchronized time-base service

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/mmcloughlin/profile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"example.com/synctime/base/timebase"
	"example.com/synctime/base/zaplog"

	"example.com/synctime/core/config"
	"example.com/synctime/core/sync"
	coretb "example.com/synctime/core/timebase"

	"example.com/synctime/driver/clock"
	"example.com/synctime/driver/gpt"
	"example.com/synctime/driver/nvm"
	"example.com/synctime/driver/phc"
	"example.com/synctime/driver/shm"
)

var (
	log *zap.Logger
)

func initLogger(verbose bool) {
	c := zap.NewDevelopmentConfig()
	c.DisableStacktrace = true
	c.EncoderConfig.EncodeCaller = func(
		caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
		p := caller.TrimmedPath()
		if len(p) > 30 {
			p = "..." + p[len(p)-27:]
		}
		enc.AppendString(fmt.Sprintf("%30s", p))
	}
	if !verbose {
		c.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	var err error
	log, err = c.Build()
	if err != nil {
		panic(err)
	}
	zaplog.SetLogger(log)
}

func runMonitor(addr string) {
	if addr == "" {
		return
	}
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		err := http.ListenAndServe(addr, nil)
		log.Fatal("failed to serve metrics", zap.Error(err))
	}()
}

// platform holds the drivers backing the time bases of one configuration.
type platform struct {
	gpt     *gpt.Driver
	clocks  map[timebase.ID]timebase.LocalClock
	timer   *gpt.Channel
	segment *shm.Segment
	closers []io.Closer
}

func (p *platform) gptDriver(cfg *config.Config) *gpt.Driver {
	if p.gpt == nil {
		p.gpt = gpt.New(cfg.Gpt.Frequency, cfg.Gpt.Prescaler, cfg.Gpt.MaxTicks)
	}
	return p.gpt
}

func (p *platform) localClock(cfg *config.Config, tb *config.TimeBaseConfig) (timebase.LocalClock, error) {
	switch tb.LocalTime {
	case config.SourceOsTimestamp:
		return clock.SystemClock{}, nil
	case config.SourceOsCounter:
		maxTicks := cfg.OsCounter.MaxTicks
		if maxTicks == 0 {
			maxTicks = clock.OsTickMax
		}
		return clock.NewCounterClock(clock.OsTicks{},
			cfg.OsCounter.Frequency, cfg.OsCounter.Prescaler, maxTicks), nil
	case config.SourceGpt:
		drv := p.gptDriver(cfg)
		return clock.NewCounterClock(drv.Channel(tb.GptChannel),
			drv.Frequency(), 1, cfg.Gpt.MaxTicks), nil
	case config.SourceEth:
		c, err := phc.Open(phc.DevicePath(tb.EthController))
		if err != nil {
			return nil, err
		}
		p.closers = append(p.closers, c)
		return c, nil
	default:
		return nil, fmt.Errorf("unknown local time source %q", tb.LocalTime)
	}
}

func newPlatform(cfg *config.Config) (*platform, error) {
	p := &platform{clocks: make(map[timebase.ID]timebase.LocalClock)}
	for i := range cfg.TimeBases {
		if cfg.TimeBases[i].LocalTime != config.SourceOsCounter {
			continue
		}
		hz, err := clock.OsTickFrequency()
		if err != nil {
			return nil, fmt.Errorf("failed to determine OS tick frequency: %w", err)
		}
		cfg.OsCounter.Frequency = hz
		break
	}
	for i := range cfg.TimeBases {
		tb := &cfg.TimeBases[i]
		if config.IsOffsetID(tb.ID) {
			continue
		}
		c, err := p.localClock(cfg, tb)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to open local clock of time base %d: %w", tb.ID, err)
		}
		p.clocks[tb.ID] = c
	}
	for i := range cfg.TimeBases {
		if len(cfg.TimeBases[i].NotificationCustomers) != 0 {
			p.timer = p.gptDriver(cfg).Channel(cfg.Timer.GptChannel)
			break
		}
	}
	if cfg.Shm.Enabled {
		s, err := shm.Attach(cfg.Shm.Key, len(cfg.TimeBases))
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to attach shared memory segment: %w", err)
		}
		p.segment = s
		p.closers = append(p.closers, s)
	}
	return p, nil
}

func (p *platform) Close() {
	for _, c := range p.closers {
		if err := c.Close(); err != nil {
			log.Info("failed to close driver", zap.Error(err))
		}
	}
	p.closers = nil
}

func newEngine(cfg config.Config, p *platform, reg prometheus.Registerer) (*sync.Engine, error) {
	opts := sync.Options{
		Log:        log,
		Registerer: reg,
		Clocks:     p.clocks,
		Callbacks: sync.Callbacks{
			StatusNotification: func(id timebase.ID, ev timebase.Events) {
				log.Debug("status notification",
					zap.Uint16("time_base", uint16(id)), zap.Uint32("events", uint32(ev)))
			},
			CustomerExpired: func(id timebase.ID, c timebase.CustomerID, deviation timebase.TimeDiff) {
				log.Debug("customer timer expired",
					zap.Uint16("time_base", uint16(id)), zap.Uint16("customer", uint16(c)),
					zap.Int32("deviation", int32(deviation)))
			},
		},
	}
	if p.timer != nil {
		opts.Timer = p.timer
	}
	if p.segment != nil {
		opts.Publisher = p.segment
	}
	if cfg.NvmFile != "" {
		opts.Persister = nvm.NewFile(cfg.NvmFile)
	}
	e, err := sync.NewEngine(cfg, opts)
	if err != nil {
		return nil, err
	}
	if p.timer != nil {
		p.timer.EnableNotification(e.TimerCallback)
	}
	return e, nil
}

func runService(configFile string) {
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal("failed to load configuration", zap.Error(err))
	}
	p, err := newPlatform(&cfg)
	if err != nil {
		log.Fatal("failed to set up drivers", zap.Error(err))
	}
	defer p.Close()

	e, err := newEngine(cfg, p, prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatal("failed to set up time bases", zap.Error(err))
	}
	runMonitor(cfg.MetricsAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	log.Info("time bases running",
		zap.Int("count", e.Registry().Len()), zap.Stringer("period", cfg.MainFunctionPeriod.D()))
	err = e.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("main function loop failed", zap.Error(err))
	}
	if p.timer != nil {
		p.timer.DisableNotification()
	}
	if err := e.Shutdown(); err != nil {
		log.Error("failed to shut down time bases", zap.Error(err))
	}
}

func checkConfig(w io.Writer, configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	reg, err := coretb.NewRegistry(cfg)
	if err != nil {
		return err
	}
	for _, ent := range reg.Entries() {
		tb, _ := cfg.TimeBase(ent.ID)
		if ent.Kind == coretb.KindOffset {
			fmt.Fprintf(w, "%3d\t%s\t%s\tsync=%d\n", ent.ID, ent.Kind, ent.Role, tb.SyncTimeBaseID)
			continue
		}
		fmt.Fprintf(w, "%3d\t%s\t%s\t%s\n", ent.ID, ent.Kind, ent.Role, tb.LocalTime)
	}
	return nil
}

func exitWithUsage() {
	fmt.Println("usage: synctime run -config <file> [-verbose] [-profile]")
	fmt.Println("       synctime check -config <file>")
	os.Exit(1)
}

func main() {
	var (
		verbose    bool
		profiling  bool
		configFile string
	)

	runFlags := flag.NewFlagSet("run", flag.ExitOnError)
	checkFlags := flag.NewFlagSet("check", flag.ExitOnError)

	runFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	runFlags.BoolVar(&profiling, "profile", false, "Write a CPU profile")
	runFlags.StringVar(&configFile, "config", "", "Config file")

	checkFlags.StringVar(&configFile, "config", "", "Config file")

	if len(os.Args) < 2 {
		exitWithUsage()
	}

	switch os.Args[1] {
	case runFlags.Name():
		err := runFlags.Parse(os.Args[2:])
		if err != nil || runFlags.NArg() != 0 {
			exitWithUsage()
		}
		if configFile == "" {
			exitWithUsage()
		}
		initLogger(verbose)
		if profiling {
			defer profile.Start(profile.CPUProfile).Stop()
		}
		runService(configFile)
	case checkFlags.Name():
		err := checkFlags.Parse(os.Args[2:])
		if err != nil || checkFlags.NArg() != 0 {
			exitWithUsage()
		}
		if configFile == "" {
			exitWithUsage()
		}
		if err := checkConfig(os.Stdout, configFile); err != nil {
			fmt.Fprintln(os.Stderr, "invalid configuration:", err)
			os.Exit(1)
		}
	default:
		exitWithUsage()
	}
}
