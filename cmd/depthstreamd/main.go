// Command depthstreamd is the composition root: it loads the pipeline
// configuration, builds the driver, logger and Supervisor, exposes
// /metrics and /debug, and optionally runs as an OS service via
// kardianos/service.
//
// Grounded on cmd/driver/main.go's metrics registration and
// /metrics+/debug HTTP wiring, and cmd/driver/alertusb.go's
// promauto gauge-vec conventions, generalized from the camera SDK's
// one-shot main() into a restartable kardianos/service.Program.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	_ "net/http/pprof"

	"github.com/cenkalti/backoff"
	"github.com/kardianos/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brightlinelabs/depthstream/internal/config"
	"github.com/brightlinelabs/depthstream/internal/configwatch"
	"github.com/brightlinelabs/depthstream/internal/driver"
	"github.com/brightlinelabs/depthstream/internal/servicelog"
	"github.com/brightlinelabs/depthstream/internal/supervisor"
)

var (
	startMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "depthstream_start_time_seconds",
		Help: "Unix timestamp at which the process started.",
	})

	infoMetric = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "depthstream_info",
			Help: "Build/runtime info, value is always 1.",
		},
		[]string{"configPath", "simulated"},
	)
)

func main() {
	configPath := flag.String("config", "/etc/depthstreamd/config.yaml", "path to the pipeline config file")
	metricsAddr := flag.String("metrics-addr", ":9998", "address for the /metrics and /debug HTTP endpoints")
	watchConfig := flag.Bool("watch-config", true, "hot-reload logLevel on config file writes")
	svcAction := flag.String("service", "", "service control action: install, uninstall, start, stop, run")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "depthstreamd: %v\n", err)
		os.Exit(1)
	}

	svcConfig := &service.Config{
		Name:        cfg.Service.Name,
		DisplayName: firstNonEmpty(cfg.Service.DisplayName, cfg.Service.Name),
		Description: cfg.Service.Description,
		Arguments:   []string{"-config", *configPath, "-metrics-addr", *metricsAddr},
	}

	prg := &program{configPath: *configPath, metricsAddr: *metricsAddr, watchConfig: *watchConfig}
	svc, err := service.New(prg, svcConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "depthstreamd: service setup: %v\n", err)
		os.Exit(1)
	}

	if *svcAction != "" && *svcAction != "run" {
		if err := service.Control(svc, *svcAction); err != nil {
			fmt.Fprintf(os.Stderr, "depthstreamd: %s: %v\n", *svcAction, err)
			os.Exit(1)
		}
		fmt.Printf("depthstreamd: %s ok\n", *svcAction)
		return
	}

	svcLogger, err := svc.Logger(nil)
	if err != nil {
		// Not running under a service manager (e.g. interactive
		// shell); fall back to stdout-only logging.
		svcLogger = nil
	}
	prg.svcLoggerFactory = func() service.Logger { return svcLogger }

	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "depthstreamd: %v\n", err)
		os.Exit(1)
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// program implements service.Interface. Start must not block; Stop
// must return promptly once shutdown is requested.
type program struct {
	configPath  string
	metricsAddr string
	watchConfig bool

	svcLoggerFactory func() service.Logger

	cancel  context.CancelFunc
	done    chan struct{}
	metricsSrv *http.Server
}

func (p *program) Start(s service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx)
	return nil
}

func (p *program) Stop(s service.Service) error {
	if p.cancel != nil {
		p.cancel()
	}
	if p.metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		p.metricsSrv.Shutdown(shutdownCtx)
	}
	select {
	case <-p.done:
	case <-time.After(10 * time.Second):
	}
	return nil
}

func (p *program) run(ctx context.Context) {
	defer close(p.done)

	var svcLogger service.Logger
	if p.svcLoggerFactory != nil {
		svcLogger = p.svcLoggerFactory()
	}

	cfg, err := config.Load(p.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "depthstreamd: reload config: %v\n", err)
		return
	}

	logger, err := servicelog.New(servicelog.Options{
		Debug:      cfg.Debug.LogLevel == "debug",
		LogFile:    cfg.Debug.Logging.File,
		MaxSizeMB:  cfg.Debug.Logging.MaxSizeMB,
		MaxBackups: cfg.Debug.Logging.MaxBackups,
		MaxAgeDays: cfg.Debug.Logging.MaxAgeDays,
		Service:    svcLogger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "depthstreamd: logger: %v\n", err)
		return
	}
	defer logger.Sync()

	startMetric.Set(float64(time.Now().Unix()))
	infoMetric.WithLabelValues(p.configPath, fmt.Sprintf("%t", cfg.Device.Simulated)).Set(1)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/debug/", http.DefaultServeMux)
	p.metricsSrv = &http.Server{
		Addr:         p.metricsAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 7 * time.Second,
	}
	go func() {
		if err := p.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics listener stopped", servicelog.Error(err))
		}
	}()
	logger.Info("metrics listening", servicelog.String("addr", p.metricsAddr))

	if p.watchConfig {
		watcher, err := configwatch.New(p.configPath, logger)
		if err != nil {
			logger.Warn("config watch disabled", servicelog.Error(err))
		} else {
			defer watcher.Close()
		}
	}

	if !cfg.Device.Simulated {
		logger.Error("no hardware driver is built in this image; set device.simulated: true")
		return
	}
	drv := driver.NewSimulated(cfg.Device.FPS)

	var sup *supervisor.Supervisor
	open := func() error {
		var err error
		sup, err = supervisor.New(cfg, drv, logger)
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(open, b); err != nil {
		logger.Error("failed to construct pipeline", servicelog.Error(err))
		return
	}

	logger.Info("depthstreamd starting", servicelog.String("config", p.configPath))
	if err := sup.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("supervisor exited with error", servicelog.Error(err))
	}
	logger.Info("depthstreamd stopped")
}
