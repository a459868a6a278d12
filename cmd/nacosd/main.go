// Command nacosd runs the registry server.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/w-xiyan/nacos/config"
	"github.com/w-xiyan/nacos/filter"
	"github.com/w-xiyan/nacos/health"
	"github.com/w-xiyan/nacos/index"
	"github.com/w-xiyan/nacos/metrics"
	"github.com/w-xiyan/nacos/push"
	"github.com/w-xiyan/nacos/server"
	"github.com/w-xiyan/nacos/serverlist"
	"github.com/w-xiyan/nacos/store"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			panic(err)
		}
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.Set(cfg.Level); err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	mset := metrics.New(reg)

	idx := index.NewManager(logger)
	st := store.New(idx, store.NewMetadataManager(), store.DefaultCacheMillis, logger)
	notifier := push.NewNotifier(st, cfg.Push.Timeout, logger)
	notifier.SetMetrics(mset)
	idx.SetListener(notifier)

	monitor := health.NewMonitor(idx, notifier, health.Config{
		UnhealthyTimeout: cfg.Health.UnhealthyTimeout,
		ExpireTimeout:    cfg.Health.ExpireTimeout,
		SweepInterval:    cfg.Health.SweepInterval,
	}, logger)

	srv := server.New(server.Deps{
		Index:    idx,
		Store:    st,
		Monitor:  monitor,
		Notifier: notifier,
		Metrics:  mset,
		Logger:   logger,
	})
	srv.Use(filter.AccessLog(logger))
	if cfg.RateLimit.Enabled {
		srv.Use(filter.RateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go monitor.Start(ctx)

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(cfg.Metrics.Listen, mux); err != nil {
				logger.Error("metrics listener failed", zap.Error(err))
			}
		}()
		logger.Info("metrics listening", zap.String("addr", cfg.Metrics.Listen))
	}

	var etcd *serverlist.Etcd
	if cfg.Etcd.Enabled {
		var err error
		etcd, err = serverlist.NewEtcd(cfg.Etcd.Endpoints, cfg.Etcd.Prefix, logger)
		if err != nil {
			return err
		}
		defer etcd.Close()

		ep, err := serverlist.ParseEndpoint(cfg.Server.AdvertiseAddr)
		if err != nil {
			return err
		}
		regCtx, regCancel := context.WithTimeout(ctx, 5*time.Second)
		err = etcd.Register(regCtx, ep, int64(cfg.Etcd.LeaseTTL/time.Second))
		regCancel()
		if err != nil {
			return err
		}
		defer func() {
			dctx, dcancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer dcancel()
			if err := etcd.Deregister(dctx, ep); err != nil {
				logger.Warn("server list deregister failed", zap.Error(err))
			}
		}()
		logger.Info("registered in server list", zap.String("endpoint", ep.Addr()))
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve("tcp", cfg.Server.Listen)
	}()
	logger.Info("server listening", zap.String("addr", cfg.Server.Listen))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", zap.Stringer("signal", sig))
	}
	return srv.Shutdown(10 * time.Second)
}
