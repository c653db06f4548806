package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/medsync-dashboard/internal/action"
	"github.com/xela07ax/medsync-dashboard/internal/console/handler"
	"github.com/xela07ax/medsync-dashboard/internal/console/server"
	"github.com/xela07ax/medsync-dashboard/internal/domain"
	"github.com/xela07ax/medsync-dashboard/internal/engine"
	"github.com/xela07ax/medsync-dashboard/internal/infra"
	"github.com/xela07ax/medsync-dashboard/internal/journal"
	"github.com/xela07ax/medsync-dashboard/internal/metrics"
	"github.com/xela07ax/medsync-dashboard/internal/persistence"
	"github.com/xela07ax/medsync-dashboard/internal/remote"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ./config.yaml or ./configs/config.yaml)")
	flag.Parse()

	cfg, err := infra.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}

	os.Exit(exitCode(logger, run(cfg, logger)))
}

// exitCode пишет ошибку запуска и сбрасывает буфер логгера до выхода процесса.
func exitCode(logger *zap.Logger, err error) int {
	code := 0
	if err != nil {
		logger.Error("dashboard exited with error", zap.Error(err))
		code = 1
	}
	_ = logger.Sync()
	return code
}

func run(cfg *infra.Config, logger *zap.Logger) error {
	// Контекст для управления жизненным циклом фоновых горутин
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// 2. Хранилище состояния
	var rdb *redis.Client
	var medium persistence.Medium
	var purger *persistence.Purger
	var journalStorage journal.Storage = journal.NewMemoryStorage(200)

	switch cfg.Persistence.Backend {
	case infra.BackendRedis:
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		pingCtx, pingCancel := context.WithTimeout(appCtx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			// Не фатально: Gateway деградирует в "записей нет"
			logger.Warn("redis unreachable, persisted state degraded", zap.Error(err))
		}
		medium = persistence.NewRedisMedium(rdb, logger)

	case infra.BackendPostgres:
		pg, err := persistence.NewPostgresMedium(appCtx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pg.Close()

		pingCtx, pingCancel := context.WithTimeout(appCtx, 5*time.Second)
		err = pg.Ping(pingCtx)
		pingCancel()
		if err != nil {
			return fmt.Errorf("database unreachable: %w", err)
		}
		medium = pg
		purger = persistence.NewPurger(pg, cfg.Persistence.PurgeInterval, logger)

		journalStorage, err = journal.NewPostgresStorage(appCtx, pg.Pool())
		if err != nil {
			return err
		}

	default:
		medium = persistence.NewMemoryMedium(nil)
	}
	gateway := persistence.NewStore(medium, logger, m)

	// 3. Бэкенд платформы клиник
	var api remote.API
	if cfg.API.Mock {
		logger.Warn("using built-in mock backend")
		api = remote.NewMockBackend(nil)
	} else {
		doer := remote.NewReliableDoer(&http.Client{}, reliability(cfg.API), logger, m)
		client, err := remote.NewClient(cfg.API.BaseURL, cfg.API.Token, doer)
		if err != nil {
			return err
		}
		api = client
	}

	// 4. Журнал действий: пишет пачками, на остановке дописывает остатки
	actionJournal := journal.New(journalStorage, logger)
	actionJournal.Start()
	defer actionJournal.Stop()

	// 5. Движок
	session := engine.NewSession(engine.Config{
		Tick: cfg.Refresh.Tick,
		Intervals: engine.Intervals{
			Overview:          cfg.Refresh.Overview,
			ClientPerformance: cfg.Refresh.ClientPerformance,
			AgentStatus:       cfg.Refresh.AgentStatus,
			Alerts:            cfg.Refresh.Alerts,
		},
		ActivityLimit: cfg.Refresh.ActivityLimit,
		Action: action.Config{
			RefetchDelay:   cfg.Action.RefetchDelay,
			NoticeDuration: cfg.Action.NoticeDuration,
			TTL:            ttls(cfg.Persistence),
		},
	}, api, gateway, logger, m, engine.WithJournal(actionJournal))

	if err := session.Start(appCtx); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.Stop()

	if rdb != nil {
		go persistence.ListenInvalidations(appCtx, rdb, logger, infra.RedisChanStateInvalidation, session.Invalidate)
	}
	if purger != nil {
		purger.Start(appCtx)
		defer purger.Stop()
	}

	// 6. HTTP Server
	console := server.NewConsoleServer(logger, reg,
		handler.NewDashboardHandler(session),
		handler.NewAgentHandler(session, logger),
		handler.NewPersistedHandler(session, logger),
	)
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      console,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 7. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("dashboard API started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-stop: // Ждем сигнал
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	}
	logger.Info("dashboard stopping...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info("dashboard exited properly")
	return nil
}

func reliability(c infra.APIConfig) remote.ReliabilityConfig {
	return remote.ReliabilityConfig{
		Timeout:            c.Timeout,
		RetryAttempts:      c.RetryAttempts,
		RatePerSecond:      c.RatePerSecond,
		Burst:              c.Burst,
		CBMaxRequests:      c.CBMaxRequests,
		CBInterval:         c.CBInterval,
		CBTimeout:          c.CBTimeout,
		CBFailureThreshold: c.CBFailureThreshold,
	}
}

func ttls(p infra.PersistenceConfig) map[domain.Kind]time.Duration {
	out := make(map[domain.Kind]time.Duration, len(domain.Kinds()))
	for _, kind := range domain.Kinds() {
		out[kind] = p.TTLFor(string(kind))
	}
	return out
}
