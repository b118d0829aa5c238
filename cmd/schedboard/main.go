package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/takanerehabili-creator/Completed-version-sub000/internal/config"
	"github.com/takanerehabili-creator/Completed-version-sub000/internal/httpapi"
	"github.com/takanerehabili-creator/Completed-version-sub000/internal/metrics"
	"github.com/takanerehabili-creator/Completed-version-sub000/internal/notify"
	"github.com/takanerehabili-creator/Completed-version-sub000/internal/schedule"
	"github.com/takanerehabili-creator/Completed-version-sub000/internal/store"
)

func main() {
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("SCHEDBOARD_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	var backing store.Store
	var rdb *redis.Client
	switch cfg.Store.Binding {
	case "memory":
		backing = store.NewMemStore()
	case "sqlite":
		db, err := store.OpenSQLite(cfg.Store.SQLitePath, &logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("open store error")
		}
		defer db.Close()
		if cfg.Redis.Address != "" {
			rdb = redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Address,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			db.UseRedisFanout(rdb)
		}
		backing = db
	default:
		logger.Fatal().Str("binding", cfg.Store.Binding).Msg("unknown store binding")
	}
	counted := store.NewCountingStore(backing)

	notifier := buildNotifier(cfg, &logger)
	controller := schedule.NewController(counted, notifier, &logger)
	controller.Repeats().SetHorizonMonths(cfg.Schedule.HorizonMonths)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := controller.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("start controller error")
	}
	defer controller.Shutdown()

	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, rdb, &logger)
	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	httpapi.NewScheduleController(controller, &logger).RegisterRoutes(router)

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.HTTP.Port), Handler: router}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()

	logger.Info().Int("port", cfg.HTTP.Port).Str("store", cfg.Store.Binding).
		Msg("schedule board started")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("http server error")
	}
}

// buildNotifier assembles the user-notification sink: structured log output,
// rate limited, plus an optional Telegram ops channel for error severities.
func buildNotifier(cfg *config.Config, logger *zerolog.Logger) notify.Notifier {
	sinks := notify.Multi{notify.NewLogNotifier(logger)}
	if cfg.Telegram.BotToken != "" {
		tg, err := notify.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.OpsChatID, logger)
		if err != nil {
			logger.Error().Err(err).Msg("telegram notifier disabled")
		} else {
			sinks = append(sinks, tg)
		}
	}
	return notify.NewLimited(sinks, cfg.Notifications.PerSecond, cfg.Notifications.Burst, logger)
}

func startHealthServer(ctx context.Context, port int, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if rdb != nil {
			ctxPing, cancel := context.WithTimeout(ctx, time.Second)
			defer cancel()
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
