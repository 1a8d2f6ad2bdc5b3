package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"fingerattend/internal/attendance"
	"fingerattend/internal/clock"
	"fingerattend/internal/command"
	"fingerattend/internal/config"
	"fingerattend/internal/device"
	"fingerattend/internal/handler"
	"fingerattend/internal/httpmiddleware"
	"fingerattend/internal/metrics"
	"fingerattend/internal/queue"
	"fingerattend/internal/registration"
	"fingerattend/internal/roster"
	"fingerattend/internal/store"
	"fingerattend/internal/timetable"
)

// ProvideMetrics registers the collectors on the default registry served by
// /metrics.
func ProvideMetrics() *metrics.Metrics {
	return metrics.New(prometheus.DefaultRegisterer)
}

func ProvideClock() clock.Clock { return clock.Real() }

// ProvideRedis returns a lazily dialing client shared by the limiter and the
// event publisher.
func ProvideRedis(lc fx.Lifecycle, cfg config.App) *store.Redis {
	r := store.NewRedis(cfg.RedisAddr)
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return r.Close() }})
	return r
}

// storeResult carries the store plus the database handle for health checks;
// DB is nil for the memory backend.
type storeResult struct {
	fx.Out
	Store store.Store
	DB    *store.DB
}

// ProvideStore opens the configured backend. The Postgres schema is migrated
// on start.
func ProvideStore(lc fx.Lifecycle, cfg config.App, logger *zap.Logger) (storeResult, error) {
	switch cfg.StoreBackend {
	case "memory":
		logger.Warn("using in-memory store; data is lost on restart")
		return storeResult{Store: store.NewMemory()}, nil
	case "postgres", "":
	default:
		return storeResult{}, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
	db, err := store.NewDB(context.Background(), cfg.DatabaseURL)
	if db == nil {
		return storeResult{}, err
	}
	if err != nil {
		logger.Warn("database not reachable yet", zap.Error(err))
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := store.Migrate(ctx, db.Client); err != nil {
				return err
			}
			logger.Info("database schema ready")
			return nil
		},
		OnStop: func(context.Context) error { return db.Close() },
	})
	return storeResult{Store: store.NewPostgres(db.Client), DB: db}, nil
}

func ProvidePublisher(lc fx.Lifecycle, cfg config.App, r *store.Redis, logger *zap.Logger) (queue.Publisher, error) {
	var pub queue.Publisher
	switch cfg.EventsBackend {
	case "none", "":
		return queue.Nop{}, nil
	case "redis":
		pub = queue.NewRedisQueue(r.Client, cfg.EventsRedisKey)
	case "amqp":
		a, err := queue.DialAMQP(cfg.RabbitMQURL, cfg.RabbitMQExchange, logger)
		if err != nil {
			return nil, err
		}
		pub = a
	default:
		return nil, fmt.Errorf("unknown EVENTS_BACKEND %q", cfg.EventsBackend)
	}
	logger.Info("publishing events", zap.String("backend", cfg.EventsBackend))
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return pub.Close() }})
	return pub, nil
}

func ProvideLimiter(cfg config.App, r *store.Redis) httpmiddleware.Limiter {
	if cfg.RateLimitBackend == "redis" {
		return httpmiddleware.NewRedisWindow(r.Client, cfg.RateLimitPerMin)
	}
	return httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin, nil)
}

func ProvideCommandQueue(st store.Store, clk clock.Clock, m *metrics.Metrics) *command.Queue {
	return command.New(st, clk, m)
}

func ProvideMonitor(cfg config.App, clk clock.Clock, m *metrics.Metrics) *device.Monitor {
	mon := device.NewMonitor(clk, cfg.HeartbeatWindow)
	m.WatchDevice(mon.IsConnected)
	return mon
}

func ProvideDisplay() *device.Display { return device.NewDisplay() }

func ProvideRegistration(cfg config.App, q *command.Queue, clk clock.Clock, logger *zap.Logger, m *metrics.Metrics) *registration.Machine {
	return registration.New(q, clk, cfg.RegistrationTimeout, logger.Named("registration"), m)
}

func ProvideResolver(cfg config.App, st store.Store) *timetable.Resolver {
	return timetable.NewResolver(st, cfg.Location)
}

func ProvideAttendance(st store.Store, res *timetable.Resolver, clk clock.Clock, pub queue.Publisher, logger *zap.Logger, m *metrics.Metrics) *attendance.Service {
	return attendance.NewService(st, res, clk, pub, logger.Named("attendance"), m)
}

func ProvideRoster(st store.Store, q *command.Queue, logger *zap.Logger, m *metrics.Metrics) *roster.Service {
	return roster.NewService(st, q, logger.Named("roster"), m)
}

type handlerParams struct {
	fx.In
	Config       config.App
	Store        store.Store
	DB           *store.DB `optional:"true"`
	Redis        *store.Redis
	Commands     *command.Queue
	Registration *registration.Machine
	Monitor      *device.Monitor
	Display      *device.Display
	Attendance   *attendance.Service
	Roster       *roster.Service
	Publisher    queue.Publisher
	Clock        clock.Clock
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
}

func ProvideHandler(p handlerParams) *handler.Handler {
	var health []handler.HealthCheck
	if p.DB != nil {
		health = append(health, handler.HealthCheck{Name: "db", Check: p.DB.Healthy})
	}
	if p.Config.EventsBackend == "redis" || p.Config.RateLimitBackend == "redis" {
		health = append(health, handler.HealthCheck{Name: "redis", Check: p.Redis.Healthy})
	}
	return handler.New(handler.Deps{
		Admins:       p.Store,
		Commands:     p.Commands,
		Registration: p.Registration,
		Monitor:      p.Monitor,
		Display:      p.Display,
		Attendance:   p.Attendance,
		Roster:       p.Roster,
		Publisher:    p.Publisher,
		Clock:        p.Clock,
		Logger:       p.Logger.Named("http"),
		Metrics:      p.Metrics,
		Health:       health,
	}, handler.AuthConfig{
		SigningKey: p.Config.JWTSigningKey,
		Issuer:     p.Config.JWTIssuer,
		AccessTTL:  p.Config.AccessTTL,
	})
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", httpmiddleware.RequestIDHeader},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 1 && origins[0] == "*" {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
		c.AllowCredentials = true
	}
	return c
}

func startHTTP(lc fx.Lifecycle, cfg config.App, h *handler.Handler, limiter httpmiddleware.Limiter, m *metrics.Metrics, logger *zap.Logger) {
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.AccessLog(logger.Named("access"), "/healthz", "/metrics", "/api/heartbeat", "/api/get_command"))
	r.Use(httpmiddleware.Instrument(m))
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	r.Use(httpmiddleware.SecurityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	h.Mount(r, httpmiddleware.RateLimit(limiter, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
			logger.Info("http server listening", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down http server")
			return srv.Shutdown(ctx)
		},
	})
}
