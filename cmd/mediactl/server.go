package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"localmedia/internal/core/domain"
	"localmedia/internal/core/ports"
	"localmedia/internal/core/services"
	httphandlers "localmedia/internal/handlers/http"
	"localmedia/internal/infrastructure/capture"
	"localmedia/internal/infrastructure/distributed"
	"localmedia/internal/infrastructure/middleware"
	"localmedia/internal/infrastructure/monitoring"
	"localmedia/internal/infrastructure/objecturl"
	sig "localmedia/internal/infrastructure/signal"
	"localmedia/internal/infrastructure/surfaces"
	"localmedia/pkg/circuitbreaker"
	"localmedia/pkg/config"
	"localmedia/pkg/logger"
	"localmedia/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var defaultConfigPaths = []string{
	"configs/config.yaml",
	"./configs/config.yaml",
	"config.yaml",
}

// loadConfig loads path, or the first default location that exists. With no
// file anywhere the defaults (plus env overrides) apply.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	for _, p := range defaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return config.Load(p)
		}
	}
	return config.Load(defaultConfigPaths[0])
}

type capturer interface {
	ports.CaptureRequester
	ports.DeviceLister
}

func newRequester(cfg *config.Config, log *zap.SugaredLogger) (capturer, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	switch cfg.Controller.Source {
	case config.SourceSynthetic:
		return capture.NewSyntheticRequester(), nil
	case config.SourceCamera:
		return capture.NewMediaDevicesRequester(log), nil
	default:
		return nil, fmt.Errorf("unknown capture source %q", cfg.Controller.Source)
	}
}

func controllerOptions(cfg *config.Config) services.Options {
	cc := cfg.Controller.Constraints
	track := func(t config.TrackConfig) domain.TrackConstraints {
		return domain.TrackConstraints{
			DeviceID:  t.DeviceID,
			Width:     t.Width,
			Height:    t.Height,
			FrameRate: t.FrameRate,
		}
	}
	return services.Options{
		Name:  cfg.Controller.Name,
		Muted: cfg.Controller.Muted,
		Constraints: domain.Constraints{
			Video:      cc.Video,
			Audio:      cc.Audio,
			VideoTrack: track(cc.VideoTrack),
			AudioTrack: track(cc.AudioTrack),
		},
		// started explicitly once the event relay is attached
		AutoStart: false,
	}
}

func surfaceSpecs(cfg *config.Config) []surfaces.Spec {
	specs := make([]surfaces.Spec, 0, len(cfg.Surfaces))
	for _, s := range cfg.Surfaces {
		specs = append(specs, surfaces.Spec{
			ID:                   s.ID,
			Kind:                 s.Kind,
			Classes:              s.Classes,
			Legacy:               s.Legacy,
			BlockUnmutedAutoplay: s.BlockUnmutedAutoplay,
		})
	}
	return specs
}

// app holds the wired components of one mediactl process.
type app struct {
	cfg       *config.Config
	log       *zap.SugaredLogger
	requester capturer
	ctrl      *services.StreamController
	document  *surfaces.Document
	registry  *objecturl.Registry
	hub       *sig.EventHub
	bus       *distributed.EventBus
	redis     *redis.Client
	checker   *monitoring.HealthChecker
	metrics   *prometheus.Registry
	router    *gin.Engine
	closeFunc []func()
}

func newApp(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) (*app, error) {
	log := zapLogger.Sugar()
	a := &app{cfg: cfg, log: log}
	instanceID := uuid.NewString()

	requester, err := newRequester(cfg, log)
	if err != nil {
		return nil, err
	}
	a.requester = requester

	a.document = surfaces.NewDocument()
	if err := a.document.Declare(surfaceSpecs(cfg)...); err != nil {
		return nil, fmt.Errorf("declare surfaces: %w", err)
	}

	a.registry = objecturl.NewRegistry(cfg.ObjectURLs.Origin, cfg.ObjectURLs.TTL, log)
	a.onClose(a.registry.Close)

	a.metrics = prometheus.NewRegistry()
	a.metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := monitoring.NewPrometheusCollector(a.metrics)
	collector.ObserveObjectURLs(a.registry.Live)

	if cfg.Redis.Enabled {
		a.redis, err = distributed.NewRedisClient(ctx, distributed.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			Retry:    cfg.Redis.Retry,
		}, log)
		if err != nil {
			a.close()
			return nil, err
		}
		a.onClose(func() { _ = a.redis.Close() })
		a.bus = distributed.NewEventBus(a.redis, instanceID, cfg.Events.Channel, circuitbreaker.New(cfg.Redis.Breaker), log)
		a.onClose(func() { _ = a.bus.Close() })

		if lease := cfg.Redis.DeviceLease; lease.Enabled {
			leaser := distributed.NewRedisLeaser(a.redis, lease.Prefix, lease.TTL)
			a.requester = distributed.NewLeasedRequester(a.requester, leaser, log)
		}
	}

	a.ctrl, err = services.NewStreamController(services.Capabilities{
		Capture:    a.requester,
		Resolver:   a.document,
		Elements:   a.document,
		ObjectURLs: a.registry,
	}, controllerOptions(cfg), collector.Controller(cfg.Controller.Name), log)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("create controller: %w", err)
	}

	a.hub = sig.NewEventHub(sig.HubConfig{
		PingInterval:   cfg.Events.PingInterval,
		PongTimeout:    cfg.Events.PongTimeout,
		WriteTimeout:   cfg.Events.WriteTimeout,
		SendBuffer:     cfg.Events.SendBuffer,
		AllowedOrigins: cfg.Events.AllowedOrigins,
	}, log)
	a.onClose(a.hub.Close)
	publishers := []ports.EventPublisher{a.hub}

	a.checker = monitoring.NewHealthChecker()
	a.checker.AddDeviceCheck(a.requester, cfg.Monitoring.HealthCheckInterval, cfg.Monitoring.HealthCheckTimeout)
	if a.redis != nil {
		a.checker.AddRedisCheck(a.redis, cfg.Redis.DeviceLease.Enabled, cfg.Monitoring.HealthCheckInterval, cfg.Monitoring.HealthCheckTimeout)
	}

	if a.bus != nil {
		publishers = append(publishers, a.bus)
	}

	a.onClose(services.RelayEvents(a.ctrl, instanceID, log, publishers...))

	a.router = a.buildRouter(zapLogger)
	return a, nil
}

func (a *app) onClose(fn func()) {
	a.closeFunc = append(a.closeFunc, fn)
}

// close releases components in reverse order of construction.
func (a *app) close() {
	for i := len(a.closeFunc) - 1; i >= 0; i-- {
		a.closeFunc[i]()
	}
	a.closeFunc = nil
}

func (a *app) buildRouter(zapLogger *zap.Logger) *gin.Engine {
	cfg := a.cfg
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(a.log),
		middleware.TracingMiddleware(),
		middleware.RequestLoggerMiddleware(logger.NewContextLogger(zapLogger)),
		middleware.ErrorHandlerMiddleware(a.log),
		middleware.NewHTTPRateLimitMiddleware(cfg),
	)

	var gatherer prometheus.Gatherer
	if cfg.Monitoring.PrometheusEnabled {
		gatherer = a.metrics
	}
	httphandlers.NewHealthHandler(a.checker, a.ctrl, gatherer).SetupRoutes(router)

	api := router.Group("/api/v1")
	if cfg.Auth.Enabled {
		tokens := services.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.Issuer)
		httphandlers.NewAuthHandler(tokens, cfg.Auth.TokenTTL, cfg.Auth.Subjects).SetupRoutes(router)
		api.Use(middleware.AuthMiddleware(tokens))
	}

	httphandlers.NewCaptureHandler(a.ctrl, a.document, a.requester, a.hub, cfg.Server.WriteTimeout/2).SetupRoutes(api)
	return router
}

// run starts background work and the controller. It returns once ctx is done
// or the server fails.
func (a *app) run(ctx context.Context) error {
	a.checker.StartBackgroundChecks(ctx)

	if a.bus != nil {
		go func() {
			err := a.bus.Subscribe(ctx, func(event *domain.LifecycleEvent) error {
				return a.hub.Publish(ctx, event)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warnw("event bus subscription ended", "error", err)
			}
		}()
	}

	if a.cfg.Controller.AutoStart {
		a.ctrl.Start(ctx)
	}

	srv := &http.Server{
		Addr:         a.cfg.Server.Address,
		Handler:      a.router,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		a.log.Infow("starting mediactl", "address", a.cfg.Server.Address, "controller", a.ctrl.Name(), "source", a.cfg.Controller.Source)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	var runErr error
	select {
	case err := <-serverErr:
		runErr = fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		a.log.Info("shutting down mediactl")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			a.log.Errorw("error force closing server", "error", closeErr)
		}
	}

	a.ctrl.Stop(shutdownCtx, services.WithoutRebind())
	a.close()
	return runErr
}

func serve(parent context.Context, cfgPath string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	tp, err := tracing.Init(cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Warnw("tracer shutdown failed", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, zapLogger)
	if err != nil {
		return err
	}
	return a.run(ctx)
}
