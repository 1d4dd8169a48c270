// Package app собирает сервис каталога: хранилища, рассылку событий, HTTP и gRPC API.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	healthcheck "github.com/vladislavdragonenkov/catalog/internal/health"
	"github.com/vladislavdragonenkov/catalog/internal/metrics"
	"github.com/vladislavdragonenkov/catalog/internal/notify"
	"github.com/vladislavdragonenkov/catalog/internal/service/buyer"
	"github.com/vladislavdragonenkov/catalog/internal/service/catalog"
	"github.com/vladislavdragonenkov/catalog/internal/service/fulfillment"
	grpcsvc "github.com/vladislavdragonenkov/catalog/internal/service/grpc"
	"github.com/vladislavdragonenkov/catalog/internal/service/httpapi"
	"github.com/vladislavdragonenkov/catalog/internal/telemetry"
	"github.com/vladislavdragonenkov/catalog/internal/version"
)

const (
	serviceName = "catalog-service"

	// hubBuffer: очередь одного живого подписчика.
	hubBuffer = 64
)

// App: собранный сервис с открытыми слушателями.
type App struct {
	cfg    Config
	logger *log.Entry

	deps     *runtimeDependencies
	sinks    *changeSinks
	hub      *notify.Hub
	notifier *notify.Notifier
	tracing  telemetry.Shutdown

	httpServer    *http.Server
	grpcServer    *grpc.Server
	grpcHealth    *health.Server
	metricsServer *http.Server

	httpLis    net.Listener
	grpcLis    net.Listener
	metricsLis net.Listener
}

// Run собирает сервис и работает до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	a, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

// New подключает хранилища и брокеры, собирает сервисы и открывает слушатели.
// При ошибке всё уже открытое закрывается.
func New(ctx context.Context, cfg Config) (a *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := log.WithField("component", "app")
	a = &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.release()
		}
	}()

	a.tracing, err = telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: version.GetVersion(),
		Environment:    cfg.Environment,
		Endpoint:       cfg.OtelEndpoint,
		SampleRatio:    cfg.TraceSampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}

	a.deps, err = initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	notifierMetrics := metrics.NewNotifierMetrics()
	registry := notify.NewRegistry(logger.WithField("component", "subscriber-registry"), notifierMetrics)
	a.hub = notify.NewHub(logger.WithField("component", "change-hub"), notifierMetrics, hubBuffer)
	a.sinks = initChangeSinks(ctx, cfg, registry, a.hub, a.deps.redis, logger)
	a.notifier = notify.NewNotifier(registry,
		notify.WithLogger(logger.WithField("component", "change-notifier")),
		notify.WithMetrics(notifierMetrics),
		notify.WithWorkers(cfg.NotifierWorkers),
		notify.WithQueueSize(cfg.NotifierQueueSize),
		notify.WithDeliveryTimeout(cfg.NotifierDeliveryTimeout),
	)

	orders := fulfillment.NewService(a.deps.stockLedger(), a.deps.orders, a.deps.buyers,
		fulfillment.WithLogger(logger.WithField("component", "order-assembler")),
		fulfillment.WithMetrics(metrics.NewFulfillmentMetrics()),
		fulfillment.WithNotifier(a.notifier),
		fulfillment.WithTracer(telemetry.Tracer()),
		fulfillment.WithMaxStockAttempts(cfg.StockMaxAttempts),
		fulfillment.WithCurrency(cfg.OrderCurrency),
	)
	catalogSvc := catalog.NewService(a.deps.catalogStore(),
		catalog.WithLogger(logger.WithField("component", "catalog")),
		catalog.WithNotifier(a.notifier),
	)
	buyers := buyer.NewService(a.deps.buyers, logger.WithField("component", "buyers"))

	router := httpapi.NewRouter(httpapi.Config{
		ServiceName:        serviceName,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimit:          cfg.RateLimit,
		RequestTimeout:     cfg.RequestTimeout,
		IsDevelopment:      cfg.Environment != EnvProduction,
	}, httpapi.Services{
		Orders:  orders,
		Catalog: catalogSvc,
		Buyers:  buyers,
		Changes: a.hub,
	}, logger.WithField("layer", "http"))
	a.httpServer = httpapi.NewServer(cfg.HTTPAddr, router)

	a.grpcServer, a.grpcHealth = newGRPCServer(grpcsvc.NewServer(orders, a.hub, logger.WithField("layer", "grpc")), logger)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	a.deps.registerHealthChecks(healthHandler)
	a.sinks.registerHealthChecks(healthHandler)
	a.metricsServer = newMetricsServer(cfg.MetricsAddr, healthHandler)

	if a.httpLis, err = net.Listen("tcp", cfg.HTTPAddr); err != nil {
		return nil, fmt.Errorf("listen http: %w", err)
	}
	if a.grpcLis, err = net.Listen("tcp", cfg.GRPCAddr); err != nil {
		return nil, fmt.Errorf("listen grpc: %w", err)
	}
	if a.metricsLis, err = net.Listen("tcp", cfg.MetricsAddr); err != nil {
		return nil, fmt.Errorf("listen metrics: %w", err)
	}

	return a, nil
}

// HTTPAddr возвращает фактический адрес REST API.
func (a *App) HTTPAddr() string { return a.httpLis.Addr().String() }

// GRPCAddr возвращает фактический адрес gRPC API.
func (a *App) GRPCAddr() string { return a.grpcLis.Addr().String() }

// MetricsAddr возвращает фактический адрес метрик и health-проб.
func (a *App) MetricsAddr() string { return a.metricsLis.Addr().String() }

// Run обслуживает запросы до отмены ctx или падения одного из серверов, затем аккуратно останавливает всё.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	a.sinks.start(gctx)

	g.Go(func() error {
		a.logger.Infof("HTTP API слушает %s", a.HTTPAddr())
		if err := a.httpServer.Serve(a.httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		a.logger.Infof("gRPC сервер слушает %s", a.GRPCAddr())
		if err := a.grpcServer.Serve(a.grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		a.logger.Infof("метрики доступны по адресу %s/metrics", a.MetricsAddr())
		if err := a.metricsServer.Serve(a.metricsLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("получен сигнал остановки, останавливаем серверы")
		a.shutdownServers()
		return nil
	})

	err := g.Wait()
	a.release()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// shutdownServers закрывает живые потоки и даёт текущим запросам завершиться.
func (a *App) shutdownServers() {
	a.grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	// SSE и gRPC-потоки держат соединения открытыми, пока подписка жива.
	a.hub.Close()

	shutdownHTTP(a.httpServer, a.cfg.ShutdownTimeout, a.logger)

	stopped := make(chan struct{})
	go func() {
		a.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(a.cfg.ShutdownTimeout):
		a.logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		a.grpcServer.Stop()
	}

	shutdownHTTP(a.metricsServer, a.cfg.ShutdownTimeout, a.logger)
}

// release дожидается рассылки оставшихся событий и закрывает ресурсы в обратном порядке.
func (a *App) release() {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()

	if a.notifier != nil {
		if err := a.notifier.Close(ctx); err != nil {
			a.logger.WithError(err).Warn("change notifier did not drain in time")
		}
	}
	if a.hub != nil {
		a.hub.Close()
	}
	if a.sinks != nil {
		if err := a.sinks.Close(); err != nil {
			a.logger.WithError(err).Warn("failed to close change sinks")
		}
	}
	if a.deps != nil {
		if err := a.deps.Close(); err != nil {
			a.logger.WithError(err).Warn("failed to close storage")
		}
	}
	for _, lis := range []net.Listener{a.httpLis, a.grpcLis, a.metricsLis} {
		if lis != nil {
			_ = lis.Close()
		}
	}
	if a.tracing != nil {
		if err := a.tracing(ctx); err != nil {
			a.logger.WithError(err).Warn("failed to flush traces")
		}
	}
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.ShutdownTimeout > 0 {
		return a.cfg.ShutdownTimeout
	}
	return 5 * time.Second
}

// newGRPCServer собирает gRPC-сервер с метриками Prometheus и стандартным health-сервисом.
func newGRPCServer(api *grpcsvc.Server, logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)
	api.Register(server)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)

	grpcMetrics.InitializeMetrics(server)
	return server, healthServer
}

// newMetricsServer отдаёт /metrics для Prometheus и health-пробы.
func newMetricsServer(addr string, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)

	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, timeout time.Duration, logger *log.Entry) {
	if srv == nil {
		return
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
