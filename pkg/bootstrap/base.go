package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"enrollsync/internal/broker"
	"enrollsync/internal/config"
	"enrollsync/internal/constants"
	"enrollsync/internal/logger"
	"enrollsync/pkg/health"
	"enrollsync/pkg/tracing"
)

// Base carries what every enrollsync worker needs: broker clients, tracing
// and an ops server exposing /health and /metrics.
type Base struct {
	Config      *config.Config
	Logger      logger.Logger
	ServiceName string
	Producer    broker.Producer
	Consumer    broker.Consumer
	Health      *health.CheckerRegistry

	tracer    *tracing.TracerProvider
	opsServer *http.Server
}

func NewBase(cfg *config.Config, log logger.Logger, serviceName string) *Base {
	if sugared, ok := log.(*logger.SugaredLogger); ok {
		sugared.SetServiceName(serviceName)
	}
	return &Base{
		Config:      cfg,
		Logger:      log,
		ServiceName: serviceName,
		Health:      health.NewCheckerRegistry(),
	}
}

func (b *Base) InitBroker() error {
	producer, err := broker.NewProducer(b.Config.Broker, b.Logger)
	if err != nil {
		return fmt.Errorf("failed to create producer: %w", err)
	}

	consumer, err := broker.NewConsumer(b.Config.Broker, b.Logger)
	if err != nil {
		producer.Close()
		return fmt.Errorf("failed to create consumer: %w", err)
	}
	consumer.SetServiceName(b.ServiceName)

	b.Producer = producer
	b.Consumer = consumer
	b.Health.Register(health.NewKafkaChecker(b.Config.Broker.Kafka.Brokers))
	return nil
}

func (b *Base) InitTracing() error {
	tp, err := tracing.Init(b.Config.Tracing, b.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	b.tracer = tp
	return nil
}

// InitOpsServer prepares the /health and /metrics listener on server.port.
// Services with their own HTTP router mount those routes there instead.
func (b *Base) InitOpsServer() {
	mux := http.NewServeMux()
	mux.Handle("/health", b.Health.HTTPHandler())
	mux.Handle("/metrics", promhttp.Handler())

	b.opsServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", b.Config.Server.Port),
		Handler:      mux,
		ReadTimeout:  b.Config.Server.ReadTimeout(),
		WriteTimeout: b.Config.Server.WriteTimeout(),
	}
}

// ServeOps runs the ops server until ctx is done; it is a no-op without
// InitOpsServer.
func (b *Base) ServeOps(ctx context.Context) error {
	if b.opsServer == nil {
		return nil
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		b.Logger.InfowCtx(ctx, "Ops server starting", "port", b.Config.Server.Port)
		if err := b.opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("ops server error: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.ShutdownTimeout)
		defer cancel()
		return b.opsServer.Shutdown(shutdownCtx)
	}
}

func (b *Base) ShutdownBroker() []error {
	var errs []error

	if b.Producer != nil {
		if err := b.Producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("producer close error: %w", err))
		}
	}

	if b.Consumer != nil {
		if err := b.Consumer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("consumer close error: %w", err))
		}
	}

	return errs
}

// Shutdown stops the ops server and consumers first so no new work starts,
// then runs additionalShutdown for the service's own resources.
func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.InfowCtx(ctx, "Shutting down application")

	var errs []error

	if b.opsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.ShutdownTimeout)
		defer cancel()
		if err := b.opsServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("ops server shutdown error: %w", err))
		}
	}

	errs = append(errs, b.ShutdownBroker()...)

	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}

	if b.tracer != nil {
		if err := b.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	b.Logger.InfowCtx(ctx, "Application exited successfully")
	return nil
}
