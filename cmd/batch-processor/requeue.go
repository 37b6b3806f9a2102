package main

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"enrollsync/internal/broker"
	"enrollsync/internal/config"
	"enrollsync/internal/logger"
	"enrollsync/pkg/bootstrap"
	"enrollsync/pkg/metrics"
)

// RequeueApp drains the dead-letter topic back into the intake and process
// topics.
type RequeueApp struct {
	*bootstrap.Base
	requeuer *broker.Requeuer
}

func NewRequeueApp(cfg *config.Config, log logger.Logger) *RequeueApp {
	return &RequeueApp{
		Base: bootstrap.NewBase(cfg, log, "requeuer"),
	}
}

func (a *RequeueApp) Initialize(ctx context.Context) error {
	if a.Config.Broker.Kafka.DLQTopic == "" {
		return fmt.Errorf("broker.kafka.dlq_topic is required to requeue")
	}

	metrics.RegisterBrokerMetrics()

	if err := a.InitTracing(); err != nil {
		return err
	}
	if err := a.InitBroker(); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	a.requeuer = broker.NewRequeuer(a.Consumer, a.Producer, a.Config.Broker.Kafka, a.Logger)
	a.InitOpsServer()
	return nil
}

func (a *RequeueApp) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.ServeOps(gCtx)
	})
	g.Go(func() error {
		return a.requeuer.Run(gCtx)
	})

	return g.Wait()
}

func (a *RequeueApp) Shutdown(ctx context.Context) error {
	return a.Base.Shutdown(ctx, nil)
}
