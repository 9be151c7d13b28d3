package service

import (
	"context"
	"fmt"
	"time"

	"fieldsync/internal/command"
	"fieldsync/internal/config"
	"fieldsync/internal/feed"
	"fieldsync/internal/history"
	"fieldsync/internal/logger"
	"fieldsync/internal/metrics"
	"fieldsync/internal/models"
	"fieldsync/internal/repository"
	"fieldsync/internal/staleness"
	"fieldsync/internal/subscription"
)

const transitionBuffer = 64

// Core is the synchronization engine shared by every consumer: one subscription manager,
// one staleness monitor, one history store and one command dispatcher.
type Core struct {
	Manager    *subscription.Manager
	Monitor    *staleness.Monitor
	History    *history.Store
	Dispatcher *command.Dispatcher

	cfg     *config.Config
	events  repository.EventRepo
	metrics *metrics.Prom
	log     *logger.Logger
}

type CoreOption func(*coreOptions)

type coreOptions struct {
	now func() time.Time
}

// WithClock replaces time.Now in the monitor and dispatcher, for tests.
func WithClock(now func() time.Time) CoreOption {
	return func(o *coreOptions) { o.now = now }
}

// NewCore wires the engine. Writes go through a circuit breaker; prom may not be nil.
func NewCore(cfg *config.Config, client feed.Client, events repository.EventRepo, prom *metrics.Prom, log *logger.Logger, opts ...CoreOption) *Core {
	o := coreOptions{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}

	monitor := staleness.NewMonitor(cfg.Staleness.Threshold, log, staleness.WithClock(o.now))
	store := history.NewStore(cfg.History.Capacity)
	writer := feed.NewBreakerWriter(client, cfg.Command.Breaker, log)
	dispatcher := command.NewDispatcher(writer, cfg.Command, log,
		command.WithClock(o.now),
		command.WithRecorder(prom),
	)
	manager := subscription.NewManager(client, log,
		subscription.WithHistory(store),
		subscription.WithMonitor(monitor),
		subscription.WithReconciler(dispatcher),
		subscription.WithRecorder(prom),
		subscription.WithBackoff(cfg.Backoff.Base, cfg.Backoff.Cap),
	)

	return &Core{
		Manager:    manager,
		Monitor:    monitor,
		History:    store,
		Dispatcher: dispatcher,
		cfg:        cfg,
		events:     events,
		metrics:    prom,
		log:        log.Named("core"),
	}
}

// Run keeps the configured topics subscribed, drives the staleness ticker and records
// connectivity transitions until ctx is done. It closes every subscription on return.
func (c *Core) Run(ctx context.Context) {
	transitions, cancel := c.Monitor.Subscribe(transitionBuffer)
	defer cancel()

	for _, t := range c.cfg.Topics {
		topic := models.Topic(t)
		c.Manager.Subscribe(topic, func(r models.SensorReading) {
			c.log.Debugw("reading_accepted", "topic", topic, "ts", r.OrderingTime(), "fields", len(r.Fields))
		})
	}
	defer c.Manager.Close()

	go c.Monitor.Run(ctx, c.cfg.Staleness.Tick)

	c.log.Infow("core_started", "topics", c.cfg.Topics, "threshold", c.Monitor.Threshold())
	for {
		select {
		case <-ctx.Done():
			c.log.Infow("core_stopped")
			return
		case tr, ok := <-transitions:
			if !ok {
				return
			}
			c.recordTransition(ctx, tr)
		}
	}
}

func (c *Core) recordTransition(ctx context.Context, tr models.Transition) {
	c.metrics.ObserveTransition(tr)
	err := c.events.Append(ctx, models.AuditEvent{
		OccurredAt:  tr.At,
		Type:        models.EventConnectivity,
		Description: fmt.Sprintf("%s %s -> %s", tr.Topic, tr.From, tr.To),
		Metadata: map[string]any{
			"topic":    tr.Topic,
			"from":     tr.From.String(),
			"to":       tr.To.String(),
			"degraded": tr.Degraded,
		},
	})
	if err != nil {
		c.log.Errorw("audit_append_failed", "type", models.EventConnectivity, "err", err)
	}
}
