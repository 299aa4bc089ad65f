// Package kafkaconsumer applies save events published by other map
// instances to the local session.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/heatstress-map/internal/core/observability"
	"github.com/mohammed-shakir/heatstress-map/internal/invalidation"
)

// Applier reacts to a remote save.
type Applier interface {
	ApplyRemoteSave(ctx context.Context, ev invalidation.Event) error
}

type Config struct {
	Brokers          []string
	Topic            string
	GroupID          string
	Layer            string
	Source           string
	SessionTimeout   time.Duration
	Heartbeat        time.Duration
	RebalanceTimeout time.Duration
	RetryBackoff     time.Duration
}

func (c Config) withDefaults() Config {
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 30 * time.Second
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = 3 * time.Second
	}
	if c.RebalanceTimeout <= 0 {
		c.RebalanceTimeout = 30 * time.Second
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 2 * time.Second
	}
	return c
}

type Consumer struct {
	cfg     Config
	logger  *slog.Logger
	applier Applier
}

func New(cfg Config, logger *slog.Logger, applier Applier) *Consumer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Consumer{cfg: cfg.withDefaults(), logger: logger, applier: applier}
}

// Start consumes until ctx is cancelled. Only events published after the
// group first joins are applied; older saves are already in the store.
func (c *Consumer) Start(ctx context.Context) error {
	if c.applier == nil {
		return errors.New("kafkaconsumer: missing applier")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := &groupHandler{process: c.ProcessOne, logger: c.logger}
	c.logger.Info("invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
			c.logger.Error("invalidation consumer error", "err", err)
			select {
			case <-ctx.Done():
			case <-time.After(c.cfg.RetryBackoff):
			}
		}
		if ctx.Err() != nil {
			c.logger.Info("invalidation consumer shutting down")
			return nil
		}
	}
}

// ProcessOne applies a single message. Undecodable or invalid events are
// counted and skipped so they cannot wedge the partition; only a failing
// apply is returned so the offset stays unmarked.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		observability.IncInvalidation("decode_error")
		c.logger.Warn("invalidation decode failed",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		observability.IncInvalidation("invalid")
		c.logger.Warn("invalidation event invalid",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}
	if c.cfg.Layer != "" && ev.Layer != c.cfg.Layer {
		observability.IncInvalidation("ignored")
		return nil
	}
	if c.cfg.Source != "" && ev.Source == c.cfg.Source {
		observability.IncInvalidation("own")
		return nil
	}

	if err := c.applier.ApplyRemoteSave(ctx, ev); err != nil {
		observability.IncInvalidation("apply_error")
		return fmt.Errorf("apply remote save: %w", err)
	}
	observability.IncInvalidation("applied")
	c.logger.Debug("remote save applied",
		"layer", ev.Layer, "source", ev.Source, "objects_version", ev.ObjectsVersion, "count", ev.Count)
	return nil
}
