package invalidation

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/heatstress-map/internal/core/observability"
)

// Publisher hands events to the bus without blocking the caller.
type Publisher interface {
	Publish(ev Event)
	Close() error
}

// Nop drops every event; used when invalidation is disabled.
type Nop struct{}

func (Nop) Publish(Event) {}
func (Nop) Close() error  { return nil }

type KafkaPublisher struct {
	logger  *slog.Logger
	topic   string
	events  chan Event
	prod    sarama.AsyncProducer
	stopped chan struct{}
	drained chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewKafkaPublisher connects an async producer to brokers.
func NewKafkaPublisher(logger *slog.Logger, brokers []string, topic string, queueSize int) (*KafkaPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false
	cfg.Producer.RequiredAcks = sarama.WaitForLocal

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("invalidation: create async producer: %w", err)
	}
	return NewPublisherWithProducer(logger, prod, topic, queueSize), nil
}

// NewPublisherWithProducer wraps an existing producer. The producer must
// report errors on its Errors channel.
func NewPublisherWithProducer(logger *slog.Logger, prod sarama.AsyncProducer, topic string, queueSize int) *KafkaPublisher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	p := &KafkaPublisher{
		logger:  logger,
		topic:   topic,
		events:  make(chan Event, queueSize),
		prod:    prod,
		stopped: make(chan struct{}),
		drained: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				observability.IncInvalidation("encode_error")
				p.logger.Error("invalidation marshal failed", "err", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.Layer),
				Value: sarama.ByteEncoder(b),
			}
			observability.IncInvalidation("published")
		}
	}()

	go func() {
		defer close(p.drained)
		for err := range p.prod.Errors() {
			if err != nil {
				observability.IncInvalidation("producer_error")
				p.logger.Error("invalidation producer error", "err", err)
			}
		}
	}()

	return p
}

// Publish validates and enqueues ev. A full queue drops the event.
func (p *KafkaPublisher) Publish(ev Event) {
	if err := ev.Validate(); err != nil {
		observability.IncInvalidation("invalid")
		p.logger.Warn("invalidation event rejected", "err", err, "layer", ev.Layer)
		return
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		observability.IncInvalidation("dropped")
		return
	}
	select {
	case p.events <- ev:
	default:
		observability.IncInvalidation("dropped")
		p.logger.Warn("invalidation queue full, event dropped", "layer", ev.Layer)
	}
}

// Close flushes queued events and closes the producer. Safe to call twice.
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.events)
	p.mu.Unlock()

	<-p.stopped
	var err error
	if cerr := p.prod.Close(); cerr != nil {
		err = fmt.Errorf("invalidation: close producer: %w", cerr)
	}
	<-p.drained
	return err
}
