// Package tileevents publishes tile request events to Kafka.
package tileevents

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/gridlight/internal/core/observability"
	"github.com/mohammed-shakir/gridlight/internal/tile"
)

// Event records that a tile was resolved for a client request.
type Event struct {
	Layer string    `json:"layer"`
	Kind  string    `json:"kind"`
	Z     int       `json:"z"`
	X     int       `json:"x"`
	Y     int       `json:"y"`
	URL   string    `json:"url,omitempty"`
	TS    time.Time `json:"ts"`
}

func NewEvent(layer, kind string, a tile.Address, url string) Event {
	return Event{Layer: layer, Kind: kind, Z: a.Z, X: a.X, Y: a.Y, URL: url, TS: time.Now().UTC()}
}

type Publisher struct {
	topic   string
	logger  *slog.Logger
	prod    sarama.AsyncProducer
	events  chan Event
	stopped chan struct{}
	errDone chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewPublisher(brokers []string, topic string, queueSize int, logger *slog.Logger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false
	cfg.Producer.RequiredAcks = sarama.WaitForLocal

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("tileevents: create async producer: %w", err)
	}
	return NewWithProducer(prod, topic, queueSize, logger), nil
}

// NewWithProducer takes ownership of prod and closes it on Close.
func NewWithProducer(prod sarama.AsyncProducer, topic string, queueSize int, logger *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		topic:   topic,
		logger:  logger,
		prod:    prod,
		events:  make(chan Event, queueSize),
		stopped: make(chan struct{}),
		errDone: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				p.logger.Warn("tileevents: marshal", "err", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.Layer + "/" + tile.Address{X: ev.X, Y: ev.Y, Z: ev.Z}.String()),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		defer close(p.errDone)
		for err := range p.prod.Errors() {
			if err != nil {
				p.logger.Warn("tileevents: producer error", "err", err)
			}
		}
	}()

	return p
}

// Publish enqueues ev without blocking. Events are dropped when the queue is
// full or the publisher is closed. A nil Publisher drops everything.
func (p *Publisher) Publish(ev Event) {
	if p == nil {
		return
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.events <- ev:
	default:
		observability.IncTileEventDropped()
	}
}

// Close flushes queued events and closes the producer.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.events)
	p.mu.Unlock()

	<-p.stopped
	err := p.prod.Close()
	<-p.errDone
	if err != nil {
		return fmt.Errorf("tileevents: close producer: %w", err)
	}
	return nil
}
