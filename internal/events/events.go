// Package events publishes refresh-completion signals to Kafka so an
// external ingestion consumer can react to newly written summaries
// without polling. Publication is best-effort: a full queue drops the
// event rather than blocking the resolver's request path.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

// RefreshEvent announces that a (region, month) summary was refreshed.
type RefreshEvent struct {
	RegionID      string    `json:"regionId"`
	Month         int       `json:"month"`
	IncludesMarine bool     `json:"includesMarine"`
	Source        string    `json:"source"`
	FetchedAt     time.Time `json:"fetchedAt"`
}

// Publisher is an async Kafka producer dedicated to RefreshEvent traffic.
type Publisher struct {
	topic   string
	events  chan RefreshEvent
	prod    sarama.AsyncProducer
	stopped chan struct{}
	logger  *zerolog.Logger
}

// NewPublisher connects to brokers and starts the background drain loop.
func NewPublisher(brokers []string, topic string, queueSize int, logger *zerolog.Logger) (*Publisher, error) {
	if queueSize <= 0 {
		queueSize = 1024
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("events: create async producer: %w", err)
	}
	return newPublisher(prod, topic, queueSize, logger), nil
}

// newPublisher wraps an already-constructed producer; tests inject a
// mock producer here.
func newPublisher(prod sarama.AsyncProducer, topic string, queueSize int, logger *zerolog.Logger) *Publisher {
	p := &Publisher{
		topic:   topic,
		events:  make(chan RefreshEvent, queueSize),
		prod:    prod,
		stopped: make(chan struct{}),
		logger:  logger,
	}

	go p.drain()
	go p.drainErrors()

	return p
}

func (p *Publisher) drain() {
	defer close(p.stopped)
	for ev := range p.events {
		b, err := json.Marshal(ev)
		if err != nil {
			if p.logger != nil {
				p.logger.Warn().Err(err).Msg("events: marshal refresh event")
			}
			continue
		}
		p.prod.Input() <- &sarama.ProducerMessage{
			Topic: p.topic,
			Key:   sarama.StringEncoder(ev.RegionID),
			Value: sarama.ByteEncoder(b),
		}
	}
}

func (p *Publisher) drainErrors() {
	for err := range p.prod.Errors() {
		if err != nil && p.logger != nil {
			p.logger.Warn().Err(err).Msg("events: producer error")
		}
	}
}

// Publish enqueues ev, dropping it silently if the queue is full.
func (p *Publisher) Publish(ev RefreshEvent) {
	select {
	case p.events <- ev:
	default:
	}
}

// Close drains the queue and shuts the producer down.
func (p *Publisher) Close() error {
	close(p.events)
	<-p.stopped
	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("events: close producer: %w", err)
	}
	return nil
}
