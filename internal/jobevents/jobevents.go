// Package jobevents publishes IngestionJob lifecycle transitions to Kafka
// for external consumers that want to observe completion without polling
// GetResourceStatus. Publishing is best-effort and write-only: nothing in
// this module consumes the topic it writes to.
package jobevents

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"ragserv/internal/config"
	"ragserv/internal/persistence"
)

// JobEvent mirrors the fields of persistence.IngestionJob relevant to an
// external observer.
type JobEvent struct {
	JobID     string                `json:"jobId"`
	UserID    string                `json:"userId"`
	Status    persistence.JobStatus `json:"status"`
	Total     int                   `json:"total"`
	Processed int                   `json:"processed"`
	Failed    int                   `json:"failed"`
	Timestamp time.Time             `json:"timestamp"`
}

// Publisher writes JobEvents to a Kafka topic. A nil *Publisher is valid
// and Publish on it is a no-op, so callers can wire it unconditionally.
type Publisher struct {
	writer *kafka.Writer
}

// New builds a Publisher when cfg.Brokers is non-empty; otherwise it
// returns a nil *Publisher, disabling publishing without requiring callers
// to branch on configuration.
func New(cfg config.KafkaConfig) *Publisher {
	if len(cfg.Brokers) == 0 {
		return nil
	}
	return &Publisher{writer: &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}}
}

// Publish writes one JobEvent. Failures are logged, not returned: a
// down Kafka broker must never block or fail ingestion.
func (p *Publisher) Publish(ctx context.Context, ev JobEvent) {
	if p == nil || p.writer == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Warn().Err(err).Msg("jobevents: marshal event failed")
		return
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Value: payload, Time: time.Now()}); err != nil {
		log.Warn().Err(err).Str("job_id", ev.JobID).Msg("jobevents: publish failed")
	}
}

// Close shuts down the underlying writer.
func (p *Publisher) Close() {
	if p == nil || p.writer == nil {
		return
	}
	if err := p.writer.Close(); err != nil {
		log.Warn().Err(err).Msg("jobevents: writer close failed")
	}
}
