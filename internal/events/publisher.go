// Package events publishes run lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"noteflow/internal/logger"
	"noteflow/internal/observability/metrics"
	"noteflow/internal/types"
)

const (
	TypeRunCompleted = "notes.run.completed"
	TypeRunFailed    = "notes.run.failed"
)

// RunEvent describes a finished run. It never carries the credential or
// the transcript text.
type RunEvent struct {
	EventType         string      `json:"event_type"`
	JobID             string      `json:"job_id"`
	RunID             string      `json:"run_id,omitempty"`
	ErrorKind         types.Kind  `json:"error_kind,omitempty"`
	ErrorStage        types.Stage `json:"error_stage,omitempty"`
	TranscriptionTier types.Tier  `json:"transcription_tier,omitempty"`
	SynthesisTier     types.Tier  `json:"synthesis_tier,omitempty"`
	Fallbacks         int         `json:"fallbacks"`
	Sections          int         `json:"sections,omitempty"`
	DurationMs        int64       `json:"duration_ms"`
	OccurredAt        time.Time   `json:"occurred_at"`
}

type Config struct {
	Brokers   []string
	Topic     string
	Principal string
	Enabled   bool
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes RunEvents to one topic, or only logs them when Kafka
// is disabled.
type Publisher struct {
	writer    messageWriter
	topic     string
	principal string
	enabled   bool
	metrics   *metrics.Metrics
	log       *logrus.Entry
}

func New(cfg *Config, m *metrics.Metrics, log *logger.Logger) *Publisher {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	entry := logger.OrDefault(log).Component("events")

	if cfg == nil {
		entry.Info("Kafka disabled (nil config), using log-only mode")
		return &Publisher{metrics: m, log: entry}
	}
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		entry.Info("Kafka disabled, using log-only mode")
		return &Publisher{topic: cfg.Topic, principal: cfg.Principal, metrics: m, log: entry}
	}

	dialer := &net.Dialer{Timeout: 10 * time.Second}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    &kafka.Transport{Dial: dialer.DialContext},
	}

	entry.WithFields(logrus.Fields{
		"brokers":   cfg.Brokers,
		"topic":     cfg.Topic,
		"principal": cfg.Principal,
	}).Info("Kafka publisher initialized")

	return &Publisher{
		writer:    writer,
		topic:     cfg.Topic,
		principal: cfg.Principal,
		enabled:   true,
		metrics:   m,
		log:       entry,
	}
}

// Publish writes ev keyed by its job id, so all events of a job land on
// the same partition.
func (p *Publisher) Publish(ctx context.Context, ev RunEvent) error {
	start := time.Now()
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		p.log.WithError(err).WithField("topic", p.topic).Error("Failed to marshal event")
		return err
	}

	log := p.log.WithFields(logrus.Fields{
		"topic":      p.topic,
		"event_type": ev.EventType,
		"job_id":     ev.JobID,
	})
	log.WithField("payload", string(payload)).Debug("Publishing event")

	if !p.enabled || p.writer == nil {
		p.metrics.RecordKafkaPublish(p.topic, ev.EventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(ev.JobID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(ev.EventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		log.WithError(err).Error("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(p.topic, ev.EventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(p.topic, ev.EventType, nil, time.Since(start).Seconds())
	return nil
}

func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	if err := p.writer.Close(); err != nil {
		p.log.WithError(err).Error("Error closing Kafka writer")
		return err
	}
	return nil
}
