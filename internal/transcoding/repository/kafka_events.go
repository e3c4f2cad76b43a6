package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"video_transcoding_service/internal/transcoding/domain"

	"github.com/segmentio/kafka-go"
)

// messageWriter the part of *kafka.Writer the publisher needs
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaEventPublisher definition job lifecycle events on a kafka topic.
// Messages are keyed by job id so one job's events stay ordered in a partition.
type KafkaEventPublisher struct {
	writer messageWriter
}

// NewKafkaEventPublisher w is usually built by database.NewKafkaWriterWithRetry
func NewKafkaEventPublisher(w *kafka.Writer) *KafkaEventPublisher {
	return &KafkaEventPublisher{writer: w}
}

// EventName "job.queued", "job.processing", "job.completed" or "job.failed"
func EventName(status domain.JobStatus) string {
	return "job." + strings.ToLower(string(status))
}

// PublishEvent write one event
func (p *KafkaEventPublisher) PublishEvent(ctx context.Context, event domain.JobEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event of %s: %w", event.JobID, err)
	}

	msg := kafka.Message{
		Key:   []byte(event.JobID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(EventName(event.Status))},
		},
		Time: event.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write event %s of %s: %w", EventName(event.Status), event.JobID, err)
	}
	return nil
}

// Close flush pending messages
func (p *KafkaEventPublisher) Close() error {
	return p.writer.Close()
}
