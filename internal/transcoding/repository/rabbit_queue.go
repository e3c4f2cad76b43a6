package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"video_transcoding_service/internal/transcoding/app"
	"video_transcoding_service/internal/transcoding/domain"
	"video_transcoding_service/pkg/database"
	"video_transcoding_service/pkg/logger"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// RabbitJobQueue definition durable job queue on rabbitmq.
// Messages are persistent and acknowledged manually; a consumer that holds a message
// longer than consumerTimeout loses its channel so the broker redelivers the job.
type RabbitJobQueue struct {
	dial            database.Connection
	queue           string
	consumerTimeout time.Duration

	mu     sync.Mutex
	conn   *amqp.Connection
	pubCh  *amqp.Channel
	closed bool
}

// NewRabbitJobQueue create the queue without dialing; the broker connection and the
// queue declaration happen on the first Publish, Consume or Ping
func NewRabbitJobQueue(dial database.Connection, queue string, consumerTimeout time.Duration) *RabbitJobQueue {
	return &RabbitJobQueue{dial: dial, queue: queue, consumerTimeout: consumerTimeout}
}

// QueueArgs declaration arguments, every declaring side must use the same ones
func QueueArgs(consumerTimeout time.Duration) amqp.Table {
	args := amqp.Table{}
	if consumerTimeout > 0 {
		args["x-consumer-timeout"] = consumerTimeout.Milliseconds()
	}
	return args
}

// connection reuse the live connection or dial a new one, q.mu must be held
func (q *RabbitJobQueue) connection() (*amqp.Connection, error) {
	if q.closed {
		return nil, errors.New("rabbitmq queue closed")
	}
	if q.conn != nil && !q.conn.IsClosed() {
		return q.conn, nil
	}
	conn, err := database.ConnectRabbitMQWithRetry(q.dial)
	if err != nil {
		return nil, err
	}
	q.conn = conn
	q.pubCh = nil
	return conn, nil
}

// publishChannel reuse or open the publishing channel, q.mu must be held
func (q *RabbitJobQueue) publishChannel() (*amqp.Channel, error) {
	conn, err := q.connection()
	if err != nil {
		return nil, err
	}
	if q.pubCh != nil {
		return q.pubCh, nil
	}
	ch, err := database.GetRabbitMQChannelWithRetry(conn, q.dial.RetryCount, q.dial.RetryInterval)
	if err != nil {
		return nil, err
	}
	if err := q.declare(ch); err != nil {
		_ = ch.Close()
		return nil, err
	}
	q.pubCh = ch
	return ch, nil
}

func (q *RabbitJobQueue) declare(ch *amqp.Channel) error {
	_, err := ch.QueueDeclare(
		q.queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		QueueArgs(q.consumerTimeout),
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", q.queue, err)
	}
	return nil
}

// Publish persist job on the queue
func (q *RabbitJobQueue) Publish(ctx context.Context, job domain.TranscodingJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.JobID, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	ch, err := q.publishChannel()
	if err != nil {
		return err
	}

	err = ch.Publish(
		"",      // default exchange
		q.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    job.SubmissionID,
			Timestamp:    job.SubmittedAt,
			Body:         body,
		},
	)
	if err != nil {
		// the channel is unusable after a failed publish
		_ = ch.Close()
		q.pubCh = nil
		return fmt.Errorf("publish job %s: %w", job.JobID, err)
	}
	logger.Log.Info("job published", zap.String("job_id", job.JobID), zap.String("queue", q.queue))
	return nil
}

// Consume open a dedicated channel with prefetch and forward its deliveries.
// The returned channel closes when ctx is done or the broker closes the channel.
func (q *RabbitJobQueue) Consume(ctx context.Context, prefetch int) (<-chan app.Delivery, error) {
	q.mu.Lock()
	conn, err := q.connection()
	q.mu.Unlock()
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open consume channel: %w", err)
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("set prefetch %d: %w", prefetch, err)
	}
	if err := q.declare(ch); err != nil {
		_ = ch.Close()
		return nil, err
	}

	msgs, err := ch.Consume(
		q.queue,
		"",    // consumer tag, generated by the server
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("consume queue %s: %w", q.queue, err)
	}

	closed := ch.NotifyClose(make(chan *amqp.Error, 1))
	out := make(chan app.Delivery)
	go func() {
		defer close(out)
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case amqpErr, ok := <-closed:
				if ok && amqpErr != nil {
					logger.Log.Warn("rabbitmq consume channel closed", zap.String("queue", q.queue), zap.String("reason", amqpErr.Error()))
				}
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- rabbitDelivery{m: m}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Ping check the broker answers by opening a throwaway channel
func (q *RabbitJobQueue) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	conn, err := q.connection()
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq channel: %w", err)
	}
	return ch.Close()
}

// Close the connection, consumers see their channels close
func (q *RabbitJobQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	if q.conn == nil || q.conn.IsClosed() {
		return nil
	}
	return q.conn.Close()
}

type rabbitDelivery struct {
	m amqp.Delivery
}

func (d rabbitDelivery) Body() []byte { return d.m.Body }

func (d rabbitDelivery) Redelivered() bool { return d.m.Redelivered }

func (d rabbitDelivery) Ack() error { return d.m.Ack(false) }

func (d rabbitDelivery) Nack(requeue bool) error { return d.m.Nack(false, requeue) }
