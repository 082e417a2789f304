package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"estate-backend/internal/logger"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

type amqpConn struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func dial(url, queue string) (*amqpConn, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	_, err = ch.QueueDeclare(
		queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	return &amqpConn{conn: conn, ch: ch, queue: queue}, nil
}

func (a *amqpConn) Close() error {
	var errs []error
	if a.ch != nil {
		errs = append(errs, a.ch.Close())
	}
	if a.conn != nil {
		errs = append(errs, a.conn.Close())
	}
	return errors.Join(errs...)
}

// AMQPPublisher sends jobs as persistent JSON messages to a durable queue.
type AMQPPublisher struct {
	mu sync.Mutex
	*amqpConn
}

func NewAMQPPublisher(url, queue string) (*AMQPPublisher, error) {
	c, err := dial(url, queue)
	if err != nil {
		return nil, err
	}
	return &AMQPPublisher{amqpConn: c}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, job Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.Publish("", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Type:         job.Type,
		Body:         body,
	})
}

// Consumer feeds queued jobs to a Dispatcher one at a time.
type Consumer struct {
	*amqpConn
	d *Dispatcher
}

func NewConsumer(url, queue string, d *Dispatcher) (*Consumer, error) {
	c, err := dial(url, queue)
	if err != nil {
		return nil, err
	}
	return &Consumer{amqpConn: c, d: d}, nil
}

// Run consumes until ctx is cancelled or the channel closes.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}
	msgs, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}
	logger.Log.WithField("queue", c.queue).Info("consumer waiting for jobs")

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.handle(ctx, msg)
		}
	}
}

type acker interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func (c *Consumer) handle(ctx context.Context, msg amqp.Delivery) {
	handleDelivery(ctx, c.d, msg.Body, msg.Redelivered, msg)
}

// handleDelivery acks on success, drops malformed or unknown jobs and
// requeues a failed job once before dropping it.
func handleDelivery(ctx context.Context, d *Dispatcher, body []byte, redelivered bool, a acker) {
	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		logger.Log.WithError(err).Error("malformed job message")
		_ = a.Nack(false, false)
		return
	}
	entry := logger.Log.WithFields(logrus.Fields{"job": job.Type, "redelivered": redelivered})

	jobCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := d.Dispatch(jobCtx, job); err != nil {
		if errors.Is(err, ErrUnknownJob) {
			entry.Warn("dropping unknown job")
			_ = a.Nack(false, false)
			return
		}
		entry.WithError(err).Error("job failed")
		_ = a.Nack(false, !redelivered)
		return
	}
	if err := a.Ack(false); err != nil {
		entry.WithError(err).Warn("ack failed")
	}
}
