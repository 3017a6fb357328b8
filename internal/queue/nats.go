package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

const (
	StreamName  = "FACEATTEND_EVENTS"
	SubjectBase = "faceattend"
)

// NATSQueue publishes messages to a JetStream stream. The message type is
// the subject suffix.
type NATSQueue struct {
	nc       *nats.Conn
	js       jetstream.JetStream
	consumer string
	logger   *zap.Logger
}

// NewNATSQueue connects to url and makes sure the event stream exists.
// consumer names the durable consumer used by Consume.
func NewNATSQueue(ctx context.Context, url, consumer string, logger *zap.Logger) (*NATSQueue, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err = js.CreateOrUpdateStream(opCtx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectBase + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Description: "Enrollment and attendance events",
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create stream %s: %w", StreamName, err)
	}
	if consumer == "" {
		consumer = "faceattend-worker"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSQueue{nc: nc, js: js, consumer: consumer, logger: logger}, nil
}

// Subject returns the subject a message type is published on.
func Subject(msgType string) string {
	if msgType == "" {
		msgType = "unknown"
	}
	return SubjectBase + "." + msgType
}

func (q *NATSQueue) Publish(ctx context.Context, msg Message) error {
	if _, err := q.js.Publish(ctx, Subject(msg.Type), msg.Body); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Type, err)
	}
	return nil
}

// Consume fetches from a durable consumer and acks each message once it is
// handed to the reader.
func (q *NATSQueue) Consume(ctx context.Context) (<-chan Message, error) {
	cons, err := q.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Name:          q.consumer,
		Durable:       q.consumer,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       10 * time.Second,
		MaxDeliver:    3,
		FilterSubject: SubjectBase + ".>",
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer %s: %w", q.consumer, err)
	}

	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			if ctx.Err() != nil {
				return
			}
			batch, err := cons.Fetch(10, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				q.logger.Warn("fetch events", zap.Error(err))
				time.Sleep(time.Second)
				continue
			}
			for m := range batch.Messages() {
				msg := Message{
					Type: strings.TrimPrefix(m.Subject(), SubjectBase+"."),
					Body: m.Data(),
				}
				select {
				case out <- msg:
					_ = m.Ack()
				case <-ctx.Done():
					_ = m.Nak()
					return
				}
			}
		}
	}()
	return out, nil
}

func (q *NATSQueue) Close() {
	q.nc.Close()
}
