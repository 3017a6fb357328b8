package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"faceattend/internal/attendance"
	"faceattend/internal/queue"
)

// Queue publishes events as JSON messages typed by the event type.
type Queue struct {
	q queue.Queue
}

func NewQueue(q queue.Queue) *Queue {
	return &Queue{q: q}
}

func (n *Queue) Notify(ctx context.Context, evt attendance.Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode %s: %w", evt.Type, err)
	}
	return n.q.Publish(ctx, queue.Message{Type: evt.Type, Body: body})
}

// Multi delivers each event to every notifier, collecting failures.
type Multi []attendance.Notifier

func (m Multi) Notify(ctx context.Context, evt attendance.Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Decode reverses Queue.Notify.
func Decode(msg queue.Message) (attendance.Event, error) {
	var evt attendance.Event
	if err := json.Unmarshal(msg.Body, &evt); err != nil {
		return attendance.Event{}, fmt.Errorf("decode %s: %w", msg.Type, err)
	}
	if evt.Type == "" {
		evt.Type = msg.Type
	}
	return evt, nil
}
