package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Sonket19/AI-Pitch-Lens/model"
	"github.com/Sonket19/AI-Pitch-Lens/pkg/logger"
)

type EventType string

const (
	EventDealUploaded      EventType = "deal.uploaded"
	EventDealQueued        EventType = "deal.queued"
	EventDealStatusChanged EventType = "deal.status_changed"
	EventDealCompleted     EventType = "deal.completed"
	EventDealFailed        EventType = "deal.failed"
	EventDealDeleted       EventType = "deal.deleted"
)

// Event is a deal lifecycle event as published to the event stream
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source"`
	DealID    string         `json:"deal_id"`
	Data      map[string]any `json:"data,omitempty"`
}

func NewEvent(eventType EventType, source, dealID string, data map[string]any) *Event {
	return &Event{
		ID:        "evt_" + NewDealID(),
		Type:      eventType,
		Timestamp: time.Now(),
		Source:    source,
		DealID:    dealID,
		Data:      data,
	}
}

func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher sends lifecycle events somewhere. Failures are the publisher's
// to log; callers never fail because an event was lost.
type Publisher interface {
	Publish(ctx context.Context, event *Event)
	Close() error
}

// KafkaPublisher writes events to a topic keyed by deal id
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event *Event) {
	data, err := event.ToJSON()
	if err != nil {
		logger.Error(ctx, "failed to encode event", "type", event.Type, "error", err)
		return
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.DealID),
		Value: data,
	})
	if err != nil {
		logger.Warn(ctx, "failed to publish event", "type", event.Type, "deal_id", event.DealID, "error", err)
	}
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher logs events when no broker is configured
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, event *Event) {
	logger.Info(ctx, "deal event", "type", event.Type, "deal_id", event.DealID, "source", event.Source)
}

func (LogPublisher) Close() error { return nil }

// EventNotifier turns store notifications into status events. Notify only
// queues; Run publishes, so a slow broker never holds the store lock.
type EventNotifier struct {
	publisher Publisher
	queue     chan notification

	mu   sync.Mutex
	last map[string]model.Status
}

type notification struct {
	dealID string
	deal   *model.Deal
}

var _ ChangeNotifier = (*EventNotifier)(nil)

func NewEventNotifier(publisher Publisher, queueSize int) *EventNotifier {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &EventNotifier{
		publisher: publisher,
		queue:     make(chan notification, queueSize),
		last:      make(map[string]model.Status),
	}
}

func (n *EventNotifier) Notify(dealID string, snapshot *model.Deal) {
	select {
	case n.queue <- notification{dealID, snapshot}:
	default:
		logger.Warn(logger.WithDeal(context.Background(), dealID), "event queue full, dropping status event")
	}
}

// Run publishes queued notifications until ctx is done
func (n *EventNotifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-n.queue:
			if event := n.toEvent(item); event != nil {
				n.publisher.Publish(logger.WithDeal(ctx, item.dealID), event)
			}
		}
	}
}

// toEvent returns nil when the status did not change.
func (n *EventNotifier) toEvent(item notification) *Event {
	n.mu.Lock()
	defer n.mu.Unlock()

	if item.deal == nil {
		delete(n.last, item.dealID)
		return NewEvent(EventDealDeleted, "store", item.dealID, nil)
	}

	d := item.deal
	prev, seen := n.last[item.dealID]
	if seen && prev == d.Status {
		return nil
	}
	if d.Status.Terminal() {
		delete(n.last, item.dealID)
	} else {
		n.last[item.dealID] = d.Status
	}

	data := map[string]any{"status": string(d.Status), "user_id": d.UserID}
	if seen {
		data["previous"] = string(prev)
	}
	switch d.Status {
	case model.StatusUploaded:
		// announced by the upload handler with the object details
		return nil
	case model.StatusQueued:
		return NewEvent(EventDealQueued, "store", d.ID, data)
	case model.StatusCompleted:
		data["sections"] = len(d.Analysis)
		return NewEvent(EventDealCompleted, "store", d.ID, data)
	case model.StatusError:
		data["error"] = d.ErrorMessage
		return NewEvent(EventDealFailed, "store", d.ID, data)
	default:
		return NewEvent(EventDealStatusChanged, "store", d.ID, data)
	}
}

// MultiNotifier forwards every notification to each notifier in order
type MultiNotifier []ChangeNotifier

func (m MultiNotifier) Notify(dealID string, snapshot *model.Deal) {
	for _, n := range m {
		n.Notify(dealID, snapshot.Clone())
	}
}
