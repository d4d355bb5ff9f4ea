package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventSignalGenerated EventType = "SIGNAL_GENERATED"
	EventPositionOpened  EventType = "POSITION_OPENED"
	EventPositionClosed  EventType = "POSITION_CLOSED"
	EventOrderPlaced     EventType = "ORDER_PLACED"
	EventOrderFilled     EventType = "ORDER_FILLED"
	EventOrderCancelled  EventType = "ORDER_CANCELLED"
	EventRiskDenied      EventType = "RISK_DENIED"
	EventTaskStarted     EventType = "TASK_STARTED"
	EventTaskFinished    EventType = "TASK_FINISHED"
	EventTunerApplied    EventType = "TUNER_APPLIED"
	EventError           EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Subscribers run in their own goroutines so a slow handler cannot
	// block the trading loop
	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event)
		}
	}
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishSignal publishes a signal generated event
func (eb *EventBus) PublishSignal(userID int64, market, action, strategyName string, price float64) {
	eb.Publish(Event{
		Type: EventSignalGenerated,
		Data: map[string]interface{}{
			"user_id":  userID,
			"market":   market,
			"action":   action,
			"strategy": strategyName,
			"price":    price,
		},
	})
}

// PublishPositionOpened publishes a position opened event
func (eb *EventBus) PublishPositionOpened(userID int64, market string, entryPrice, quantity float64, phase int) {
	eb.Publish(Event{
		Type: EventPositionOpened,
		Data: map[string]interface{}{
			"user_id":     userID,
			"market":      market,
			"entry_price": entryPrice,
			"quantity":    quantity,
			"entry_phase": phase,
		},
	})
}

// PublishPositionClosed publishes a position closed event
func (eb *EventBus) PublishPositionClosed(userID int64, market string, realizedPnl float64, exitReason string) {
	eb.Publish(Event{
		Type: EventPositionClosed,
		Data: map[string]interface{}{
			"user_id":      userID,
			"market":       market,
			"realized_pnl": realizedPnl,
			"exit_reason":  exitReason,
		},
	})
}

// PublishOrderFilled publishes an order filled event
func (eb *EventBus) PublishOrderFilled(userID int64, market, side, orderID string, price, volume float64) {
	eb.Publish(Event{
		Type: EventOrderFilled,
		Data: map[string]interface{}{
			"user_id":  userID,
			"market":   market,
			"side":     side,
			"order_id": orderID,
			"price":    price,
			"volume":   volume,
		},
	})
}

// PublishOrderCancelled publishes an order cancelled event
func (eb *EventBus) PublishOrderCancelled(userID int64, market, orderID, reason string) {
	eb.Publish(Event{
		Type: EventOrderCancelled,
		Data: map[string]interface{}{
			"user_id":  userID,
			"market":   market,
			"order_id": orderID,
			"reason":   reason,
		},
	})
}

// PublishRiskDenied publishes a risk denial event
func (eb *EventBus) PublishRiskDenied(userID int64, market, code, reason string) {
	eb.Publish(Event{
		Type: EventRiskDenied,
		Data: map[string]interface{}{
			"user_id": userID,
			"market":  market,
			"code":    code,
			"reason":  reason,
		},
	})
}

// PublishTaskStarted publishes a simulation task start event
func (eb *EventBus) PublishTaskStarted(taskID, taskType string) {
	eb.Publish(Event{
		Type: EventTaskStarted,
		Data: map[string]interface{}{
			"task_id":   taskID,
			"task_type": taskType,
		},
	})
}

// PublishTaskFinished publishes a simulation task terminal event
func (eb *EventBus) PublishTaskFinished(taskID, status, errText string) {
	data := map[string]interface{}{
		"task_id": taskID,
		"status":  status,
	}
	if errText != "" {
		data["error"] = errText
	}
	eb.Publish(Event{Type: EventTaskFinished, Data: data})
}

// PublishTunerApplied publishes one tuned hour row
func (eb *EventBus) PublishTunerApplied(hour int, winRate float64, sampleCount int) {
	eb.Publish(Event{
		Type: EventTunerApplied,
		Data: map[string]interface{}{
			"hour":         hour,
			"win_rate":     winRate,
			"sample_count": sampleCount,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{Type: EventError, Data: data})
}
