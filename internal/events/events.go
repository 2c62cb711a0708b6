package events

import (
	"context"
	"sync"
	"time"
)

// EventType represents the type of event.
type EventType string

const (
	// EventCardSaved is emitted when a user adds a card to their wallet
	EventCardSaved EventType = "card.saved"
	// EventCardRemoved is emitted when a user removes a card from their wallet
	EventCardRemoved EventType = "card.removed"
	// EventFeedbackReceived is emitted when a visitor submits feedback
	EventFeedbackReceived EventType = "feedback.received"
	// EventMissingCardReported is emitted when a visitor reports a card we don't list
	EventMissingCardReported EventType = "card.missing_reported"
	// EventChatAnswered is emitted when the advisor answers a chat message
	EventChatAnswered EventType = "chat.answered"
)

// Event represents an event in the system.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      interface{}
}

// CardSavedData contains data for wallet add events.
type CardSavedData struct {
	UserID string
	CardID string
}

// CardRemovedData contains data for wallet remove events.
type CardRemovedData struct {
	UserID string
	CardID string
}

// FeedbackReceivedData contains data for feedback events.
type FeedbackReceivedData struct {
	FeedbackID string
	Email      string
}

// MissingCardReportedData contains data for missing card report events.
type MissingCardReportedData struct {
	RequestID string
	CardName  string
}

// ChatAnsweredData contains data for advisor chat events.
type ChatAnsweredData struct {
	UserID     string
	AnsweredAt time.Time
}

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Manager manages event handlers and event publishing.
type Manager struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	enabled  bool
}

// NewManager creates a new event manager.
func NewManager(enabled bool) *Manager {
	return &Manager{
		handlers: make(map[EventType][]Handler),
		enabled:  enabled,
	}
}

// Subscribe subscribes a handler to a specific event type.
func (m *Manager) Subscribe(eventType EventType, handler Handler) {
	if m == nil || !m.enabled {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers[eventType] = append(m.handlers[eventType], handler)
}

// Publish publishes an event to all subscribed handlers. A nil Manager
// drops every event.
func (m *Manager) Publish(ctx context.Context, eventType EventType, data interface{}) {
	if m == nil || !m.enabled {
		return
	}

	m.mu.RLock()
	handlers := m.handlers[eventType]
	m.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}

	// Execute handlers asynchronously to avoid blocking
	for _, handler := range handlers {
		go func(h Handler) {
			if err := h(ctx, event); err != nil {
				_ = err
			}
		}(handler)
	}
}

// PublishCardSaved publishes a wallet add event.
func (m *Manager) PublishCardSaved(ctx context.Context, userID, cardID string) {
	m.Publish(ctx, EventCardSaved, CardSavedData{UserID: userID, CardID: cardID})
}

// PublishCardRemoved publishes a wallet remove event.
func (m *Manager) PublishCardRemoved(ctx context.Context, userID, cardID string) {
	m.Publish(ctx, EventCardRemoved, CardRemovedData{UserID: userID, CardID: cardID})
}

// PublishFeedbackReceived publishes a feedback event.
func (m *Manager) PublishFeedbackReceived(ctx context.Context, feedbackID, email string) {
	m.Publish(ctx, EventFeedbackReceived, FeedbackReceivedData{FeedbackID: feedbackID, Email: email})
}

// PublishMissingCardReported publishes a missing card report event.
func (m *Manager) PublishMissingCardReported(ctx context.Context, requestID, cardName string) {
	m.Publish(ctx, EventMissingCardReported, MissingCardReportedData{RequestID: requestID, CardName: cardName})
}

// PublishChatAnswered publishes an advisor chat event.
func (m *Manager) PublishChatAnswered(ctx context.Context, userID string) {
	m.Publish(ctx, EventChatAnswered, ChatAnsweredData{UserID: userID, AnsweredAt: time.Now()})
}

// Shutdown shuts down the event manager.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.enabled = false
	m.handlers = make(map[EventType][]Handler)
}
