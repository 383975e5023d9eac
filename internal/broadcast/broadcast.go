// Package broadcast implements an in-process topic broker used to fan out
// session activity to account- and user-scoped subscribers.
package broadcast

import (
	"fmt"
	"sync"
	"time"
)

// Kind tags a broadcast message.
type Kind string

const (
	KindCreated              Kind = "created"
	KindUpdated              Kind = "updated"
	KindSessionActivity      Kind = "session_activity"
	KindSessionStatusChanged Kind = "session_status_changed"
	KindConversationLinked   Kind = "session_conversation_linked"
	KindStepCompleted        Kind = "step_completed"
	KindNotification         Kind = "notification"
)

// Message is a tagged broadcast payload.
type Message struct {
	Kind      Kind           `json:"kind"`
	SessionID string         `json:"session_id"`
	Payload   map[string]any `json:"payload,omitempty"`
	SentAt    time.Time      `json:"sent_at"`
}

// AccountTopic returns the account-scoped sessions topic.
func AccountTopic(accountID string) string {
	return fmt.Sprintf("account:%s:sessions", accountID)
}

// UserTopic returns the user-scoped sessions topic.
func UserTopic(userID string) string {
	return fmt.Sprintf("user:%s:sessions", userID)
}

const subscriberBuffer = 100

// Broker fans messages out to per-topic subscriber channels. Sends are
// non-blocking; a subscriber that falls behind loses messages rather than
// stalling publishers.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string][]chan Message
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[string][]chan Message),
	}
}

// Publish delivers msg to every subscriber of topic.
func (b *Broker) Publish(topic string, msg Message) {
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}

	b.mu.RLock()
	subs := b.subscribers[topic]
	b.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- msg:
		default:
			// Channel full, skip
		}
	}
}

// Subscribe registers a new subscriber for topic. The returned cancel
// function removes the subscription and closes the channel.
func (b *Broker) Subscribe(topic string) (<-chan Message, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Message, subscriberBuffer)
	b.subscribers[topic] = append(b.subscribers[topic], ch)

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.subscribers[topic]
		for i, sub := range subs {
			if sub == ch {
				b.subscribers[topic] = append(subs[:i], subs[i+1:]...)
				close(sub)
				break
			}
		}
		if len(b.subscribers[topic]) == 0 {
			delete(b.subscribers, topic)
		}
	}

	return ch, cancel
}
