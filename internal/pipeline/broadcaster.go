// ABOUTME: In-memory fan-out of persisted messages to desk clients
// ABOUTME: Subscribers follow one conversation or the whole desk; slow subscribers drop, never block

package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/hottrack/whatsdesk/internal/store"
)

// allTopic receives every published message regardless of conversation.
const allTopic = "*"

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Broadcaster pushes persisted messages to subscribed desk clients so the
// inbox updates without polling. Publishing never blocks: a subscriber
// whose buffer is full misses that message.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *store.Message // topic -> subID -> ch
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan *store.Message),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers for messages in one conversation. The subscription
// is removed and the channel closed when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, conversationID string) (<-chan *store.Message, string) {
	return b.subscribe(ctx, conversationID)
}

// SubscribeAll registers for every message on the desk.
func (b *Broadcaster) SubscribeAll(ctx context.Context) (<-chan *store.Message, string) {
	return b.subscribe(ctx, allTopic)
}

func (b *Broadcaster) subscribe(ctx context.Context, topic string) (<-chan *store.Message, string) {
	subID := uuid.New().String()
	ch := make(chan *store.Message, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[topic]; !ok {
		b.subscribers[topic] = make(map[string]chan *store.Message)
	}
	b.subscribers[topic][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "topic", topic, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.unsubscribe(topic, subID)
	}()

	return ch, subID
}

// Publish delivers a persisted message to the conversation's subscribers
// and to everyone following the whole desk.
func (b *Broadcaster) Publish(msg *store.Message) {
	b.publishTopic(msg.ConversationID, msg)
	b.publishTopic(allTopic, msg)
}

// publishTopic delivers under the read lock so an unsubscribe cannot
// close a channel mid-send. The sends never block, so holding it is
// cheap.
func (b *Broadcaster) publishTopic(topic string, msg *store.Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[topic] {
		select {
		case ch <- msg:
		default:
			b.logger.Debug("dropped message for slow subscriber",
				"topic", topic, "message_id", msg.ID)
		}
	}
}

func (b *Broadcaster) unsubscribe(topic, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[topic]
	if !ok {
		return
	}
	ch, ok := subs[subID]
	if !ok {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, topic)
	}
}

// Close closes every subscriber channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, topic)
	}
}
