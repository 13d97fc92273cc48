// ABOUTME: Inbound message pipeline: dedupe, persist, evaluate the bot, send and record replies
// ABOUTME: One worker per conversation serializes all writes for that contact

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hottrack/whatsdesk/internal/bot"
	"github.com/hottrack/whatsdesk/internal/dedupe"
	"github.com/hottrack/whatsdesk/internal/store"
	"github.com/hottrack/whatsdesk/internal/transport"
)

// DefaultSendTimeout bounds one outbound send attempt.
const DefaultSendTimeout = 15 * time.Second

// sendAttempts is how many times a reply is tried before it is recorded
// as failed.
const sendAttempts = 2

// workerQueueSize is the per-conversation task buffer.
const workerQueueSize = 32

// DefaultWorkerIdleTimeout is how long a conversation worker sits idle
// before it stops and frees its queue.
const DefaultWorkerIdleTimeout = 5 * time.Minute

// Sender is the slice of the transport the pipeline needs.
type Sender interface {
	Send(ctx context.Context, to, text string) (string, error)
}

// Pipeline turns transport events into store writes and bot replies.
// All writes for one conversation go through that conversation's worker,
// so dialogue state never races with itself; different conversations
// proceed in parallel.
type Pipeline struct {
	store       store.Store
	engine      *bot.Engine
	sender      Sender
	seen        *dedupe.Tracker
	broadcaster *Broadcaster
	sendTimeout time.Duration
	workerIdle  time.Duration
	logger      *slog.Logger

	mu      sync.RWMutex
	workers map[string]chan func()
	closed  bool
	wg      sync.WaitGroup
}

// Options tunes the pipeline; zero values use defaults.
type Options struct {
	SendTimeout       time.Duration
	WorkerIdleTimeout time.Duration
}

// New creates a pipeline. Pass nil logger for default.
func New(st store.Store, engine *bot.Engine, sender Sender, seen *dedupe.Tracker, broadcaster *Broadcaster, opts Options, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.SendTimeout
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	idle := opts.WorkerIdleTimeout
	if idle <= 0 {
		idle = DefaultWorkerIdleTimeout
	}
	return &Pipeline{
		store:       st,
		engine:      engine,
		sender:      sender,
		seen:        seen,
		broadcaster: broadcaster,
		sendTimeout: timeout,
		workerIdle:  idle,
		logger:      logger.With("component", "pipeline"),
		workers:     make(map[string]chan func()),
	}
}

// HandleInbound processes one user message from the network. Duplicates
// are dropped before any write happens.
func (p *Pipeline) HandleInbound(ctx context.Context, msg *transport.InboundMessage) {
	if msg.ProviderMessageID != "" && p.seen.Seen(msg.ProviderMessageID) {
		p.logger.Debug("dropping duplicate message", "provider_message_id", msg.ProviderMessageID)
		return
	}

	convID := ConversationID(msg.From)
	if convID == "" {
		p.logger.Warn("dropping message without sender", "provider_message_id", msg.ProviderMessageID)
		return
	}

	p.enqueue(convID, func() {
		p.processInbound(ctx, convID, msg)
	})
}

// HandleReceipt applies a delivery receipt to the message it belongs to.
// Receipts for unknown messages are dropped; the network redelivers
// receipts and restarts lose in-flight ids, so this is routine.
func (p *Pipeline) HandleReceipt(ctx context.Context, receipt *transport.Receipt) {
	status := receiptToDelivery(receipt.Status)
	err := p.store.UpdateMessageStatusByProviderID(ctx, receipt.ProviderMessageID, status)
	if errors.Is(err, store.ErrNotFound) {
		p.logger.Debug("receipt for unknown message", "provider_message_id", receipt.ProviderMessageID)
		return
	}
	if err != nil {
		p.logger.Error("applying receipt failed",
			"provider_message_id", receipt.ProviderMessageID, "error", err)
	}
}

// SendAgentMessage delivers an agent's reply to a contact and records it.
// The write goes through the conversation worker like any other, so it
// cannot interleave with bot processing for the same contact.
func (p *Pipeline) SendAgentMessage(ctx context.Context, to, text string) (*store.Message, error) {
	convID := ConversationID(to)
	if convID == "" {
		return nil, fmt.Errorf("empty recipient")
	}

	type result struct {
		msg *store.Message
		err error
	}
	done := make(chan result, 1)

	p.enqueue(convID, func() {
		msg, err := p.sendAndRecordAgent(ctx, convID, to, text)
		done <- result{msg, err}
	})

	select {
	case res := <-done:
		return res.msg, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pipeline) sendAndRecordAgent(ctx context.Context, convID, to, text string) (*store.Message, error) {
	providerID, err := p.sendWithRetry(ctx, to, text)
	if err != nil {
		return nil, fmt.Errorf("sending message: %w", err)
	}

	conv, err := p.store.UpsertConversation(ctx, convID, &store.ConversationPatch{
		Phone: store.String(to),
	})
	if err != nil {
		return nil, fmt.Errorf("upserting conversation: %w", err)
	}

	msg := &store.Message{
		ID:                uuid.New().String(),
		ConversationID:    conv.ID,
		Text:              text,
		Sender:            store.SenderAgent,
		Timestamp:         time.Now().UTC(),
		Status:            store.DeliverySent,
		ProviderMessageID: providerID,
	}
	if err := p.store.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("recording message: %w", err)
	}

	p.broadcaster.Publish(msg)
	return msg, nil
}

func (p *Pipeline) processInbound(ctx context.Context, convID string, msg *transport.InboundMessage) {
	patch := &store.ConversationPatch{
		Phone:           store.String(msg.From),
		LastMessage:     store.String(msg.Text),
		LastMessageAt:   store.Time(msg.Timestamp),
		IncrementUnread: true,
	}
	if msg.DisplayName != "" {
		patch.Name = store.String(msg.DisplayName)
	}

	conv, err := p.store.UpsertConversation(ctx, convID, patch)
	if err != nil {
		p.logger.Error("upserting conversation failed", "conversation_id", convID, "error", err)
		return
	}

	userMsg := &store.Message{
		ID:                uuid.New().String(),
		ConversationID:    conv.ID,
		Text:              msg.Text,
		Sender:            store.SenderUser,
		Timestamp:         msg.Timestamp,
		Status:            store.DeliveryDelivered,
		ProviderMessageID: msg.ProviderMessageID,
	}
	if err := p.store.AppendMessage(ctx, userMsg); err != nil {
		p.logger.Error("recording inbound message failed", "conversation_id", convID, "error", err)
		return
	}
	p.broadcaster.Publish(userMsg)

	if !p.botShouldReply(conv) {
		return
	}

	st := &bot.State{
		CurrentNodeID:    conv.CurrentNodeID,
		CollectedAnswers: conv.CollectedAnswers,
	}
	res := p.engine.Evaluate(st, msg.Text)

	statePatch := &store.ConversationPatch{
		CurrentNodeID:    store.String(res.State.CurrentNodeID),
		CollectedAnswers: res.State.CollectedAnswers,
	}
	if res.Department != "" {
		statePatch.Department = store.String(res.Department)
	}
	if _, err := p.store.UpsertConversation(ctx, convID, statePatch); err != nil {
		p.logger.Error("persisting dialogue state failed", "conversation_id", convID, "error", err)
		return
	}

	for _, reply := range res.Replies {
		p.sendBotReply(ctx, conv.ID, msg.From, reply)
	}
}

// botShouldReply: the dialogue runs until an agent takes the conversation
// over or it is archived or blocked.
func (p *Pipeline) botShouldReply(conv *store.Conversation) bool {
	return conv.Status == store.StatusActive && conv.AssignedAgentID == ""
}

func (p *Pipeline) sendBotReply(ctx context.Context, convID, to, text string) {
	providerID, err := p.sendWithRetry(ctx, to, text)

	msg := &store.Message{
		ID:                uuid.New().String(),
		ConversationID:    convID,
		Text:              text,
		Sender:            store.SenderBot,
		Timestamp:         time.Now().UTC(),
		Status:            store.DeliverySent,
		ProviderMessageID: providerID,
	}
	if err != nil {
		// Recorded as failed so the desk sees the gap in the dialogue.
		p.logger.Error("sending bot reply failed", "conversation_id", convID, "error", err)
		msg.Status = store.DeliveryFailed
	}

	if err := p.store.AppendMessage(ctx, msg); err != nil {
		p.logger.Error("recording bot reply failed", "conversation_id", convID, "error", err)
		return
	}
	p.broadcaster.Publish(msg)
}

func (p *Pipeline) sendWithRetry(ctx context.Context, to, text string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= sendAttempts; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, p.sendTimeout)
		providerID, err := p.sender.Send(sendCtx, to, text)
		cancel()
		if err == nil {
			return providerID, nil
		}
		lastErr = err
		// No connection means retrying immediately cannot help.
		if errors.Is(err, transport.ErrUnavailable) || ctx.Err() != nil {
			break
		}
		p.logger.Warn("send attempt failed", "to", to, "attempt", attempt, "error", err)
	}
	return "", lastErr
}

// enqueue hands a task to the conversation's worker, starting one if
// needed. After Close the task is dropped. The lookup and the send
// happen under the same read lock, so neither Close nor an idle reap
// can retire the channel with a send in flight; if the worker vanished
// between iterations the loop starts a fresh one.
func (p *Pipeline) enqueue(convID string, task func()) {
	for {
		p.mu.RLock()
		if p.closed {
			p.mu.RUnlock()
			return
		}
		if ch, ok := p.workers[convID]; ok {
			ch <- task
			p.mu.RUnlock()
			return
		}
		p.mu.RUnlock()

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return
		}
		if _, ok := p.workers[convID]; !ok {
			ch := make(chan func(), workerQueueSize)
			p.workers[convID] = ch
			p.wg.Add(1)
			go p.runWorker(convID, ch)
		}
		p.mu.Unlock()
	}
}

// runWorker drains the conversation's queue. A worker that sits idle for
// workerIdle retires itself: it is removed from the map under the write
// lock while the queue is confirmed empty, so no queued task can be
// stranded. The next message for the contact starts a fresh worker.
func (p *Pipeline) runWorker(convID string, ch chan func()) {
	defer p.wg.Done()

	idle := time.NewTimer(p.workerIdle)
	defer idle.Stop()

	for {
		select {
		case task, ok := <-ch:
			if !ok {
				p.logger.Debug("conversation worker stopped", "conversation_id", convID)
				return
			}
			task()
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(p.workerIdle)
		case <-idle.C:
			// A sender can hold the read lock while blocked on a
			// full queue; back off to draining instead of waiting.
			if !p.mu.TryLock() {
				idle.Reset(p.workerIdle)
				continue
			}
			if len(ch) > 0 {
				p.mu.Unlock()
				idle.Reset(p.workerIdle)
				continue
			}
			if p.closed {
				// Close owns shutdown; keep draining until it
				// closes the channel.
				p.mu.Unlock()
				idle.Reset(p.workerIdle)
				continue
			}
			delete(p.workers, convID)
			p.mu.Unlock()
			p.logger.Debug("idle conversation worker reaped", "conversation_id", convID)
			return
		}
	}
}

// workerCount reports live conversation workers.
func (p *Pipeline) workerCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.workers)
}

// Close stops all conversation workers after they drain their queues.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, ch := range p.workers {
		close(ch)
	}
	p.mu.Unlock()

	p.wg.Wait()
}

// ConversationID derives the stable conversation key from a network
// sender id. Bridge ids carry a server suffix ("9715550001@c.us") that is
// stripped so both transports land on the same conversation.
func ConversationID(from string) string {
	id := strings.TrimSpace(from)
	if at := strings.IndexByte(id, '@'); at >= 0 {
		id = id[:at]
	}
	return strings.TrimPrefix(id, "+")
}

func receiptToDelivery(status string) string {
	switch status {
	case transport.ReceiptDelivered:
		return store.DeliveryDelivered
	case transport.ReceiptRead:
		return store.DeliveryRead
	case transport.ReceiptFailed:
		return store.DeliveryFailed
	default:
		return store.DeliverySent
	}
}
