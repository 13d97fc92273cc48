// ABOUTME: Tests for the inbound pipeline
// ABOUTME: Dedupe, conversation writes, bot replies, receipts, agent sends and retry behavior

package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hottrack/whatsdesk/internal/bot"
	"github.com/hottrack/whatsdesk/internal/dedupe"
	"github.com/hottrack/whatsdesk/internal/store"
	"github.com/hottrack/whatsdesk/internal/transport"
)

type sendCall struct {
	to, text string
}

type fakeSender struct {
	mu       sync.Mutex
	calls    []sendCall
	failures int
	err      error
}

func (f *fakeSender) Send(_ context.Context, to, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sendCall{to, text})
	if f.failures != 0 {
		if f.failures > 0 {
			f.failures--
		}
		return "", f.err
	}
	return fmt.Sprintf("prov-%d", len(f.calls)), nil
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func pipelineTree() bot.Tree {
	tree := bot.Tree{
		"welcome": {
			Prompt: "Welcome! Pick:",
			Options: []bot.Option{
				{ID: "1", Label: "Book", NextNodeID: "details", ResponseText: "Great.", Department: "sales"},
			},
		},
		"details": {
			Prompt:        "Send details:",
			RequiresInput: true,
			NextNodeID:    "welcome",
		},
	}
	for id, node := range tree {
		node.ID = id
	}
	return tree
}

type fixture struct {
	p      *Pipeline
	store  store.Store
	sender *fakeSender
	bcast  *Broadcaster
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	sender := &fakeSender{}
	seen := dedupe.New(time.Minute, 100)
	bcast := NewBroadcaster(nil)
	p := New(st, bot.NewEngine(pipelineTree(), nil), sender, seen, bcast, Options{SendTimeout: time.Second}, nil)
	t.Cleanup(func() {
		p.Close()
		seen.Close()
		bcast.Close()
	})
	return &fixture{p: p, store: st, sender: sender, bcast: bcast}
}

func inbound(id, from, text string) *transport.InboundMessage {
	return &transport.InboundMessage{
		From:              from,
		DisplayName:       "Sara",
		Text:              text,
		ProviderMessageID: id,
		Timestamp:         time.Now().UTC(),
	}
}

func waitMessages(t *testing.T, st store.Store, convID string, n int) []*store.Message {
	t.Helper()
	var msgs []*store.Message
	require.Eventually(t, func() bool {
		var err error
		msgs, err = st.ListMessages(context.Background(), convID, 0)
		return err == nil && len(msgs) >= n
	}, 2*time.Second, 10*time.Millisecond)
	return msgs
}

func TestHandleInbound_FirstMessageGreets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.p.HandleInbound(ctx, inbound("m1", "971501234567@c.us", "hello"))

	msgs := waitMessages(t, f.store, "971501234567", 2)
	assert.Equal(t, store.SenderUser, msgs[0].Sender)
	assert.Equal(t, "hello", msgs[0].Text)
	assert.Equal(t, store.SenderBot, msgs[1].Sender)
	assert.Contains(t, msgs[1].Text, "Welcome! Pick:")
	assert.Equal(t, store.DeliverySent, msgs[1].Status)
	assert.NotEmpty(t, msgs[1].ProviderMessageID)

	conv, err := f.store.GetConversation(ctx, "971501234567")
	require.NoError(t, err)
	assert.Equal(t, "Sara", conv.Name)
	assert.Equal(t, "welcome", conv.CurrentNodeID)
	assert.Equal(t, 1, conv.UnreadCount)
	assert.Equal(t, "hello", conv.LastMessage)
}

func TestHandleInbound_DuplicateDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.p.HandleInbound(ctx, inbound("m1", "971501234567", "hello"))
	waitMessages(t, f.store, "971501234567", 2)

	f.p.HandleInbound(ctx, inbound("m1", "971501234567", "hello"))
	time.Sleep(50 * time.Millisecond)

	msgs, err := f.store.ListMessages(ctx, "971501234567", 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestHandleInbound_DialogueProgresses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.p.HandleInbound(ctx, inbound("m1", "971501234567", "hi"))
	waitMessages(t, f.store, "971501234567", 2)

	f.p.HandleInbound(ctx, inbound("m2", "971501234567", "1"))
	// user + greeting + user + response + prompt
	msgs := waitMessages(t, f.store, "971501234567", 5)
	assert.Equal(t, "Great.", msgs[3].Text)
	assert.Contains(t, msgs[4].Text, "Send details:")

	conv, err := f.store.GetConversation(ctx, "971501234567")
	require.NoError(t, err)
	assert.Equal(t, "details", conv.CurrentNodeID)
	assert.Equal(t, "sales", conv.Department)

	f.p.HandleInbound(ctx, inbound("m3", "971501234567", "Dubai, Dec 10, 2 people"))
	waitMessages(t, f.store, "971501234567", 7)

	conv, err = f.store.GetConversation(ctx, "971501234567")
	require.NoError(t, err)
	assert.Equal(t, "welcome", conv.CurrentNodeID)
	assert.Equal(t, "Dubai, Dec 10, 2 people", conv.CollectedAnswers["details"])
}

func TestHandleInbound_SendFailureRecordedAsFailed(t *testing.T) {
	f := newFixture(t)
	f.sender.failures = -1 // fail forever
	f.sender.err = fmt.Errorf("network down")

	f.p.HandleInbound(context.Background(), inbound("m1", "971501234567", "hello"))

	msgs := waitMessages(t, f.store, "971501234567", 2)
	assert.Equal(t, store.SenderBot, msgs[1].Sender)
	assert.Equal(t, store.DeliveryFailed, msgs[1].Status)
	assert.Empty(t, msgs[1].ProviderMessageID)
}

func TestHandleInbound_RetriesOnceOnTransientFailure(t *testing.T) {
	f := newFixture(t)
	f.sender.failures = 1
	f.sender.err = fmt.Errorf("timeout")

	f.p.HandleInbound(context.Background(), inbound("m1", "971501234567", "hello"))

	msgs := waitMessages(t, f.store, "971501234567", 2)
	assert.Equal(t, store.DeliverySent, msgs[1].Status)
	assert.Equal(t, 2, f.sender.callCount())
}

func TestHandleInbound_NoRetryWhenUnavailable(t *testing.T) {
	f := newFixture(t)
	f.sender.failures = -1
	f.sender.err = transport.ErrUnavailable

	f.p.HandleInbound(context.Background(), inbound("m1", "971501234567", "hello"))

	msgs := waitMessages(t, f.store, "971501234567", 2)
	assert.Equal(t, store.DeliveryFailed, msgs[1].Status)
	assert.Equal(t, 1, f.sender.callCount())
}

func TestHandleInbound_BotSilentWhenAgentAssigned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.UpsertConversation(ctx, "971501234567", &store.ConversationPatch{
		AssignedAgentID: store.String("agent-7"),
	})
	require.NoError(t, err)

	f.p.HandleInbound(ctx, inbound("m1", "971501234567", "hello"))
	msgs := waitMessages(t, f.store, "971501234567", 1)
	time.Sleep(50 * time.Millisecond)

	msgs, err = f.store.ListMessages(ctx, "971501234567", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, store.SenderUser, msgs[0].Sender)
	assert.Zero(t, f.sender.callCount())
}

func TestHandleReceipt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.p.HandleInbound(ctx, inbound("m1", "971501234567", "hello"))
	msgs := waitMessages(t, f.store, "971501234567", 2)
	providerID := msgs[1].ProviderMessageID

	f.p.HandleReceipt(ctx, &transport.Receipt{ProviderMessageID: providerID, Status: transport.ReceiptRead})

	msgs, err := f.store.ListMessages(ctx, "971501234567", 0)
	require.NoError(t, err)
	assert.Equal(t, store.DeliveryRead, msgs[1].Status)
}

func TestHandleReceipt_UnknownMessageIsNoOp(t *testing.T) {
	f := newFixture(t)
	f.p.HandleReceipt(context.Background(), &transport.Receipt{
		ProviderMessageID: "never-sent", Status: transport.ReceiptDelivered,
	})
}

func TestSendAgentMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg, err := f.p.SendAgentMessage(ctx, "+971501234567", "An agent here, how can I help?")
	require.NoError(t, err)
	assert.Equal(t, store.SenderAgent, msg.Sender)
	assert.Equal(t, "971501234567", msg.ConversationID)
	assert.NotEmpty(t, msg.ProviderMessageID)

	msgs, err := f.store.ListMessages(ctx, "971501234567", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, store.DeliverySent, msgs[0].Status)
}

func TestSendAgentMessage_TransportDown(t *testing.T) {
	f := newFixture(t)
	f.sender.failures = -1
	f.sender.err = transport.ErrUnavailable

	_, err := f.p.SendAgentMessage(context.Background(), "971501234567", "hi")
	require.ErrorIs(t, err, transport.ErrUnavailable)

	// Nothing recorded for a message that never left.
	msgs, lerr := f.store.ListMessages(context.Background(), "971501234567", 0)
	require.NoError(t, lerr)
	assert.Empty(t, msgs)
}

func TestBroadcasterReceivesPersistedMessages(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, _ := f.bcast.SubscribeAll(ctx)
	f.p.HandleInbound(ctx, inbound("m1", "971501234567", "hello"))

	var got []*store.Message
	for len(got) < 2 {
		select {
		case msg := <-ch:
			got = append(got, msg)
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d messages pushed", len(got))
		}
	}
	assert.Equal(t, store.SenderUser, got[0].Sender)
	assert.Equal(t, store.SenderBot, got[1].Sender)
}

func TestConversationID(t *testing.T) {
	assert.Equal(t, "971501234567", ConversationID("971501234567@c.us"))
	assert.Equal(t, "971501234567", ConversationID("+971501234567"))
	assert.Equal(t, "971501234567", ConversationID(" 971501234567 "))
	assert.Equal(t, "", ConversationID("  "))
}

func TestConcurrentConversationsProceedIndependently(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		from := fmt.Sprintf("97150%07d", i)
		f.p.HandleInbound(ctx, inbound(fmt.Sprintf("m-%d", i), from, "hello"))
	}
	for i := 0; i < 10; i++ {
		waitMessages(t, f.store, fmt.Sprintf("97150%07d", i), 2)
	}

	convs, err := f.store.ListConversations(ctx)
	require.NoError(t, err)
	assert.Len(t, convs, 10)
}

func TestIdleWorkersReaped(t *testing.T) {
	f := newFixture(t)
	f.p.workerIdle = 50 * time.Millisecond
	ctx := context.Background()

	f.p.HandleInbound(ctx, inbound("m1", "971501234567", "hello"))
	f.p.HandleInbound(ctx, inbound("m2", "971509999999", "hello"))
	waitMessages(t, f.store, "971501234567", 2)
	waitMessages(t, f.store, "971509999999", 2)
	assert.Equal(t, 2, f.p.workerCount())

	require.Eventually(t, func() bool {
		return f.p.workerCount() == 0
	}, 2*time.Second, 10*time.Millisecond)

	// A reaped conversation keeps working on the next message.
	f.p.HandleInbound(ctx, inbound("m3", "971501234567", "1"))
	waitMessages(t, f.store, "971501234567", 4)
}

func TestCloseIsIdempotentAndDrains(t *testing.T) {
	f := newFixture(t)
	f.p.HandleInbound(context.Background(), inbound("m1", "971501234567", "hello"))
	f.p.Close()
	f.p.Close()

	msgs, err := f.store.ListMessages(context.Background(), "971501234567", 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}
