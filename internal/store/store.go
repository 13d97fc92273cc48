// ABOUTME: Store interface and data types for whatsdesk persistence
// ABOUTME: Defines Conversation, Message structs and the Store interface for conversation state

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Conversation status values
const (
	StatusActive   = "active"
	StatusArchived = "archived"
	StatusBlocked  = "blocked"
)

// Message sender values
const (
	SenderUser  = "user"
	SenderAgent = "agent"
	SenderBot   = "bot"
)

// Message delivery status values
const (
	DeliverySent      = "sent"
	DeliveryDelivered = "delivered"
	DeliveryRead      = "read"
	DeliveryFailed    = "failed"
)

// Conversation is one remote contact's thread, keyed by normalized phone number.
type Conversation struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Phone             string    `json:"phone"`
	Avatar            string    `json:"avatar,omitempty"`
	LastMessage       string    `json:"lastMessage"`
	LastMessageAt     time.Time `json:"lastMessageAt"`
	UnreadCount       int       `json:"unreadCount"`
	Status            string    `json:"status"` // active, archived, blocked
	AssignedAgentID   string    `json:"assignedAgentId,omitempty"`
	AssignedAgentName string    `json:"assignedAgentName,omitempty"`
	Department        string    `json:"department,omitempty"`

	// Bot dialogue state. CurrentNodeID empty means the bot has never
	// greeted this contact.
	CurrentNodeID    string            `json:"currentNodeId,omitempty"`
	CollectedAnswers map[string]string `json:"collectedAnswers,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Message is a single entry in a conversation's append-only list.
// Inbound ids come from the transport; outbound ids are generated locally.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Text           string    `json:"text"`
	Sender         string    `json:"sender"` // user, agent, bot
	Timestamp      time.Time `json:"timestamp"`
	Status         string    `json:"status"` // sent, delivered, read, failed

	// ProviderMessageID is the transport-side id for outbound messages,
	// used to correlate delivery receipts.
	ProviderMessageID string `json:"providerMessageId,omitempty"`

	// MediaURL references an attachment, if any.
	MediaURL string `json:"mediaUrl,omitempty"`
}

// ConversationPatch carries partial updates for UpsertConversation.
// Nil fields are left untouched; set fields win last-writer per field.
type ConversationPatch struct {
	Name              *string
	Phone             *string
	Avatar            *string
	LastMessage       *string
	LastMessageAt     *time.Time
	Status            *string
	AssignedAgentID   *string
	AssignedAgentName *string
	Department        *string
	CurrentNodeID     *string
	CollectedAnswers  map[string]string

	// IncrementUnread adds one to the unread counter as part of the
	// same write.
	IncrementUnread bool
}

// Store defines the interface for conversation and message persistence.
// Implementations must serialize writes per conversation; operations on
// different conversations may run fully in parallel.
type Store interface {
	// UpsertConversation creates the conversation if absent (with
	// defaults unreadCount=0, status=active) or merges the patch into
	// the existing record. Returns the post-write state.
	UpsertConversation(ctx context.Context, id string, patch *ConversationPatch) (*Conversation, error)

	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// ListConversations returns summaries most-recent-first.
	ListConversations(ctx context.Context) ([]*Conversation, error)

	// MarkRead zeroes the unread counter. No-op if the conversation
	// does not exist.
	MarkRead(ctx context.Context, id string) error

	// AppendMessage appends to the conversation's ordered list and
	// updates the conversation's last-message summary in one operation.
	// The conversation must already exist.
	AppendMessage(ctx context.Context, msg *Message) error

	// ListMessages returns oldest-first order. If limit > 0 only the
	// most recent limit entries are returned, still oldest-first.
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)

	// UpdateMessageStatus sets the delivery status of one message.
	// Returns ErrNotFound if the message is untracked; callers treat
	// that as a logged no-op (receipts race with restarts).
	UpdateMessageStatus(ctx context.Context, conversationID, messageID, status string) error

	// UpdateMessageStatusByProviderID correlates a delivery receipt by
	// the transport-side message id.
	UpdateMessageStatusByProviderID(ctx context.Context, providerMessageID, status string) error

	// Close releases any resources held by the store
	Close() error
}

// applyPatch merges patch fields into conv. Shared by implementations.
func applyPatch(conv *Conversation, patch *ConversationPatch, now time.Time) {
	if patch == nil {
		return
	}
	if patch.Name != nil {
		conv.Name = *patch.Name
	}
	if patch.Phone != nil {
		conv.Phone = *patch.Phone
	}
	if patch.Avatar != nil {
		conv.Avatar = *patch.Avatar
	}
	if patch.LastMessage != nil {
		conv.LastMessage = *patch.LastMessage
	}
	if patch.LastMessageAt != nil {
		conv.LastMessageAt = *patch.LastMessageAt
	}
	if patch.Status != nil {
		conv.Status = *patch.Status
	}
	if patch.AssignedAgentID != nil {
		conv.AssignedAgentID = *patch.AssignedAgentID
	}
	if patch.AssignedAgentName != nil {
		conv.AssignedAgentName = *patch.AssignedAgentName
	}
	if patch.Department != nil {
		conv.Department = *patch.Department
	}
	if patch.CurrentNodeID != nil {
		conv.CurrentNodeID = *patch.CurrentNodeID
	}
	if patch.CollectedAnswers != nil {
		conv.CollectedAnswers = patch.CollectedAnswers
	}
	if patch.IncrementUnread {
		conv.UnreadCount++
	}
	conv.UpdatedAt = now
}

// String returns a pointer to s, for building patches.
func String(s string) *string { return &s }

// Time returns a pointer to t, for building patches.
func Time(t time.Time) *time.Time { return &t }
