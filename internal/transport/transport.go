// ABOUTME: Transport abstraction over the messaging network connection
// ABOUTME: Defines the event stream and send contract both concrete transports implement

package transport

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned by Send when the transport has no usable
// connection to the messaging network.
var ErrUnavailable = errors.New("transport unavailable")

// EventType discriminates the events a transport emits.
type EventType string

const (
	// EventPairingMaterial carries fresh pairing material (a QR payload)
	// for an operator to scan.
	EventPairingMaterial EventType = "pairing_material"
	// EventPairingConsumed signals the operator scanned the material and
	// the network is authenticating the link.
	EventPairingConsumed EventType = "pairing_consumed"
	// EventReady signals the connection is established and messages flow.
	EventReady EventType = "ready"
	// EventDisconnected signals the connection dropped but may come back.
	EventDisconnected EventType = "disconnected"
	// EventFailed signals an unrecoverable transport error.
	EventFailed EventType = "failed"
	// EventMessage carries one inbound user message.
	EventMessage EventType = "message"
	// EventReceipt carries a delivery receipt for a previously sent
	// message, keyed by the network's message id.
	EventReceipt EventType = "receipt"
)

// Delivery states carried on receipts.
const (
	ReceiptSent      = "sent"
	ReceiptDelivered = "delivered"
	ReceiptRead      = "read"
	ReceiptFailed    = "failed"
)

// InboundMessage is one user message as the network delivered it.
type InboundMessage struct {
	From              string
	DisplayName       string
	Text              string
	ProviderMessageID string
	Timestamp         time.Time
}

// Receipt reports a delivery state change for an outbound message.
type Receipt struct {
	ProviderMessageID string
	Status            string
}

// Event is one item on a transport's event stream. Exactly the fields for
// its Type are set.
type Event struct {
	Type            EventType
	PairingMaterial string
	PhoneNumber     string
	Reason          string
	Message         *InboundMessage
	Receipt         *Receipt
}

// Transport is a connection to the messaging network. Implementations
// emit lifecycle and traffic events on Events; the channel is closed only
// when the transport is torn down for good.
type Transport interface {
	// Connect establishes (or begins establishing) the network link.
	// Lifecycle progress is reported via Events, not the return value.
	Connect(ctx context.Context) error

	// Disconnect tears the link down. Safe to call when not connected.
	Disconnect() error

	// Send delivers one text message to a phone number and returns the
	// network's message id for receipt correlation. Returns
	// ErrUnavailable when no connection is up.
	Send(ctx context.Context, to, text string) (string, error)

	// Events returns the stream of transport events. The gateway's
	// dispatcher is the single consumer.
	Events() <-chan Event
}
