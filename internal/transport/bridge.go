// ABOUTME: Bridge transport speaking to a wppconnect-style sidecar over HTTP
// ABOUTME: The sidecar owns the device link; QR pairing and traffic flow back through a callback endpoint

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// BridgeConfig configures the sidecar transport.
type BridgeConfig struct {
	// BaseURL is the sidecar's API root, e.g. http://localhost:21465.
	BaseURL string
	// Session names the device session on the sidecar.
	Session string
	// Token authenticates calls to the sidecar.
	Token string
}

// BridgeTransport drives a sidecar process that holds the actual device
// link. Pairing runs the full QR dance: the sidecar pushes qr, scan and
// lifecycle callbacks to us, and we relay them as transport events.
type BridgeTransport struct {
	cfg    BridgeConfig
	client *http.Client
	logger *slog.Logger

	mu        sync.Mutex
	connected bool

	events chan Event
}

// NewBridgeTransport creates the transport. Pass nil logger for default.
func NewBridgeTransport(cfg BridgeConfig, logger *slog.Logger) *BridgeTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &BridgeTransport{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger.With("component", "transport", "kind", "bridge"),
		events: make(chan Event, 64),
	}
}

// Connect asks the sidecar to start (or resume) the device session. The
// sidecar answers with lifecycle callbacks; Connect only fails when the
// sidecar itself is unreachable.
func (t *BridgeTransport) Connect(ctx context.Context) error {
	if t.cfg.BaseURL == "" || t.cfg.Session == "" {
		return fmt.Errorf("bridge transport: base url and session are required")
	}
	return t.post(ctx, "start-session", nil)
}

func (t *BridgeTransport) Disconnect() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()

	if err := t.post(ctx, "logout-session", nil); err != nil {
		t.logger.Warn("sidecar logout failed", "error", err)
		return err
	}
	return nil
}

func (t *BridgeTransport) Events() <-chan Event {
	return t.events
}

// Send delivers one text message through the sidecar.
func (t *BridgeTransport) Send(ctx context.Context, to, text string) (string, error) {
	t.mu.Lock()
	connected := t.connected
	t.mu.Unlock()
	if !connected {
		return "", ErrUnavailable
	}

	var out struct {
		ID string `json:"id"`
	}
	err := t.postDecode(ctx, "send-message", map[string]any{
		"phone":   to,
		"message": text,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("sidecar returned no message id")
	}
	return out.ID, nil
}

// callbackPayload is one event pushed by the sidecar.
type callbackPayload struct {
	Event       string `json:"event"`
	QRCode      string `json:"qrcode"`
	PhoneNumber string `json:"phoneNumber"`
	Reason      string `json:"reason"`

	// message fields
	ID          string `json:"id"`
	From        string `json:"from"`
	Body        string `json:"body"`
	NotifyName  string `json:"notifyName"`
	TimestampMS int64  `json:"timestamp"`
	FromMe      bool   `json:"fromMe"`

	// ack fields
	Ack int `json:"ack"`
}

// CallbackHandler receives the sidecar's event pushes. The gateway mounts
// this under /webhook when the bridge transport is active.
func (t *BridgeTransport) CallbackHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var payload callbackPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.logger.Warn("callback payload rejected", "error", err)
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		t.dispatch(payload)
		w.WriteHeader(http.StatusOK)
	})
}

func (t *BridgeTransport) dispatch(p callbackPayload) {
	switch p.Event {
	case "qrcode":
		t.events <- Event{Type: EventPairingMaterial, PairingMaterial: p.QRCode}
	case "qrscanned":
		t.events <- Event{Type: EventPairingConsumed}
	case "ready":
		t.mu.Lock()
		t.connected = true
		t.mu.Unlock()
		t.events <- Event{Type: EventReady, PhoneNumber: p.PhoneNumber}
	case "disconnected":
		t.mu.Lock()
		t.connected = false
		t.mu.Unlock()
		t.events <- Event{Type: EventDisconnected, Reason: p.Reason}
	case "error":
		t.events <- Event{Type: EventFailed, Reason: p.Reason}
	case "message":
		if p.FromMe {
			return
		}
		t.events <- Event{Type: EventMessage, Message: &InboundMessage{
			From:              p.From,
			DisplayName:       p.NotifyName,
			Text:              p.Body,
			ProviderMessageID: p.ID,
			Timestamp:         millisToTime(p.TimestampMS),
		}}
	case "ack":
		t.events <- Event{Type: EventReceipt, Receipt: &Receipt{
			ProviderMessageID: p.ID,
			Status:            ackStatus(p.Ack),
		}}
	default:
		t.logger.Debug("ignoring sidecar event", "event", p.Event)
	}
}

func (t *BridgeTransport) post(ctx context.Context, action string, body any) error {
	return t.postDecode(ctx, action, body, nil)
}

func (t *BridgeTransport) postDecode(ctx context.Context, action string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	url := fmt.Sprintf("%s/api/%s/%s", t.cfg.BaseURL, t.cfg.Session, action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+t.cfg.Token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling sidecar %s: %w", action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("sidecar %s: %s: %s", action, resp.Status, respBody)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ackStatus maps the sidecar's numeric ack levels to receipt states.
func ackStatus(ack int) string {
	switch {
	case ack >= 3:
		return ReceiptRead
	case ack == 2:
		return ReceiptDelivered
	case ack == 1:
		return ReceiptSent
	default:
		return ReceiptFailed
	}
}

func millisToTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(ms).UTC()
}
