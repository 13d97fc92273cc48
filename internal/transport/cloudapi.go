// ABOUTME: Cloud API transport speaking the hosted messaging-network HTTP API
// ABOUTME: Sends via the graph endpoint, receives messages and receipts through a verified webhook

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const defaultGraphBaseURL = "https://graph.facebook.com/v19.0"

// CloudConfig configures the hosted-API transport.
type CloudConfig struct {
	// AccessToken authenticates outbound API calls.
	AccessToken string
	// PhoneNumberID is the hosted number's API identifier.
	PhoneNumberID string
	// PhoneNumber is the human-readable number reported on status.
	PhoneNumber string
	// VerifyToken must match the webhook verification handshake.
	VerifyToken string
	// BaseURL overrides the graph endpoint, mainly for tests.
	BaseURL string
}

// CloudTransport talks to the hosted messaging API. There is no pairing
// step: credentials are provisioned ahead of time, so Connect reports
// ready as soon as the configuration checks out. Inbound traffic arrives
// on the webhook handler, which the gateway mounts on its HTTP server.
type CloudTransport struct {
	cfg    CloudConfig
	client *http.Client
	logger *slog.Logger

	mu        sync.Mutex
	connected bool

	events chan Event
}

// NewCloudTransport creates the transport. Pass nil logger for default.
func NewCloudTransport(cfg CloudConfig, logger *slog.Logger) *CloudTransport {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGraphBaseURL
	}
	return &CloudTransport{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger.With("component", "transport", "kind", "cloud"),
		events: make(chan Event, 64),
	}
}

func (t *CloudTransport) Connect(ctx context.Context) error {
	if t.cfg.AccessToken == "" || t.cfg.PhoneNumberID == "" {
		return fmt.Errorf("cloud transport: access token and phone number id are required")
	}

	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()

	t.logger.Info("cloud transport ready", "phone_number_id", t.cfg.PhoneNumberID)
	t.events <- Event{Type: EventReady, PhoneNumber: t.cfg.PhoneNumber}
	return nil
}

func (t *CloudTransport) Disconnect() error {
	t.mu.Lock()
	was := t.connected
	t.connected = false
	t.mu.Unlock()

	if was {
		t.events <- Event{Type: EventDisconnected, Reason: "disconnect requested"}
	}
	return nil
}

func (t *CloudTransport) Events() <-chan Event {
	return t.events
}

// Send posts one text message to the graph messages endpoint and returns
// the network's message id.
func (t *CloudTransport) Send(ctx context.Context, to, text string) (string, error) {
	t.mu.Lock()
	connected := t.connected
	t.mu.Unlock()
	if !connected {
		return "", ErrUnavailable
	}

	body, err := json.Marshal(map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "text",
		"text":              map[string]any{"body": text},
	})
	if err != nil {
		return "", fmt.Errorf("encoding message: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", t.cfg.BaseURL, t.cfg.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.cfg.AccessToken)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("posting message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("graph api error: %s: %s", resp.Status, respBody)
	}

	var out struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding send response: %w", err)
	}
	if len(out.Messages) == 0 {
		return "", fmt.Errorf("graph api returned no message id")
	}
	return out.Messages[0].ID, nil
}

// webhookPayload is the subset of the graph webhook envelope we consume.
type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []struct {
					From      string `json:"from"`
					ID        string `json:"id"`
					Timestamp string `json:"timestamp"`
					Type      string `json:"type"`
					Text      struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
				Statuses []struct {
					ID     string `json:"id"`
					Status string `json:"status"`
				} `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// WebhookHandler serves the graph webhook: GET performs the verification
// handshake, POST delivers message and receipt notifications. The gateway
// mounts this under /webhook.
func (t *CloudTransport) WebhookHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", t.handleVerify)
	mux.HandleFunc("POST /", t.handleNotification)
	return mux
}

func (t *CloudTransport) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == t.cfg.VerifyToken {
		t.logger.Info("webhook verified")
		fmt.Fprint(w, q.Get("hub.challenge"))
		return
	}
	t.logger.Warn("webhook verification rejected", "mode", q.Get("hub.mode"))
	http.Error(w, "verification failed", http.StatusForbidden)
}

func (t *CloudTransport) handleNotification(w http.ResponseWriter, r *http.Request) {
	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		t.logger.Warn("webhook payload rejected", "error", err)
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			value := change.Value

			names := make(map[string]string, len(value.Contacts))
			for _, c := range value.Contacts {
				names[c.WaID] = c.Profile.Name
			}

			for _, m := range value.Messages {
				if m.Type != "" && m.Type != "text" {
					t.logger.Debug("ignoring non-text message", "type", m.Type, "id", m.ID)
					continue
				}
				t.events <- Event{Type: EventMessage, Message: &InboundMessage{
					From:              m.From,
					DisplayName:       names[m.From],
					Text:              m.Text.Body,
					ProviderMessageID: m.ID,
					Timestamp:         parseUnixSeconds(m.Timestamp),
				}}
			}

			for _, s := range value.Statuses {
				t.events <- Event{Type: EventReceipt, Receipt: &Receipt{
					ProviderMessageID: s.ID,
					Status:            normalizeStatus(s.Status),
				}}
			}
		}
	}

	w.WriteHeader(http.StatusOK)
}

func parseUnixSeconds(s string) time.Time {
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Now().UTC()
	}
	return time.Unix(secs, 0).UTC()
}

func normalizeStatus(s string) string {
	switch s {
	case "sent", "delivered", "read", "failed":
		return s
	default:
		return ReceiptSent
	}
}
