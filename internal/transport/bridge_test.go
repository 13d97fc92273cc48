// ABOUTME: Tests for the sidecar bridge transport
// ABOUTME: Session control calls, send plumbing and callback event translation

package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBridge(baseURL string) *BridgeTransport {
	return NewBridgeTransport(BridgeConfig{
		BaseURL: baseURL,
		Session: "desk",
		Token:   "sidecar-token",
	}, nil)
}

func postCallback(t *testing.T, tr *BridgeTransport, body string) {
	t.Helper()
	rec := httptest.NewRecorder()
	tr.CallbackHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestBridgeConnect_StartsSession(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := newTestBridge(srv.URL)
	require.NoError(t, tr.Connect(context.Background()))
	assert.Equal(t, "/api/desk/start-session", gotPath)
	assert.Equal(t, "Bearer sidecar-token", gotAuth)
}

func TestBridgeConnect_RequiresConfig(t *testing.T) {
	tr := NewBridgeTransport(BridgeConfig{}, nil)
	assert.Error(t, tr.Connect(context.Background()))
}

func TestBridgePairingSequence(t *testing.T) {
	tr := newTestBridge("http://unused")

	postCallback(t, tr, `{"event":"qrcode","qrcode":"QR-DATA-1"}`)
	ev := drainEvent(t, tr)
	require.Equal(t, EventPairingMaterial, ev.Type)
	assert.Equal(t, "QR-DATA-1", ev.PairingMaterial)

	postCallback(t, tr, `{"event":"qrscanned"}`)
	assert.Equal(t, EventPairingConsumed, drainEvent(t, tr).Type)

	postCallback(t, tr, `{"event":"ready","phoneNumber":"+971501234567"}`)
	ev = drainEvent(t, tr)
	require.Equal(t, EventReady, ev.Type)
	assert.Equal(t, "+971501234567", ev.PhoneNumber)
}

func TestBridgeSend(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "send-message") {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			json.NewEncoder(w).Encode(map[string]string{"id": "true_971@c.us_AAA"})
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := newTestBridge(srv.URL)
	postCallback(t, tr, `{"event":"ready","phoneNumber":"+971501234567"}`)
	drainEvent(t, tr)

	id, err := tr.Send(context.Background(), "971501234567", "مرحبا")
	require.NoError(t, err)
	assert.Equal(t, "true_971@c.us_AAA", id)
	assert.Equal(t, "971501234567", gotBody["phone"])
	assert.Equal(t, "مرحبا", gotBody["message"])
}

func TestBridgeSend_UnavailableUntilReady(t *testing.T) {
	tr := newTestBridge("http://unused")
	_, err := tr.Send(context.Background(), "971501234567", "hi")
	assert.ErrorIs(t, err, ErrUnavailable)

	postCallback(t, tr, `{"event":"disconnected","reason":"phone offline"}`)
	ev := drainEvent(t, tr)
	assert.Equal(t, EventDisconnected, ev.Type)
	assert.Equal(t, "phone offline", ev.Reason)

	_, err = tr.Send(context.Background(), "971501234567", "hi")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestBridgeCallback_InboundMessage(t *testing.T) {
	tr := newTestBridge("http://unused")

	postCallback(t, tr, `{
		"event":"message",
		"id":"msg-id-1",
		"from":"971501234567",
		"body":"أريد حجز سيارة",
		"notifyName":"Omar",
		"timestamp":1735689600000
	}`)

	ev := drainEvent(t, tr)
	require.Equal(t, EventMessage, ev.Type)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "971501234567", ev.Message.From)
	assert.Equal(t, "Omar", ev.Message.DisplayName)
	assert.Equal(t, "أريد حجز سيارة", ev.Message.Text)
	assert.Equal(t, "msg-id-1", ev.Message.ProviderMessageID)
	assert.Equal(t, time.UnixMilli(1735689600000).UTC(), ev.Message.Timestamp)
}

func TestBridgeCallback_SkipsOwnMessages(t *testing.T) {
	tr := newTestBridge("http://unused")
	postCallback(t, tr, `{"event":"message","id":"m1","from":"me","body":"x","fromMe":true}`)

	select {
	case ev := <-tr.Events():
		t.Fatalf("unexpected event %v", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBridgeCallback_AckMapping(t *testing.T) {
	tr := newTestBridge("http://unused")

	cases := []struct {
		ack  int
		want string
	}{
		{1, ReceiptSent},
		{2, ReceiptDelivered},
		{3, ReceiptRead},
		{4, ReceiptRead},
		{-1, ReceiptFailed},
	}
	for _, tc := range cases {
		postCallback(t, tr, `{"event":"ack","id":"m1","ack":`+jsonInt(tc.ack)+`}`)
		ev := drainEvent(t, tr)
		require.Equal(t, EventReceipt, ev.Type)
		assert.Equal(t, tc.want, ev.Receipt.Status, "ack %d", tc.ack)
	}
}

func jsonInt(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestBridgeCallback_UnknownEventIgnored(t *testing.T) {
	tr := newTestBridge("http://unused")
	postCallback(t, tr, `{"event":"battery","reason":""}`)

	select {
	case ev := <-tr.Events():
		t.Fatalf("unexpected event %v", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}
