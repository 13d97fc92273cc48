// ABOUTME: HTTP surface for desk clients: status, conversations, messages, send and live events
// ABOUTME: Also mounts the transport's inbound webhook and the health endpoint

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/hottrack/whatsdesk/internal/store"
	"github.com/hottrack/whatsdesk/internal/transport"
)

func (g *Gateway) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Get("/health", g.handleHealth)
	r.Get("/status", g.handleStatus)
	r.Post("/restart", g.handleRestart)

	r.Route("/api", func(r chi.Router) {
		r.Get("/conversations", g.handleListConversations)
		r.Get("/messages/{conversationID}", g.handleListMessages)
		r.Post("/send", g.handleSend)
		r.Post("/conversations/{conversationID}/read", g.handleMarkRead)
		r.Get("/events", g.handleEvents)
	})

	// Network callbacks arrive at exactly /webhook. Stripping the prefix
	// would leave an empty path, which a ServeMux redirects instead of
	// serving, so the path is rewritten to stay rooted at "/".
	r.HandleFunc("/webhook", g.handleWebhook)
	r.HandleFunc("/webhook/*", g.handleWebhook)

	return r
}

func (g *Gateway) handleWebhook(w http.ResponseWriter, r *http.Request) {
	fwd := r.Clone(r.Context())
	fwd.URL.Path = strings.TrimPrefix(r.URL.Path, "/webhook")
	if fwd.URL.Path == "" {
		fwd.URL.Path = "/"
	}
	g.webhook.ServeHTTP(w, fwd)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (g *Gateway) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, g.session.Status())
}

func (g *Gateway) handleRestart(w http.ResponseWriter, r *http.Request) {
	g.logger.Info("session restart requested")
	g.session.Restart(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := g.store.ListConversations(r.Context())
	if err != nil {
		g.logger.Error("listing conversations failed", "error", err)
		writeError(w, http.StatusInternalServerError, "listing conversations failed")
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

func (g *Gateway) handleListMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	msgs, err := g.store.ListMessages(r.Context(), conversationID, limit)
	if err != nil {
		g.logger.Error("listing messages failed", "conversation_id", conversationID, "error", err)
		writeError(w, http.StatusInternalServerError, "listing messages failed")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (g *Gateway) handleSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		To      string `json:"to"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.To == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "to and message are required")
		return
	}

	msg, err := g.pipeline.SendAgentMessage(r.Context(), req.To, req.Message)
	if err != nil {
		if errors.Is(err, transport.ErrUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "not connected to the messaging network")
			return
		}
		g.logger.Error("agent send failed", "to", req.To, "error", err)
		writeError(w, http.StatusInternalServerError, "send failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"messageId": msg.ID,
	})
}

func (g *Gateway) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if err := g.store.MarkRead(r.Context(), conversationID); err != nil {
		g.logger.Error("marking read failed", "conversation_id", conversationID, "error", err)
		writeError(w, http.StatusInternalServerError, "marking read failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleEvents streams persisted messages as server-sent events. With a
// conversation query parameter only that conversation is followed,
// otherwise the whole desk.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	var (
		ch  <-chan *store.Message
		ctx = r.Context()
	)
	if convID := r.URL.Query().Get("conversation"); convID != "" {
		ch, _ = g.broadcaster.Subscribe(ctx, convID)
	} else {
		ch, _ = g.broadcaster.SubscribeAll(ctx)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	// Keepalive comments stop intermediaries from dropping idle streams.
	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				g.logger.Error("encoding event failed", "message_id", msg.ID, "error", err)
				continue
			}
			fmt.Fprintf(w, "event: new_message\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}
