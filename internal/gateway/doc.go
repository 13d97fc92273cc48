// Package gateway assembles and runs the desk.
//
// New builds the component graph from configuration: the conversation
// store, the dialogue engine, the configured transport with its inbound
// webhook, the session lifecycle manager, the dedupe tracker and the
// message pipeline. Run starts the HTTP server and the dispatcher that
// fans transport events out to the session machine (lifecycle events) and
// the pipeline (messages and receipts), then blocks until shutdown.
//
// The HTTP surface exposes the session status and restart controls, the
// conversation and message reads, agent sends, mark-read, a server-sent
// events stream of persisted messages, and the transport webhook.
package gateway
