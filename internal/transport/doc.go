// Package transport connects the desk to the messaging network.
//
// Two implementations exist behind one Transport interface: CloudTransport
// speaks the hosted graph HTTP API (no pairing; inbound traffic arrives on
// a verified webhook), and BridgeTransport drives a sidecar process that
// owns a real device link and pushes QR pairing, message and ack callbacks
// to us. Both emit a single Event stream that the gateway dispatcher fans
// out to the session manager and the inbound pipeline.
package transport
