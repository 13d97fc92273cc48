// Package pipeline is the write path between the messaging network and
// the desk.
//
// Inbound messages are deduplicated by provider id, persisted, run
// through the dialogue engine, and the bot's replies are sent and
// recorded. Delivery receipts flip message statuses by provider id.
// Agent sends go out through the same machinery. Every write for one
// conversation runs on that conversation's single worker goroutine, so
// dialogue state advances strictly in arrival order while separate
// conversations proceed in parallel. Persisted messages are fanned out
// to desk clients through the Broadcaster.
package pipeline
