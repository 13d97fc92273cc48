// Package store provides conversation and message persistence.
//
// # Data Models
//
//   - Conversation: one record per remote phone number, carrying the
//     inbox summary (last message, unread count), routing fields
//     (department, assigned agent) and the bot dialogue state
//     (current node, collected answers)
//   - Message: append-only entries per conversation; only the delivery
//     status of outbound messages ever mutates after insert
//
// # Implementations
//
// SQLiteStore is the durable implementation (WAL mode, schema created on
// open). MemoryStore keeps everything in maps and is a valid production
// configuration: durability only matters for surviving process restarts,
// not for correctness.
//
// UpsertConversation merges only the fields present in the patch, so
// concurrent upserts to the same conversation never erase each other's
// fields. AppendMessage updates the conversation summary in the same
// operation. The inbound pipeline upserts the conversation before
// appending, so AppendMessage returns ErrNotFound on a missing
// conversation rather than creating one.
package store
