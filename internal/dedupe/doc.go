// Package dedupe suppresses redelivered webhook events by provider
// message id, with TTL expiry and a bounded size.
package dedupe
