// Package chatsync provides an offline-resilient message delivery core for chat clients.
//
// Typical flow:
//  1. Back a Store with a durable KeyValue implementation (see the sqlitekv package).
//  2. Submit messages; each renders optimistically and is queued durably under a correlation ID.
//  3. Run a Processor to sweep the outbound queue, retrying sends with bounded backoff until
//     the remote gateway confirms them; confirmed snapshots then supersede optimistic entries.
//
// Conversations reopen from a TTL-bounded local snapshot (Cache) instead of waiting on the
// network, and a Migrator versions everything the package persists.
package chatsync
