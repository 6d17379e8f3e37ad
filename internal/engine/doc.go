// Package engine implements the crank pipeline.
//
// A Processor takes one message through the relay's unit of work:
//
//  1. Look up the message's cache record. An executed record is a replay
//     and returns the cached outcome without touching the network.
//  2. Get the message ordered: ask the sequencer for an existing tx,
//     otherwise sign and submit a new interaction.
//  3. Persist the tx as the process's latest and mark the record
//     sequenced.
//  4. Select a compute node, fetch the message's outbox, and mark the
//     record executed.
//
// A Cranker feeds every outbox entry back through the Processor until the
// cascade is exhausted, producing a CrankResult tree.
//
// CRITICAL PATTERNS:
//
// Idempotency:
// Every step is keyed by the message id. Re-delivering a message resumes
// from the furthest step its record reached and never sequences it twice.
// Terminal records (executed, failed) are frozen.
//
// Bounded cascades:
// The Cranker is an explicit worklist processed in waves, not recursion.
// A per-crank visited set stops cycles, and depth and node limits stop
// runaway fan-out. One failing branch never aborts its siblings.
//
// Classification:
// Leaf clients return their own sentinel errors. The Processor classifies
// them into a Kind at its boundary, and Kind.Retriable drives retry.
package engine
