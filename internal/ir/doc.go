// Package ir defines the data model shared by every relay component:
// messages, sequenced transactions, cache records and the signed
// interactions submitted to a sequencer.
//
// ir imports nothing internal. All other internal packages import ir.
//
// Identity is content-addressed. A message id is the SHA-256 of the
// canonical JSON form of its content with a domain prefix, so the same
// logical content always yields the same id and an outbox entry never
// inherits identity from the message that produced it.
//
// Canonical JSON follows RFC 8785: keys sorted by UTF-16 code units,
// NFC-normalized strings, minimal escaping, no floats.
package ir
