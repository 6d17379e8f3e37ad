package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for algorithm migration.
const (
	DomainMessage     = "murelay/message/v1"
	DomainInteraction = "murelay/interaction/v1"
	DomainTx          = "murelay/tx/v1"
)

// hashWithDomain computes SHA256(domain || 0x00 || data) as hex.
// The null separator removes any ambiguity at the domain/data boundary.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ContentObject returns the fields of m that define its identity.
// The id itself is excluded, so a message and its re-delivery hash alike.
func ContentObject(m Message) IRObject {
	tags := make(IRArray, len(m.Tags))
	for i, t := range m.Tags {
		tags[i] = IRObject{"name": IRString(t.Name), "value": IRString(t.Value)}
	}
	obj := IRObject{
		"process_id": IRString(m.ProcessID),
		"data":       IRString(m.Data),
		"owner":      IRString(m.Owner),
		"tags":       tags,
	}
	if m.Timestamp != 0 {
		obj["timestamp"] = IRInt(m.Timestamp)
	}
	return obj
}

// MessageID computes the content-addressed id of m.
func MessageID(m Message) (string, error) {
	canonical, err := MarshalCanonical(ContentObject(m))
	if err != nil {
		return "", fmt.Errorf("MessageID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainMessage, canonical), nil
}

// WithID returns m with its id filled in. An existing id is kept.
func WithID(m Message) (Message, error) {
	if m.ID != "" {
		return m, nil
	}
	id, err := MessageID(m)
	if err != nil {
		return Message{}, err
	}
	m.ID = id
	return m, nil
}

// InteractionPayload returns the bytes a signer signs for m: the
// canonical content plus the message id.
func InteractionPayload(m Message) ([]byte, error) {
	obj := ContentObject(m)
	obj["id"] = IRString(m.ID)
	payload, err := MarshalCanonical(obj)
	if err != nil {
		return nil, fmt.Errorf("InteractionPayload: failed to marshal: %w", err)
	}
	return payload, nil
}

// InteractionID computes the id of a signed interaction from its payload
// and signature.
func InteractionID(payload []byte, signature string) string {
	data := make([]byte, 0, len(payload)+len(signature)+1)
	data = append(data, payload...)
	data = append(data, 0x00)
	data = append(data, signature...)
	return hashWithDomain(DomainInteraction, data)
}

// TxID computes the id a sequencer assigns to the nonce-th interaction
// on a process.
func TxID(processID, messageID string, nonce int64, hashChain string) (string, error) {
	obj := IRObject{
		"process_id": IRString(processID),
		"message_id": IRString(messageID),
		"nonce":      IRInt(nonce),
		"hash_chain": IRString(hashChain),
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("TxID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainTx, canonical), nil
}

// MustMessageID is like MessageID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustMessageID(m Message) string {
	id, err := MessageID(m)
	if err != nil {
		panic(err)
	}
	return id
}
