package ir

// Tag is a single name/value pair on a message. Tag order is significant.
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Message is an interaction request addressed to a process.
type Message struct {
	ID        string `json:"id"`         // Content-addressed unless assigned upstream
	ProcessID string `json:"process_id"` // Target process
	Data      string `json:"data"`
	Owner     string `json:"owner"`
	Tags      []Tag  `json:"tags"`
	Timestamp int64  `json:"timestamp,omitempty"` // Optional; zero means absent
}

// Tag returns the value of the first tag with the given name.
func (m Message) Tag(name string) (string, bool) {
	for _, t := range m.Tags {
		if t.Name == name {
			return t.Value, true
		}
	}
	return "", false
}

// SequencedTx is the sequencer's assignment for one message.
type SequencedTx struct {
	MessageID      string `json:"message_id"`
	ProcessID      string `json:"process_id"`
	TxID           string `json:"tx_id"`
	SequenceNumber int64  `json:"sequence_number"`
	Epoch          int64  `json:"epoch,omitempty"`
	HashChain      string `json:"hash_chain,omitempty"`
	Timestamp      int64  `json:"timestamp,omitempty"` // Unix millis at sequencing time
}

// SignedInteraction is a message signed for submission to a sequencer.
type SignedInteraction struct {
	ID        string  `json:"id"`        // Hash of the signed payload
	Message   Message `json:"message"`
	Owner     string  `json:"owner"`     // Base64 ed25519 public key
	Signature string  `json:"signature"` // Base64 signature over the payload
}

// Status is the lifecycle state of a cache record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSequenced Status = "sequenced"
	StatusExecuted  Status = "executed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status is final for the message.
func (s Status) Terminal() bool {
	return s == StatusExecuted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSequenced, StatusExecuted, StatusFailed:
		return true
	}
	return false
}

// CacheRecord is the persisted state of one message.
type CacheRecord struct {
	MessageID      string    `json:"message_id"`
	ProcessID      string    `json:"process_id"`
	Status         Status    `json:"status"`
	TxID           string    `json:"tx_id,omitempty"`
	SequenceNumber int64     `json:"sequence_number,omitempty"`
	Outbox         []Message `json:"outbox"`
	Message        Message   `json:"message"`
	LastError      string    `json:"last_error,omitempty"`
	ErrorKind      string    `json:"error_kind,omitempty"`
}

// Tx rebuilds the sequenced transaction recorded on r.
// ok is false when the record has not been sequenced.
func (r CacheRecord) Tx() (tx SequencedTx, ok bool) {
	if r.TxID == "" {
		return SequencedTx{}, false
	}
	return SequencedTx{
		MessageID:      r.MessageID,
		ProcessID:      r.ProcessID,
		TxID:           r.TxID,
		SequenceNumber: r.SequenceNumber,
	}, true
}

// RecordPatch is a partial update to a cache record. Nil fields are left
// unchanged.
type RecordPatch struct {
	Status         *Status
	TxID           *string
	SequenceNumber *int64
	Outbox         []Message // Replaces the outbox when non-nil
	LastError      *string
	ErrorKind      *string
}

// Apply returns r with the patch applied.
func (p RecordPatch) Apply(r CacheRecord) CacheRecord {
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.TxID != nil {
		r.TxID = *p.TxID
	}
	if p.SequenceNumber != nil {
		r.SequenceNumber = *p.SequenceNumber
	}
	if p.Outbox != nil {
		r.Outbox = p.Outbox
	}
	if p.LastError != nil {
		r.LastError = *p.LastError
	}
	if p.ErrorKind != nil {
		r.ErrorKind = *p.ErrorKind
	}
	return r
}
