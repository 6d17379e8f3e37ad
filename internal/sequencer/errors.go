package sequencer

import "errors"

var (
	// ErrNotFound means the sequencer has no tx for the message.
	ErrNotFound = errors.New("sequencer: tx not found")

	// ErrUnavailable covers transport failures and 5xx responses.
	// Callers may retry.
	ErrUnavailable = errors.New("sequencer: unavailable")

	// ErrRejected means the sequencer refused the interaction.
	ErrRejected = errors.New("sequencer: interaction rejected")
)
