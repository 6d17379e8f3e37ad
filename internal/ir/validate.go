package ir

import (
	"errors"
	"fmt"
)

// Tag names with protocol meaning.
const (
	TagType      = "Type"
	TagModule    = "Module"
	TagScheduler = "Scheduler"
)

// Values accepted for the Type tag.
const (
	TypeMessage = "Message"
	TypeProcess = "Process"
)

// ErrInvalidMessage is wrapped by every validation failure.
var ErrInvalidMessage = errors.New("invalid message")

// ValidateMessage checks the structural rules a message must satisfy
// before it is sequenced.
//
// A Type tag is optional, but when present it must name a Message or a
// Process, and a Process must declare its Module and Scheduler.
func ValidateMessage(m Message) error {
	if m.ProcessID == "" {
		return fmt.Errorf("%w: process_id is required", ErrInvalidMessage)
	}
	for i, t := range m.Tags {
		if t.Name == "" {
			return fmt.Errorf("%w: tag %d has an empty name", ErrInvalidMessage, i)
		}
	}

	typ, ok := m.Tag(TagType)
	if !ok {
		return nil
	}
	switch typ {
	case TypeMessage:
		return nil
	case TypeProcess:
		_, hasModule := m.Tag(TagModule)
		_, hasScheduler := m.Tag(TagScheduler)
		if !hasModule || !hasScheduler {
			return fmt.Errorf("%w: Process requires %s and %s tags", ErrInvalidMessage, TagModule, TagScheduler)
		}
		return nil
	default:
		return fmt.Errorf("%w: Type tag has an invalid value %q", ErrInvalidMessage, typ)
	}
}
