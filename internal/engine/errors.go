package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/murelay/internal/compute"
	"github.com/roach88/murelay/internal/ir"
	"github.com/roach88/murelay/internal/nodes"
	"github.com/roach88/murelay/internal/sequencer"
	"github.com/roach88/murelay/internal/store"
)

// Kind categorizes pipeline errors.
type Kind string

const (
	// KindInvalidMessage indicates the message failed validation.
	KindInvalidMessage Kind = "InvalidMessage"

	// KindNotFound indicates a lookup miss.
	KindNotFound Kind = "NotFound"

	// KindConflict indicates a lost race on a process's latest tx.
	KindConflict Kind = "Conflict"

	// KindSequencerUnavailable indicates the sequencer could not be reached.
	KindSequencerUnavailable Kind = "SequencerUnavailable"

	// KindComputeUnavailable indicates the compute node could not be reached.
	KindComputeUnavailable Kind = "ComputeUnavailable"

	// KindRejected indicates the sequencer refused the interaction.
	KindRejected Kind = "Rejected"

	// KindComputeError indicates the compute node reported an execution error.
	KindComputeError Kind = "ComputeError"

	// KindNoNodeAvailable indicates no compute node can serve the process.
	KindNoNodeAvailable Kind = "NoNodeAvailable"

	// KindCrankDepthExceeded indicates a cascade hit the depth or node limit.
	KindCrankDepthExceeded Kind = "CrankDepthExceeded"

	// KindInternal covers everything else, including store failures.
	KindInternal Kind = "Internal"
)

// Retriable reports whether an operation failing with k may succeed if
// repeated unchanged.
func (k Kind) Retriable() bool {
	return k == KindSequencerUnavailable || k == KindComputeUnavailable
}

// Stage identifies the pipeline step an error came from.
type Stage string

const (
	StageValidation Stage = "validation"
	StageSequencing Stage = "sequencing"
	StageExecution  Stage = "execution"
	StageCrank      Stage = "crank"
)

var (
	// ErrSequencingFailed matches every *Error from the sequencing stage.
	ErrSequencingFailed = errors.New("sequencing failed")

	// ErrExecutionFailed matches every *Error from the execution stage.
	ErrExecutionFailed = errors.New("execution failed")
)

// Error is a classified pipeline error.
type Error struct {
	// Kind is the error category.
	Kind Kind

	// Stage is the pipeline step that failed.
	Stage Stage

	// MessageID and ProcessID identify the affected message, when known.
	MessageID string
	ProcessID string

	// Message is a human-readable description.
	Message string

	// Cached is true when the error was replayed from a failed record.
	Cached bool

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.Stage == "":
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	case e.MessageID != "":
		return fmt.Sprintf("%s: %s (stage=%s, message=%s)", e.Kind, msg, e.Stage, e.MessageID)
	default:
		return fmt.Sprintf("%s: %s (stage=%s)", e.Kind, msg, e.Stage)
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the stage sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrSequencingFailed:
		return e.Stage == StageSequencing
	case ErrExecutionFailed:
		return e.Stage == StageExecution
	}
	return false
}

// Classify maps a leaf-client error onto a Kind.
// A *Error keeps its own Kind.
func Classify(err error) Kind {
	var (
		pe *Error
		le *LimitExceededError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &pe):
		return pe.Kind
	case errors.As(err, &le):
		return KindCrankDepthExceeded
	case errors.Is(err, ir.ErrInvalidMessage):
		return KindInvalidMessage
	case errors.Is(err, sequencer.ErrUnavailable):
		return KindSequencerUnavailable
	case errors.Is(err, sequencer.ErrRejected):
		return KindRejected
	case errors.Is(err, compute.ErrUnavailable):
		return KindComputeUnavailable
	case errors.Is(err, compute.ErrExecution):
		return KindComputeError
	case errors.Is(err, nodes.ErrNoNodeAvailable):
		return KindNoNodeAvailable
	case errors.Is(err, store.ErrConflict):
		return KindConflict
	case errors.Is(err, store.ErrNotFound), errors.Is(err, sequencer.ErrNotFound):
		return KindNotFound
	default:
		return KindInternal
	}
}

// IsRetriable returns true if err classifies as a retriable Kind.
// Context cancellation is never retriable.
func IsRetriable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return Classify(err).Retriable()
}

// newError classifies cause and wraps it for stage.
func newError(stage Stage, msg ir.Message, cause error) *Error {
	return &Error{
		Kind:      Classify(cause),
		Stage:     stage,
		MessageID: msg.ID,
		ProcessID: msg.ProcessID,
		Err:       cause,
	}
}

// recordedError rebuilds the error stored on a failed record.
func recordedError(rec ir.CacheRecord) *Error {
	stage := StageExecution
	if rec.TxID == "" {
		stage = StageSequencing
	}
	kind := Kind(rec.ErrorKind)
	if kind == "" {
		kind = KindInternal
	}
	return &Error{
		Kind:      kind,
		Stage:     stage,
		MessageID: rec.MessageID,
		ProcessID: rec.ProcessID,
		Message:   rec.LastError,
		Cached:    true,
	}
}

// LimitExceededError reports that a crank refused to grow past one of its
// limits.
type LimitExceededError struct {
	CrankID string
	Limit   string // "depth" or "nodes"
	Max     int
}

// Error implements the error interface.
func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("crank %s exceeded max %s (%d)", e.CrankID, e.Limit, e.Max)
}

// IsLimitExceeded returns true if err is or wraps a *LimitExceededError.
func IsLimitExceeded(err error) bool {
	var le *LimitExceededError
	return errors.As(err, &le)
}
