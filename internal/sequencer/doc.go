// Package sequencer talks to the authority that orders interactions on a
// process.
//
// Client speaks the HTTP protocol of a remote sequencer. Local is an
// in-process authority implementing the same contract, and NewHandler
// serves Local over that protocol. Every failure wraps one of
// ErrNotFound, ErrUnavailable or ErrRejected so callers can classify it
// with errors.Is.
package sequencer
