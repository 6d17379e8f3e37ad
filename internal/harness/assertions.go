package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/murelay/internal/store"
)

// recordPage bounds how many records per process assertions look at.
const recordPage = 500

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, ev := range e.Trace {
		fmt.Fprintf(&buf, "  [%d.%d] %s %s\n", ev.Step, ev.Index, ev.Process, ev.Outcome)
	}
	return buf.String()
}

// evaluate runs every assertion and returns the failures.
func (h *Harness) evaluate(ctx context.Context, assertions []Assertion, trace []TraceEvent) []error {
	var errs []error
	for _, a := range assertions {
		if err := h.check(ctx, a, trace); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (h *Harness) check(ctx context.Context, a Assertion, trace []TraceEvent) error {
	fail := func(expected, actual string) error {
		return &AssertionError{Type: a.Type, Expected: expected, Actual: actual, Trace: trace}
	}

	switch a.Type {
	case "latest_seq":
		var got int64
		tx, err := h.store.FindLatestTx(ctx, a.Process)
		switch {
		case err == nil:
			got = tx.SequenceNumber
		case !errors.Is(err, store.ErrNotFound):
			return err
		}
		if got != a.Seq {
			return fail(fmt.Sprintf("%s latest seq %d", a.Process, a.Seq), fmt.Sprintf("%d", got))
		}

	case "record_count":
		records, _, err := h.store.FindLatestMessages(ctx, a.Process, 0, recordPage)
		if err != nil {
			return err
		}
		if len(records) != a.Count {
			return fail(fmt.Sprintf("%d records for %s", a.Count, a.Process), fmt.Sprintf("%d", len(records)))
		}

	case "record_status":
		records, _, err := h.store.FindLatestMessages(ctx, a.Process, 0, recordPage)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return fail(fmt.Sprintf("records for %s with status %s", a.Process, a.Status), "no records")
		}
		for _, rec := range records {
			if rec.Status != a.Status {
				return fail(fmt.Sprintf("every %s record %s", a.Process, a.Status),
					fmt.Sprintf("message %s is %s", rec.MessageID, rec.Status))
			}
		}

	case "fetch_count":
		if got := h.program.fetchCount(a.Process); got != a.Count {
			return fail(fmt.Sprintf("%d fetches for %s", a.Count, a.Process), fmt.Sprintf("%d", got))
		}

	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
