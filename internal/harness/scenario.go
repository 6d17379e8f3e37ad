package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/murelay/internal/engine"
	"github.com/roach88/murelay/internal/ir"
)

// Scenario is one crank conformance scenario.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Limits overrides the cranker defaults. Concurrency defaults to 1 so
	// sequence numbers are reproducible.
	Limits Limits `yaml:"limits,omitempty"`

	// Program maps process ids to compute node behavior.
	Program map[string]Behavior `yaml:"program"`

	Flow       []FlowStep  `yaml:"flow"`
	Assertions []Assertion `yaml:"assertions"`
}

// Limits bounds the cranker and the retry policy.
type Limits struct {
	MaxDepth      int `yaml:"max_depth,omitempty"`
	MaxNodes      int `yaml:"max_nodes,omitempty"`
	Concurrency   int `yaml:"concurrency,omitempty"`
	RetryAttempts int `yaml:"retry_attempts,omitempty"`
}

// Behavior is how the fake compute node answers for one process.
type Behavior struct {
	Replies []Reply `yaml:"replies,omitempty"`

	// Error makes every fetch fail with an execution error.
	Error string `yaml:"error,omitempty"`

	// Unavailable makes the first N fetches fail as unreachable.
	Unavailable int `yaml:"unavailable,omitempty"`
}

// Reply is one outbox entry.
type Reply struct {
	Process string `yaml:"process"`
	Data    string `yaml:"data"`
}

// FlowStep sends a message, or resumes an earlier step's root.
type FlowStep struct {
	Send   *Send   `yaml:"send,omitempty"`
	Resume *int    `yaml:"resume,omitempty"` // Index of an earlier flow step
	Expect *Expect `yaml:"expect,omitempty"`
}

// Send is the message a flow step submits.
type Send struct {
	Process string `yaml:"process"`
	Data    string `yaml:"data"`
	Owner   string `yaml:"owner,omitempty"`
}

// Message builds the ir message for s.
func (s Send) Message() ir.Message {
	owner := s.Owner
	if owner == "" {
		owner = "harness"
	}
	return ir.Message{
		ProcessID: s.Process,
		Data:      s.Data,
		Owner:     owner,
		Tags:      []ir.Tag{{Name: ir.TagType, Value: ir.TypeMessage}},
	}
}

// Expect checks a flow step's crank.
type Expect struct {
	Status   engine.CrankStatus `yaml:"status,omitempty"`
	Nodes    int                `yaml:"nodes,omitempty"`
	Failures *int               `yaml:"failures,omitempty"`
	Cached   *int               `yaml:"cached,omitempty"`
	Warnings *int               `yaml:"warnings,omitempty"`

	// Error expects the root message itself to fail with this kind.
	Error engine.Kind `yaml:"error,omitempty"`
}

// Assertion checks the cache after the flow.
type Assertion struct {
	Type    string    `yaml:"type"`
	Process string    `yaml:"process"`
	Seq     int64     `yaml:"seq,omitempty"`
	Count   int       `yaml:"count,omitempty"`
	Status  ir.Status `yaml:"status,omitempty"`
}

var validAssertionTypes = map[string]bool{
	"latest_seq":    true,
	"record_count":  true,
	"record_status": true,
	"fetch_count":   true,
}

// LoadScenario reads and validates a scenario file.
// Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s Scenario
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return &s, nil
}

// Validate checks the scenario is runnable.
func (s *Scenario) Validate() error {
	var errs []error
	if s.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if len(s.Flow) == 0 {
		errs = append(errs, errors.New("flow must have at least one step"))
	}
	for i, step := range s.Flow {
		switch {
		case step.Send == nil && step.Resume == nil:
			errs = append(errs, fmt.Errorf("flow[%d]: needs send or resume", i))
		case step.Send != nil && step.Resume != nil:
			errs = append(errs, fmt.Errorf("flow[%d]: send and resume are exclusive", i))
		case step.Send != nil && step.Send.Process == "":
			errs = append(errs, fmt.Errorf("flow[%d]: send.process is required", i))
		case step.Resume != nil && (*step.Resume < 0 || *step.Resume >= i):
			errs = append(errs, fmt.Errorf("flow[%d]: resume must name an earlier step", i))
		}
	}
	for name, b := range s.Program {
		for j, r := range b.Replies {
			if r.Process == "" {
				errs = append(errs, fmt.Errorf("program.%s.replies[%d]: process is required", name, j))
			}
		}
	}
	for i, a := range s.Assertions {
		if !validAssertionTypes[a.Type] {
			errs = append(errs, fmt.Errorf("assertions[%d]: unknown type %q", i, a.Type))
		}
		if a.Process == "" {
			errs = append(errs, fmt.Errorf("assertions[%d]: process is required", i))
		}
	}
	return errors.Join(errs...)
}
