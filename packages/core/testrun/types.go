package testrun

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/env"
)

// ErrInvalidSpec is returned by Engine.Run for structurally broken
// specifications.
var ErrInvalidSpec = errors.New("invalid test specification")

// DetailException is the detail key carrying the failure message of a
// FAILED event.
const DetailException = "exception"

type State string

const (
	StateStarted   State = "STARTED"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"
)

// IsTerminal reports whether no further event follows for the entry.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// EntryRef points at a saved request by id.
type EntryRef struct {
	RequestID string `json:"requestId" yaml:"id"`
	Name      string `json:"name,omitempty" yaml:"name,omitempty"`
	Skip      bool   `json:"skip,omitempty" yaml:"skip,omitempty"`
}

// Spec is an ordered test specification.
type Spec struct {
	Name                 string         `json:"name,omitempty"`
	Entries              []EntryRef     `json:"entries"`
	EnvironmentOverrides []env.Variable `json:"environmentOverrides,omitempty"`
	StopOnFirstFailure   bool           `json:"stopOnFirstFailure,omitempty"`
}

// Validate checks the structure Run relies on.
func (s *Spec) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil specification", ErrInvalidSpec)
	}
	for i, e := range s.Entries {
		if e.RequestID == "" {
			return fmt.Errorf("%w: entry %d has no request id", ErrInvalidSpec, i)
		}
	}
	for i, v := range s.EnvironmentOverrides {
		if v.Name == "" {
			return fmt.Errorf("%w: environment override %d has no name", ErrInvalidSpec, i)
		}
	}
	return nil
}

// Clone returns a copy that shares nothing with s.
func (s *Spec) Clone() *Spec {
	c := *s
	c.Entries = append([]EntryRef(nil), s.Entries...)
	c.EnvironmentOverrides = append([]env.Variable(nil), s.EnvironmentOverrides...)
	return &c
}

// Event is one lifecycle transition of one entry. Index is the entry's
// zero-based position in the specification, counted before skipped or
// unresolved entries are dropped.
type Event struct {
	Index   string            `json:"index"`
	Name    string            `json:"name"`
	State   State             `json:"state"`
	Details map[string]string `json:"details"`
	Time    time.Time         `json:"time"`
}

// Exception returns the failure message of a FAILED event.
func (e Event) Exception() string {
	return e.Details[DetailException]
}

// Request is a resolved saved request. The engine only needs its name;
// the executor knows the concrete type.
type Request interface {
	RequestID() string
	DisplayName() string
}

// Resolver looks requests up by id. It must be safe for concurrent use.
type Resolver interface {
	Resolve(id string) (Request, bool)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(id string) (Request, bool)

func (f ResolverFunc) Resolve(id string) (Request, bool) { return f(id) }

// Executor starts a request. The override environment, when non-nil and
// active, is applied on top of the request's own environment. Execute must
// not block on the request itself; completion is reported by the Handle.
type Executor interface {
	Execute(ctx context.Context, req Request, override *env.Environment) (Handle, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, req Request, override *env.Environment) (Handle, error)

func (f ExecutorFunc) Execute(ctx context.Context, req Request, override *env.Environment) (Handle, error) {
	return f(ctx, req, override)
}

// Handle is a pending execution.
type Handle interface {
	// Wait blocks until the execution finishes or ctx is done and returns
	// the status information of the response.
	Wait(ctx context.Context) (map[string]string, error)
}

// Hooks are run lifecycle notifications. Each non-nil hook is called
// exactly once per accepted run.
type Hooks struct {
	OnRunStarted  func()
	OnRunFinished func()
}

// Observer receives engine activity, typically for metrics.
type Observer interface {
	RunStarted(spec *Spec)
	EventPublished(ev Event)
	RunFinished(summary Summary)
}
