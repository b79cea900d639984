package testrun

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/env"
)

const (
	// DefaultConcurrency is the default size of the engine's worker pool
	DefaultConcurrency = 5
)

// Engine runs test specifications. All runs of one engine share its worker
// pool and rate limiter.
type Engine struct {
	resolver Resolver
	executor Executor
	logger   logrus.FieldLogger
	observer Observer
	limiter  *rate.Limiter
	sem      chan struct{}
	now      func() time.Time
}

type Option func(*Engine)

// WithConcurrency sets how many executions may be in flight at once.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.sem = make(chan struct{}, n)
		}
	}
}

// WithRate caps dispatches per second. Zero or less disables the limit.
func WithRate(perSecond float64) Option {
	return func(e *Engine) {
		if perSecond > 0 {
			e.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		} else {
			e.limiter = nil
		}
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

func NewEngine(resolver Resolver, executor Executor, opts ...Option) *Engine {
	discard := logrus.New()
	discard.SetLevel(logrus.PanicLevel)

	e := &Engine{
		resolver: resolver,
		executor: executor,
		logger:   discard,
		sem:      make(chan struct{}, DefaultConcurrency),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is a run in progress or finished. Its embedded Stream carries the
// events; it is closed once every dispatched entry has finished.
type Result struct {
	*Stream

	ID        string
	Name      string
	StartedAt time.Time

	spec   *Spec
	cancel context.CancelFunc
}

// Spec returns the specification the run executes. Callers must not
// modify it.
func (r *Result) Spec() *Spec {
	return r.spec
}

// Cancel abandons the run. No new entries are dispatched and in-flight
// executions see a cancelled context; each still ends with a FAILED event.
func (r *Result) Cancel() {
	r.cancel()
}

// Run validates spec and starts it in the background. OnRunStarted has
// been called by the time Run returns. A non-nil error means the spec was
// rejected and nothing happened.
func (e *Engine) Run(ctx context.Context, spec *Spec, hooks Hooks) (*Result, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if e.resolver == nil || e.executor == nil {
		return nil, fmt.Errorf("engine has no resolver or executor")
	}

	spec = spec.Clone()
	runCtx, cancel := context.WithCancel(ctx)
	res := &Result{
		Stream:    NewStream(),
		ID:        uuid.NewString(),
		Name:      spec.Name,
		StartedAt: e.now(),
		spec:      spec,
		cancel:    cancel,
	}

	log := e.logger.WithFields(logrus.Fields{"run_id": res.ID, "test": spec.Name})
	log.WithField("entries", len(spec.Entries)).Debug("run started")

	if hooks.OnRunStarted != nil {
		hooks.OnRunStarted()
	}
	if e.observer != nil {
		e.observer.RunStarted(spec)
	}

	go e.walk(runCtx, res, hooks, log)
	return res, nil
}

func (e *Engine) walk(ctx context.Context, res *Result, hooks Hooks, log logrus.FieldLogger) {
	var wg sync.WaitGroup

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("run aborted")
		}
		wg.Wait()
		res.cancel()

		if hooks.OnRunFinished != nil {
			hooks.OnRunFinished()
		}
		res.Close()

		summary := Summarize(res.Events())
		if e.observer != nil {
			e.observer.RunFinished(summary)
		}
		log.WithFields(logrus.Fields{
			"succeeded": summary.Succeeded,
			"failed":    summary.Failed,
		}).Debug("run finished")
	}()

	spec := res.spec
	override := env.NewOverride(spec.EnvironmentOverrides)

	for i, entry := range spec.Entries {
		if entry.Skip {
			continue
		}
		if ctx.Err() != nil {
			log.Debug("run cancelled")
			return
		}

		req, ok := e.resolver.Resolve(entry.RequestID)
		if !ok || req == nil {
			log.WithFields(logrus.Fields{"index": i, "request_id": entry.RequestID}).Debug("request not found, entry dropped")
			continue
		}

		index := strconv.Itoa(i)
		name := entry.Name
		if name == "" {
			name = req.DisplayName()
		}

		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return
			}
		}
		select {
		case e.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}

		e.publish(res, Event{Index: index, Name: name, State: StateStarted, Details: map[string]string{}})

		failed := make(chan bool, 1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-e.sem }()
			failed <- e.execute(ctx, res, index, name, req, override, log)
		}()

		if spec.StopOnFirstFailure && <-failed {
			log.WithField("index", i).Debug("stopping after first failure")
			return
		}
	}
}

// execute runs one entry to its terminal event and reports whether it
// failed.
func (e *Engine) execute(ctx context.Context, res *Result, index, name string, req Request, override *env.Environment, log logrus.FieldLogger) bool {
	info, err := e.invoke(ctx, req, override)
	if err != nil {
		log.WithFields(logrus.Fields{"index": index, "request_id": req.RequestID()}).WithError(err).Debug("entry failed")
		e.publish(res, Event{
			Index:   index,
			Name:    name,
			State:   StateFailed,
			Details: map[string]string{DetailException: err.Error()},
		})
		return true
	}

	details := make(map[string]string, len(info))
	for k, v := range info {
		details[k] = v
	}
	e.publish(res, Event{Index: index, Name: name, State: StateSucceeded, Details: details})
	return false
}

// invoke treats a synchronous error, a nil handle, a failed handle and a
// panic in the executor alike.
func (e *Engine) invoke(ctx context.Context, req Request, override *env.Environment) (info map[string]string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	h, err := e.executor.Execute(ctx, req, override)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, fmt.Errorf("executor returned no handle for %s", req.RequestID())
	}
	return h.Wait(ctx)
}

func (e *Engine) publish(res *Result, ev Event) {
	ev.Time = e.now()
	if res.Publish(ev) && e.observer != nil {
		e.observer.EventPublished(ev)
	}
}
