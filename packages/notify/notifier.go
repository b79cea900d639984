// Package notify sends run outcomes to chat and webhook endpoints.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/testrun"
)

// NotifyOn specifies when to send notifications
type NotifyOn string

const (
	// NotifyAlways sends notifications for every run
	NotifyAlways NotifyOn = "always"
	// NotifyFailure sends notifications only when a run fails
	NotifyFailure NotifyOn = "failure"
	// NotifySuccess sends notifications only when a run passes
	NotifySuccess NotifyOn = "success"
	// NotifyRecovery sends notifications on failure and when a test passes
	// again after failing
	NotifyRecovery NotifyOn = "recovery"
)

// ParseNotifyOn validates a policy name. An empty name means failure.
func ParseNotifyOn(s string) (NotifyOn, error) {
	switch n := NotifyOn(s); n {
	case NotifyAlways, NotifyFailure, NotifySuccess, NotifyRecovery:
		return n, nil
	case "":
		return NotifyFailure, nil
	}
	return "", fmt.Errorf("unknown notify policy %q (want always, failure, success or recovery)", s)
}

// RunSummary is what notifiers are told about a finished run.
type RunSummary struct {
	RunID         string        `json:"run_id"`
	Test          string        `json:"test"`
	Environment   string        `json:"environment,omitempty"`
	Started       int           `json:"started"`
	Succeeded     int           `json:"succeeded"`
	Failed        int           `json:"failed"`
	Duration      time.Duration `json:"duration"`
	FailedResults []FailedEntry `json:"failed_results,omitempty"`
	IsRecovery    bool          `json:"is_recovery,omitempty"`
}

// FailedEntry is one FAILED event.
type FailedEntry struct {
	Index string `json:"index"`
	Name  string `json:"name"`
	Error string `json:"error"`
}

// NewRunSummary builds a notification summary from a run's result.
func NewRunSummary(runID, test, environment string, s testrun.Summary) *RunSummary {
	rs := &RunSummary{
		RunID:       runID,
		Test:        test,
		Environment: environment,
		Started:     s.Started,
		Succeeded:   s.Succeeded,
		Failed:      s.Failed,
		Duration:    s.Duration,
	}
	for _, ev := range s.Failures {
		rs.FailedResults = append(rs.FailedResults, FailedEntry{Index: ev.Index, Name: ev.Name, Error: ev.Exception()})
	}
	return rs
}

// Passed reports whether every started entry succeeded.
func (s *RunSummary) Passed() bool {
	return s.Failed == 0 && s.Started == s.Succeeded
}

// Notifier is the interface for notification services
type Notifier interface {
	Notify(ctx context.Context, summary *RunSummary) error
	Name() string
}

// Manager applies a NotifyOn policy and fans a summary out to notifiers.
// It remembers the last outcome per test to detect recoveries and is safe
// for concurrent use.
type Manager struct {
	mu        sync.Mutex
	notifiers []Notifier
	notifyOn  NotifyOn
	failing   map[string]bool
	logger    logrus.FieldLogger
}

// NewManager creates a new notification manager
func NewManager(notifyOn NotifyOn, notifiers ...Notifier) *Manager {
	return &Manager{
		notifiers: notifiers,
		notifyOn:  notifyOn,
		failing:   make(map[string]bool),
		logger:    logrus.StandardLogger(),
	}
}

// SetLogger replaces the logger used to report notifier failures.
func (m *Manager) SetLogger(l logrus.FieldLogger) {
	m.logger = l
}

// AddNotifier adds a notifier to the manager
func (m *Manager) AddNotifier(n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifiers = append(m.notifiers, n)
}

// Len returns how many notifiers are registered.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.notifiers)
}

// shouldNotify applies the policy and records the outcome.
func (m *Manager) shouldNotify(summary *RunSummary) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	passed := summary.Passed()
	wasFailing := m.failing[summary.Test]
	m.failing[summary.Test] = !passed

	switch m.notifyOn {
	case NotifyAlways:
		return true
	case NotifyFailure:
		return !passed
	case NotifySuccess:
		return passed
	case NotifyRecovery:
		if wasFailing && passed {
			summary.IsRecovery = true
			return true
		}
		return !passed
	}
	return false
}

// Notify sends summary to every notifier if the policy allows it. All
// notifiers are tried; their errors are joined.
func (m *Manager) Notify(ctx context.Context, summary *RunSummary) error {
	if !m.shouldNotify(summary) {
		return nil
	}

	m.mu.Lock()
	notifiers := append([]Notifier(nil), m.notifiers...)
	m.mu.Unlock()

	var errs []error
	for _, n := range notifiers {
		if err := n.Notify(ctx, summary); err != nil {
			m.logger.WithField("notifier", n.Name()).WithError(err).Warn("notification failed")
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return errors.Join(errs...)
}
