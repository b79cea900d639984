package runner

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/abdul-hamid-achik/hitsuite/packages/capture"
	"github.com/abdul-hamid-achik/hitsuite/packages/collection"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/env"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/testrun"
	"github.com/abdul-hamid-achik/hitsuite/packages/http"
)

const (
	// DefaultRetryDelay applies when a request retries without a delay
	DefaultRetryDelay = time.Second
	// InfoAttempts is reported when a request needed more than one attempt
	InfoAttempts = "attempts"
	// CapturePrefix prefixes captured values in the status information
	CapturePrefix = "capture."
)

// Environments selects the collection environment requests render with.
type Environments interface {
	Select(name string) (*env.Environment, error)
}

// StatusError reports a response whose status the request did not expect.
type StatusError struct {
	Status   string
	Expected []int
}

func (e *StatusError) Error() string {
	want := "2xx"
	if len(e.Expected) > 0 {
		codes := make([]string, len(e.Expected))
		for i, c := range e.Expected {
			codes[i] = strconv.Itoa(c)
		}
		want = strings.Join(codes, ", ")
	}
	return fmt.Sprintf("unexpected status %s (expected %s)", e.Status, want)
}

// Executor implements testrun.Executor for collection requests.
type Executor struct {
	client       *http.Client
	environments Environments
	envName      string
	base         *env.Environment
	logger       logrus.FieldLogger
}

type Option func(*Executor)

// WithEnvironments sets where the collection environment comes from and
// which one to use. An empty name picks the one marked active.
func WithEnvironments(src Environments, name string) Option {
	return func(e *Executor) {
		e.environments = src
		e.envName = name
	}
}

// WithBaseEnvironment sets variables that every other layer may shadow,
// typically loaded from a dotenv file.
func WithBaseEnvironment(base *env.Environment) Option {
	return func(e *Executor) {
		e.base = base
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

func NewExecutor(client *http.Client, opts ...Option) *Executor {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	e := &Executor{
		client: client,
		logger: discard,
	}
	if e.client == nil {
		e.client = http.NewClient()
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute starts req in the background. It fails synchronously only when
// req is not a collection request or the environment cannot be selected.
func (e *Executor) Execute(ctx context.Context, req testrun.Request, override *env.Environment) (testrun.Handle, error) {
	saved, ok := req.(*collection.Request)
	if !ok {
		return nil, fmt.Errorf("unsupported request type %T", req)
	}

	var selected *env.Environment
	if e.environments != nil {
		var err error
		selected, err = e.environments.Select(e.envName)
		if err != nil {
			return nil, err
		}
	}

	log := e.logger.WithField("request_id", saved.ID)
	resolver := env.NewResolver()
	resolver.SetWarnFunc(func(format string, args ...any) {
		log.Warnf(format, args...)
	})
	resolver.Layer(e.base, selected, override)

	return testrun.Go(ctx, func(ctx context.Context) (map[string]string, error) {
		return e.run(ctx, saved, resolver, log)
	}), nil
}

func (e *Executor) run(ctx context.Context, saved *collection.Request, resolver *env.Resolver, log logrus.FieldLogger) (map[string]string, error) {
	req, err := Render(saved, resolver)
	if err != nil {
		return nil, err
	}

	delay := saved.RetryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}

	var (
		resp     *http.Response
		attempts int
	)
	for attempts = 1; ; attempts++ {
		resp, err = e.client.Do(ctx, req)
		if err == nil && saved.StatusAccepted(resp.StatusCode) {
			break
		}
		if err == nil {
			err = &StatusError{Status: resp.Status, Expected: saved.ExpectStatus}
		}

		retryable := ctx.Err() == nil && (resp == nil || saved.ShouldRetry(resp.StatusCode))
		if attempts > saved.Retry || !retryable {
			return nil, err
		}
		log.WithError(err).WithField("attempt", attempts).Debug("retrying request")
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
		resp = nil
	}

	info := resp.StatusInfo()
	if attempts > 1 {
		info[InfoAttempts] = strconv.Itoa(attempts)
	}

	values, missing := capture.ExtractAll(resp, saved.Captures)
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing captures: %s", strings.Join(missing, ", "))
	}
	for name, v := range values {
		info[CapturePrefix+name] = v
	}
	return info, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Render resolves every template in saved and returns the request to send.
// A URL that still holds unresolved references is an error.
func Render(saved *collection.Request, resolver *env.Resolver) (*http.Request, error) {
	if missing := resolver.UnresolvedVariables(saved.URL); len(missing) > 0 {
		return nil, fmt.Errorf("unresolved variables in url: %s", strings.Join(missing, ", "))
	}

	req := http.NewRequest(saved.HTTPMethod(), resolver.Resolve(saved.URL))
	for k, v := range resolver.ResolveAll(saved.Headers) {
		req.SetHeader(k, v)
	}
	for k, v := range resolver.ResolveAll(saved.Query) {
		req.SetQueryParam(k, v)
	}
	if saved.Body != "" {
		req.SetBody(resolver.Resolve(saved.Body))
	}
	if saved.Timeout > 0 {
		req.SetTimeout(saved.Timeout)
	}

	if a := saved.Auth; a != nil {
		switch a.Type {
		case collection.AuthBasic:
			req.SetBasicAuth(resolver.Resolve(a.Username), resolver.Resolve(a.Password))
		case collection.AuthBearer:
			req.SetBearerToken(resolver.Resolve(a.Token))
		case collection.AuthAPIKey:
			req.SetHeader(resolver.Resolve(a.Key), resolver.Resolve(a.Value))
		case collection.AuthAPIKeyQuery:
			req.SetQueryParam(resolver.Resolve(a.Key), resolver.Resolve(a.Value))
		default:
			return nil, fmt.Errorf("unsupported auth type %q", a.Type)
		}
	}
	return req, nil
}
