package collection

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/env"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/testrun"
)

//go:embed schema.json
var schemaJSON []byte

// ErrNotFound is returned for unknown tests and environments.
var ErrNotFound = errors.New("not found")

var compiledSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
})

// ValidationError lists every structural problem found in a collection file.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid collection: " + strings.Join(e.Problems, "; ")
}

type fileEnvironment struct {
	Name      string         `yaml:"name"`
	Active    bool           `yaml:"active"`
	Variables map[string]any `yaml:"variables"`
}

type fileTest struct {
	Name                 string             `yaml:"name"`
	StopOnFirstFailure   bool               `yaml:"stopOnFirstFailure"`
	Entries              []testrun.EntryRef `yaml:"entries"`
	EnvironmentOverrides []env.Variable     `yaml:"environmentOverrides"`
}

type file struct {
	Name         string            `yaml:"name"`
	Requests     []*Request        `yaml:"requests"`
	Environments []fileEnvironment `yaml:"environments"`
	Tests        []fileTest        `yaml:"tests"`
}

type contents struct {
	name         string
	requests     map[string]*Request
	requestOrder []string
	environments []*env.Environment
	tests        map[string]*testrun.Spec
	testOrder    []string
}

// Collection is a read-only workspace of saved requests, environments and
// tests. It is safe for concurrent use; Reload swaps the whole content at
// once.
type Collection struct {
	mu   sync.RWMutex
	path string
	c    *contents
}

// Load reads and validates the collection file at path.
func Load(path string) (*Collection, error) {
	c, err := load(path)
	if err != nil {
		return nil, err
	}
	return &Collection{path: path, c: c}, nil
}

// Parse builds a collection from YAML held in memory. Reload is a no-op
// for such collections.
func Parse(data []byte) (*Collection, error) {
	c, err := parse(data)
	if err != nil {
		return nil, err
	}
	return &Collection{c: c}, nil
}

func load(path string) (*contents, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading collection: %w", err)
	}
	c, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func parse(data []byte) (*contents, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing yaml: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	if err := validate(raw); err != nil {
		return nil, err
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decoding collection: %w", err)
	}
	return build(&f)
}

func validate(doc any) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("loading collection schema: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("validating collection: %w", err)
	}
	if result.Valid() {
		return nil
	}

	verr := &ValidationError{}
	for _, e := range result.Errors() {
		verr.Problems = append(verr.Problems, e.String())
	}
	return verr
}

func build(f *file) (*contents, error) {
	c := &contents{
		name:     f.Name,
		requests: make(map[string]*Request, len(f.Requests)),
		tests:    make(map[string]*testrun.Spec, len(f.Tests)),
	}

	for _, r := range f.Requests {
		if _, dup := c.requests[r.ID]; dup {
			return nil, fmt.Errorf("duplicate request id %q", r.ID)
		}
		c.requests[r.ID] = r
		c.requestOrder = append(c.requestOrder, r.ID)
	}

	seen := make(map[string]bool)
	active := ""
	for _, fe := range f.Environments {
		if seen[fe.Name] {
			return nil, fmt.Errorf("duplicate environment %q", fe.Name)
		}
		seen[fe.Name] = true
		if fe.Active {
			if active != "" {
				return nil, fmt.Errorf("environments %q and %q are both active", active, fe.Name)
			}
			active = fe.Name
		}

		e := env.NewEnvironment(fe.Name)
		e.Active = fe.Active
		for k, v := range fe.Variables {
			e.Set(k, v)
		}
		c.environments = append(c.environments, e)
	}

	for _, ft := range f.Tests {
		if _, dup := c.tests[ft.Name]; dup {
			return nil, fmt.Errorf("duplicate test %q", ft.Name)
		}
		c.tests[ft.Name] = &testrun.Spec{
			Name:                 ft.Name,
			Entries:              ft.Entries,
			EnvironmentOverrides: ft.EnvironmentOverrides,
			StopOnFirstFailure:   ft.StopOnFirstFailure,
		}
		c.testOrder = append(c.testOrder, ft.Name)
	}

	return c, nil
}

func (col *Collection) snapshot() *contents {
	col.mu.RLock()
	defer col.mu.RUnlock()
	return col.c
}

// Path returns the file the collection was loaded from, if any.
func (col *Collection) Path() string {
	return col.path
}

func (col *Collection) Name() string {
	return col.snapshot().name
}

// Reload re-reads the collection file. On error the previous content is
// kept.
func (col *Collection) Reload() error {
	if col.path == "" {
		return nil
	}
	c, err := load(col.path)
	if err != nil {
		return err
	}
	col.mu.Lock()
	col.c = c
	col.mu.Unlock()
	return nil
}

// Resolve looks a saved request up by id.
func (col *Collection) Resolve(id string) (testrun.Request, bool) {
	r, ok := col.Request(id)
	if !ok {
		return nil, false
	}
	return r, true
}

// Request returns the saved request with the given id. The returned value
// is shared and must not be modified.
func (col *Collection) Request(id string) (*Request, bool) {
	r, ok := col.snapshot().requests[id]
	return r, ok
}

// Requests returns copies of all saved requests in file order.
func (col *Collection) Requests() []*Request {
	c := col.snapshot()
	out := make([]*Request, 0, len(c.requestOrder))
	for _, id := range c.requestOrder {
		out = append(out, c.requests[id].clone())
	}
	return out
}

// Test returns a copy of the named test specification.
func (col *Collection) Test(name string) (*testrun.Spec, error) {
	spec, ok := col.snapshot().tests[name]
	if !ok {
		return nil, fmt.Errorf("test %q: %w", name, ErrNotFound)
	}
	return spec.Clone(), nil
}

// Tests returns copies of all test specifications in file order.
func (col *Collection) Tests() []*testrun.Spec {
	c := col.snapshot()
	out := make([]*testrun.Spec, 0, len(c.testOrder))
	for _, name := range c.testOrder {
		out = append(out, c.tests[name].Clone())
	}
	return out
}

// Environments returns copies of all environments in file order.
func (col *Collection) Environments() []*env.Environment {
	c := col.snapshot()
	out := make([]*env.Environment, 0, len(c.environments))
	for _, e := range c.environments {
		out = append(out, e.Clone())
	}
	return out
}

// Active returns a copy of the environment marked active, or nil.
func (col *Collection) Active() *env.Environment {
	for _, e := range col.snapshot().environments {
		if e.Active {
			return e.Clone()
		}
	}
	return nil
}

// Select returns a copy of the named environment, activated. An empty name
// selects the environment marked active in the file, which may be nil.
func (col *Collection) Select(name string) (*env.Environment, error) {
	if name == "" {
		return col.Active(), nil
	}
	for _, e := range col.snapshot().environments {
		if e.Name == name {
			c := e.Clone()
			c.Active = true
			return c, nil
		}
	}
	return nil, fmt.Errorf("environment %q: %w", name, ErrNotFound)
}

// Lint reports problems that do not prevent loading but make a test
// misbehave: entries pointing at unknown requests and tests with nothing
// to run.
func (col *Collection) Lint() []string {
	c := col.snapshot()
	var warnings []string
	for _, name := range c.testOrder {
		runnable := 0
		for i, e := range c.tests[name].Entries {
			if _, ok := c.requests[e.RequestID]; !ok {
				warnings = append(warnings, fmt.Sprintf("test %q entry %d: unknown request %q", name, i, e.RequestID))
				continue
			}
			if !e.Skip {
				runnable++
			}
		}
		if runnable == 0 {
			warnings = append(warnings, fmt.Sprintf("test %q has no runnable entries", name))
		}
	}
	return warnings
}
