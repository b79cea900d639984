package env

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/abdul-hamid-achik/hitsuite/packages/builtin"
)

var variablePattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// WarnFunc is a function type for handling warnings
type WarnFunc func(format string, args ...any)

// Resolver renders {{...}} references. Variables are set directly or by
// layering environments; later layers shadow earlier ones.
type Resolver struct {
	mu        sync.RWMutex
	variables map[string]any
	funcs     *builtin.Registry
	warnFunc  WarnFunc
}

func NewResolver() *Resolver {
	return &Resolver{
		variables: make(map[string]any),
		funcs:     builtin.NewRegistry(),
	}
}

// SetWarnFunc sets a function to be called when a reference stays unresolved.
func (r *Resolver) SetWarnFunc(fn WarnFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnFunc = fn
}

func (r *Resolver) warn(format string, args ...any) {
	r.mu.RLock()
	fn := r.warnFunc
	r.mu.RUnlock()
	if fn != nil {
		fn(format, args...)
	}
}

func (r *Resolver) SetVariables(vars map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range vars {
		r.variables[k] = v
	}
}

func (r *Resolver) SetVariable(name string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.variables[name] = value
}

// Layer applies each active environment in order. Nil and inactive
// environments are ignored.
func (r *Resolver) Layer(envs ...*Environment) {
	for _, e := range envs {
		if e == nil || !e.Active {
			continue
		}
		r.SetVariables(e.Variables)
	}
}

func (r *Resolver) Resolve(input string) string {
	return variablePattern.ReplaceAllStringFunc(input, func(match string) string {
		expr := strings.TrimSpace(match[2 : len(match)-2])

		if val, ok := r.lookup(expr); ok {
			return val
		}
		r.warn("unresolved reference: %s", expr)
		return match
	})
}

func (r *Resolver) lookup(expr string) (string, bool) {
	if strings.HasPrefix(expr, "$") {
		if val := os.Getenv(expr[1:]); val != "" {
			return val, true
		}
		return "", false
	}

	if strings.Contains(expr, "(") {
		if result, ok := r.funcs.Call(expr); ok {
			return fmt.Sprintf("%v", result), true
		}
		return "", false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if val, ok := r.variables[expr]; ok {
		return fmt.Sprintf("%v", val), true
	}
	return "", false
}

func (r *Resolver) ResolveAll(values map[string]string) map[string]string {
	result := make(map[string]string, len(values))
	for k, v := range values {
		result[k] = r.Resolve(v)
	}
	return result
}

// UnresolvedVariables lists references in input that would be left as-is,
// in order of appearance.
func (r *Resolver) UnresolvedVariables(input string) []string {
	var out []string
	for _, m := range variablePattern.FindAllStringSubmatch(input, -1) {
		expr := strings.TrimSpace(m[1])
		if _, ok := r.lookup(expr); !ok {
			out = append(out, expr)
		}
	}
	return out
}

func (r *Resolver) GetVariable(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.variables[name]
	return v, ok
}
