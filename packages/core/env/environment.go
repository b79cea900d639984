package env

// OverrideName is the name given to every run-scoped override environment.
const OverrideName = "override"

// Variable is a single name/value pair as written in a test definition.
type Variable struct {
	Name  string `yaml:"name" json:"name"`
	Value string `yaml:"value" json:"value"`
}

// Environment is a named set of variables. Only active environments are
// applied when a request is rendered.
type Environment struct {
	Name      string
	Active    bool
	Variables map[string]any
}

func NewEnvironment(name string) *Environment {
	return &Environment{
		Name:      name,
		Variables: make(map[string]any),
	}
}

// Set adds the variable or replaces its value.
func (e *Environment) Set(name string, value any) {
	if e.Variables == nil {
		e.Variables = make(map[string]any)
	}
	e.Variables[name] = value
}

func (e *Environment) Lookup(name string) (any, bool) {
	if e == nil {
		return nil, false
	}
	v, ok := e.Variables[name]
	return v, ok
}

// Clone returns a deep copy of the variable map.
func (e *Environment) Clone() *Environment {
	if e == nil {
		return nil
	}
	c := &Environment{Name: e.Name, Active: e.Active, Variables: make(map[string]any, len(e.Variables))}
	for k, v := range e.Variables {
		c.Variables[k] = v
	}
	return c
}

// NewOverride builds the active environment a single run applies on top of
// each request's own environment. Later duplicates win.
func NewOverride(vars []Variable) *Environment {
	e := NewEnvironment(OverrideName)
	e.Active = true
	for _, v := range vars {
		e.Set(v.Name, v.Value)
	}
	return e
}

func MergeVariables(sources ...map[string]any) map[string]any {
	result := make(map[string]any)
	for _, src := range sources {
		for k, v := range src {
			result[k] = v
		}
	}
	return result
}
