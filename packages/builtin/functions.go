package builtin

import (
	"encoding/base64"
	"math/rand"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Func func(args []string) (any, error)

type Registry struct {
	funcs map[string]Func
}

func NewRegistry() *Registry {
	r := &Registry{funcs: make(map[string]Func)}
	r.Register("uuid", func([]string) (any, error) { return uuid.NewString(), nil })
	r.Register("now", func([]string) (any, error) { return time.Now().UTC().Format(time.RFC3339), nil })
	r.Register("timestamp", func([]string) (any, error) { return time.Now().Unix(), nil })
	r.Register("timestampMs", func([]string) (any, error) { return time.Now().UnixMilli(), nil })
	r.Register("randomInt", randomInt)
	r.Register("base64", unary(func(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }))
	r.Register("urlEncode", unary(url.QueryEscape))
	return r
}

func (r *Registry) Register(name string, fn Func) {
	r.funcs[name] = fn
}

var callPattern = regexp.MustCompile(`^(\w+)\((.*)\)$`)

// Call evaluates expressions like `randomInt(1, 10)`. The boolean is false
// when expr is not a call, names an unknown function, or the function fails.
func (r *Registry) Call(expr string) (any, bool) {
	m := callPattern.FindStringSubmatch(strings.TrimSpace(expr))
	if m == nil {
		return nil, false
	}
	fn, ok := r.funcs[m[1]]
	if !ok {
		return nil, false
	}
	v, err := fn(splitArgs(m[2]))
	if err != nil {
		return nil, false
	}
	return v, true
}

func unary(fn func(string) string) Func {
	return func(args []string) (any, error) {
		if len(args) == 0 {
			return "", nil
		}
		return fn(args[0]), nil
	}
}

func randomInt(args []string) (any, error) {
	lo, hi := 0, 100
	if len(args) >= 2 {
		var err error
		if lo, err = strconv.Atoi(args[0]); err != nil {
			return nil, err
		}
		if hi, err = strconv.Atoi(args[1]); err != nil {
			return nil, err
		}
	}
	if hi < lo {
		lo, hi = hi, lo
	}
	return rand.Intn(hi-lo+1) + lo, nil
}

// splitArgs splits on commas outside single or double quotes and strips
// the quotes.
func splitArgs(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var (
		args  []string
		cur   strings.Builder
		quote byte
	)
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case quote == 0 && (ch == '"' || ch == '\''):
			quote = ch
		case quote != 0 && ch == quote:
			quote = 0
		case quote == 0 && ch == ',':
			args = append(args, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteByte(ch)
		}
	}
	return append(args, strings.TrimSpace(cur.String()))
}
