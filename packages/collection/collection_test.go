package collection

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/env"
	"github.com/abdul-hamid-achik/hitsuite/packages/core/testrun"
)

func loadFixture(t *testing.T) *Collection {
	t.Helper()
	col, err := Load(filepath.Join("testdata", "workspace.yaml"))
	require.NoError(t, err)
	return col
}

func TestLoad(t *testing.T) {
	col := loadFixture(t)

	assert.Equal(t, "petstore", col.Name())

	reqs := col.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "list-pets", reqs[0].ID)
	assert.Equal(t, "GET", reqs[0].HTTPMethod())
	assert.Equal(t, map[string]string{"first": "0.name"}, reqs[0].Captures)

	create := reqs[1]
	assert.Equal(t, "POST", create.HTTPMethod())
	assert.Equal(t, 5*time.Second, create.Timeout)
	assert.Equal(t, 100*time.Millisecond, create.RetryDelay)
	require.NotNil(t, create.Auth)
	assert.Equal(t, AuthBearer, create.Auth.Type)
	assert.Equal(t, "POST {{host}}/pets", create.DisplayName())
}

func TestCollection_Test(t *testing.T) {
	col := loadFixture(t)

	spec, err := col.Test("smoke")
	require.NoError(t, err)
	assert.Equal(t, "smoke", spec.Name)
	assert.True(t, spec.StopOnFirstFailure)
	assert.Equal(t, []testrun.EntryRef{
		{RequestID: "list-pets", Name: "List"},
		{RequestID: "create-pet", Skip: true},
	}, spec.Entries)
	assert.Equal(t, []env.Variable{{Name: "petName", Value: "Rex"}}, spec.EnvironmentOverrides)

	// Callers get a copy.
	spec.Entries[0].Skip = true
	again, err := col.Test("smoke")
	require.NoError(t, err)
	assert.False(t, again.Entries[0].Skip)

	_, err = col.Test("nope")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Len(t, col.Tests(), 2)
}

func TestCollection_Resolve(t *testing.T) {
	col := loadFixture(t)

	req, ok := col.Resolve("list-pets")
	require.True(t, ok)
	assert.Equal(t, "List pets", req.DisplayName())

	req, ok = col.Resolve("missing")
	assert.False(t, ok)
	assert.Nil(t, req)
}

func TestCollection_Environments(t *testing.T) {
	col := loadFixture(t)

	active := col.Active()
	require.NotNil(t, active)
	assert.Equal(t, "dev", active.Name)
	port, _ := active.Lookup("port")
	assert.Equal(t, 8080, port)

	staging, err := col.Select("staging")
	require.NoError(t, err)
	assert.True(t, staging.Active)

	def, err := col.Select("")
	require.NoError(t, err)
	assert.Equal(t, "dev", def.Name)

	_, err = col.Select("prod")
	assert.ErrorIs(t, err, ErrNotFound)

	// Selecting does not change the stored environments.
	for _, e := range col.Environments() {
		if e.Name == "staging" {
			assert.False(t, e.Active)
		}
	}
}

func TestCollection_Lint(t *testing.T) {
	col := loadFixture(t)

	warnings := col.Lint()
	assert.Contains(t, warnings, `test "broken" entry 0: unknown request "missing"`)
	assert.Contains(t, warnings, `test "broken" has no runnable entries`)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		schema  bool
		message string
	}{
		{
			name:   "unknown top-level key",
			yaml:   "requests: []\nsuites: []\n",
			schema: true,
		},
		{
			name:   "request without url",
			yaml:   "requests:\n  - id: a\n",
			schema: true,
		},
		{
			name:   "bad method",
			yaml:   "requests:\n  - id: a\n    url: http://x\n    method: FETCH\n",
			schema: true,
		},
		{
			name:   "bad timeout",
			yaml:   "requests:\n  - id: a\n    url: http://x\n    timeout: soon\n",
			schema: true,
		},
		{
			name:   "test without entries",
			yaml:   "tests:\n  - name: t\n",
			schema: true,
		},
		{
			name:    "duplicate request id",
			yaml:    "requests:\n  - id: a\n    url: http://x\n  - id: a\n    url: http://y\n",
			message: `duplicate request id "a"`,
		},
		{
			name:    "duplicate test",
			yaml:    "tests:\n  - name: t\n    entries: []\n  - name: t\n    entries: []\n",
			message: `duplicate test "t"`,
		},
		{
			name:    "two active environments",
			yaml:    "environments:\n  - name: a\n    active: true\n  - name: b\n    active: true\n",
			message: "both active",
		},
		{
			name:    "not yaml",
			yaml:    "requests: [",
			message: "parsing yaml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)

			var verr *ValidationError
			assert.Equal(t, tt.schema, errors.As(err, &verr))
			if tt.schema {
				assert.NotEmpty(t, verr.Problems)
			}
			if tt.message != "" {
				assert.Contains(t, err.Error(), tt.message)
			}
		})
	}
}

func TestParse_Empty(t *testing.T) {
	col, err := Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, col.Tests())
	assert.Nil(t, col.Active())
	assert.NoError(t, col.Reload())
}

func TestCollection_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ws.yaml")
	write := func(body string) {
		require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	}

	write("requests:\n  - id: a\n    url: http://one\n")
	col, err := Load(path)
	require.NoError(t, err)

	write("requests:\n  - id: a\n    url: http://two\n")
	require.NoError(t, col.Reload())
	r, _ := col.Request("a")
	assert.Equal(t, "http://two", r.URL)

	write("requests: [")
	assert.Error(t, col.Reload())
	r, _ = col.Request("a")
	assert.Equal(t, "http://two", r.URL, "failed reload keeps the previous content")
}

func TestCollection_ConcurrentReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ws.yaml")
	require.NoError(t, os.WriteFile(path, []byte("requests:\n  - id: a\n    url: http://one\n"), 0644))
	col, err := Load(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = col.Reload()
		}()
		go func() {
			defer wg.Done()
			_, ok := col.Resolve("a")
			assert.True(t, ok)
		}()
	}
	wg.Wait()
}

func TestRequest_StatusAccepted(t *testing.T) {
	tests := []struct {
		name   string
		expect []int
		code   int
		want   bool
	}{
		{name: "default 2xx", code: 204, want: true},
		{name: "default rejects 404", code: 404, want: false},
		{name: "explicit match", expect: []int{404}, code: 404, want: true},
		{name: "explicit mismatch", expect: []int{201}, code: 200, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Request{ExpectStatus: tt.expect}
			assert.Equal(t, tt.want, r.StatusAccepted(tt.code))
		})
	}
}
