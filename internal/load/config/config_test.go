package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/surge/internal/load"
	"github.com/wesleyorama2/surge/internal/load/check"
	"github.com/wesleyorama2/surge/internal/load/engine"
)

func TestLoadFile_BasicExample(t *testing.T) {
	cfg, err := LoadFile("testdata/basic.yaml")
	require.NoError(t, err)

	assert.Equal(t, "Basic Example", cfg.Name)
	assert.Equal(t, 64, cfg.Settings.Workers)
	assert.Equal(t, 5*time.Minute, time.Duration(cfg.Settings.Timeout))

	sim, err := cfg.Build(nil)
	require.NoError(t, err)
	require.Len(t, sim.Populations, 1)

	pop := sim.Populations[0]
	assert.Equal(t, "Basic Example", pop.Scenario.Name())
	assert.Equal(t, int64(1), pop.Profile.TotalUsers())
	require.Equal(t, 2, pop.Scenario.Len())

	req := pop.Scenario.Step(0).(load.RequestStep).Request
	assert.Equal(t, "https://raw.githubusercontent.com/steadybit/extension-gatling/refs/heads/main/README.md", req.URL)
	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "Get README.md", req.Name)
	assert.Equal(t, check.StatusEquals{Code: 200}, pop.Scenario.Step(1).(load.CheckStep).Predicate)
}

func TestLoadFile_JSON(t *testing.T) {
	cfg, err := LoadFile("testdata/shop.json")
	require.NoError(t, err)

	sim, err := cfg.Build(map[string]string{"tenant": "globex"})
	require.NoError(t, err)
	require.Len(t, sim.Populations, 2)

	browse := sim.Populations[0]
	assert.Equal(t, 7, browse.Scenario.Len())
	first := browse.Scenario.Step(0).(load.RequestStep).Request
	assert.Equal(t, "http://localhost:8080/products", first.URL)
	assert.Equal(t, 2*time.Second, first.Timeout)
	assert.Equal(t, load.PauseStep{Duration: time.Second}, browse.Scenario.Step(3))
	assert.Equal(t, int64(10+60), browse.Profile.TotalUsers())
	assert.Equal(t, 40*time.Second, browse.Profile.Duration())

	order := sim.Populations[1]
	post := order.Scenario.Step(0).(load.RequestStep).Request
	assert.Equal(t, "POST", post.Method)
	assert.Equal(t, `{"tenant":"globex"}`, post.Body)
	assert.IsType(t, &check.BodyMatchesSchema{}, order.Scenario.Step(2).(load.CheckStep).Predicate)
}

func TestApplySettings(t *testing.T) {
	cfg, err := LoadFile("testdata/shop.json")
	require.NoError(t, err)

	s := engine.DefaultSettings()
	s.Workers = 10
	cfg.ApplySettings(&s)

	assert.Equal(t, 10, s.Workers, "zero file value keeps the default")
	assert.Equal(t, 2*time.Second, s.GracePeriod)
	assert.Equal(t, "acme", s.Client.DefaultHeaders["X-Tenant"])
	assert.Equal(t, "surge-test", s.Client.DefaultHeaders["User-Agent"])
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("name: x\npopulatoins: []\n"), "sim.yaml")
	assert.Error(t, err)

	_, err = Parse([]byte(`{"name":"x","bogus":1}`), "sim.json")
	assert.Error(t, err)
}

func TestParse_Durations(t *testing.T) {
	cfg, err := Parse([]byte(`
name: d
settings:
  timeout: 90
  requestTimeout: 1.5
  gracePeriod: 250ms
`), "d.yml")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, time.Duration(cfg.Settings.Timeout))
	assert.Equal(t, 1500*time.Millisecond, time.Duration(cfg.Settings.RequestTimeout))
	assert.Equal(t, 250*time.Millisecond, time.Duration(cfg.Settings.GracePeriod))

	_, err = Parse([]byte("name: d\nsettings:\n  timeout: soon\n"), "d.yaml")
	assert.Error(t, err)
}

func TestValidate_FieldPaths(t *testing.T) {
	data := []byte(`
name: ""
settings:
  workers: -1
  baseUrl: "ftp://example.com"
populations:
  - scenario:
      name: a
      steps:
        - check: { status: 200 }
        - request: { url: "" , method: FETCH }
        - request: { url: "http://x" }
          pause: 1s
        - check: {}
    injection:
      - atOnce: -1
      - rampUsers: { users: 2, during: -1s }
      - {}
  - scenario:
      name: a
      steps: []
    injection: []
`)
	cfg, err := Parse(data, "bad.yaml")
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)

	var verrs *ValidationErrors
	require.True(t, errors.As(err, &verrs))

	fields := make([]string, 0, len(verrs.Errors))
	for _, e := range verrs.Errors {
		fields = append(fields, e.Field)
	}
	for _, want := range []string{
		"name",
		"settings.workers",
		"settings.baseUrl",
		"populations[0].scenario.steps[0].check",
		"populations[0].scenario.steps[1].request.url",
		"populations[0].scenario.steps[1].request.method",
		"populations[0].scenario.steps[2]",
		"populations[0].scenario.steps[3].check",
		"populations[0].injection[0].atOnce",
		"populations[0].injection[1].rampUsers.during",
		"populations[0].injection[2]",
		"populations[1].scenario.name",
		"populations[1].scenario.steps",
		"populations[1].injection",
	} {
		assert.Contains(t, fields, want)
	}
}

func TestBuild_UndefinedVariable(t *testing.T) {
	cfg, err := Parse([]byte(`
name: v
populations:
  - scenario:
      name: s
      steps:
        - request: { url: "{{host}}/x" }
    injection:
      - atOnce: 1
`), "v.yaml")
	require.NoError(t, err)

	_, err = cfg.Build(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `undefined variable "host"`)
	assert.Contains(t, err.Error(), "populations[0].scenario.steps[0].request.url")

	sim, err := cfg.Build(map[string]string{"host": "http://localhost"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost/x", sim.Populations[0].Scenario.Step(0).(load.RequestStep).Request.URL)
}

func TestBuild_InvalidSchema(t *testing.T) {
	cfg, err := Parse([]byte(`
name: v
populations:
  - scenario:
      name: s
      steps:
        - request: { url: "http://x" }
        - check: { schema: '{"type": 12}' }
    injection:
      - atOnce: 1
`), "v.yaml")
	require.NoError(t, err)

	_, err = cfg.Build(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "populations[0].scenario.steps[1].check.schema")
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestResolve(t *testing.T) {
	vars := map[string]string{"host": "h", "a.b": "c"}
	assert.Equal(t, "h/c/{{missing}}", Resolve("{{host}}/{{ a.b }}/{{missing}}", vars))
	assert.Equal(t, []string{"missing", "other"}, Unresolved("{{other}}{{missing}}{{host}}{{missing}}", vars))
	assert.Equal(t, "plain", Resolve("plain", vars))
}

func TestMergeVariables(t *testing.T) {
	merged := MergeVariables(map[string]string{"a": "1", "b": "1"}, nil, map[string]string{"b": "2"})
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, merged)
}
