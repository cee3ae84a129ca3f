package commands

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/assetbuilder/internal/config"
	"git.home.luguber.info/inful/assetbuilder/internal/graph"
	"git.home.luguber.info/inful/assetbuilder/internal/history"
	"git.home.luguber.info/inful/assetbuilder/internal/pipeline"
	"git.home.luguber.info/inful/assetbuilder/internal/rules"
)

const projectConfig = `
source: src
entries:
  app: ./js/main.js
rules:
  - name: scripts
    test: '\.js$'
    use: [script]
  - name: vendor
    test: '\.js$'
    include: [js/vendor/]
    use: [minify]
  - name: styles
    test: '\.css$'
    use: [style, extract]
output:
  directory: dist
postprocess: [write-manifest]
history:
  path: .assetbuilder/history.db
build:
  cache:
    enabled: false
`

var projectTree = map[string]string{
	"js/main.js":   "import '../css/main.css';\nconsole.log('hi');\n",
	"css/main.css": ".hero { color: red; }\n",
}

func writeProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for rel, body := range projectTree {
		p := filepath.Join(dir, "src", filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	}
	cfgPath := filepath.Join(dir, config.DefaultConfigFile)
	require.NoError(t, os.WriteFile(cfgPath, []byte(projectConfig), 0o600))
	return cfgPath
}

func quietGlobal() *Global {
	return &Global{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestBuildCmd_PublishesAndRecordsHistory(t *testing.T) {
	cfgPath := writeProject(t)
	dir := filepath.Dir(cfgPath)
	metricsFile := filepath.Join(t.TempDir(), "build.prom")

	cmd := &BuildCmd{MetricsFile: metricsFile}
	require.NoError(t, cmd.Run(quietGlobal(), &CLI{Config: cfgPath}))

	assert.FileExists(t, filepath.Join(dir, "dist", "js", "app.js"))
	assert.FileExists(t, filepath.Join(dir, "dist", "css", "app.css"))
	assert.FileExists(t, filepath.Join(dir, "dist", "manifest.json"))

	store, err := history.NewSQLiteStore(filepath.Join(dir, ".assetbuilder", "history.db"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	recs, err := store.Recent(t.Context(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, history.StatusSuccess, recs[0].Status)
	assert.Equal(t, history.TriggerCLI, recs[0].Trigger)

	prom, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "build_outcomes_total")
}

func TestBuildCmd_OverridesAndDryRun(t *testing.T) {
	cfgPath := writeProject(t)
	out := filepath.Join(t.TempDir(), "public")

	require.NoError(t, (&BuildCmd{Output: out, DryRun: true}).Run(quietGlobal(), &CLI{Config: cfgPath}))
	assert.NoDirExists(t, out)

	require.NoError(t, (&BuildCmd{Output: out}).Run(quietGlobal(), &CLI{Config: cfgPath}))
	assert.FileExists(t, filepath.Join(out, "js", "app.js"))
	assert.NoDirExists(t, filepath.Join(filepath.Dir(cfgPath), "dist"))
}

func TestBuildCmd_MissingConfig(t *testing.T) {
	err := (&BuildCmd{}).Run(quietGlobal(), &CLI{Config: filepath.Join(t.TempDir(), "nope.yaml")})
	require.Error(t, err)
}

func TestRunInit_RefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), config.DefaultConfigFile)
	require.NoError(t, RunInit(path, false))
	assert.FileExists(t, path)
	require.Error(t, RunInit(path, false))
	require.NoError(t, RunInit(path, true))
}

func TestExplain(t *testing.T) {
	decls := []config.RuleConfig{
		{Name: "scripts", Test: `\.js$`, Use: []config.TransformConfig{{Name: "script"}}},
		{Name: "vendor", Test: `\.js$`, Include: []string{"vendor/"}, Use: []config.TransformConfig{{Name: "minify"}}},
	}
	root := t.TempDir()

	t.Run("first policy marks shadowed rules", func(t *testing.T) {
		m, err := rules.New(root, decls, config.RulePolicyFirst)
		require.NoError(t, err)
		var buf bytes.Buffer
		require.NoError(t, explain(&buf, m, "vendor/lib.js"))
		out := buf.String()
		assert.Contains(t, out, "vendor/lib.js")
		assert.Contains(t, out, "vendor (shadowed by scripts)")
		assert.Contains(t, out, "chain script\n")
	})

	t.Run("union policy concatenates", func(t *testing.T) {
		m, err := rules.New(root, decls, config.RulePolicyUnion)
		require.NoError(t, err)
		var buf bytes.Buffer
		require.NoError(t, explain(&buf, m, "vendor/lib.js"))
		assert.Contains(t, buf.String(), "chain script → minify")
		assert.NotContains(t, buf.String(), "shadowed")
	})

	t.Run("unmatched path passes through", func(t *testing.T) {
		m, err := rules.New(root, decls, config.RulePolicyFirst)
		require.NoError(t, err)
		var buf bytes.Buffer
		require.NoError(t, explain(&buf, m, "img/logo.png"))
		assert.Contains(t, buf.String(), "no rule applies")
	})

	t.Run("path outside source root", func(t *testing.T) {
		m, err := rules.New(root, decls, config.RulePolicyFirst)
		require.NoError(t, err)
		require.Error(t, explain(io.Discard, m, "../escape.js"))
	})
}

func TestWriteReport(t *testing.T) {
	r := &pipeline.Report{
		BuildID:  "0123456789abcdef",
		Trigger:  history.TriggerCLI,
		Duration: 1500 * time.Millisecond,
		Status:   history.StatusFailed,
		Units:    4,
		Cached:   1,
		Failed:   1,
		Stages: []pipeline.StageTiming{
			{Name: pipeline.StageLoadGlobals, Duration: 2 * time.Millisecond},
			{Name: pipeline.StageBuildGraph, Duration: 80 * time.Millisecond, Failed: true},
		},
		Warnings: []graph.Warning{{Unit: "js/main.js", Specifier: "./missing", Message: "module not found"}},
		Err:      errors.New("transform script failed"),
	}
	var buf bytes.Buffer
	writeReport(&buf, r)
	out := buf.String()

	assert.Contains(t, out, "build 01234567 failed after 1.5s")
	assert.Contains(t, out, "4 units, 1 cached, 1 failed, 0 files")
	assert.Contains(t, out, "load_globals 2ms · build_graph 80ms")
	assert.Contains(t, out, `js/main.js ("./missing"): module not found`)
	assert.Contains(t, out, "error transform script failed")
}

func TestWriteHistory(t *testing.T) {
	var buf bytes.Buffer
	writeHistory(&buf, nil)
	assert.Contains(t, buf.String(), "no builds recorded")

	buf.Reset()
	writeHistory(&buf, []history.Record{
		{ID: "aaaaaaaa-1111", StartedAt: time.Now(), Trigger: history.TriggerWatch, Status: history.StatusSuccess, Units: 3, Files: 2},
		{ID: "bbbbbbbb-2222", StartedAt: time.Now(), Trigger: history.TriggerCLI, Status: history.StatusFailed, Error: "boom"},
	})
	out := buf.String()
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "aaaaaaaa")
	assert.Contains(t, out, "watch")
	assert.Contains(t, out, "  boom")
}

func TestWriteJSONReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeJSONReport(&buf, &pipeline.Report{
		BuildID:  "b1",
		Trigger:  history.TriggerCLI,
		Status:   history.StatusSuccess,
		Duration: 2500 * time.Microsecond,
	}))
	assert.Contains(t, buf.String(), `"duration_ms": 2.5`)
	assert.Contains(t, buf.String(), `"stages": []`)
}

func TestParseLogLevel(t *testing.T) {
	t.Setenv("ASSETBUILDER_LOG_LEVEL", "warn")
	assert.Equal(t, slog.LevelWarn, parseLogLevel(false))
	assert.Equal(t, slog.LevelDebug, parseLogLevel(true))
	t.Setenv("ASSETBUILDER_LOG_LEVEL", "")
	assert.Equal(t, slog.LevelInfo, parseLogLevel(false))
}
