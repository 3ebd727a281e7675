package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatekeeper/internal/config"
	"gatekeeper/internal/errors"
	"gatekeeper/internal/pipeline"
	"gatekeeper/internal/slogutil"
	"gatekeeper/internal/store"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{in: "json", want: FormatJSON},
		{in: "human", want: FormatHuman},
		{in: "yaml", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRepoIDFor(t *testing.T) {
	assert.Equal(t, "acme/web", repoIDFor("acme/web", "/src/web"))
	assert.Equal(t, "local/web", repoIDFor("", "/src/web"))
	assert.Equal(t, "", repoIDFor("", ""))
}

func TestTruncatePath(t *testing.T) {
	assert.Equal(t, "src/a.ts", truncatePath("src/a.ts", 30))
	assert.Equal(t, "...ep/file.ts", truncatePath("some/very/deep/file.ts", 13))
	assert.Len(t, truncatePath("some/very/deep/file.ts", 13), 13)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"queued", "failed"}, splitList(" queued, ,failed "))
	assert.Nil(t, splitList(""))
}

func TestParseMetric(t *testing.T) {
	mt, err := parseMetric("blockRate")
	require.NoError(t, err)
	assert.Equal(t, store.MetricBlockRate, mt)

	_, err = parseMetric("velocity")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.Validation))
}

func TestRedact(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Webhook.Secret = "s3cret"
	cfg.Provider.Token = "ghp_x"
	cfg.Storage.Driver = "postgres"
	cfg.Storage.DSN = "postgres://u:p@db/gk"

	out := redact(*cfg)
	assert.Equal(t, redacted, out.Webhook.Secret)
	assert.Equal(t, redacted, out.Provider.Token)
	assert.Equal(t, redacted, out.Storage.DSN)
	assert.Empty(t, out.AI.APIKey)
	assert.Equal(t, "s3cret", cfg.Webhook.Secret, "original is untouched")
}

func TestWalkSourcesSkipsExcludedDirs(t *testing.T) {
	root := t.TempDir()
	write := func(rel, content string) {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
	write("src/app.ts", "export const a = 1\n")
	write("src/util.py", "def f():\n    return 1\n")
	write("node_modules/lib/index.js", "module.exports = {}\n")
	write("README.md", "# readme\n")

	files, err := walkSources(root, []string{"node_modules"})
	require.NoError(t, err)
	assert.Equal(t, []string{"src/app.ts", "src/util.py"}, files)

	cfg := config.DefaultConfig()
	paths, err := expandPaths([]string{filepath.Join(root, "src"), filepath.Join(root, "README.md")}, cfg)
	require.NoError(t, err)
	assert.Len(t, paths, 3)
}

func TestLoadDotEnv(t *testing.T) {
	assert.NoError(t, loadDotEnv(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("GATEKEEPER_TEST_DOTENV=from-file\n"), 0644))
	t.Setenv("GATEKEEPER_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("GATEKEEPER_TEST_DOTENV"))
	require.NoError(t, loadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("GATEKEEPER_TEST_DOTENV"))
}

func TestPrintPullRequest(t *testing.T) {
	rec := &store.PullRequestRecord{
		RepoID:   "acme/web",
		PRNumber: 42,
		HeadSHA:  "abc123",
		Title:    "Add login",
		Status:   pipeline.StatusBlock,
		HealthScore: pipeline.HealthScore{
			Current: 71.5, Baseline: 80, Delta: -8.5, HasBaseline: true,
		},
		RiskScore:    55.25,
		BlockReasons: []string{"security: 1 high severity finding"},
		AnalysisResults: []pipeline.LayerResult{
			{Name: pipeline.LayerSecurity, Status: pipeline.LayerBlock, Score: 100, Summary: "1 finding"},
		},
		Findings: []pipeline.Finding{
			{Layer: pipeline.LayerSecurity, Rule: "dynamic-eval", Severity: pipeline.SeverityHigh, Path: "src/a.js", Line: 3, Message: "dynamic code execution with eval()"},
		},
		UpdatedAt: time.Now(),
	}

	var buf bytes.Buffer
	require.NoError(t, printPullRequest(&buf, rec, true))
	out := buf.String()
	assert.Contains(t, out, "acme/web #42 Add login")
	assert.Contains(t, out, "BLOCK")
	assert.Contains(t, out, "delta -8.50")
	assert.Contains(t, out, "security: 1 high severity finding")
	assert.Contains(t, out, "dynamic-eval")
	assert.Contains(t, out, "src/a.js:3")
}

func TestConfigInitCommand(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cfg")
	rootCmd.SetArgs([]string{"--config-dir", dir, "config", "init"})
	require.NoError(t, rootCmd.Execute())

	cfg, err := config.LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Server.Addr, cfg.Server.Addr)

	rootCmd.SetArgs([]string{"--config-dir", dir, "config", "init"})
	assert.Error(t, rootCmd.Execute(), "refuses to overwrite without --force")
}

func TestOpenAppWithMemoryBackends(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.Storage.Driver = "memory"
	cfg.Queue.Backend = "ephemeral"
	require.NoError(t, cfg.Save(dir))

	orig := configDir
	configDir = dir
	defer func() { configDir = orig }()

	a, err := openApp(context.Background(), appOptions{queues: true, graph: true})
	require.NoError(t, err)
	defer a.close(context.Background())

	assert.Equal(t, "ephemeral", a.queues.Backend())
	assert.NotNil(t, a.orch)
	assert.Nil(t, a.sink, "no neo4j uri configured")

	_, err = a.store.GetPullRequest(context.Background(), "acme/web", 1)
	assert.True(t, errors.HasCode(err, errors.NotFound))
}

func TestNewScanner(t *testing.T) {
	cfg := config.DefaultConfig()
	assert.Nil(t, newScanner(cfg, nil))

	cfg.AI.Provider = "openai"
	assert.Nil(t, newScanner(cfg, slogutil.NewDiscardLogger()), "no key")

	cfg.AI.APIKey = "sk-test"
	s := newScanner(cfg, slogutil.NewDiscardLogger())
	require.NotNil(t, s)
	assert.Equal(t, "openai", s.Name())
}
