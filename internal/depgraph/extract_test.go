//go:build cgo

package depgraph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractModuleAndBuild(t *testing.T) {
	ctx := context.Background()
	sources := map[string]string{
		"src/index.js": `import { run } from "./run"; export default run;`,
		"src/run.ts":   `const lodash = require("lodash"); export function run() { return import("./lazy"); }`,
		"src/lazy.ts":  `export const lazy = 1;`,
	}

	modules := map[string]Module{}
	for p, src := range sources {
		m, err := ExtractModule(ctx, p, []byte(src))
		require.NoError(t, err)
		modules[p] = m
	}

	assert.Contains(t, modules["src/run.ts"].Exports, "run")

	g := Build(modules)
	assert.Equal(t, []string{"src/run.ts"}, g.Dependencies("src/index.js"))
	assert.Equal(t, []string{"src/lazy.ts"}, g.Dependencies("src/run.ts"))
	assert.Equal(t, []string{"lodash"}, g.External("src/run.ts"))
}
