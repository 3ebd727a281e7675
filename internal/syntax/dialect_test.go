package syntax

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialectForPath(t *testing.T) {
	tests := []struct {
		path string
		want Dialect
		ok   bool
	}{
		{"src/a.js", JavaScript, true},
		{"src/a.MJS", JavaScript, true},
		{"src/a.ts", TypeScript, true},
		{"src/a.tsx", TSX, true},
		{"src/a.py", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := DialectForPath(tt.path)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseErrorsMatchesBuild(t *testing.T) {
	_, err := ParseErrors(context.Background(), []byte("const a = 1;\n"), JavaScript)
	if Available() {
		require.NoError(t, err)
		return
	}
	assert.ErrorIs(t, err, ErrNoCGO)
}

func TestSortedImports(t *testing.T) {
	m := Module{Imports: []string{"./b", "./a"}}
	assert.Equal(t, []string{"./a", "./b"}, m.SortedImports())
	assert.Equal(t, []string{"./b", "./a"}, m.Imports)
}
