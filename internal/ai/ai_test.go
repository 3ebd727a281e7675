package ai

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResult(t *testing.T) {
	text := "```json\n" + `{"verdict":"risky","categories":{"security":40,"maintainability":140},
"findings":[{"path":"a.js","line":3,"category":"security","severity":"high","message":"eval"}]}` + "\n```"

	r, err := ParseResult(text)
	require.NoError(t, err)
	assert.Equal(t, Risky, r.Verdict)
	assert.Equal(t, 100.0, r.Categories["maintainability"])
	assert.Equal(t, 70.0, r.Score())
	require.Len(t, r.Findings, 1)
	assert.Equal(t, "a.js", r.Findings[0].Path)
}

func TestParseResultRejectsGarbage(t *testing.T) {
	_, err := ParseResult("I think it looks fine")
	require.Error(t, err)

	_, err = ParseResult(`{"verdict":"MAYBE"}`)
	require.Error(t, err)
}

func TestScoreWithoutCategories(t *testing.T) {
	assert.Equal(t, 50.0, (&Result{}).Score())
}

func TestOpenAIScannerUsesCompletion(t *testing.T) {
	s := NewOpenAIScanner(OpenAIConfig{APIKey: "test"}, nil)
	var prompt string
	s.complete = func(_ context.Context, _, user string) (string, error) {
		prompt = user
		return `{"verdict":"BAD","categories":{"security":5}}`, nil
	}

	r, err := s.Scan(context.Background(), []File{{Path: "x.js", Content: "eval(a)"}})
	require.NoError(t, err)
	assert.Equal(t, Bad, r.Verdict)
	assert.True(t, strings.Contains(prompt, "=== x.js ==="))
}

func TestOpenAIScannerPropagatesErrors(t *testing.T) {
	s := NewOpenAIScanner(OpenAIConfig{APIKey: "test"}, nil)
	s.complete = func(context.Context, string, string) (string, error) {
		return "", fmt.Errorf("429 too many requests")
	}
	_, err := s.Scan(context.Background(), []File{{Path: "x.js"}})
	require.Error(t, err)
}
