package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"gatekeeper/internal/slogutil"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

const systemPrompt = `You are a senior code reviewer. Review the changed files of a pull request.
Respond with a single JSON object and nothing else:
{"verdict": "GOOD|RISKY|BAD",
 "categories": {"security": 0-100, "maintainability": 0-100, "correctness": 0-100},
 "findings": [{"path": "...", "line": 0, "category": "...", "severity": "low|medium|high", "message": "..."}],
 "summary": "..."}
Use BAD only for changes that must not be merged.`

// OpenAIConfig configures the OpenAI scanner.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type completeFunc func(ctx context.Context, system, user string) (string, error)

// OpenAIScanner asks a chat-completion model for a structured review.
type OpenAIScanner struct {
	model    string
	complete completeFunc
	logger   *slog.Logger
}

// NewOpenAIScanner builds a scanner from cfg.
func NewOpenAIScanner(cfg OpenAIConfig, logger *slog.Logger) *OpenAIScanner {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	client := openai.NewClient(opts...)

	s := &OpenAIScanner{model: model, logger: slogutil.OrDiscard(logger)}
	s.complete = func(ctx context.Context, system, user string) (string, error) {
		resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model: openai.ChatModel(model),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(system),
				openai.UserMessage(user),
			},
		})
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("no choices returned")
		}
		return resp.Choices[0].Message.Content, nil
	}
	return s
}

// Name returns "openai".
func (s *OpenAIScanner) Name() string { return "openai" }

// Scan sends the files in one request and parses the JSON verdict.
func (s *OpenAIScanner) Scan(ctx context.Context, files []File) (*Result, error) {
	if len(files) == 0 {
		return &Result{Verdict: Good, Categories: map[string]float64{}}, nil
	}
	s.logger.Debug("ai scan request", "model", s.model, "files", len(files))

	text, err := s.complete(ctx, systemPrompt, buildPrompt(files))
	if err != nil {
		return nil, fmt.Errorf("openai chat completion failed: %w", err)
	}
	return ParseResult(text)
}

func buildPrompt(files []File) string {
	var b strings.Builder
	b.WriteString("Changed files:\n")
	for _, f := range files {
		fmt.Fprintf(&b, "\n=== %s ===\n%s\n", f.Path, f.Content)
	}
	return b.String()
}
