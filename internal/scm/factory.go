package scm

import (
	"log/slog"
	"os"
	"path/filepath"

	"gatekeeper/internal/config"
	"gatekeeper/internal/errors"
	"gatekeeper/internal/slogutil"
)

// Open builds the provider for repoID. The local provider reads the
// repository's clone under CloneRoot, or RepoRoot when no CloneRoot is set.
// A github provider falls back for reads only to the repository's own clone
// under CloneRoot; without one it reads through the API alone.
func Open(cfg *config.Config, repoID string, logger *slog.Logger) (Provider, error) {
	logger = slogutil.OrDiscard(logger)
	switch cfg.Provider.Kind {
	case "", "local":
		root := cfg.RepoRoot
		if cfg.Provider.CloneRoot != "" && repoID != "" {
			root = filepath.Join(cfg.Provider.CloneRoot, filepath.FromSlash(repoID))
		}
		return NewLocalProvider(root, logger)
	case "github":
		gh, err := NewGitHubProvider(repoID, cfg.Provider.Token, cfg.Provider.BaseURL, logger)
		if err != nil {
			return nil, err
		}
		dir, ok := cloneDir(cfg, repoID)
		if !ok {
			return gh, nil
		}
		local, err := NewLocalProvider(dir, logger)
		if err != nil {
			logger.Debug("clone unusable, reading through the API only", "repo", repoID, "dir", dir, "error", err.Error())
			return gh, nil
		}
		return NewFallbackProvider(gh, local, logger), nil
	default:
		return nil, errors.NewConfigurationError("unknown provider kind "+cfg.Provider.Kind, nil)
	}
}

// cloneDir returns the clone of repoID under CloneRoot. The directory must
// be a repository root itself, so an enclosing checkout is never taken for
// the clone.
func cloneDir(cfg *config.Config, repoID string) (string, bool) {
	if cfg.Provider.CloneRoot == "" || repoID == "" {
		return "", false
	}
	dir := filepath.Join(cfg.Provider.CloneRoot, filepath.FromSlash(repoID))
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		return "", false
	}
	return dir, true
}
