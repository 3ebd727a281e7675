package store

import (
	"context"

	"gatekeeper/internal/errors"
	"gatekeeper/internal/pipeline"
)

// Baselines serves stored file records as ratchet baselines.
type Baselines struct {
	Store Store
}

// Baselines returns the stored complexity of every path that has a record.
func (b Baselines) Baselines(ctx context.Context, repoID string, paths []string) (map[string]pipeline.Baseline, error) {
	out := make(map[string]pipeline.Baseline, len(paths))
	for _, p := range paths {
		rec, err := b.Store.GetFile(ctx, repoID, p)
		if errors.HasCode(err, errors.NotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if rec.Report == nil {
			continue
		}
		out[p] = pipeline.Baseline{
			Complexity:      rec.Report.CyclomaticComplexity,
			Maintainability: rec.Report.MaintainabilityIndex,
		}
	}
	return out, nil
}
