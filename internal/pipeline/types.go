// Package pipeline renders a PASS/WARN/BLOCK verdict on a pull request by
// running ordered analysis layers over its changed files.
package pipeline

import (
	"gatekeeper/internal/complexity"
)

// Status is the verdict state of a pull request.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusPass       Status = "PASS"
	StatusWarn       Status = "WARN"
	StatusBlock      Status = "BLOCK"
	StatusOverridden Status = "OVERRIDDEN"
)

// IsTerminal reports whether s is a final verdict.
func (s Status) IsTerminal() bool {
	return s == StatusPass || s == StatusWarn || s == StatusBlock || s == StatusOverridden
}

// Severity ranks findings.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// LayerStatus is the outcome of one layer.
type LayerStatus string

const (
	LayerOK      LayerStatus = "ok"
	LayerWarn    LayerStatus = "warn"
	LayerBlock   LayerStatus = "block"
	LayerSkipped LayerStatus = "skipped"
	LayerPending LayerStatus = "pending"
	LayerError   LayerStatus = "error"
)

// ChangedFile is one file touched by the pull request.
type ChangedFile struct {
	Path     string              `json:"path"`
	Language complexity.Language `json:"language"`
	// Content is the full file at the head revision.
	Content []byte `json:"-"`
	// Patch holds only the added lines, when known.
	Patch   string `json:"-"`
	Status  string `json:"status,omitempty"`
	SizeLOC int    `json:"sizeLoc"`
}

// Removed reports whether the file was deleted by the change.
func (f ChangedFile) Removed() bool { return f.Status == "removed" }

// AddedText is the text scanned by the pattern layers: the added lines when
// a patch is known, otherwise the whole file.
func (f ChangedFile) AddedText() string {
	if f.Patch != "" {
		return f.Patch
	}
	return string(f.Content)
}

// Ticket is a linked work item.
type Ticket struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Paths       []string `json:"paths,omitempty"`
}

// Input is everything the pipeline needs for one pull request.
type Input struct {
	RepoID   string        `json:"repoId"`
	PRNumber int           `json:"prNumber"`
	HeadSHA  string        `json:"headSha"`
	Title    string        `json:"title"`
	Files    []ChangedFile `json:"files"`
	Ticket   *Ticket       `json:"ticket,omitempty"`
}

// Finding is one issue raised by a layer.
type Finding struct {
	Layer    string   `json:"layer"`
	Rule     string   `json:"rule"`
	Category string   `json:"category"`
	Severity Severity `json:"severity"`
	Path     string   `json:"path,omitempty"`
	Line     int      `json:"line,omitempty"`
	Message  string   `json:"message"`
}

// HealthScore is the aggregate complexity health of the changed files and
// its change against the stored baseline.
type HealthScore struct {
	Current float64 `json:"current"`
	Delta   float64 `json:"delta"`
	// HasBaseline is false on the first analysis of the changed files; Delta
	// is then zero and no ratchet comparison was made.
	HasBaseline bool    `json:"hasBaseline"`
	Baseline    float64 `json:"baseline,omitempty"`
}

// LayerResult records what one layer concluded.
type LayerResult struct {
	Name    string         `json:"name"`
	Status  LayerStatus    `json:"status"`
	Score   float64        `json:"score"`
	Summary string         `json:"summary"`
	Details map[string]any `json:"details,omitempty"`
}

// Scores are per-concern risk scores, each 0..100 where higher is riskier.
// AI is the scanner's health score (higher is healthier), 50 when absent.
type Scores struct {
	Complexity float64 `json:"complexity"`
	Lint       float64 `json:"lint"`
	Security   float64 `json:"security"`
	Smells     float64 `json:"smells"`
	AI         float64 `json:"ai"`
}

// Result is the outcome of a pipeline run.
type Result struct {
	RepoID       string        `json:"repoId"`
	PRNumber     int           `json:"prNumber"`
	HeadSHA      string        `json:"headSha"`
	Status       Status        `json:"status"`
	HealthScore  HealthScore   `json:"healthScore"`
	RiskScore    float64       `json:"riskScore"`
	Scores       Scores        `json:"scores"`
	Layers       []LayerResult `json:"layers"`
	Findings     []Finding     `json:"findings"`
	BlockReasons []string      `json:"blockReasons"`
	WarnReasons  []string      `json:"warnReasons"`
}

// Block records a hard-block condition. Reasons accumulate; the verdict
// cannot be downgraded once a block is recorded.
func (r *Result) Block(reason string) {
	r.BlockReasons = append(r.BlockReasons, reason)
	r.Status = StatusBlock
}

// Warn records a warning condition.
func (r *Result) Warn(reason string) {
	r.WarnReasons = append(r.WarnReasons, reason)
}

// AddFinding appends a finding.
func (r *Result) AddFinding(f Finding) {
	r.Findings = append(r.Findings, f)
}

// Layer returns the result recorded by the named layer.
func (r *Result) Layer(name string) (LayerResult, bool) {
	for _, l := range r.Layers {
		if l.Name == name {
			return l, true
		}
	}
	return LayerResult{}, false
}

// FindingsFor returns the findings of one layer.
func (r *Result) FindingsFor(layer string) []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Layer == layer {
			out = append(out, f)
		}
	}
	return out
}
