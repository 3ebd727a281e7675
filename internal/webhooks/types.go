// Package webhooks verifies and interprets source-control webhook
// deliveries and turns them into analysis jobs.
package webhooks

// Header names set by the hosting service on each delivery.
const (
	SignatureHeader = "X-Hub-Signature-256"
	EventHeader     = "X-GitHub-Event"
	DeliveryHeader  = "X-GitHub-Delivery"
)

// Event types understood by the receiver.
const (
	EventPing        = "ping"
	EventPullRequest = "pull_request"
	EventPush        = "push"
)

// pullRequestActions trigger a pr-analysis job.
var pullRequestActions = map[string]bool{
	"opened":      true,
	"synchronize": true,
	"reopened":    true,
}

// Command is the job a delivery maps to. Job is empty when the delivery is
// acknowledged without work; Reason then says why.
type Command struct {
	Event   string `json:"event"`
	RepoID  string `json:"repoId,omitempty"`
	Job     string `json:"job,omitempty"`
	Payload any    `json:"payload,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Receipt is the outcome of one delivery.
type Receipt struct {
	DeliveryID string `json:"deliveryId,omitempty"`
	Event      string `json:"event"`
	Accepted   bool   `json:"accepted"`
	JobID      string `json:"jobId,omitempty"`
	Job        string `json:"job,omitempty"`
	Duplicate  bool   `json:"duplicate,omitempty"`
	Reason     string `json:"reason,omitempty"`
}
