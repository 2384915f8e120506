package dispatch

import (
	"time"

	"github.com/google/uuid"

	"github.com/user/gosec-playbooks/pkg/finding"
	"github.com/user/gosec-playbooks/pkg/playbook"
)

// Request asks the execution engine to run the remediation tagged
// ActionLabel against Finding.
type Request struct {
	ID          string                     `json:"id"`
	ActionLabel string                     `json:"action_label"`
	Playbook    string                     `json:"playbook"`
	Finding     finding.Finding            `json:"finding"`
	Deployment  playbook.DeploymentContext `json:"deployment"`
	CreatedAt   time.Time                  `json:"created_at"`
}

// NewRequest binds f to the resolved playbook d.
func NewRequest(d playbook.Descriptor, f finding.Finding, now time.Time) Request {
	return Request{
		ID:          uuid.NewString(),
		ActionLabel: d.ActionLabel(),
		Playbook:    d.Name(),
		Finding:     f,
		Deployment:  d.Deployment(),
		CreatedAt:   now.UTC(),
	}
}
