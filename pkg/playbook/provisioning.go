package playbook

import (
	"strings"
	"unicode"
)

// maxCustomActionID is the Security Hub limit on custom action identifiers.
const maxCustomActionID = 20

// EventPattern is the EventBridge rule pattern that selects the findings a
// playbook claims.
type EventPattern struct {
	Source []string           `json:"source" yaml:"source"`
	Detail EventPatternDetail `json:"detail" yaml:"detail"`
}

type EventPatternDetail struct {
	Findings FindingsPattern `json:"findings" yaml:"findings"`
}

type FindingsPattern struct {
	Title    []string        `json:"Title" yaml:"Title"`
	Workflow WorkflowPattern `json:"Workflow" yaml:"Workflow"`
}

type WorkflowPattern struct {
	Status []string `json:"Status" yaml:"Status"`
}

// EventPattern renders the match criteria in the shape EventBridge expects.
func (d Descriptor) EventPattern() EventPattern {
	return EventPattern{
		Source: []string{"aws.securityhub"},
		Detail: EventPatternDetail{
			Findings: FindingsPattern{
				Title:    d.criteria.Titles(),
				Workflow: WorkflowPattern{Status: d.criteria.Statuses()},
			},
		},
	}
}

// CustomActionID derives the Security Hub custom action id from the
// descriptor name: alphanumerics only, at most 20 characters. New rejects
// names that yield an empty id; uniqueness is enforced by the registry.
func (d Descriptor) CustomActionID() string {
	return customActionID(d.name)
}

func customActionID(name string) string {
	var sb strings.Builder
	for _, r := range name {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			sb.WriteRune(r)
		}
		if sb.Len() == maxCustomActionID {
			break
		}
	}
	return sb.String()
}
