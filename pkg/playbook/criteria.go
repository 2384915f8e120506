package playbook

import (
	"slices"

	"github.com/user/gosec-playbooks/pkg/finding"
)

// MatchCriteria selects the findings a playbook claims: an exact title from
// Titles and a workflow status from Statuses.
type MatchCriteria struct {
	titles   []string
	statuses []string
}

// Titles returns a copy of the title patterns in declaration order.
func (c MatchCriteria) Titles() []string { return slices.Clone(c.titles) }

// Statuses returns a copy of the accepted workflow statuses.
func (c MatchCriteria) Statuses() []string { return slices.Clone(c.statuses) }

// HasTitle reports whether title is one of the patterns.
func (c MatchCriteria) HasTitle(title string) bool { return slices.Contains(c.titles, title) }

// HasStatus reports whether status is in the filter.
func (c MatchCriteria) HasStatus(status string) bool { return slices.Contains(c.statuses, status) }

// Overlaps reports whether some finding could satisfy both c and other,
// returning the shared titles.
func (c MatchCriteria) Overlaps(other MatchCriteria) ([]string, bool) {
	statusShared := false
	for _, s := range c.statuses {
		if other.HasStatus(s) {
			statusShared = true
			break
		}
	}
	if !statusShared {
		return nil, false
	}
	var shared []string
	for _, t := range c.titles {
		if other.HasTitle(t) {
			shared = append(shared, t)
		}
	}
	return shared, len(shared) > 0
}

// Matches reports whether f belongs to the control set described by c.
// Titles compare exactly; finding titles are stable benchmark strings.
func Matches(c MatchCriteria, f finding.Finding) bool {
	return c.HasTitle(f.Title) && c.HasStatus(f.Status)
}

// Matches reports whether f is claimed by d.
func (d Descriptor) Matches(f finding.Finding) bool {
	return Matches(d.criteria, f)
}
