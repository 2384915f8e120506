package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrDuplicateName        = errors.New("duplicate playbook name")
	ErrDuplicateActionLabel = errors.New("duplicate action label")
	ErrDuplicateActionID    = errors.New("duplicate custom action id")
	ErrAmbiguousMatch       = errors.New("ambiguous playbook match")
	ErrOverlappingCriteria  = errors.New("overlapping match criteria")
)

// AmbiguousMatchError is returned by Resolve when more than one playbook
// claims a finding. Playbooks are listed in declaration order.
type AmbiguousMatchError struct {
	Title     string
	Status    string
	Playbooks []string
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("%v: finding %q (%s) claimed by %s",
		ErrAmbiguousMatch, e.Title, e.Status, strings.Join(e.Playbooks, ", "))
}

func (e *AmbiguousMatchError) Unwrap() error { return ErrAmbiguousMatch }

// OverlapError lists every title claimed by more than one playbook whose
// status filters intersect.
type OverlapError struct {
	Titles map[string][]string // title -> playbook names
}

func (e *OverlapError) Error() string {
	titles := make([]string, 0, len(e.Titles))
	for t := range e.Titles {
		titles = append(titles, t)
	}
	sort.Strings(titles)

	var sb strings.Builder
	sb.WriteString(ErrOverlappingCriteria.Error())
	sb.WriteString(":")
	for _, t := range titles {
		sb.WriteString(fmt.Sprintf("\n- %q: %s", t, strings.Join(e.Titles[t], ", ")))
	}
	return sb.String()
}

func (e *OverlapError) Unwrap() error { return ErrOverlappingCriteria }
