// Package registry holds the set of playbooks known to a deployment and
// resolves findings against it.
//
// A Registry is built once and then only read. Resolve takes no locks, so any
// number of goroutines may resolve concurrently. Changes after startup go
// through Handle, which builds a new Registry and publishes it atomically.
package registry

import (
	"fmt"
	"maps"
	"slices"

	"github.com/user/gosec-playbooks/pkg/finding"
	"github.com/user/gosec-playbooks/pkg/playbook"
)

// Registry is an ordered collection of playbooks with unique names, action
// labels and custom action ids.
type Registry struct {
	playbooks  []playbook.Descriptor
	byName     map[string]int
	byLabel    map[string]int
	byActionID map[string]int
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		byName:     make(map[string]int),
		byLabel:    make(map[string]int),
		byActionID: make(map[string]int),
	}
}

// Build registers descs in order and stops at the first conflict.
func Build(descs ...playbook.Descriptor) (*Registry, error) {
	r := New()
	for _, d := range descs {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register appends d. It fails without modifying r if another playbook
// already uses d's name, action label or custom action id.
//
// Register is meant for the build phase; once a registry is shared with
// readers, use With or Handle.Update instead.
func (r *Registry) Register(d playbook.Descriptor) error {
	if d.IsZero() {
		return fmt.Errorf("%w: descriptor was not built with playbook.New", playbook.ErrInvalidDescriptor)
	}
	if _, ok := r.byName[d.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateName, d.Name())
	}
	if i, ok := r.byLabel[d.ActionLabel()]; ok {
		return fmt.Errorf("%w: %q used by %s and %s", ErrDuplicateActionLabel, d.ActionLabel(), r.playbooks[i].Name(), d.Name())
	}
	if i, ok := r.byActionID[d.CustomActionID()]; ok {
		return fmt.Errorf("%w: %q derived from both %s and %s", ErrDuplicateActionID, d.CustomActionID(), r.playbooks[i].Name(), d.Name())
	}

	r.byName[d.Name()] = len(r.playbooks)
	r.byLabel[d.ActionLabel()] = len(r.playbooks)
	r.byActionID[d.CustomActionID()] = len(r.playbooks)
	r.playbooks = append(r.playbooks, d)
	return nil
}

// Resolve returns the single playbook claiming f. ok is false when no
// playbook claims it, which is not an error. When several playbooks claim f,
// Resolve returns an *AmbiguousMatchError rather than picking one.
func (r *Registry) Resolve(f finding.Finding) (d playbook.Descriptor, ok bool, err error) {
	var matched []int
	for i, p := range r.playbooks {
		if p.Matches(f) {
			matched = append(matched, i)
		}
	}

	switch len(matched) {
	case 0:
		return playbook.Descriptor{}, false, nil
	case 1:
		return r.playbooks[matched[0]], true, nil
	}

	names := make([]string, len(matched))
	for i, idx := range matched {
		names[i] = r.playbooks[idx].Name()
	}
	return playbook.Descriptor{}, false, &AmbiguousMatchError{Title: f.Title, Status: f.Status, Playbooks: names}
}

// All returns the playbooks in declaration order.
func (r *Registry) All() []playbook.Descriptor {
	return slices.Clone(r.playbooks)
}

// Len returns the number of registered playbooks.
func (r *Registry) Len() int { return len(r.playbooks) }

// Get looks a playbook up by name.
func (r *Registry) Get(name string) (playbook.Descriptor, bool) {
	i, ok := r.byName[name]
	if !ok {
		return playbook.Descriptor{}, false
	}
	return r.playbooks[i], true
}

// ByActionLabel looks a playbook up by its action label.
func (r *Registry) ByActionLabel(label string) (playbook.Descriptor, bool) {
	i, ok := r.byLabel[label]
	if !ok {
		return playbook.Descriptor{}, false
	}
	return r.playbooks[i], true
}

// With returns a new registry holding r's playbooks followed by d.
// r itself is left untouched.
func (r *Registry) With(d playbook.Descriptor) (*Registry, error) {
	next := r.clone()
	if err := next.Register(d); err != nil {
		return nil, err
	}
	return next, nil
}

func (r *Registry) clone() *Registry {
	return &Registry{
		playbooks:  slices.Clone(r.playbooks),
		byName:     maps.Clone(r.byName),
		byLabel:    maps.Clone(r.byLabel),
		byActionID: maps.Clone(r.byActionID),
	}
}

// CheckDisjoint reports titles that more than one playbook could claim for
// the same workflow status. Such overlap makes Resolve fail at run time.
func (r *Registry) CheckDisjoint() error {
	overlaps := make(map[string][]string)
	for i := 0; i < len(r.playbooks); i++ {
		for j := i + 1; j < len(r.playbooks); j++ {
			shared, ok := r.playbooks[i].Criteria().Overlaps(r.playbooks[j].Criteria())
			if !ok {
				continue
			}
			for _, t := range shared {
				overlaps[t] = appendUnique(overlaps[t], r.playbooks[i].Name(), r.playbooks[j].Name())
			}
		}
	}
	if len(overlaps) == 0 {
		return nil
	}
	return &OverlapError{Titles: overlaps}
}

func appendUnique(list []string, names ...string) []string {
	for _, n := range names {
		if !slices.Contains(list, n) {
			list = append(list, n)
		}
	}
	return list
}
