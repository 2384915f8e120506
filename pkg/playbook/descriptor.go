// Package playbook defines the catalog entry that binds a set of Security Hub
// finding criteria to a named remediation action.
package playbook

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrInvalidDescriptor is returned when a descriptor is missing a required field.
var ErrInvalidDescriptor = errors.New("invalid playbook descriptor")

// DeploymentContext is the per-deployment metadata the provisioning side needs
// to materialize a playbook. Routing never looks at it.
type DeploymentContext struct {
	Region          string `json:"aws_region" yaml:"region" mapstructure:"region"`
	AccountID       string `json:"aws_accountid" yaml:"account_id" mapstructure:"account_id"`
	SolutionID      string `json:"solution_id" yaml:"solution_id" mapstructure:"solution_id"`
	SolutionVersion string `json:"solution_version" yaml:"solution_version" mapstructure:"solution_version"`
	SolutionName    string `json:"solution_name" yaml:"solution_name" mapstructure:"solution_name"`
	DistBucket      string `json:"dist_bucket" yaml:"dist_bucket" mapstructure:"dist_bucket"`
	DistName        string `json:"dist_name" yaml:"dist_name" mapstructure:"dist_name"`
}

// Spec is the raw, unvalidated input for New.
type Spec struct {
	Name        string
	Description string
	ActionLabel string
	Titles      []string
	Statuses    []string
	Deployment  DeploymentContext
}

// Descriptor describes one control-remediation unit. The zero value is not
// valid; build descriptors with New.
type Descriptor struct {
	name        string
	description string
	actionLabel string
	criteria    MatchCriteria
	deployment  DeploymentContext
}

// New validates s and returns an immutable Descriptor.
func New(s Spec) (Descriptor, error) {
	name := strings.TrimSpace(s.Name)
	if name == "" {
		return Descriptor{}, fmt.Errorf("%w: name is required", ErrInvalidDescriptor)
	}
	label := strings.TrimSpace(s.ActionLabel)
	if label == "" {
		return Descriptor{}, fmt.Errorf("%w: %s: action label is required", ErrInvalidDescriptor, name)
	}
	if customActionID(name) == "" {
		return Descriptor{}, fmt.Errorf("%w: %s: name needs at least one ASCII letter or digit for the custom action id", ErrInvalidDescriptor, name)
	}

	titles, err := normalize(s.Titles)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: %s: titles: %v", ErrInvalidDescriptor, name, err)
	}
	statuses, err := normalize(s.Statuses)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: %s: statuses: %v", ErrInvalidDescriptor, name, err)
	}

	return Descriptor{
		name:        name,
		description: s.Description,
		actionLabel: label,
		criteria:    MatchCriteria{titles: titles, statuses: statuses},
		deployment:  s.Deployment,
	}, nil
}

// normalize trims entries, rejects empty lists and blank entries and drops
// repeats, keeping first-seen order.
func normalize(in []string) ([]string, error) {
	if len(in) == 0 {
		return nil, errors.New("at least one entry is required")
	}
	out := make([]string, 0, len(in))
	for i, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			return nil, fmt.Errorf("entry %d is empty", i)
		}
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (d Descriptor) Name() string                  { return d.name }
func (d Descriptor) Description() string           { return d.description }
func (d Descriptor) ActionLabel() string           { return d.actionLabel }
func (d Descriptor) Criteria() MatchCriteria       { return d.criteria }
func (d Descriptor) Deployment() DeploymentContext { return d.deployment }

// IsZero reports whether d was never built by New.
func (d Descriptor) IsZero() bool { return d.name == "" }

// Spec returns the input that would rebuild d.
func (d Descriptor) Spec() Spec {
	return Spec{
		Name:        d.name,
		Description: d.description,
		ActionLabel: d.actionLabel,
		Titles:      d.criteria.Titles(),
		Statuses:    d.criteria.Statuses(),
		Deployment:  d.deployment,
	}
}

// String returns the descriptor name with its action label.
func (d Descriptor) String() string {
	return fmt.Sprintf("%s (%s)", d.name, d.actionLabel)
}
