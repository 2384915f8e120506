package catalog

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/user/gosec-playbooks/pkg/playbook"
	"github.com/user/gosec-playbooks/pkg/registry"
)

// ManifestEntry is what the provisioning side needs to stand up one playbook:
// a Security Hub custom action, an EventBridge rule and the remediation unit
// tagged with the action label.
type ManifestEntry struct {
	Name           string                     `json:"name" yaml:"name"`
	Description    string                     `json:"description" yaml:"description"`
	ActionLabel    string                     `json:"custom_action_name" yaml:"custom_action_name"`
	CustomActionID string                     `json:"custom_action_id" yaml:"custom_action_id"`
	EventPattern   playbook.EventPattern      `json:"event_pattern" yaml:"event_pattern"`
	Deployment     playbook.DeploymentContext `json:"deployment" yaml:"deployment"`
}

// Manifest is the ordered provisioning handoff for a whole registry.
type Manifest struct {
	Playbooks []ManifestEntry `json:"playbooks" yaml:"playbooks"`
}

// NewManifest describes every playbook in r in declaration order.
func NewManifest(r *registry.Registry) Manifest {
	all := r.All()
	m := Manifest{Playbooks: make([]ManifestEntry, 0, len(all))}
	for _, d := range all {
		m.Playbooks = append(m.Playbooks, ManifestEntry{
			Name:           d.Name(),
			Description:    d.Description(),
			ActionLabel:    d.ActionLabel(),
			CustomActionID: d.CustomActionID(),
			EventPattern:   d.EventPattern(),
			Deployment:     d.Deployment(),
		})
	}
	return m
}

// Export writes the manifest for r as "json" or "yaml".
func Export(w io.Writer, r *registry.Registry, format string) error {
	m := NewManifest(r)
	switch format {
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(m); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported export format: %s", format)
	}
}
