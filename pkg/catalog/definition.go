// Package catalog turns static playbook definition tables (the embedded CIS
// table plus optional YAML or HCL files) into a registry.
package catalog

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"gopkg.in/yaml.v3"

	"github.com/user/gosec-playbooks/pkg/playbook"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// Definition is one playbook as written in a catalog file. The findings block
// keeps the Security Hub field names so it reads like the event pattern it
// produces.
type Definition struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	ActionLabel string   `yaml:"custom_action_name"`
	Findings    Findings `yaml:"findings"`

	Source string `yaml:"-"` // file the definition came from
}

type Findings struct {
	Title    []string `yaml:"Title"`
	Workflow Workflow `yaml:"Workflow"`
}

type Workflow struct {
	Status []string `yaml:"Status"`
}

// File is the top-level layout of a YAML catalog file.
type File struct {
	Standard  string       `yaml:"standard"`
	Playbooks []Definition `yaml:"playbooks"`
}

// Spec converts d into playbook input bound to dc.
func (d Definition) Spec(dc playbook.DeploymentContext) playbook.Spec {
	return playbook.Spec{
		Name:        d.Name,
		Description: d.Description,
		ActionLabel: d.ActionLabel,
		Titles:      d.Findings.Title,
		Statuses:    d.Findings.Workflow.Status,
		Deployment:  dc,
	}
}

// ParseYAML decodes a YAML catalog. Unknown keys are rejected so typos in
// field names do not silently produce empty criteria.
func ParseYAML(data []byte, source string) ([]Definition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse %s: %w", source, err)
	}
	for i := range f.Playbooks {
		f.Playbooks[i].Source = source
	}
	return f.Playbooks, nil
}

// hclFile is the decode target for HCL catalogs:
//
//	playbook "CIS22" {
//	  description        = "..."
//	  custom_action_name = "CIS 2.2"
//	  titles             = ["2.2 Ensure CloudTrail log file validation is enabled"]
//	  statuses           = ["NEW"]
//	}
type hclFile struct {
	Playbooks []hclPlaybook `hcl:"playbook,block"`
}

type hclPlaybook struct {
	Name        string   `hcl:"name,label"`
	Description string   `hcl:"description,optional"`
	ActionLabel string   `hcl:"custom_action_name"`
	Titles      []string `hcl:"titles"`
	Statuses    []string `hcl:"statuses"`
}

// ParseHCL decodes an HCL catalog.
func ParseHCL(data []byte, source string) ([]Definition, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, source)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse %s: %w", source, diags)
	}

	var root hclFile
	if diags := gohcl.DecodeBody(file.Body, nil, &root); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode %s: %w", source, diags)
	}

	defs := make([]Definition, 0, len(root.Playbooks))
	for _, p := range root.Playbooks {
		defs = append(defs, Definition{
			Name:        p.Name,
			Description: p.Description,
			ActionLabel: p.ActionLabel,
			Findings: Findings{
				Title:    p.Titles,
				Workflow: Workflow{Status: p.Statuses},
			},
			Source: source,
		})
	}
	return defs, nil
}

// Builtin returns the embedded CIS playbook table.
func Builtin() ([]Definition, error) {
	entries, err := builtinFS.ReadDir("builtin")
	if err != nil {
		return nil, err
	}
	var defs []Definition
	for _, e := range entries {
		data, err := builtinFS.ReadFile("builtin/" + e.Name())
		if err != nil {
			return nil, err
		}
		parsed, err := ParseYAML(data, "builtin/"+e.Name())
		if err != nil {
			return nil, err
		}
		defs = append(defs, parsed...)
	}
	return defs, nil
}
