package catalog_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/user/gosec-playbooks/pkg/catalog"
	"github.com/user/gosec-playbooks/pkg/finding"
	"github.com/user/gosec-playbooks/pkg/playbook"
	"github.com/user/gosec-playbooks/pkg/registry"
)

var deployment = playbook.DeploymentContext{
	Region:          "us-east-1",
	AccountID:       "111111111111",
	SolutionID:      "SO0111",
	SolutionVersion: "v1.0.0",
	SolutionName:    "aws-security-hub-automated-response-and-remediation",
	DistBucket:      "solutions",
	DistName:        "aws-security-hub-automated-response-and-remediation",
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestBuiltin(t *testing.T) {
	defs, err := catalog.Builtin()
	require.NoError(t, err)

	var names []string
	for _, d := range defs {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"CIS1314", "CIS15111", "CIS22", "CIS23", "CIS24", "CIS26", "CIS28", "CIS29", "CIS4142", "CIS43"}, names)
	assert.Len(t, defs[1].Findings.Title, 7)
}

func TestLoad_BuiltinRegistry(t *testing.T) {
	r, err := catalog.Load(context.Background(), catalog.Options{Deployment: deployment, Strict: true})
	require.NoError(t, err)
	assert.Equal(t, 10, r.Len())
	require.NoError(t, r.CheckDisjoint())

	d, ok, err := r.Resolve(finding.Finding{Title: "4.2 Ensure no security groups allow ingress from 0.0.0.0/0 to port 3389", Status: "NEW"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "CIS4142", d.Name())
	assert.Equal(t, "CIS 4.1 & 4.2", d.ActionLabel())
	assert.Equal(t, deployment, d.Deployment())
}

func TestLoadPaths_YAMLAndHCL(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", `
playbooks:
  - name: AFSBP_S3_1
    description: Blocks public access on the account.
    custom_action_name: S3.1
    findings:
      Title: ["S3.1 S3 Block Public Access setting should be enabled"]
      Workflow:
        Status: [NEW, NOTIFIED]
`)
	writeFile(t, dir, "b.hcl", `
playbook "AFSBP_EC2_7" {
  description        = "Enables EBS default encryption."
  custom_action_name = "EC2.7"
  titles             = ["EC2.7 EBS default encryption should be enabled"]
  statuses           = ["NEW"]
}
`)
	writeFile(t, dir, "notes.txt", "ignored")

	defs, err := catalog.LoadPaths(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "AFSBP_S3_1", defs[0].Name)
	assert.Equal(t, []string{"NEW", "NOTIFIED"}, defs[0].Findings.Workflow.Status)
	assert.Equal(t, "AFSBP_EC2_7", defs[1].Name)
	assert.Equal(t, "EC2.7", defs[1].ActionLabel)
	assert.Equal(t, filepath.Join(dir, "b.hcl"), defs[1].Source)

	r, err := catalog.Load(context.Background(), catalog.Options{Paths: []string{dir}, Strict: true})
	require.NoError(t, err)
	assert.Equal(t, 12, r.Len())
}

func TestParse_YAMLAndHCLAgree(t *testing.T) {
	fromYAML, err := catalog.ParseYAML([]byte(`
playbooks:
  - name: CIS29
    description: Remediates CIS 2.9 by enabling VPC flow logging.
    custom_action_name: CIS 2.9
    findings:
      Title: ["2.9 Ensure VPC flow logging is enabled in all VPCs"]
      Workflow: {Status: [NEW]}
`), "cis29.yaml")
	require.NoError(t, err)

	fromHCL, err := catalog.ParseHCL([]byte(`
playbook "CIS29" {
  description        = "Remediates CIS 2.9 by enabling VPC flow logging."
  custom_action_name = "CIS 2.9"
  titles             = ["2.9 Ensure VPC flow logging is enabled in all VPCs"]
  statuses           = ["NEW"]
}
`), "cis29.hcl")
	require.NoError(t, err)

	if diff := cmp.Diff(fromYAML, fromHCL, cmpopts.IgnoreFields(catalog.Definition{}, "Source")); diff != "" {
		t.Errorf("YAML and HCL definitions differ (-yaml +hcl):\n%s", diff)
	}
}

func TestParseYAML_UnknownField(t *testing.T) {
	_, err := catalog.ParseYAML([]byte(`
playbooks:
  - name: X
    custom_action_name: X
    findings:
      Titles: ["typo"]
`), "bad.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.yaml")
}

func TestParseHCL_MissingRequired(t *testing.T) {
	_, err := catalog.ParseHCL([]byte(`playbook "X" { titles = ["t"] }`), "bad.hcl")
	require.Error(t, err)
}

func TestBuild_Errors(t *testing.T) {
	dir := t.TempDir()

	dup := writeFile(t, dir, "dup.yaml", `
playbooks:
  - name: CIS43
    custom_action_name: Other label
    findings:
      Title: ["x"]
      Workflow: {Status: [NEW]}
`)
	_, err := catalog.Load(context.Background(), catalog.Options{Paths: []string{dup}})
	require.ErrorIs(t, err, registry.ErrDuplicateName)
	assert.Contains(t, err.Error(), "dup.yaml")

	invalid := writeFile(t, dir, "invalid.yaml", `
playbooks:
  - name: NoStatus
    custom_action_name: NoStatus
    findings:
      Title: ["x"]
`)
	_, err = catalog.Load(context.Background(), catalog.Options{Paths: []string{invalid}})
	require.ErrorIs(t, err, playbook.ErrInvalidDescriptor)

	overlap := writeFile(t, dir, "overlap.yaml", `
playbooks:
  - name: CloudTrail
    custom_action_name: CloudTrail
    findings:
      Title: ["2.2 Ensure CloudTrail log file validation is enabled"]
      Workflow: {Status: [NEW]}
`)
	_, err = catalog.Load(context.Background(), catalog.Options{Paths: []string{overlap}, Strict: true})
	require.ErrorIs(t, err, registry.ErrOverlappingCriteria)

	r, err := catalog.Load(context.Background(), catalog.Options{Paths: []string{overlap}})
	require.NoError(t, err, "overlap is only a warning outside strict mode")
	_, _, err = r.Resolve(finding.Finding{Title: "2.2 Ensure CloudTrail log file validation is enabled", Status: "NEW"})
	require.ErrorIs(t, err, registry.ErrAmbiguousMatch)
}

func TestBuild_CustomActionIDs(t *testing.T) {
	dir := t.TempDir()
	colliding := writeFile(t, dir, "ids.yaml", `
playbooks:
  - name: CloudTrailValidation1
    custom_action_name: Trail one
    findings:
      Title: ["trail one"]
      Workflow: {Status: [NEW]}
  - name: CloudTrailValidation2
    custom_action_name: Trail two
    findings:
      Title: ["trail two"]
      Workflow: {Status: [NEW]}
`)
	_, err := catalog.Load(context.Background(), catalog.Options{Paths: []string{colliding}, SkipBuiltin: true, Strict: true})
	require.ErrorIs(t, err, registry.ErrDuplicateActionID)
	assert.Contains(t, err.Error(), "ids.yaml")

	clash := writeFile(t, dir, "clash.yaml", `
playbooks:
  - name: CIS-22
    custom_action_name: Dashed
    findings:
      Title: ["dashed"]
      Workflow: {Status: [NEW]}
`)
	_, err = catalog.Load(context.Background(), catalog.Options{Paths: []string{clash}})
	require.ErrorIs(t, err, registry.ErrDuplicateActionID, "collides with the builtin CIS22")

	empty := writeFile(t, dir, "empty.yaml", `
playbooks:
  - name: "---"
    custom_action_name: Dashes
    findings:
      Title: ["dashes"]
      Workflow: {Status: [NEW]}
`)
	_, err = catalog.Load(context.Background(), catalog.Options{Paths: []string{empty}, SkipBuiltin: true})
	require.ErrorIs(t, err, playbook.ErrInvalidDescriptor)
}

func TestExport(t *testing.T) {
	r, err := catalog.Load(context.Background(), catalog.Options{Deployment: deployment})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, catalog.Export(&buf, r, "json"))

	var m catalog.Manifest
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	require.Len(t, m.Playbooks, 10)
	first := m.Playbooks[0]
	assert.Equal(t, "CIS1314", first.Name)
	assert.Equal(t, "CIS1314", first.CustomActionID)
	assert.Equal(t, []string{"aws.securityhub"}, first.EventPattern.Source)
	assert.Equal(t, []string{"NEW"}, first.EventPattern.Detail.Findings.Workflow.Status)
	assert.Equal(t, "111111111111", first.Deployment.AccountID)
	assert.Contains(t, buf.String(), `"aws_accountid": "111111111111"`)

	buf.Reset()
	require.NoError(t, catalog.Export(&buf, r, "yaml"))
	var ym catalog.Manifest
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &ym))
	assert.Equal(t, m.Playbooks[9].Name, ym.Playbooks[9].Name)

	require.Error(t, catalog.Export(&buf, r, "toml"))
}
