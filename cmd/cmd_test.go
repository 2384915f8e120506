package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/user/gosec-playbooks/pkg/catalog"
	"github.com/user/gosec-playbooks/pkg/dispatch"
)

const events = `{
  "detail-type": "Security Hub Findings - Imported",
  "source": "aws.securityhub",
  "detail": {"findings": [
    {"Id": "f-1", "Title": "1.4 Ensure access keys are rotated every 90 days or less", "Workflow": {"Status": "NEW"}},
    {"Id": "f-2", "Title": "2.2 Ensure CloudTrail log file validation is enabled", "Workflow": {"Status": "RESOLVED"}}
  ]}
}
`

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runWithInput(t, strings.NewReader(""), args...)
}

func runWithInput(t *testing.T, in io.Reader, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	t.Setenv("GOSEC_PLAYBOOKS_DEPLOYMENT_ACCOUNT_ID", "111111111111")
	resetFlags(rootCmd)

	var out, errOut bytes.Buffer
	rootCmd.SetIn(in)
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

// resetFlags puts every flag back to its default; the command tree is
// package state shared by all tests.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestCatalogValidate(t *testing.T) {
	out, err := run(t, "catalog", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "10 playbooks")
}

func TestResolveCommand(t *testing.T) {
	out, err := run(t, "resolve", "--title", "4.3 Ensure the default security group of every VPC restricts all traffic", "--status", "NEW")
	require.NoError(t, err)
	assert.Contains(t, out, "CIS43")

	out, err = run(t, "resolve", "--title", "4.3 Ensure the default security group of every VPC restricts all traffic", "--status", "SUPPRESSED")
	require.NoError(t, err)
	assert.Contains(t, out, "No playbook claims")
}

func assertSingleRequest(t *testing.T, out string) {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	var req dispatch.Request
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &req))
	assert.Equal(t, "CIS1314", req.Playbook)
	assert.Equal(t, "CIS 1.3 & 1.4", req.ActionLabel)
	assert.Equal(t, "f-1", req.Finding.ID)
	assert.Equal(t, "111111111111", req.Deployment.AccountID)
	assert.Equal(t, "SO0111", req.Deployment.SolutionID)
}

func TestDispatchCommand(t *testing.T) {
	src := writeFile(t, t.TempDir(), "events.json", events)

	out, err := run(t, "dispatch", src)
	require.NoError(t, err)
	assertSingleRequest(t, out)
}

func TestDispatchCommand_WatchRelaysThroughBroker(t *testing.T) {
	out, err := runWithInput(t, strings.NewReader(events), "dispatch", "--watch", "-")
	require.NoError(t, err)
	assertSingleRequest(t, out)
}

func TestDispatchCommand_RejectionStillFlushesTraces(t *testing.T) {
	dir := t.TempDir()
	overlap := writeFile(t, dir, "overlap.yaml", `
playbooks:
  - name: CloudTrail
    custom_action_name: CloudTrail
    findings:
      Title: ["2.2 Ensure CloudTrail log file validation is enabled"]
      Workflow: {Status: [NEW]}
`)
	src := writeFile(t, dir, "events.json",
		`{"Id": "f-3", "Title": "2.2 Ensure CloudTrail log file validation is enabled", "Workflow": {"Status": "NEW"}}`)
	traces := filepath.Join(dir, "traces.json")
	t.Setenv("GOSEC_PLAYBOOKS_TRACING_ENABLED", "true")
	t.Setenv("GOSEC_PLAYBOOKS_TRACING_EXPORTER", "file")
	t.Setenv("GOSEC_PLAYBOOKS_TRACING_FILE_PATH", traces)

	out, err := run(t, "dispatch", "--catalog", overlap, src)
	require.ErrorContains(t, err, "1 finding(s) rejected")
	assert.Empty(t, out)
	assert.Nil(t, tracer, "tracing provider is shut down after a failed run")

	data, err := os.ReadFile(traces)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"Name":"dispatch.finding"`)
}

func TestFileOutputs(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "manifest.yaml")
	cfgPath := filepath.Join(dir, "conf", "config.yaml")

	readConfig := func(t *testing.T) string {
		data, err := os.ReadFile(cfgPath)
		require.NoError(t, err)
		return string(data)
	}

	tests := []struct {
		name    string
		args    []string
		wantErr string
		check   func(t *testing.T, out string)
	}{
		{
			name: "catalog export to file",
			args: []string{"catalog", "export", "--format", "yaml", "--output", manifest},
			check: func(t *testing.T, out string) {
				assert.Empty(t, out)
				data, err := os.ReadFile(manifest)
				require.NoError(t, err)
				var m catalog.Manifest
				require.NoError(t, yaml.Unmarshal(data, &m))
				require.Len(t, m.Playbooks, 10)
				assert.Equal(t, "CIS1314", m.Playbooks[0].CustomActionID)
				assert.Equal(t, "111111111111", m.Playbooks[0].Deployment.AccountID)
			},
		},
		{
			name: "config init writes file",
			args: []string{"config", "init", "--path", cfgPath, "--region", "eu-west-1"},
			check: func(t *testing.T, out string) {
				assert.Contains(t, out, cfgPath)
				assert.Contains(t, readConfig(t), "region: eu-west-1")
				info, err := os.Stat(cfgPath)
				require.NoError(t, err)
				assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
			},
		},
		{
			name:    "config init refuses to overwrite",
			args:    []string{"config", "init", "--path", cfgPath, "--region", "us-east-2"},
			wantErr: "already exists",
			check: func(t *testing.T, out string) {
				assert.Contains(t, readConfig(t), "region: eu-west-1")
			},
		},
		{
			name: "config init force overwrites",
			args: []string{"config", "init", "--path", cfgPath, "--region", "us-east-2", "--force"},
			check: func(t *testing.T, out string) {
				assert.Contains(t, readConfig(t), "region: us-east-2")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, tt.args...)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			tt.check(t, out)
		})
	}
}

func TestConfigShow(t *testing.T) {
	out, err := run(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "solution_id: SO0111")
	assert.Contains(t, out, "account_id: \"111111111111\"")
}
