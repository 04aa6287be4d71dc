package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/lunge-fleet/internal/fleet"
	"github.com/wesleyorama2/lunge-fleet/internal/metrics"
)

func samplePlan(t *testing.T) PlanDocument {
	t.Helper()
	global := fleet.DispatchOptions{
		Target: fleet.Target{URL: "http://shop", Username: "admin", Password: "secret"},
		Behavior: fleet.Behavior{Load: fleet.LoadProfile{
			VirtualUsers:   10,
			Ramp:           3 * time.Minute,
			Flat:           time.Minute,
			MaxOverallRate: fleet.TemporalRate{Change: 9, Per: time.Second},
		}},
	}
	plans, err := fleet.Plan(global, 3)
	require.NoError(t, err)
	return NewPlanDocument(global.Behavior.Load, []string{"a", "", "c"}, plans)
}

func sampleReport() *fleet.Report {
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	options := fleet.DispatchOptions{Target: fleet.Target{URL: "http://shop", Password: "secret"}}
	options.Behavior.Load.VirtualUsers = 5
	return &fleet.Report{
		ID:      "d-1",
		Label:   "apply load",
		Phase:   fleet.PhaseFailed,
		Started: started,
		Nodes: []fleet.NodeResult{
			{Index: 0, Node: "a", Options: options, Duration: 2 * time.Second},
			{Index: 1, Node: "b", Options: options, Duration: time.Second, Err: errors.New("connection refused"), Error: "connection refused"},
		},
		Finished: started.Add(2 * time.Second),
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatText, "text": FormatText, "JSON": FormatJSON, "yaml": FormatYAML} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseFormat("xml")
	assert.ErrorContains(t, err, `unknown output format "xml"`)
}

func TestNewPlanDocument(t *testing.T) {
	doc := samplePlan(t)

	require.Len(t, doc.Nodes, 3)
	assert.Equal(t, []string{"a", "node-1", "c"}, []string{doc.Nodes[0].Node, doc.Nodes[1].Node, doc.Nodes[2].Node})
	assert.False(t, doc.Nodes[0].SkipSetup)
	assert.True(t, doc.Nodes[1].SkipSetup)
	assert.Equal(t, 3, doc.Nodes[2].Load.VirtualUsers)
}

func TestPrintPlan_Text(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatText, false).PrintPlan(samplePlan(t)))
	out := buf.String()

	assert.Contains(t, out, "Plan: 10 virtual users over 3 nodes, rate 9 per 1s")
	assert.Contains(t, out, "NODE")
	assert.Contains(t, out, "node-1")
	assert.Contains(t, out, "3 per 1s")
	assert.Contains(t, out, "1 virtual users are lost to rounding")
	assert.NotContains(t, out, "\x1b[", "colors are only used on terminals")
}

func TestPrintPlan_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatJSON, false).PrintPlan(samplePlan(t)))

	out := buf.String()
	require.True(t, json.Valid(buf.Bytes()))
	assert.Equal(t, int64(10), gjson.Get(out, "global.virtualUsers").Int())
	assert.Equal(t, "c", gjson.Get(out, "nodes.2.node").String())
	assert.Equal(t, int64(3), gjson.Get(out, "nodes.#").Int())
	assert.NotContains(t, out, "secret")
}

func TestPrintPlan_YAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatYAML, false).PrintPlan(samplePlan(t)))

	var doc struct {
		Nodes []struct {
			Node string `yaml:"node"`
			Load struct {
				Ramp string `yaml:"ramp"`
			} `yaml:"load"`
		} `yaml:"nodes"`
	}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &doc))
	require.Len(t, doc.Nodes, 3)
	assert.Equal(t, "a", doc.Nodes[0].Node)
	assert.Equal(t, "1m0s", doc.Nodes[0].Load.Ramp)
}

func TestPrintReport_Text(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatText, true).PrintReport(sampleReport()))
	out := buf.String()

	assert.Contains(t, out, "Dispatch d-1 apply load in 2s")
	assert.Contains(t, out, "✓ ok")
	assert.Contains(t, out, "✗ connection refused")
	assert.Contains(t, out, "1 of 2 nodes failed")
}

func TestPrintReport_Succeeded(t *testing.T) {
	report := sampleReport()
	report.Nodes = report.Nodes[:1]
	report.Phase = fleet.PhaseSucceeded

	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatText, true).PrintReport(report))
	assert.Contains(t, buf.String(), "all 1 nodes succeeded")
}

func TestPrintReport_JSONRedactsPasswords(t *testing.T) {
	report := sampleReport()

	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatJSON, false).PrintReport(report))
	out := buf.String()

	assert.NotContains(t, out, "secret")
	assert.Equal(t, "***", gjson.Get(out, "nodes.0.options.target.password").String())
	assert.Equal(t, "connection refused", gjson.Get(out, "nodes.1.error").String())
	assert.Equal(t, "secret", report.Nodes[0].Options.Target.Password, "the report itself is left untouched")
}

func TestPrintSummary(t *testing.T) {
	snapshot := metrics.Snapshot{
		TotalRequests:  12345,
		FailedRequests: 45,
		ErrorRate:      45.0 / 12345,
		TotalBytes:     2_500_000,
		RPS:            205.75,
		Elapsed:        time.Minute,
	}

	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatText, true).PrintSummary("local-0", snapshot))
	out := buf.String()

	assert.Contains(t, out, "local-0 (1m0s)")
	assert.Contains(t, out, "12,345 (45 failed, 0.4%)")
	assert.Contains(t, out, "2.5 MB")
	assert.Contains(t, out, "205.8 req/s")

	buf.Reset()
	require.NoError(t, NewPrinter(&buf, FormatJSON, false).PrintSummary("local-0", snapshot))
	assert.Equal(t, int64(12345), gjson.Get(buf.String(), "local-0.totalRequests").Int())
}

func TestColorSchemes(t *testing.T) {
	scheme := NoColorScheme()
	assert.Equal(t, "✓", scheme.SuccessIcon())
	assert.Equal(t, "✗", scheme.ErrorIcon())
	assert.Equal(t, "⚠", scheme.WarningIcon())

	assert.NotNil(t, DefaultColorScheme().Title)
}

func TestUseColors(t *testing.T) {
	t.Setenv("NO_COLOR", "")
	t.Setenv("FORCE_COLOR", "1")
	assert.True(t, UseColors(&bytes.Buffer{}))

	t.Setenv("NO_COLOR", "1")
	assert.False(t, UseColors(os.Stdout))

	t.Setenv("NO_COLOR", "")
	t.Setenv("FORCE_COLOR", "")
	assert.False(t, UseColors(&strings.Builder{}))
}
