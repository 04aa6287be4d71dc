// Package output renders fleet plans, dispatch reports and run summaries
// for the console, as text tables or as JSON/YAML documents.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/lunge-fleet/internal/fleet"
	"github.com/wesleyorama2/lunge-fleet/internal/metrics"
)

// Format is an output format.
type Format string

const (
	// FormatText is the default human-readable text format
	FormatText Format = "text"
	// FormatJSON outputs in JSON format
	FormatJSON Format = "json"
	// FormatYAML outputs in YAML format
	FormatYAML Format = "yaml"
)

// ParseFormat returns the format named s; an empty s means text.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "":
		return FormatText, nil
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (valid: text, json, yaml)", s)
	}
}

// PlannedNode is one row of a plan.
type PlannedNode struct {
	Index     int               `json:"index" yaml:"index"`
	Node      string            `json:"node" yaml:"node"`
	Load      fleet.LoadProfile `json:"load" yaml:"load"`
	SkipSetup bool              `json:"skipSetup" yaml:"skipSetup"`
}

// PlanDocument is the structured form of a plan.
type PlanDocument struct {
	Global fleet.LoadProfile `json:"global" yaml:"global"`
	Nodes  []PlannedNode     `json:"nodes" yaml:"nodes"`
}

// NewPlanDocument pairs node names with their planned options.
// Credentials are left out.
func NewPlanDocument(global fleet.LoadProfile, names []string, plans []fleet.DispatchOptions) PlanDocument {
	doc := PlanDocument{Global: global, Nodes: make([]PlannedNode, len(plans))}
	for i, plan := range plans {
		name := fmt.Sprintf("node-%d", i)
		if i < len(names) && names[i] != "" {
			name = names[i]
		}
		doc.Nodes[i] = PlannedNode{
			Index:     i,
			Node:      name,
			Load:      plan.Behavior.Load,
			SkipSetup: plan.Behavior.SkipSetup,
		}
	}
	return doc
}

// Printer writes documents to a writer in one format.
type Printer struct {
	w      io.Writer
	format Format
	colors *ColorScheme
}

// NewPrinter creates a printer. Colors are used only for text written to a terminal.
func NewPrinter(w io.Writer, format Format, noColor bool) *Printer {
	colors := NoColorScheme()
	if !noColor && format == FormatText && UseColors(w) {
		colors = DefaultColorScheme()
	}
	return &Printer{w: w, format: format, colors: colors}
}

// PrintPlan renders the per-node share of a load.
func (p *Printer) PrintPlan(doc PlanDocument) error {
	if p.format != FormatText {
		return p.encode(doc)
	}

	g := doc.Global
	fmt.Fprintf(p.w, "%s %d virtual users over %d nodes, rate %s\n\n",
		p.colors.Title.Sprint("Plan:"), g.VirtualUsers, len(doc.Nodes), g.MaxOverallRate)

	tw := tabwriter.NewWriter(p.w, 1, 1, 2, ' ', 0)
	fmt.Fprintln(tw, "NODE\tVUS\tHOLD\tRAMP\tFLAT\tTOTAL\tRATE\tSETUP")
	var vus int
	var ramp time.Duration
	for _, n := range doc.Nodes {
		vus += n.Load.VirtualUsers
		ramp += n.Load.Ramp
		setup := "yes"
		if n.SkipSetup {
			setup = "no"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			n.Node, n.Load.VirtualUsers, n.Load.Hold, n.Load.Ramp, n.Load.Flat,
			n.Load.Total(), n.Load.MaxOverallRate, setup)
	}
	fmt.Fprintf(tw, "total\t%d\t\t%s\t\t%s\t\t\n", vus, ramp, g.Total())
	if err := tw.Flush(); err != nil {
		return err
	}

	if idle := g.VirtualUsers - vus; idle > 0 {
		fmt.Fprintf(p.w, "\n%s %d virtual users are lost to rounding\n", p.colors.WarningIcon(), idle)
	}
	return nil
}

// PrintReport renders the outcome of a dispatch, one row per node.
func (p *Printer) PrintReport(report *fleet.Report) error {
	if p.format != FormatText {
		return p.encode(redacted(report))
	}

	fmt.Fprintf(p.w, "%s %s %s in %s\n\n",
		p.colors.Title.Sprint("Dispatch"), report.ID, report.Label,
		report.Finished.Sub(report.Started).Round(time.Millisecond))

	tw := tabwriter.NewWriter(p.w, 1, 1, 2, ' ', 0)
	fmt.Fprintln(tw, "NODE\tVUS\tDURATION\tRESULT")
	for _, n := range report.Nodes {
		result := p.colors.SuccessIcon() + " ok"
		if n.Err != nil {
			result = p.colors.ErrorIcon() + " " + p.colors.Error.Sprint(n.Err)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n",
			n.Node, n.Options.Behavior.Load.VirtualUsers, n.Duration.Round(time.Millisecond), result)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if d := report.Durations; d.Latency.Count > 0 {
		fmt.Fprintf(p.w, "\nnode durations: min %s  p50 %s  p95 %s  max %s\n",
			d.Latency.Min, d.Latency.P50, d.Latency.P95, d.Latency.Max)
	}

	failed := len(report.Failed())
	switch {
	case failed > 0:
		fmt.Fprintf(p.w, "\n%s %d of %d nodes failed\n", p.colors.ErrorIcon(), failed, len(report.Nodes))
	case report.Phase == fleet.PhaseSucceeded:
		fmt.Fprintf(p.w, "\n%s all %d nodes succeeded\n", p.colors.SuccessIcon(), len(report.Nodes))
	}
	return nil
}

// PrintSummary renders the request metrics of one node's run.
func (p *Printer) PrintSummary(node string, s metrics.Snapshot) error {
	if p.format != FormatText {
		return p.encode(map[string]metrics.Snapshot{node: s})
	}

	fmt.Fprintf(p.w, "%s %s\n", p.colors.Node.Sprint(node), p.colors.Muted.Sprintf("(%s)", s.Elapsed.Round(time.Millisecond)))
	tw := tabwriter.NewWriter(p.w, 1, 1, 1, ' ', 0)
	fmt.Fprintf(tw, "  requests:\t%s (%s failed, %.1f%%)\n",
		humanize.Comma(s.TotalRequests), humanize.Comma(s.FailedRequests), s.ErrorRate*100)
	fmt.Fprintf(tw, "  received:\t%s\n", humanize.Bytes(uint64(s.TotalBytes)))
	fmt.Fprintf(tw, "  throughput:\t%.1f req/s\n", s.RPS)
	fmt.Fprintf(tw, "  latency:\tp50 %s  p95 %s  p99 %s  max %s\n",
		s.Latency.P50, s.Latency.P95, s.Latency.P99, s.Latency.Max)
	return tw.Flush()
}

// redacted returns a copy of report without target passwords.
func redacted(report *fleet.Report) *fleet.Report {
	c := *report
	c.Nodes = append([]fleet.NodeResult(nil), report.Nodes...)
	for i := range c.Nodes {
		if c.Nodes[i].Options.Target.Password != "" {
			c.Nodes[i].Options.Target.Password = "***"
		}
	}
	return &c
}

func (p *Printer) encode(v interface{}) error {
	switch p.format {
	case FormatJSON:
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(p.w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", p.format)
	}
}
