package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/edvin/maintconsole/internal/maintenance"
)

// render prints v as json or yaml, or calls table for the default format.
func render(v any, table func()) error {
	switch outputFmt {
	case "json":
		return printJSON(v)
	case "yaml":
		return printYAML(v)
	default:
		table()
		return nil
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printYAML(v any) error {
	// Convert through JSON to get consistent keys (json tags).
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var m any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	enc := yaml.NewEncoder(stdout)
	enc.SetIndent(2)
	return enc.Encode(m)
}

func printTable(headers []string, rows [][]string) {
	w := tabwriter.NewWriter(stdout, 0, 8, 2, ' ', 0)

	upperHeaders := make([]string, len(headers))
	for i, h := range headers {
		upperHeaders[i] = strings.ToUpper(h)
	}
	fmt.Fprintln(w, strings.Join(upperHeaders, "\t"))

	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}

	w.Flush()
}

// truncate shortens a string to max runes, appending "..." if truncated.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

// jobOutput is the structured form of one job table row.
type jobOutput struct {
	ID                int64     `json:"id"`
	Title             string    `json:"title"`
	Database          string    `json:"database"`
	ScheduledAt       time.Time `json:"scheduled_at"`
	Status            string    `json:"status"`
	BackendStatus     string    `json:"backend_status"`
	Percentage        int       `json:"percentage"`
	Phase             string    `json:"phase,omitempty"`
	Reason            string    `json:"reason,omitempty"`
	CanStart          bool      `json:"can_start"`
	CanGenerateReport bool      `json:"can_generate_report"`
}

func toJobOutput(r maintenance.Row) jobOutput {
	return jobOutput{
		ID:                r.Job.ID,
		Title:             r.Job.Title,
		Database:          r.Job.Database,
		ScheduledAt:       r.Job.ScheduledAt,
		Status:            r.State.Kind.String(),
		BackendStatus:     r.Job.Status,
		Percentage:        r.State.Percentage,
		Phase:             r.State.Phase,
		Reason:            r.State.Reason,
		CanStart:          r.CanStart(),
		CanGenerateReport: r.CanGenerateReport(),
	}
}

var jobHeaders = []string{"id", "title", "database", "scheduled", "status", "progress", "actions"}

func jobTableRow(j jobOutput) []string {
	var actions []string
	if j.CanStart {
		actions = append(actions, "start")
	}
	if j.CanGenerateReport {
		actions = append(actions, "report")
	}
	status := j.Status
	if j.Reason != "" {
		status += ": " + truncate(j.Reason, 30)
	}
	return []string{
		fmt.Sprintf("%d", j.ID),
		truncate(j.Title, 40),
		j.Database,
		j.ScheduledAt.Local().Format("2006-01-02 15:04"),
		status,
		fmt.Sprintf("%d%%", j.Percentage),
		strings.Join(actions, ","),
	}
}

func printJobs(rows []jobOutput) {
	table := make([][]string, 0, len(rows))
	for _, r := range rows {
		table = append(table, jobTableRow(r))
	}
	printTable(jobHeaders, table)
}
