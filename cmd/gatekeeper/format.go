package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"golang.org/x/term"

	"gatekeeper/internal/pipeline"
	"gatekeeper/internal/risk"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatJSON  OutputFormat = "json"
	FormatHuman OutputFormat = "human"
)

// ParseFormat validates a --format value.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case FormatJSON, FormatHuman:
		return OutputFormat(s), nil
	default:
		return "", fmt.Errorf("unsupported format: %s", s)
	}
}

// writeJSON writes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// isTTY reports whether f is an interactive terminal.
func isTTY(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// terminalWidth returns the stdout width, or 100 when it is not a terminal.
func terminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return 100
}

func init() {
	if !isTTY(os.Stdout) {
		color.NoColor = true
	}
}

// renderTable prints rows under headers.
func renderTable(w io.Writer, headers []string, rows [][]string) error {
	table := tablewriter.NewWriter(w)
	table.Header(headers)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignLeft
	})
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}

// truncatePath keeps the tail of long paths.
func truncatePath(path string, max int) string {
	if max < 4 || len(path) <= max {
		return path
	}
	return "..." + path[len(path)-max+3:]
}

// pathWidth is the room left for a path column next to n fixed columns.
func pathWidth(n int) int {
	w := terminalWidth() - n*12
	if w < 30 {
		return 30
	}
	return w
}

func verdictString(s pipeline.Status) string {
	switch s {
	case pipeline.StatusPass:
		return color.GreenString(string(s))
	case pipeline.StatusWarn:
		return color.YellowString(string(s))
	case pipeline.StatusBlock:
		return color.RedString(string(s))
	default:
		return color.CyanString(string(s))
	}
}

func categoryString(c risk.Category) string {
	switch c {
	case risk.Critical:
		return color.RedString(string(c))
	case risk.Warning:
		return color.YellowString(string(c))
	default:
		return color.GreenString(string(c))
	}
}
