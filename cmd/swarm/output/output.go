// Package output holds the swarm CLI's terminal-formatting helpers,
// grounded on cmd/cli/utils/utils.go's color/spinner/table conventions.
package output

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
)

var (
	ColorRed    = color.New(color.FgRed)
	ColorGreen  = color.New(color.FgGreen)
	ColorYellow = color.New(color.FgYellow)
	ColorBlue   = color.New(color.FgBlue)
	ColorBold   = color.New(color.Bold)
)

// NewSpinner matches the teacher's default spinner chrome.
func NewSpinner(message string) *spinner.Spinner {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	s.Color("cyan")
	return s
}

func PrintSuccess(message string) { ColorGreen.Printf("✓ %s\n", message) }
func PrintError(message string)   { ColorRed.Printf("✗ %s\n", message) }
func PrintWarning(message string) { ColorYellow.Printf("⚠ %s\n", message) }
func PrintInfo(message string)    { ColorBlue.Printf("ℹ %s\n", message) }

func PrintHeader(message string) {
	ColorBold.Printf("\n%s\n", message)
	fmt.Println(strings.Repeat("=", len(message)))
}

func PrintSubHeader(message string) {
	ColorBold.Printf("\n%s\n", message)
	fmt.Println(strings.Repeat("-", len(message)))
}

// Table renders headers/rows with tablewriter, matching FormatTable's
// shape but writing straight to stdout since the CLI never needs the
// string form on its own.
func Table(headers []string, rows [][]string) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(headers)
	table.SetBorder(true)
	for _, row := range rows {
		table.Append(row)
	}
	table.Render()
}
