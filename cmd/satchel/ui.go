package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

var (
	stylePass   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleWarn   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	styleFail   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	styleAccent = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	styleMuted  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleTitle  = lipgloss.NewStyle().Bold(true)
)

func renderPass(s string) string   { return stylePass.Render(s) }
func renderWarn(s string) string   { return styleWarn.Render(s) }
func renderFail(s string) string   { return styleFail.Render(s) }
func renderAccent(s string) string { return styleAccent.Render(s) }
func renderMuted(s string) string  { return styleMuted.Render(s) }
func renderTitle(s string) string  { return styleTitle.Render(s) }

// configureColor picks the lipgloss color profile for w. NO_COLOR and
// TERM=dumb disable color; CLICOLOR_FORCE enables it off a terminal.
func configureColor(w io.Writer) {
	lipgloss.SetColorProfile(colorProfile(w))
}

func colorProfile(w io.Writer) termenv.Profile {
	if termenv.EnvNoColor() || strings.EqualFold(os.Getenv("TERM"), "dumb") {
		return termenv.Ascii
	}
	if v := os.Getenv("CLICOLOR_FORCE"); v != "" && v != "0" {
		return termenv.EnvColorProfile()
	}
	if isTerminal(w) {
		return termenv.NewOutput(w).ColorProfile()
	}
	return termenv.Ascii
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// structured reports whether results should be printed as json or yaml.
func structured() bool {
	return outputFormat == "json" || outputFormat == "yaml"
}

// printStructured writes v as json or yaml. Both use the json field names.
func printStructured(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatal("failed to encode output: %v", err)
	}
	if outputFormat == "json" {
		fmt.Println(string(data))
		return
	}

	// JSON is valid YAML; re-emitting through a node keeps key order.
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		fatal("failed to encode output: %v", err)
	}
	blockStyle(&node)
	out, err := yaml.Marshal(&node)
	if err != nil {
		fatal("failed to encode output: %v", err)
	}
	fmt.Print(string(out))
}

// blockStyle clears the flow and quoting styles inherited from JSON. The
// encoder still quotes strings that would otherwise read back as another type.
func blockStyle(n *yaml.Node) {
	n.Style &^= yaml.FlowStyle | yaml.DoubleQuotedStyle
	for _, c := range n.Content {
		blockStyle(c)
	}
}

// printResult prints v structured when requested, otherwise calls text.
func printResult(v any, text func()) {
	if structured() {
		printStructured(v)
		return
	}
	text()
}

func formatBytes(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}

// progressBar renders a fixed-width bar for percent in 0..100.
func progressBar(percent, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := percent * width / 100
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", width-filled) + "]"
}
