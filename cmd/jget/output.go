package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"jget/internal/domain"
	"jget/internal/downloader"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("37"))            // dark green
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))             // red
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))            // yellow
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))            // blue
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))            // cyan
	debugStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))           // light grey
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69")) // purple
)

func printSuccess(text string) { fmt.Println(successStyle.Render("✓ " + text)) }
func printError(text string)   { fmt.Println(errorStyle.Render("✗ " + text)) }
func printInfo(text string)    { fmt.Println(infoStyle.Render(text)) }

func stateStyle(state domain.TaskState) lipgloss.Style {
	switch state {
	case domain.TaskStateActive, domain.TaskStateReady:
		return pendingStyle
	case domain.TaskStateFinished:
		return successStyle
	case domain.TaskStateFailed:
		return errorStyle
	case domain.TaskStateCreated:
		return warningStyle
	default:
		return debugStyle
	}
}

type column struct {
	title string
	width int
}

var listColumns = []column{
	{"#", 4},
	{"ID", 10},
	{"FILE", 28},
	{"STATE", 10},
	{"PROGRESS", 9},
	{"RECEIVED", 20},
	{"CREATED", 20},
}

func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// renderEntries writes the transfer table; styled is off for plain output.
func renderEntries(w io.Writer, entries []downloader.Entry, styled bool) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "no downloads")
		return
	}
	cell := func(text string, c column, style lipgloss.Style) string {
		text = shorten(text, c.width-1)
		if !styled {
			return text + strings.Repeat(" ", max(c.width-lipgloss.Width(text), 0))
		}
		return style.Width(c.width).Render(text)
	}

	var header strings.Builder
	for _, c := range listColumns {
		header.WriteString(cell(c.title, c, headerStyle))
	}
	fmt.Fprintln(w, strings.TrimRight(header.String(), " "))

	for _, e := range entries {
		name := e.FileName
		if name == "" {
			name = e.URL
		}
		values := []string{
			fmt.Sprint(e.Index),
			shorten(e.ID, 8),
			name,
			string(e.State),
			downloader.FormatPercent(e.Percent),
			fmt.Sprintf("%s/%s", downloader.FormatBytes(e.Received), downloader.FormatBytes(e.Total)),
			e.CreatedAt.Local().Format(time.DateTime),
		}
		var row strings.Builder
		for i, c := range listColumns {
			style := lipgloss.NewStyle()
			if c.title == "STATE" {
				style = stateStyle(e.State)
			}
			row.WriteString(cell(values[i], c, style))
		}
		fmt.Fprintln(w, strings.TrimRight(row.String(), " "))
		if e.Error != "" && styled {
			fmt.Fprintln(w, debugStyle.Render("    "+e.Error))
		}
	}
}
