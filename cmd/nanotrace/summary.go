package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/coffersTech/nanotrace/internal/catalog"
	"github.com/coffersTech/nanotrace/internal/report"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("238")).
			Width(12)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)

	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	okStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
)

func renderSummary(res *report.Result) string {
	var b strings.Builder
	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label) + " " + value + "\n")
	}

	status := okStyle.Render(res.Status)
	if res.Status != report.StatusSuccess {
		status = errorStyle.Render(res.Status)
	}
	row("status", status)
	if res.Err != nil {
		row("error", res.Err.Error())
		return titleStyle.Render("nanotrace") + "\n" + boxStyle.Render(strings.TrimRight(b.String(), "\n")) + "\n"
	}

	row("output", res.OutDir)
	row("envelopes", strconv.FormatInt(res.Envelopes, 10))
	row("dropped", fmt.Sprintf("%d malformed, %d unknown, %d dangling",
		res.Dropped.Malformed, res.Dropped.UnknownType, res.Dropped.DanglingRefs))
	row("files", strconv.Itoa(len(res.Files)))
	row("modules", strings.Join(res.ModulesRun, ", "))
	if len(res.Skipped) > 0 {
		row("skipped", warnStyle.Render(strings.Join(res.Skipped, ", ")))
	}
	for _, w := range res.Warnings {
		row("warning", warnStyle.Render(w))
	}
	return titleStyle.Render("nanotrace") + "\n" + boxStyle.Render(strings.TrimRight(b.String(), "\n")) + "\n"
}

func renderRuns(runs []catalog.Run) string {
	if len(runs) == 0 {
		return "no runs recorded\n"
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("recent runs") + "\n")
	for _, r := range runs {
		rank := ""
		if r.Rank != nil {
			rank = fmt.Sprintf(" rank %d", *r.Rank)
		}
		status := okStyle.Render(r.Status)
		if r.Status != report.StatusSuccess {
			status = errorStyle.Render(r.Status)
		}
		fmt.Fprintf(&b, "%s %s%s %s %d envelopes -> %s\n",
			r.CreatedAt.Format("2006-01-02 15:04:05"), r.ID, rank, status, r.Envelopes, r.OutDir)
	}
	return b.String()
}
