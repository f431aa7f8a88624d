package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"drover/internal/queue"
	"drover/internal/schedule"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth  = 12
	statusIndent      = "  "
	errorColumnWidth  = 48
	paramsColumnWidth = 32
)

// titleCase builds a fresh caser per call; casers keep state between calls.
func titleCase(value string) string {
	return cases.Title(language.English).String(value)
}

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := statusKindLabel(kind)
	if message != "" {
		statusText = fmt.Sprintf("[%s] %s", statusText, message)
	} else {
		statusText = fmt.Sprintf("[%s]", statusText)
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func renderStatsTable(stats queue.Stats) string {
	rows := make([][]string, 0, len(queue.Priorities)+4)
	for _, p := range queue.Priorities {
		if n := stats.Waiting[p]; n > 0 {
			rows = append(rows, []string{"Waiting " + titleCase(p.String()), strconv.Itoa(n)})
		}
	}
	rows = append(rows,
		[]string{"Due", strconv.Itoa(stats.Due)},
		[]string{"Deferred", strconv.Itoa(stats.Deferred)},
		[]string{"Claimed", strconv.Itoa(stats.Claimed)},
		[]string{"Dead", strconv.Itoa(stats.Dead)},
	)
	return renderTable([]string{"State", "Count"}, rows, []columnAlignment{alignLeft, alignRight})
}

func renderJobsTable(jobs []*queue.Job, now time.Time) string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		claimant := ""
		if job.Claimed() {
			claimant = strconv.Itoa(job.ClaimedBy)
		}
		rows = append(rows, []string{
			strconv.FormatInt(job.ID, 10),
			job.Command,
			truncate(formatParams(job), paramsColumnWidth),
			titleCase(job.Priority.String()),
			titleCase(job.State(now)),
			formatWhen(job.ScheduledAt, now),
			fmt.Sprintf("%d/%d", job.RetryCount, job.MaxRetries),
			claimant,
			truncate(job.LastError, errorColumnWidth),
		})
	}
	return renderTable(
		[]string{"ID", "Command", "Parameters", "Priority", "State", "Scheduled", "Retries", "Claimed By", "Last Error"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	)
}

func renderSchedulesTable(entries []schedule.Entry, lastRuns map[string]time.Time, now time.Time) string {
	rows := make([][]string, 0, len(entries))
	for _, entry := range entries {
		last, ran := lastRuns[entry.Name]
		next := "due"
		if ran {
			if at := entry.Next(last); at.After(now) {
				next = formatWhen(at, now)
			}
		}
		rows = append(rows, []string{
			entry.Name,
			entry.Spec,
			entry.Command,
			titleCase(entry.Priority.String()),
			formatWhen(last, now),
			next,
		})
	}
	return renderTable(
		[]string{"Name", "Spec", "Command", "Priority", "Last Run", "Next Run"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
	)
}

func formatParams(job *queue.Job) string {
	parts := make([]string, 0, len(job.Parameters))
	for _, p := range job.Parameters {
		parts = append(parts, string(p))
	}
	return strings.Join(parts, " ")
}

func formatWhen(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	stamp := t.Local().Format("2006-01-02 15:04:05")
	if t.After(now) {
		return stamp + " (in " + t.Sub(now).Round(time.Second).String() + ")"
	}
	return stamp
}

func truncate(value string, width int) string {
	value = strings.Join(strings.Fields(value), " ")
	runes := []rune(value)
	if len(runes) <= width {
		return value
	}
	return string(runes[:width-1]) + "…"
}
