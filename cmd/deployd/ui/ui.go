package ui

import (
	"fmt"
	"strings"
	"time"

	"deployd/pkg/sdk/types"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	purple = lipgloss.Color("99")
	green  = lipgloss.Color("76")
	red    = lipgloss.Color("204")
	yellow = lipgloss.Color("214")
	dim    = lipgloss.Color("243")
	faint  = lipgloss.Color("238")
)

var (
	AccentStyle  = lipgloss.NewStyle().Foreground(purple)
	SuccessStyle = lipgloss.NewStyle().Foreground(green)
	ErrorStyle   = lipgloss.NewStyle().Foreground(red)
	WarnStyle    = lipgloss.NewStyle().Foreground(yellow)
	MutedStyle   = lipgloss.NewStyle().Foreground(dim)
	BoldStyle    = lipgloss.NewStyle().Bold(true)
	LabelStyle   = lipgloss.NewStyle().Foreground(dim)
)

func Accent(s string) string  { return AccentStyle.Render(s) }
func Bold(s string) string    { return BoldStyle.Render(s) }
func Muted(s string) string   { return MutedStyle.Render(s) }
func Success(s string) string { return SuccessStyle.Render(s) }
func Warn(s string) string    { return WarnStyle.Render(s) }

func SuccessMsg(format string, a ...any) string {
	return SuccessStyle.Render("✓") + " " + fmt.Sprintf(format, a...)
}

func WarnMsg(format string, a ...any) string {
	return WarnStyle.Render("!") + " " + fmt.Sprintf(format, a...)
}

func ErrorMsg(format string, a ...any) string {
	return ErrorStyle.Render("✗") + " " + fmt.Sprintf(format, a...)
}

func InfoMsg(format string, a ...any) string {
	return AccentStyle.Render("●") + " " + fmt.Sprintf(format, a...)
}

// Outcome colours an attempt outcome.
func Outcome(outcome string) string {
	switch outcome {
	case types.OutcomeSucceeded:
		return Success(outcome)
	case types.OutcomeRolledBack:
		return Warn(outcome)
	case types.OutcomeFailed:
		return ErrorStyle.Render(outcome)
	default:
		return Accent(outcome)
	}
}

// OutcomeMsg is the one-line verdict printed after a deploy.
func OutcomeMsg(a types.Attempt) string {
	switch a.Outcome {
	case types.OutcomeSucceeded:
		return SuccessMsg("%s is serving %s", a.Target, Bold(a.Artifact))
	case types.OutcomeRolledBack:
		return WarnMsg("%s rolled back to %s: %s", a.Target, Bold(a.Previous), a.Message)
	case types.OutcomeFailed:
		return ErrorMsg("%s failed at %s: %s", a.Target, a.FailedPhase, a.Message)
	default:
		return InfoMsg("%s is %s (attempt %s)", a.Target, a.Phase, a.ID)
	}
}

// Pair holds a key-value pair for KeyValues output.
type Pair struct {
	key   string
	value string
}

func KV(key, value string) Pair {
	return Pair{key: key, value: value}
}

// KeyValues renders aligned "key:  value" lines with a trailing newline.
func KeyValues(indent string, pairs ...Pair) string {
	maxLen := 0
	for _, p := range pairs {
		if len(p.key) > maxLen {
			maxLen = len(p.key)
		}
	}

	var sb strings.Builder
	for _, p := range pairs {
		label := fmt.Sprintf("%-*s", maxLen+1, p.key+":")
		sb.WriteString(indent + LabelStyle.Render(label) + " " + p.value + "\n")
	}
	return sb.String()
}

// Table renders a styled table with rounded borders.
func Table(headers []string, rows [][]string) string {
	headerStyle := lipgloss.NewStyle().
		Foreground(purple).
		Bold(true).
		Padding(0, 1)

	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	oddStyle := cellStyle.Foreground(dim)
	evenStyle := cellStyle

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(faint)).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row%2 == 0:
				return evenStyle
			default:
				return oddStyle
			}
		}).
		Headers(headers...).
		Rows(rows...)

	return t.String()
}

// AttemptDetails renders one attempt: a summary block and its phase log.
func AttemptDetails(a types.Attempt) string {
	pairs := []Pair{
		KV("attempt", a.ID),
		KV("target", a.Target),
		KV("container", a.Container),
		KV("artifact", a.Artifact),
	}
	if a.Previous != "" {
		pairs = append(pairs, KV("previous", a.Previous))
	}
	pairs = append(pairs,
		KV("outcome", Outcome(a.Outcome)),
		KV("phase", a.Phase),
		KV("started", formatTime(a.StartedAt)),
		KV("finished", formatTime(a.FinishedAt)),
	)
	if a.ErrorKind != "" {
		pairs = append(pairs, KV("error", a.ErrorKind+" at "+a.FailedPhase))
	}
	if a.Message != "" {
		pairs = append(pairs, KV("message", a.Message))
	}

	var sb strings.Builder
	sb.WriteString(KeyValues("", pairs...))
	if len(a.Log) == 0 {
		return sb.String()
	}

	rows := make([][]string, len(a.Log))
	for i, e := range a.Log {
		phase := e.Phase
		if e.Rollback {
			phase = "rollback/" + phase
		}
		rows[i] = []string{phase, e.Result, e.Artifact, fmt.Sprint(e.Tries), e.Duration.Round(time.Millisecond).String(), e.Message}
	}
	sb.WriteString(Table([]string{"PHASE", "RESULT", "ARTIFACT", "TRIES", "DURATION", "MESSAGE"}, rows))
	sb.WriteString("\n")
	return sb.String()
}

// AttemptTable renders attempts one per row.
func AttemptTable(attempts []types.Attempt) string {
	rows := make([][]string, len(attempts))
	for i, a := range attempts {
		rows[i] = []string{a.ID, a.Target, a.Artifact, a.Outcome, a.FailedPhase, formatTime(a.StartedAt)}
	}
	return Table([]string{"ID", "TARGET", "ARTIFACT", "OUTCOME", "FAILED AT", "STARTED"}, rows)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
