// Package report renders run output as terminal tables.
package report

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/nhle/registry-submit/internal/model"
	"github.com/nhle/registry-submit/internal/theme"
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(theme.BorderStyle).
		Headers(headers...)
}

// Results renders the successful rows of a run.
func Results(records []model.ResultRecord) string {
	if len(records) == 0 {
		return theme.HelpStyle.Render("No numbers were submitted.")
	}

	t := newTable("#", "Phone Number", "Status", "Recorded At", "Feedback ID").
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return theme.HeaderStyle
			case col == 2:
				return theme.StateStyle(model.StatusSubmitted)
			default:
				return theme.CellStyle
			}
		})

	for i, r := range records {
		t.Row(
			strconv.Itoa(i+1),
			r.PhoneNumber,
			r.Status,
			r.RecordedAt.UTC().Format(time.RFC3339),
			r.FeedbackID,
		)
	}
	return t.String()
}

// BatchPlan renders the batches of a dry run with their eligible counts.
func BatchPlan(batches []model.Batch, eligible func(model.Batch) int) string {
	if len(batches) == 0 {
		return theme.HelpStyle.Render("No rows to submit.")
	}

	t := newTable("Batch", "Rows", "Eligible", "First", "Last").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return theme.HeaderStyle
			}
			return theme.CellStyle
		})

	total, totalEligible := 0, 0
	for _, b := range batches {
		n := eligible(b)
		total += b.Len()
		totalEligible += n
		t.Row(
			fmt.Sprintf("%d/%d", b.Index+1, len(batches)),
			strconv.Itoa(b.Len()),
			strconv.Itoa(n),
			b.Rows[0].Phone(),
			b.Rows[b.Len()-1].Phone(),
		)
	}

	summary := theme.HelpStyle.Render(
		fmt.Sprintf("%d rows, %d eligible, %d batches", total, totalEligible, len(batches)),
	)
	return t.String() + "\n" + summary
}

// Attempts renders ledger entries, newest first.
func Attempts(attempts []model.AttemptRecord) string {
	if len(attempts) == 0 {
		return theme.HelpStyle.Render("No attempts recorded yet.")
	}

	t := newTable("Started", "Run", "Batch", "Filled", "State", "Feedback / Error").
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return theme.HeaderStyle
			case col == 4:
				return theme.StateStyle(attempts[row].State)
			default:
				return theme.CellStyle
			}
		})

	for _, a := range attempts {
		state := a.State
		detail := a.FeedbackID
		if a.State == model.StateAborted.String() {
			state = fmt.Sprintf("%s (%s)", a.State, a.FailedIn)
			detail = truncate(a.Error, 60)
		}
		t.Row(
			a.StartedAt.Local().Format(time.DateTime),
			shortID(a.RunID),
			strconv.Itoa(a.BatchIndex+1),
			fmt.Sprintf("%d/%d", a.Filled, a.Rows),
			state,
			detail,
		)
	}
	return t.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
