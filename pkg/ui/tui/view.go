package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"boardscraper/pkg/ui"
)

// View renders the dashboard
func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	half := (m.width - 4) / 2
	sections := []string{
		headerStyle.Render("boardscraper · " + m.job),
		m.renderProgressPanel(m.width - 2),
		lipgloss.JoinHorizontal(lipgloss.Top,
			m.renderStatsPanel(half),
			"  ",
			m.renderLogsPanel(half),
		),
	}

	if m.showHelp {
		sections = append(sections, m.renderHelp())
	} else {
		sections = append(sections, helpStyle.Render("Press ? for help"))
	}

	return baseStyle.Width(m.width).Render(lipgloss.JoinVertical(lipgloss.Left, sections...))
}

func (m *Model) renderProgressPanel(width int) string {
	title := titleStyle.Render(" PROGRESS ")

	done := m.startPage - 1 + m.pagesDone + len(m.pagesSkipped)
	status := fmt.Sprintf("%s %s", m.spinner.View(), phaseStyle(m.phase).Render(m.phase.String()))
	if m.phase == PhaseRetrying || m.phase == PhaseWaiting {
		left := time.Until(m.waitUntil)
		if left < 0 {
			left = 0
		}
		status += " " + statsValueStyle.Render(ui.FormatDuration(left.Round(time.Second)))
	}
	if m.phase == PhaseFinished && m.summary != nil {
		if m.summary.State == ui.StateDone {
			status = successStyle.Render("✓ done")
		} else {
			status = errorStyle.Render(fmt.Sprintf("✗ %s, resume from page %d", m.summary.State, m.summary.NextPage))
		}
	}

	lines := []string{
		fmt.Sprintf("%s %d/%d pages", m.bar.ViewAs(m.percentLocked()), done, m.totalPages),
		fmt.Sprintf("page %d • %s", m.currentPage, status),
	}

	return panelStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, lipgloss.JoinVertical(lipgloss.Left, lines...)),
	)
}

func (m *Model) renderStatsPanel(width int) string {
	title := titleStyle.Render(" STATS ")

	elapsed := time.Since(m.startTime)
	rate := 0.0
	if elapsed.Minutes() > 0 {
		rate = float64(m.records) / elapsed.Minutes()
	}

	row := func(label, value string) string {
		return fmt.Sprintf("%s %s", statsLabelStyle.Render(label), statsValueStyle.Render(value))
	}
	stats := []string{
		row("Elapsed:", ui.FormatDuration(elapsed)),
		row("Records:", fmt.Sprintf("%s of %d", formatCount(m.records), m.totalRecords)),
		row("Rate:", fmt.Sprintf("%.1f/min", rate)),
		row("ETA:", ui.FormatDuration(m.eta())),
		row("Retries:", fmt.Sprintf("%d", m.retries)),
		row("Skipped records:", fmt.Sprintf("%d", m.recordsSkipped)),
	}
	if len(m.pagesSkipped) > 0 {
		stats = append(stats, warningStyle.Render(fmt.Sprintf("Skipped pages: %v", m.pagesSkipped)))
	}

	return panelStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, lipgloss.JoinVertical(lipgloss.Left, stats...)),
	)
}

func (m *Model) renderLogsPanel(width int) string {
	title := titleStyle.Render(" LOG ")

	maxLines := m.height - 14
	if maxLines < 3 {
		maxLines = 3
	}
	msgs := m.logMessages
	if len(msgs) > maxLines {
		msgs = msgs[len(msgs)-maxLines:]
	}

	lines := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		text := msg.Message
		if limit := width - 14; limit > 10 && len(text) > limit {
			text = text[:limit-3] + "..."
		}
		lines = append(lines, fmt.Sprintf("%s %s",
			logTimestampStyle.Render(msg.Time.Format("15:04:05")),
			lipgloss.NewStyle().Foreground(msg.Color).Render(text),
		))
	}
	if len(lines) == 0 {
		lines = append(lines, lipgloss.NewStyle().Foreground(dimWhite).Render("No messages"))
	}

	return panelStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(lines, "\n")),
	)
}

func (m *Model) renderHelp() string {
	return helpStyle.Render(strings.Join([]string{
		"q / ctrl+c  stop the crawl (the checkpoint is saved)",
		"ctrl+l      clear the log",
		"?           toggle help",
	}, "\n"))
}
