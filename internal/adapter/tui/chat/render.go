package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"opsassist/internal/domain"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("5")).Padding(0, 1)
	statusStyle = lipgloss.NewStyle().Faint(true).Padding(0, 1)

	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("4"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))

	toolCardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 1)

	chartCardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("6")).
			Padding(0, 1)
)

// renderTranscript builds the full viewport content: finished entries
// followed by the in-flight turn, if any.
func (m *Model) renderTranscript() string {
	var b strings.Builder
	for _, e := range m.transcript {
		b.WriteString(m.renderEntry(e))
		b.WriteString("\n")
	}
	if m.streaming {
		b.WriteString(m.renderLiveTurn())
	}
	return b.String()
}

func (m *Model) renderEntry(e entry) string {
	var b strings.Builder
	switch e.role {
	case domain.RoleUser:
		b.WriteString(userStyle.Render("you") + "\n")
		b.WriteString(e.content + "\n")
	default:
		b.WriteString(assistantStyle.Render("assistant") + "\n")
		for _, tool := range e.tools {
			b.WriteString(renderToolCard(tool) + "\n")
		}
		if e.chart != nil {
			b.WriteString(renderChartCard(e.chart) + "\n")
		}
		if e.isError {
			b.WriteString(errorStyle.Render(e.content) + "\n")
		} else if e.content != "" {
			b.WriteString(m.renderMarkdown(e.content))
		}
	}
	return b.String()
}

// renderLiveTurn shows the streaming state raw: markdown rendering waits
// until the turn settles, partial markup renders badly.
func (m *Model) renderLiveTurn() string {
	var b strings.Builder
	b.WriteString(assistantStyle.Render("assistant") + "\n")
	for _, tool := range m.turn.ToolExecutions {
		b.WriteString(renderToolCard(tool) + "\n")
	}
	if m.turn.ChartData != nil {
		b.WriteString(renderChartCard(m.turn.ChartData) + "\n")
	}
	if m.turn.StreamedContent != "" {
		b.WriteString(m.turn.StreamedContent)
	}
	b.WriteString("▌\n")
	return b.String()
}

func (m *Model) renderMarkdown(content string) string {
	if m.renderer == nil {
		return content + "\n"
	}
	rendered, err := m.renderer.Render(content)
	if err != nil {
		return content + "\n"
	}
	return rendered
}

func renderToolCard(tool domain.ToolExecution) string {
	status := "ok"
	if tool.Status == domain.ToolStatusError {
		status = "failed"
	}
	line := fmt.Sprintf("⚙ %s · %s · %dms", tool.ToolName, status, tool.ExecutionTimeMs)
	return toolCardStyle.Render(line)
}

// renderChartCard summarizes a chart payload. Actual plotting is beyond a
// terminal transcript; the card shows what the console UI would draw.
func renderChartCard(chart *domain.ChartData) string {
	var b strings.Builder
	title := chart.Title
	if title == "" {
		title = "chart"
	}
	fmt.Fprintf(&b, "📊 %s (%s, %d rows, %s×%s)", title, chart.Type, len(chart.Data), chart.XKey, chart.YKey)

	// Inline bars for small bar charts.
	if chart.Type == domain.ChartBar && len(chart.Data) > 0 && len(chart.Data) <= 12 {
		maxVal := 0.0
		for _, row := range chart.Data {
			if v, ok := numericValue(row[chart.YKey]); ok && v > maxVal {
				maxVal = v
			}
		}
		if maxVal > 0 {
			for _, row := range chart.Data {
				v, ok := numericValue(row[chart.YKey])
				if !ok {
					continue
				}
				width := int(v / maxVal * 20)
				fmt.Fprintf(&b, "\n%-10v %s %v", row[chart.XKey], strings.Repeat("█", width), row[chart.YKey])
			}
		}
	}
	return chartCardStyle.Render(b.String())
}

func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
