package cmd

import "github.com/charmbracelet/lipgloss"

// Palette
var (
	ColorAccent = lipgloss.Color("#A8D8EA")
	ColorMuted  = lipgloss.Color("#596E79")
	ColorGood   = lipgloss.Color("#4ECDC4")
	ColorAlert  = lipgloss.Color("#FF6B6B")
)

var (
	StyleTitle = lipgloss.NewStyle().
			Foreground(ColorAccent).
			Bold(true)

	StyleTableHeader = lipgloss.NewStyle().
				Foreground(ColorMuted).
				Bold(true).
				Padding(0, 1)

	StyleTableRow = lipgloss.NewStyle().
			Padding(0, 1)

	StyleTableTotal = lipgloss.NewStyle().
			Foreground(ColorGood).
			Bold(true).
			Padding(0, 1)

	StyleTable = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorMuted)

	StyleStatusGood = lipgloss.NewStyle().Foreground(ColorGood).Bold(true)
	StyleStatusBad  = lipgloss.NewStyle().Foreground(ColorAlert).Bold(true)
)

// renderTable lays rows out in aligned columns. The last row is styled
// as a summary when total is set.
func renderTable(headers []string, rows [][]string, total bool) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	line := func(cells []string, style lipgloss.Style) string {
		parts := make([]string, len(cells))
		for i, c := range cells {
			parts[i] = style.Width(widths[i] + 2).Render(c)
		}
		return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
	}

	lines := []string{line(headers, StyleTableHeader)}
	for i, row := range rows {
		style := StyleTableRow
		if total && i == len(rows)-1 {
			style = StyleTableTotal
		}
		lines = append(lines, line(row, style))
	}
	return StyleTable.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}
