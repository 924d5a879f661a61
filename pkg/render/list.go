package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/kubelens/kubelens/pkg/aggregate"
	"github.com/kubelens/kubelens/pkg/models"
)

// CardBreakpoint is the terminal width below which lists render as cards.
const CardBreakpoint = 100

// List renders items of kind as a table, or as cards when width is below
// CardBreakpoint. A zero width always renders a table.
func List(kind string, items []models.Object, width int, theme *Theme) string {
	if len(items) == 0 {
		return theme.Label.Render(fmt.Sprintf("No %s found.", kind))
	}
	if width > 0 && width < CardBreakpoint {
		return Cards(kind, items, width, theme)
	}
	return Table(kind, items, width, theme)
}

// Table renders items as a bordered table.
func Table(kind string, items []models.Object, width int, theme *Theme) string {
	cols := ColumnsFor(kind)
	headers := make([]string, len(cols))
	for i, c := range cols {
		headers[i] = c.Title
	}

	rows := make([][]string, len(items))
	for r, item := range items {
		row := make([]string, len(cols))
		for i, c := range cols {
			row[i] = c.Value(item)
		}
		rows[r] = row
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(theme.Border)).
		BorderColumn(false).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return theme.Header
			}
			if col < len(cols) && cols[col].Status && row >= 0 && row < len(items) {
				sev := models.StatusOf(items[row]).Severity()
				return theme.Cell.Foreground(theme.SeverityColor(sev))
			}
			return theme.Cell
		})
	if width > 0 {
		t = t.Width(width)
	}
	return t.String()
}

// Cards renders each item as a bordered card with one "label: value" line per
// column, for terminals too narrow for a table.
func Cards(kind string, items []models.Object, width int, theme *Theme) string {
	cols := ColumnsFor(kind)
	cardWidth := width - 2
	if cardWidth < 20 {
		cardWidth = 20
	}

	cards := make([]string, 0, len(items))
	for _, item := range items {
		var b strings.Builder
		b.WriteString(theme.Title.Render(item.Meta().Name))
		for _, c := range cols {
			if c.Title == "NAME" {
				continue
			}
			value := c.Value(item)
			if value == "" {
				continue
			}
			style := lipgloss.NewStyle()
			if c.Status {
				style = style.Foreground(theme.SeverityColor(models.StatusOf(item).Severity()))
			}
			b.WriteString("\n")
			b.WriteString(theme.Label.Render(strings.ToLower(c.Title) + ": "))
			b.WriteString(style.Render(value))
		}
		cards = append(cards, theme.Card.Width(cardWidth).Render(b.String()))
	}
	return lipgloss.JoinVertical(lipgloss.Left, cards...)
}

// Footer summarises paging and lists the clusters that failed to answer.
func Footer(page, pages, total int, outcomes []aggregate.Outcome, theme *Theme) string {
	if pages < 1 {
		pages = 1
	}
	lines := []string{theme.Label.Render(fmt.Sprintf("Page %d/%d · %d items", page, pages, total))}
	for _, o := range outcomes {
		if o.OK() {
			continue
		}
		warn := lipgloss.NewStyle().Foreground(theme.Warning)
		lines = append(lines, warn.Render(fmt.Sprintf("! %s unavailable (%s): %s", o.Cluster, o.ErrorType, o.Error)))
	}
	return strings.Join(lines, "\n")
}

// Toast renders a notification on one line, truncated to width.
func Toast(n models.Notification, width int, theme *Theme) string {
	text := n.Title
	if n.Message != "" && n.Message != n.Title {
		text += ": " + n.Message
	}
	if width > 0 {
		max := width - 4
		if max < 20 {
			max = 20
		}
		if r := []rune(text); len(r) > max {
			text = string(r[:max-1]) + "…"
		}
	}
	stamp := ""
	if !n.CreatedAt.IsZero() {
		stamp = theme.Label.Render(n.CreatedAt.Local().Format(time.TimeOnly)) + " "
	}
	return stamp + lipgloss.NewStyle().Foreground(theme.NotificationColor(n.NotificationType)).Render("● "+text)
}

// Grid renders a plain table with the theme's header and border styles.
func Grid(headers []string, rows [][]string, width int, theme *Theme) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(theme.Border)).
		BorderColumn(false).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return theme.Header
			}
			return theme.Cell
		})
	if width > 0 {
		t = t.Width(width)
	}
	return t.String()
}
