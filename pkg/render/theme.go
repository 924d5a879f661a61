// Package render draws resource lists, cards and toasts for the terminal
// client with lipgloss.
package render

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/kubelens/kubelens/pkg/models"
	"github.com/kubelens/kubelens/pkg/status"
)

// Theme defines the color scheme and styles for terminal output
type Theme struct {
	Primary lipgloss.AdaptiveColor
	Muted   lipgloss.AdaptiveColor
	Border  lipgloss.AdaptiveColor
	Error   lipgloss.AdaptiveColor
	Success lipgloss.AdaptiveColor
	Warning lipgloss.AdaptiveColor
	Info    lipgloss.AdaptiveColor

	Header lipgloss.Style
	Cell   lipgloss.Style
	Title  lipgloss.Style
	Label  lipgloss.Style
	Card   lipgloss.Style
}

// DefaultTheme returns the Charm-flavored default theme.
func DefaultTheme() *Theme {
	t := &Theme{
		Primary: lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7571F9"},
		Muted:   lipgloss.AdaptiveColor{Light: "243", Dark: "243"},
		Border:  lipgloss.AdaptiveColor{Light: "240", Dark: "240"},
		Error:   lipgloss.AdaptiveColor{Light: "#FF4672", Dark: "#ED567A"},
		Success: lipgloss.AdaptiveColor{Light: "#02BA84", Dark: "#02BF87"},
		Warning: lipgloss.AdaptiveColor{Light: "#FFAA00", Dark: "#FFAA00"},
		Info:    lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7571F9"},
	}

	t.Header = lipgloss.NewStyle().Bold(true).Foreground(t.Primary).Padding(0, 1)
	t.Cell = lipgloss.NewStyle().Padding(0, 1)
	t.Title = lipgloss.NewStyle().Bold(true).Foreground(t.Primary)
	t.Label = lipgloss.NewStyle().Foreground(t.Muted)
	t.Card = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.Border).
		Padding(0, 1)
	return t
}

// SeverityColor maps a status severity to a color.
func (t *Theme) SeverityColor(sev status.Severity) lipgloss.TerminalColor {
	switch sev {
	case status.SeverityOK:
		return t.Success
	case status.SeverityWarning:
		return t.Warning
	case status.SeverityError:
		return t.Error
	default:
		return t.Muted
	}
}

// NotificationColor maps a toast level to a color.
func (t *Theme) NotificationColor(typ models.NotificationType) lipgloss.TerminalColor {
	switch typ {
	case models.NotificationSuccess:
		return t.Success
	case models.NotificationError:
		return t.Error
	case models.NotificationWarning:
		return t.Warning
	default:
		return t.Info
	}
}
