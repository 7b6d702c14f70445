package render

import "github.com/charmbracelet/lipgloss"

// styles are bound to one renderer so the color profile follows the output
// writer: a pipe or buffer gets plain text.
type styles struct {
	header    lipgloss.Style
	self      lipgloss.Style
	other     lipgloss.Style
	timestamp lipgloss.Style
	body      lipgloss.Style
	separator lipgloss.Style
	pending   lipgloss.Style
	failed    lipgloss.Style
	notice    lipgloss.Style
	attach    lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		header: r.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")),
		self: r.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true),
		other: r.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true),
		timestamp: r.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true),
		body: r.NewStyle().
			PaddingLeft(2),
		separator: r.NewStyle().
			Foreground(lipgloss.Color("243")),
		pending: r.NewStyle().
			Foreground(lipgloss.Color("214")),
		failed: r.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true),
		notice: r.NewStyle().
			Foreground(lipgloss.Color("135")),
		attach: r.NewStyle().
			Foreground(lipgloss.Color("62")).
			Underline(true),
	}
}
