package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mailcross/internal/theme"
)

// Layout manages the three-pane terminal layout dimensions.
type Layout struct {
	Width           int
	Height          int
	HeaderHeight    int
	StatusBarHeight int
}

// NewLayout creates a Layout with the given terminal dimensions.
// HeaderHeight and StatusBarHeight default to 1.
func NewLayout(width, height int) Layout {
	return Layout{
		Width:           width,
		Height:          height,
		HeaderHeight:    1,
		StatusBarHeight: 1,
	}
}

// ContentHeight returns the height available for the panes, accounting
// for the header and status bar.
func (l Layout) ContentHeight() int {
	h := l.Height - l.HeaderHeight - l.StatusBarHeight
	if h < 0 {
		return 0
	}
	return h
}

// PaneWidths splits the width into folder, email and preview columns
// in a 1:2:2 ratio.
func (l Layout) PaneWidths() (folders, emails, preview int) {
	folders = l.Width / 5
	emails = (l.Width - folders) / 2
	preview = l.Width - folders - emails
	return folders, emails, preview
}

// RenderHeader renders the top bar: a title on the left and the account
// tabs on the right.
func (l Layout) RenderHeader(title string, tabs string) string {
	titleRendered := theme.HeaderStyle.Render(title)
	gap := l.Width - lipgloss.Width(titleRendered) - lipgloss.Width(tabs)
	if gap < 0 {
		gap = 0
	}

	filler := lipgloss.NewStyle().Width(gap).Render("")
	return lipgloss.JoinHorizontal(lipgloss.Top, titleRendered, filler, tabs)
}

// RenderStatusBar renders the bottom status bar with keyboard hints.
func (l Layout) RenderStatusBar(hints string) string {
	rendered := theme.StatusBarStyle.Render(hints)

	gap := l.Width - lipgloss.Width(rendered)
	if gap < 0 {
		gap = 0
	}

	filler := theme.StatusBarStyle.Render(
		lipgloss.NewStyle().
			Width(gap).
			Background(theme.StatusBarStyle.GetBackground()).
			Render(""),
	)

	return lipgloss.JoinHorizontal(lipgloss.Top, rendered, filler)
}

// RenderPanes frames the three columns side by side. focused is the
// index of the pane drawn with the highlight border.
func (l Layout) RenderPanes(focused int, folders, emails, preview string) string {
	fw, ew, pw := l.PaneWidths()
	h := l.ContentHeight() - 2
	if h < 1 {
		h = 1
	}

	frame := func(i, width int, body string) string {
		style := theme.PaneStyle
		if i == focused {
			style = theme.FocusedPaneStyle
		}
		// Border takes two columns.
		w := width - 2
		if w < 1 {
			w = 1
		}
		return style.Width(w).Height(h).MaxHeight(h + 2).Render(body)
	}

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		frame(0, fw, folders),
		frame(1, ew, emails),
		frame(2, pw, preview),
	)
}

// RenderWithFrame composes a full terminal view by vertically joining
// the header, content area, and status bar.
func (l Layout) RenderWithFrame(
	header string,
	content string,
	statusBar string,
) string {
	return lipgloss.JoinVertical(
		lipgloss.Left,
		header,
		content,
		statusBar,
	)
}
