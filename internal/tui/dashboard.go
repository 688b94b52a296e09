package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	chartLines  = 4
	panelLines  = chartLines + 3 // header plus border
	statusLines = 1
)

// dashboardPage lists every record as a header plus a history chart.
type dashboardPage struct {
	board  *board
	keys   KeyMap
	offset int // index of the first visible panel
}

func newDashboardPage(b *board, keys KeyMap) *dashboardPage {
	return &dashboardPage{board: b, keys: keys}
}

func (d *dashboardPage) ID() string    { return pageDashboard }
func (d *dashboardPage) Init() tea.Cmd { return nil }

func (d *dashboardPage) Update(msg tea.Msg) (tea.Cmd, *PageNav) {
	km, ok := msg.(tea.KeyMsg)
	if !ok {
		return nil, nil
	}
	switch {
	case key.Matches(km, d.keys.Up):
		d.board.move(-1)
	case key.Matches(km, d.keys.Down):
		d.board.move(1)
	case key.Matches(km, d.keys.Enter):
		if d.board.current() != nil {
			return nil, &PageNav{PageID: pageDetail}
		}
	}
	return nil, nil
}

// visible returns the range of panels that fit in height rows, keeping
// the selection on screen.
func (d *dashboardPage) visible(height int) (int, int) {
	n := len(d.board.panels)
	fit := max(1, (height-statusLines)/panelLines)
	sel := d.board.selected
	if sel < d.offset {
		d.offset = sel
	}
	if sel >= d.offset+fit {
		d.offset = sel - fit + 1
	}
	d.offset = max(0, min(d.offset, n-fit))
	return d.offset, min(n, d.offset+fit)
}

func (d *dashboardPage) View(width, height int) string {
	if width <= 0 {
		width = 80
	}
	if height <= 0 {
		height = 24
	}
	var rows []string
	if len(d.board.panels) == 0 {
		rows = append(rows, helpStyle.Render("Waiting for records"))
	} else {
		from, to := d.visible(height)
		inner := width - 4
		for i := from; i < to; i++ {
			p := d.board.panels[i]
			style := sectionStyle.Width(width - 2)
			if i == d.board.selected {
				style = activeSectionStyle.Width(width - 2)
			}
			body := lipgloss.JoinVertical(lipgloss.Left, panelHeader(p, inner), renderChart(p, inner, chartLines))
			rows = append(rows, style.Render(body))
		}
	}
	content := lipgloss.JoinVertical(lipgloss.Left, rows...)
	if pad := height - statusLines - lipgloss.Height(content); pad > 0 {
		content += strings.Repeat("\n", pad)
	}
	return lipgloss.JoinVertical(lipgloss.Left, content, d.statusLine(width))
}

func (d *dashboardPage) statusLine(width int) string {
	left := fmt.Sprintf(" anystat  %d records", len(d.board.panels))
	if d.board.paused {
		left += "  PAUSED"
	}
	right := helpLine(d.keys.Up, d.keys.Down, d.keys.Enter, d.keys.Pause, d.keys.Quit)
	spacer := width - lipgloss.Width(left) - lipgloss.Width(right)
	if spacer < 1 {
		return statusStyle.Width(width).Render(left)
	}
	return statusStyle.Width(width).Render(left + strings.Repeat(" ", spacer) + right)
}
