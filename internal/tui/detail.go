package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tinytelemetry/anystat/internal/sink"
)

// detailPage shows the full statistics of the selected record.
type detailPage struct {
	board *board
	keys  KeyMap
}

func newDetailPage(b *board, keys KeyMap) *detailPage {
	return &detailPage{board: b, keys: keys}
}

func (d *detailPage) ID() string    { return pageDetail }
func (d *detailPage) Init() tea.Cmd { return nil }

func (d *detailPage) Update(msg tea.Msg) (tea.Cmd, *PageNav) {
	km, ok := msg.(tea.KeyMsg)
	if !ok {
		return nil, nil
	}
	switch {
	case key.Matches(km, d.keys.Enter), key.Matches(km, d.keys.Escape):
		return nil, &PageNav{PageID: pageDashboard}
	case key.Matches(km, d.keys.Up):
		d.board.move(-1)
	case key.Matches(km, d.keys.Down):
		d.board.move(1)
	}
	return nil, nil
}

func (d *detailPage) View(width, height int) string {
	if width <= 0 {
		width = 80
	}
	if height <= 0 {
		height = 24
	}
	p := d.board.current()
	if p == nil {
		return helpStyle.Render("No record selected")
	}

	st := p.stats
	roc, per := sink.ScaleRoC(st.RocMean)
	rocLast, perLast := sink.ScaleRoC(st.RocLast)
	keyStyle := lipgloss.NewStyle().Foreground(ColorWhite)
	valueStyle := lipgloss.NewStyle().Foreground(ColorBlue)
	fields := [][2]string{
		{"Source", fmt.Sprintf("%s (%s)", p.info.Kind, p.info.Mode)},
		{"Samples", fmt.Sprintf("%d", st.Count)},
		{"Last", fmt.Sprintf("%.6g %s", st.Last, p.info.Unit)},
		{"Mean", fmt.Sprintf("%.6g", st.Mean)},
		{"Range", fmt.Sprintf("%.6g .. %.6g", st.Min, st.Max)},
		{"RoC", fmt.Sprintf("%.3g/%s (last %.3g/%s)", roc, per, rocLast, perLast)},
		{"Amplitude", fmt.Sprintf("%.3g (last %.3g)", st.AmpMean, st.AmpLast)},
		{"Cycle", fmt.Sprintf("%.3gs (last %.3gs)", st.UpdMean, st.UpdLast)},
		{"Alerts", fmt.Sprintf("%d", p.alerts)},
	}
	if !st.LastUpdate.IsZero() {
		fields = append(fields, [2]string{"Updated", st.LastUpdate.Format("15:04:05")})
	}
	lines := []string{chartTitleStyle.Render(p.info.Path), ""}
	for _, f := range fields {
		lines = append(lines, keyStyle.Render(fmt.Sprintf("%-10s", f[0]))+" "+valueStyle.Render(f[1]))
	}

	inner := width - 4
	chartHeight := max(chartLines, height-len(lines)-6)
	lines = append(lines, "", renderChart(p, inner, chartHeight))

	body := activeSectionStyle.Width(width - 2).Render(strings.Join(lines, "\n"))
	status := statusStyle.Width(width).Render(" " + helpLine(d.keys.Up, d.keys.Down, d.keys.Escape, d.keys.Pause, d.keys.Quit))
	return lipgloss.JoinVertical(lipgloss.Left, body, status)
}
