package tui

import (
	"fmt"
	"strings"

	"github.com/NimbleMarkets/ntcharts/barchart"
	"github.com/charmbracelet/lipgloss"

	"github.com/tinytelemetry/anystat/internal/model"
	"github.com/tinytelemetry/anystat/internal/sink"
)

// chartBars turns a newest-first history into at most n bar heights,
// oldest first, shifted and clamped to the record's display scale. The
// second result is the chart maximum when the scale pins it.
func chartBars(info model.RecordInfo, history []float64, n int) ([]float64, float64, bool) {
	if n <= 0 {
		return nil, 0, false
	}
	count := min(len(history), n)
	lo := 0.0
	if info.ScaleMin.Set {
		lo = info.ScaleMin.Value
	}
	hi, pinned := 0.0, info.ScaleMax.Set && info.ScaleMax.Value > lo
	if pinned {
		hi = info.ScaleMax.Value - lo
	}

	bars := make([]float64, n)
	pad := n - count
	for i := 0; i < count; i++ {
		v := history[count-1-i] - lo
		if v < 0 {
			v = 0
		}
		if pinned && v > hi {
			v = hi
		}
		bars[pad+i] = v
	}
	return bars, hi, pinned
}

// renderChart draws the record's recent history as a bar chart.
func renderChart(p *panel, width, height int) string {
	if width < 4 || height < 1 {
		return ""
	}
	if len(p.stats.History) == 0 {
		return helpStyle.Render("Waiting for samples")
	}

	bars, hi, pinned := chartBars(p.info, p.stats.History, width/2)
	opts := []barchart.Option{
		barchart.WithBarGap(1),
		barchart.WithBarWidth(1),
		barchart.WithNoAxis(),
	}
	if pinned {
		opts = append(opts, barchart.WithMaxValue(hi), barchart.WithNoAutoMaxValue())
	}
	bc := barchart.New(width, height, opts...)
	for _, v := range bars {
		bc.Push(barchart.BarData{
			Values: []barchart.BarValue{{Name: "value", Value: v, Style: barStyle}},
		})
	}
	bc.Draw()
	return bc.View()
}

// panelHeader is the one-line summary above a panel's chart.
func panelHeader(p *panel, width int) string {
	unit := ""
	if p.info.Unit != "" {
		unit = " " + p.info.Unit
	}
	left := p.info.Path
	st := p.stats
	var right string
	switch {
	case st.Count == 0:
		right = "-"
	case st.Count < 2:
		right = fmt.Sprintf("%.3g%s", st.Last, unit)
	default:
		roc, per := sink.ScaleRoC(st.RocMean)
		right = fmt.Sprintf("%.3g%s <%.3g> [%.3g..%.3g] RoC %.3g/%s", st.Last, unit, st.Mean, st.Min, st.Max, roc, per)
	}

	header := chartTitleStyle.Render(left)
	if p.alerts > 0 {
		header += " " + severityStyle(p.lastAlert).Render(fmt.Sprintf("%s x%d", p.lastAlert, p.alerts))
	}
	spacer := width - lipgloss.Width(header) - lipgloss.Width(right)
	if spacer < 1 {
		return header
	}
	return header + strings.Repeat(" ", spacer) + right
}
