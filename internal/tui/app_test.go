package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tinytelemetry/anystat/internal/model"
)

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	a := NewApp()
	a.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	a.Update(EventMsg{Event: created("load", "")})
	a.Update(EventMsg{Event: created("mem", "")})
	a.Update(EventMsg{Event: sampled("load", 0.75, 0.75, 0.5, 0.25)})
	return a
}

func TestApp_QuitKeys(t *testing.T) {
	for _, k := range []string{"q", "ctrl+c"} {
		a := newTestApp(t)
		_, cmd := a.Update(keyMsg(k))
		if cmd == nil {
			t.Fatalf("%s: expected quit command", k)
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Errorf("%s: command did not quit", k)
		}
	}
}

func TestApp_NavigateAndDetail(t *testing.T) {
	a := newTestApp(t)

	a.Update(keyMsg("j"))
	if got := a.board.current().info.Path; got != "mem" {
		t.Fatalf("selected = %q, want mem", got)
	}
	a.Update(keyMsg("k"))

	a.Update(keyMsg("enter"))
	if a.activePage != pageDetail {
		t.Fatalf("page = %q, want detail", a.activePage)
	}
	view := a.View()
	if !strings.Contains(view, "load") || !strings.Contains(view, "Samples") {
		t.Errorf("detail view missing record fields:\n%s", view)
	}

	a.Update(keyMsg("esc"))
	if a.activePage != pageDashboard {
		t.Errorf("page = %q, want dashboard", a.activePage)
	}
}

func TestApp_PauseKey(t *testing.T) {
	a := newTestApp(t)
	a.Update(keyMsg("p"))
	if !a.board.paused {
		t.Fatal("p did not pause")
	}
	if !strings.Contains(a.View(), "PAUSED") {
		t.Error("status line does not show PAUSED")
	}
	a.Update(keyMsg("p"))
	if a.board.paused {
		t.Error("second p did not resume")
	}
}

func TestDashboardView(t *testing.T) {
	a := newTestApp(t)
	view := a.View()
	for _, want := range []string{"load", "mem", "2 records", "Waiting for samples"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestDashboardView_Empty(t *testing.T) {
	a := NewApp()
	if !strings.Contains(a.View(), "Waiting for records") {
		t.Error("empty dashboard should say it is waiting")
	}
}

func TestDashboard_ScrollKeepsSelectionVisible(t *testing.T) {
	b := newBoard()
	for _, p := range []string{"a", "b", "c", "d", "e", "f"} {
		b.apply(created(p, ""))
	}
	d := newDashboardPage(b, DefaultKeyMap())
	height := 2*panelLines + statusLines

	b.move(5)
	from, to := d.visible(height)
	if from != 4 || to != 6 {
		t.Errorf("visible = [%d,%d), want [4,6)", from, to)
	}
	b.move(-5)
	from, to = d.visible(height)
	if from != 0 || to != 2 {
		t.Errorf("visible = [%d,%d), want [0,2)", from, to)
	}
}

type recordingSender struct {
	msgs []tea.Msg
}

func (r *recordingSender) Send(msg tea.Msg) { r.msgs = append(r.msgs, msg) }

func TestSink_ForwardsEvents(t *testing.T) {
	rs := &recordingSender{}
	s := NewSink(rs)
	history := []float64{1, 2}
	s.Handle(sampled("load", 1, history...))
	s.Handle(model.Event{Kind: model.EventAlert, Alert: model.Alert{Path: "load"}})

	if len(rs.msgs) != 2 {
		t.Fatalf("sent %d messages, want 2", len(rs.msgs))
	}
	msg := rs.msgs[0].(EventMsg)
	history[0] = 99
	if msg.Event.Sample.Stats.History[0] != 1 {
		t.Error("sink must copy sample history")
	}
}
