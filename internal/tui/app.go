package tui

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/tinytelemetry/anystat/internal/model"
)

// EventMsg carries one engine event into the program.
type EventMsg struct {
	Event model.Event
}

// App is the top-level Bubble Tea model that routes between pages. Engine
// events and global keys are handled here; everything else goes to the
// active page.
type App struct {
	pages      map[string]Page
	activePage string
	board      *board
	keys       KeyMap
	width      int
	height     int
}

// NewApp creates the dashboard application.
func NewApp() *App {
	b := newBoard()
	keys := DefaultKeyMap()
	pages := []Page{newDashboardPage(b, keys), newDetailPage(b, keys)}
	pageMap := make(map[string]Page, len(pages))
	for _, p := range pages {
		pageMap[p.ID()] = p
	}
	return &App{
		pages:      pageMap,
		activePage: pageDashboard,
		board:      b,
		keys:       keys,
	}
}

func (a *App) Init() tea.Cmd {
	if p, ok := a.pages[a.activePage]; ok {
		return p.Init()
	}
	return nil
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
	case EventMsg:
		a.board.apply(msg.Event)
		return a, nil
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, a.keys.Quit), key.Matches(msg, a.keys.ForceQuit):
			return a, tea.Quit
		case key.Matches(msg, a.keys.Pause):
			a.board.togglePause()
			return a, nil
		}
	}

	p, ok := a.pages[a.activePage]
	if !ok {
		return a, nil
	}

	cmd, nav := p.Update(msg)

	if nav != nil {
		if _, exists := a.pages[nav.PageID]; exists {
			a.activePage = nav.PageID
			initCmd := a.pages[a.activePage].Init()
			return a, tea.Batch(cmd, initCmd)
		}
	}

	return a, cmd
}

func (a *App) View() string {
	if p, ok := a.pages[a.activePage]; ok {
		return p.View(a.width, a.height)
	}
	return "No active page"
}
