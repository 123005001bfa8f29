package main

import (
	"fmt"
	"os"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/contriboss/orb/internal/geminstall"
	"golang.org/x/term"
)

var gemStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))

// attachProgress wires a progress display onto the orchestrator. On a
// terminal it renders a live bar; otherwise it logs one line per progress event.
// The returned function must be called once the operation finishes.
func attachProgress(o *geminstall.Orchestrator, total int) func() {
	if total == 0 {
		return func() {}
	}

	if !term.IsTerminal(int(os.Stderr.Fd())) {
		o.OnEvent = func(e geminstall.Event) {
			fmt.Fprintf(os.Stderr, "%s %s\n", e.Kind, e.Gem)
		}
		return func() {}
	}

	events := make(chan geminstall.Event, 64)
	o.OnEvent = func(e geminstall.Event) {
		events <- e
	}

	model := progressModel{
		bar:    progress.New(progress.WithDefaultGradient()),
		total:  total,
		events: events,
	}
	program := tea.NewProgram(model, tea.WithOutput(os.Stderr))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = program.Run()
	}()

	return func() {
		close(events)
		wg.Wait()
	}
}

type progressModel struct {
	bar     progress.Model
	fetched int
	total   int
	current string
	events  chan geminstall.Event
}

type eventMsg geminstall.Event

type drainedMsg struct{}

func waitForEvent(events chan geminstall.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-events
		if !ok {
			return drainedMsg{}
		}
		return eventMsg(e)
	}
}

func (m progressModel) Init() tea.Cmd {
	return waitForEvent(m.events)
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		if msg.Kind == "fetched" || msg.Kind == "cached" {
			m.fetched++
		}
		m.current = msg.Gem
		return m, waitForEvent(m.events)
	case drainedMsg:
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m progressModel) View() string {
	frac := float64(m.fetched) / float64(m.total)
	if frac > 1 {
		frac = 1
	}
	return fmt.Sprintf("%s %d/%d %s\n", m.bar.ViewAs(frac), m.fetched, m.total, gemStyle.Render(m.current))
}
