// Package tui provides terminal UI components.
package tui

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lepinkainen/reelbase/internal/pipeline"
)

const (
	defaultBarWidth = 60
	minBarWidth     = 20
)

type program interface {
	Run() (tea.Model, error)
	Send(msg tea.Msg)
}

var startProgram = func(m tea.Model) program {
	return tea.NewProgram(m)
}

// RunFunc is the work shown by RunProgress. It must call report for every
// progress update and return when ctx is cancelled.
type RunFunc func(ctx context.Context, report func(pipeline.Progress)) error

type progressMsg pipeline.Progress

type finishedMsg struct {
	err error
}

type progressModel struct {
	title   string
	bar     progress.Model
	cancel  context.CancelFunc
	started time.Time

	current     pipeline.Progress
	finished    bool
	interrupted bool
	err         error
}

func newProgressModel(title string, cancel context.CancelFunc) *progressModel {
	return &progressModel{
		title:   title,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(defaultBarWidth)),
		cancel:  cancel,
		started: time.Now(),
	}
}

func (m *progressModel) Init() tea.Cmd { return nil }

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case progressMsg:
		m.current = pipeline.Progress(msg)
	case finishedMsg:
		m.finished = true
		m.err = msg.err
		return m, tea.Quit
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			// Keep rendering until the run has unwound and saved its cache.
			if !m.interrupted {
				m.interrupted = true
				m.cancel()
			}
		}
	case tea.WindowSizeMsg:
		m.bar.Width = clamp(defaultBarWidth, msg.Width-4, minBarWidth)
	}
	return m, nil
}

func (m *progressModel) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(m.title))
	b.WriteString("\n")

	if m.current.Stage == "" {
		b.WriteString(statusStyle.Render("Starting..."))
		b.WriteString("\n")
	} else {
		b.WriteString(stageStyle.Render(string(m.current.Stage)))
		b.WriteString(" ")
		b.WriteString(statusStyle.Render(m.counter()))
		b.WriteString("\n")
		if m.current.Total > 0 {
			b.WriteString(m.bar.ViewAs(m.fraction()))
			b.WriteString("\n")
		}
	}

	elapsed := time.Since(m.started).Round(time.Second)
	switch {
	case m.finished && m.err != nil:
		b.WriteString(errorStyle.Render(fmt.Sprintf("Failed after %s: %v", elapsed, m.err)))
	case m.finished:
		b.WriteString(doneStyle.Render(fmt.Sprintf("Done in %s", elapsed)))
	case m.interrupted:
		b.WriteString(helpStyle.Render("Cancelling, saving cache..."))
	default:
		b.WriteString(helpStyle.Render(fmt.Sprintf("%s elapsed | q cancel", elapsed)))
	}
	b.WriteString("\n")
	return b.String()
}

func (m *progressModel) counter() string {
	if m.current.Total > 0 {
		return fmt.Sprintf("%d/%d", m.current.Done, m.current.Total)
	}
	return fmt.Sprintf("%d", m.current.Done)
}

func (m *progressModel) fraction() float64 {
	if m.current.Total <= 0 {
		return 0
	}
	f := float64(m.current.Done) / float64(m.current.Total)
	if f > 1 {
		return 1
	}
	return f
}

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("214")).
			MarginBottom(1)

	stageStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("110"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	doneStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("78"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("161")).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			MarginTop(1).
			Foreground(lipgloss.Color("244"))
)

// RunProgress runs fn while drawing a progress bar. Pressing q or ctrl+c
// cancels the context given to fn. The error of fn is returned; if the
// display cannot start, fn still runs to completion without it.
func RunProgress(ctx context.Context, title string, fn RunFunc) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := newProgressModel(title, cancel)
	p := startProgram(m)

	result := make(chan error, 1)
	go func() {
		err := fn(ctx, func(pr pipeline.Progress) {
			p.Send(progressMsg(pr))
		})
		p.Send(finishedMsg{err: err})
		result <- err
	}()

	if _, err := p.Run(); err != nil {
		slog.Warn("Progress display failed, continuing without it", "error", err)
	}
	return <-result
}

func clamp(defaultValue, available, minimum int) int {
	width := defaultValue
	if available > 0 && available < defaultValue {
		width = available
	}
	if width < minimum {
		width = minimum
	}
	return width
}
