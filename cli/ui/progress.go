package ui

import (
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"

	"github.com/emberforge/chronicle/cli/styles"
)

// IsTerminal reports whether w writes to an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// ProgressMsg advances a ProgressModel. A zero Total keeps the bar hidden.
type ProgressMsg struct {
	Done    int
	Total   int
	Message string
}

// ProgressDoneMsg ends a ProgressModel.
type ProgressDoneMsg struct {
	Message string
	Err     error
}

// ProgressModel shows a spinner, and a bar once the amount of work is known.
type ProgressModel struct {
	spinner  spinner.Model
	bar      progress.Model
	done     int
	total    int
	message  string
	finished bool
	err      error
}

// NewProgress creates a progress model with an initial message.
func NewProgress(message string) ProgressModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.SuccessStyle

	return ProgressModel{
		spinner: s,
		bar: progress.New(
			progress.WithDefaultGradient(),
			progress.WithWidth(30),
			progress.WithoutPercentage(),
		),
		message: message,
	}
}

func (m ProgressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

	case ProgressMsg:
		m.done, m.total = msg.Done, msg.Total
		if msg.Message != "" {
			m.message = msg.Message
		}
		return m, nil

	case ProgressDoneMsg:
		m.finished = true
		m.message = msg.Message
		m.err = msg.Err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m ProgressModel) View() string {
	if m.finished {
		if m.err != nil {
			return styles.FormatError(fmt.Sprintf("%s: %v", m.message, m.err)) + "\n"
		}
		return styles.FormatSuccess(m.message) + "\n"
	}

	line := m.spinner.View() + " "
	if m.total > 0 {
		line += m.bar.ViewAs(float64(m.done)/float64(m.total)) + " " +
			styles.Muted.Render(fmt.Sprintf("%d/%d ", m.done, m.total))
	}
	return line + styles.Normal.Render(m.message) + "\n"
}

// Tracker drives a ProgressModel for a long running command. A Tracker
// started on something other than a terminal does nothing.
type Tracker struct {
	program *tea.Program
	exited  chan struct{}
}

// StartTracker starts rendering progress to out when out is a terminal.
func StartTracker(out io.Writer, message string) *Tracker {
	if !IsTerminal(out) {
		return &Tracker{}
	}

	t := &Tracker{
		program: tea.NewProgram(NewProgress(message), tea.WithOutput(out), tea.WithInput(nil)),
		exited:  make(chan struct{}),
	}
	go func() {
		defer close(t.exited)
		_, _ = t.program.Run()
	}()
	return t
}

// Active reports whether the tracker renders anything.
func (t *Tracker) Active() bool {
	return t.program != nil
}

// Step reports done of total units complete.
func (t *Tracker) Step(done, total int, message string) {
	if t.program == nil {
		return
	}
	t.program.Send(ProgressMsg{Done: done, Total: total, Message: message})
}

// Finish renders the final line and waits for the tracker to stop drawing.
func (t *Tracker) Finish(message string, err error) {
	if t.program == nil {
		return
	}
	t.program.Send(ProgressDoneMsg{Message: message, Err: err})
	<-t.exited
}
