package progress

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/edvin/maintconsole/internal/jobstate"
)

const (
	padding  = 2
	maxWidth = 60
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	phaseStyle = lipgloss.NewStyle().Faint(true)
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	statusStyles = map[jobstate.Kind]lipgloss.Style{
		jobstate.Pending:   lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		jobstate.Running:   lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		jobstate.Succeeded: lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		jobstate.Failed:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	}
)

type viewMsg jobstate.View

type panelClosedMsg struct{}

// Model renders a Panel in the terminal. Dismissing it with q, esc or
// ctrl+c only closes the view.
type Model struct {
	panel          *Panel
	title          string
	bar            progress.Model
	view           jobstate.View
	exitOnTerminal bool
	dismissed      bool
}

type ModelOption func(*Model)

// ExitOnTerminal quits the program once the job succeeds or fails.
func ExitOnTerminal() ModelOption {
	return func(m *Model) { m.exitOnTerminal = true }
}

func NewModel(panel *Panel, title string, opts ...ModelOption) Model {
	m := Model{
		panel: panel,
		title: title,
		bar:   progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		view:  panel.Current(),
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return waitForView(m.panel.Updates())
}

func waitForView(ch <-chan jobstate.View) tea.Cmd {
	return func() tea.Msg {
		v, ok := <-ch
		if !ok {
			return panelClosedMsg{}
		}
		return viewMsg(v)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.dismissed = true
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.bar.Width = max(min(msg.Width-padding*2-4, maxWidth), 10)
		return m, nil

	case viewMsg:
		m.view = jobstate.View(msg)
		if m.exitOnTerminal && m.view.State.Kind.Terminal() {
			return m, tea.Quit
		}
		return m, waitForView(m.panel.Updates())

	case panelClosedMsg:
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) View() string {
	pad := strings.Repeat(" ", padding)
	st := m.view.State

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(pad + titleStyle.Render(m.heading()) + "\n\n")
	b.WriteString(pad + m.bar.ViewAs(float64(st.Percentage)/100) + "\n")
	b.WriteString(pad + statusStyles[st.Kind].Render(st.Kind.String()))
	if st.Phase != "" {
		b.WriteString("  " + phaseStyle.Render(st.Phase))
	}
	b.WriteString("\n")
	if st.Kind == jobstate.Failed && st.Reason != "" {
		b.WriteString(pad + statusStyles[jobstate.Failed].Render("error: "+st.Reason) + "\n")
	}
	b.WriteString("\n" + pad + helpStyle.Render("q/esc: close (the job keeps running)") + "\n")
	return b.String()
}

// Dismissed reports whether the user closed the view before it ended.
func (m Model) Dismissed() bool { return m.dismissed }

// State returns the last state rendered.
func (m Model) State() jobstate.View { return m.view }

func (m Model) heading() string {
	if m.title != "" {
		return fmt.Sprintf("Job #%d: %s", m.view.JobID, m.title)
	}
	return fmt.Sprintf("Job #%d", m.view.JobID)
}

// Line renders v as a single plain-text line for non-interactive output.
func Line(v jobstate.View) string {
	st := v.State
	s := fmt.Sprintf("job %d: %s %d%%", v.JobID, st.Kind, st.Percentage)
	if st.Phase != "" {
		s += " (" + st.Phase + ")"
	}
	if st.Reason != "" {
		s += ": " + st.Reason
	}
	return s
}

// Run shows panel in the terminal until the user dismisses it, ctx ends, or
// the job finishes when ExitOnTerminal is set.
func Run(ctx context.Context, panel *Panel, title string, opts ...ModelOption) (Model, error) {
	prog := tea.NewProgram(NewModel(panel, title, opts...), tea.WithContext(ctx))
	final, err := prog.Run()
	if err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return Model{}, ctx.Err()
		}
		return Model{}, fmt.Errorf("running progress view: %w", err)
	}
	return final.(Model), nil
}
