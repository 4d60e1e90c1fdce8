package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/keejkrej/mupattern-engine/internal/models"
)

type taskRow struct {
	ID       string
	Kind     models.TaskKind
	Status   models.TaskStatus
	Progress float64
	Message  string
	Error    string
}

type Model struct {
	order        []string
	rows         map[string]*taskRow
	logs         []string
	spinner      spinner.Model
	progress     progress.Model
	width        int
	height       int
	quit         bool
	successCount int
	errorCount   int
}

// TaskAdded registers a new task row on the dashboard.
type TaskAdded struct {
	ID   string
	Kind models.TaskKind
}

// TaskProgress updates one task's progress bar and message.
type TaskProgress struct {
	ID       string
	Progress float64
	Message  string
}

// TaskFinished marks a task terminal.
type TaskFinished struct {
	ID     string
	Status models.TaskStatus
	Error  string
}

// LogMessage appends a line to the log pane.
type LogMessage struct {
	Message string
}

func NewModel() Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	pr := progress.New(progress.WithDefaultGradient())

	return Model{
		order:    []string{},
		rows:     make(map[string]*taskRow),
		logs:     []string{},
		spinner:  sp,
		progress: pr,
		width:    80,
		height:   24,
	}
}

func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quit = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = msg.Width - 50

	case TaskAdded:
		m = m.handleTaskAdded(msg)

	case TaskProgress:
		m = m.handleTaskProgress(msg)

	case TaskFinished:
		m = m.handleTaskFinished(msg)

	case LogMessage:
		m = m.handleLogMessage(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		if progressModel, ok := progressModel.(progress.Model); ok {
			m.progress = progressModel
		}
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m Model) handleTaskAdded(msg TaskAdded) Model {
	if _, exists := m.rows[msg.ID]; exists {
		return m
	}
	m.order = append(m.order, msg.ID)
	m.rows[msg.ID] = &taskRow{
		ID:     msg.ID,
		Kind:   msg.Kind,
		Status: models.TaskStatusRunning,
	}
	return m
}

func (m Model) handleTaskProgress(msg TaskProgress) Model {
	if row, exists := m.rows[msg.ID]; exists {
		row.Progress = msg.Progress
		row.Message = msg.Message
	}
	return m
}

func (m Model) handleTaskFinished(msg TaskFinished) Model {
	row, exists := m.rows[msg.ID]
	if !exists {
		return m
	}
	row.Status = msg.Status
	row.Error = msg.Error
	if msg.Status == models.TaskStatusSucceeded {
		row.Progress = 1.0
		m.successCount++
	} else {
		m.errorCount++
	}
	return m
}

func (m Model) handleLogMessage(msg LogMessage) Model {
	m.logs = append(m.logs, fmt.Sprintf("[%s] %s",
		time.Now().Format("15:04:05"), msg.Message))
	if len(m.logs) > 10 {
		m.logs = m.logs[len(m.logs)-10:]
	}
	return m
}

func (m Model) running() int {
	count := 0
	for _, row := range m.rows {
		if !row.Status.Terminal() {
			count++
		}
	}
	return count
}

func (m Model) View() string {
	if m.quit {
		return "Shutting down...\n"
	}

	var s strings.Builder

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("39")).
		MarginBottom(1)

	s.WriteString(headerStyle.Render("🔬 mupattern Task Dashboard"))
	s.WriteString("\n\n")

	summaryStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))

	summary := fmt.Sprintf("Tasks: %d | ⏳ Running: %d | ✅ Succeeded: %d | ❌ Failed: %d",
		len(m.order), m.running(), m.successCount, m.errorCount)
	s.WriteString(summaryStyle.Render(summary))
	s.WriteString("\n\n")

	taskSectionStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1).
		Width(m.width - 2)

	var taskSection strings.Builder
	taskSection.WriteString("📊 Tasks\n")
	taskSection.WriteString(strings.Repeat("─", 60) + "\n")

	for _, id := range m.order {
		row, exists := m.rows[id]
		if !exists {
			continue
		}

		line := fmt.Sprintf("%s %-10s %-8s",
			statusIcon(row.Status),
			row.Kind,
			truncate(row.ID, 8))

		if !row.Status.Terminal() {
			line += fmt.Sprintf(" %s %s", m.spinner.View(), m.progress.ViewAs(row.Progress))
		}

		if row.Error != "" {
			errorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
			line += " " + errorStyle.Render(firstLine(row.Error))
		} else if row.Message != "" {
			messageStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
			line += " " + messageStyle.Render(row.Message)
		}

		statusStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(statusColor(row.Status)))
		taskSection.WriteString(statusStyle.Render(line) + "\n")
	}

	s.WriteString(taskSectionStyle.Render(taskSection.String()))
	s.WriteString("\n\n")

	logSectionStyle := lipgloss.NewStyle().
		Border(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1).
		Width(m.width - 2).
		Height(8)

	var logSection strings.Builder
	logSection.WriteString("📝 Recent Logs\n")
	for _, log := range m.logs {
		logSection.WriteString(log + "\n")
	}

	s.WriteString(logSectionStyle.Render(logSection.String()))
	s.WriteString("\n\n")

	footerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	s.WriteString(footerStyle.Render("Press 'q' to quit | Logs: logs/mupattern-engine_*.log"))

	return s.String()
}

func statusIcon(status models.TaskStatus) string {
	switch status {
	case models.TaskStatusQueued:
		return "⏸"
	case models.TaskStatusRunning:
		return "🔄"
	case models.TaskStatusSucceeded:
		return "✅"
	case models.TaskStatusFailed:
		return "❌"
	case models.TaskStatusCanceled:
		return "🚫"
	default:
		return "❓"
	}
}

func statusColor(status models.TaskStatus) string {
	switch status {
	case models.TaskStatusSucceeded:
		return "82"
	case models.TaskStatusFailed:
		return "196"
	default:
		return "39"
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
