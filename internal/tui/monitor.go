package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/keejkrej/mupattern-engine/internal/models"
	"github.com/keejkrej/mupattern-engine/internal/orchestrator"
)

// Monitor runs the task dashboard and feeds it from orchestrator
// subscriptions.
type Monitor struct {
	orch    *orchestrator.Orchestrator
	program *tea.Program
}

func NewMonitor(orch *orchestrator.Orchestrator) *Monitor {
	return &Monitor{orch: orch}
}

// Start creates the dashboard program. Watch may be called as soon as Start
// returns; messages sent before Run are queued.
func (m *Monitor) Start() {
	m.program = tea.NewProgram(NewModel(), tea.WithAltScreen())
}

// Run blocks until the user quits the dashboard.
func (m *Monitor) Run() error {
	if m.program == nil {
		m.Start()
	}
	_, err := m.program.Run()
	return err
}

// Stop quits the dashboard programmatically.
func (m *Monitor) Stop() {
	if m.program != nil {
		m.program.Quit()
	}
}

// Watch follows one task until it reaches a terminal state, relaying its
// progress stream onto the dashboard.
func (m *Monitor) Watch(id string) {
	task, ok := m.orch.Get(id)
	if !ok {
		return
	}
	m.send(TaskAdded{ID: id, Kind: task.Kind})
	m.send(LogMessage{Message: fmt.Sprintf("Started %s task %s", task.Kind, id)})

	if events, ok := m.orch.Subscribe(id); ok {
		for ev := range events {
			m.send(TaskProgress{ID: id, Progress: ev.Progress, Message: ev.Message})
		}
	}
	<-m.orch.Wait(id)

	task, ok = m.orch.Get(id)
	if !ok {
		return
	}
	m.send(TaskFinished{ID: id, Status: task.Status, Error: task.Error})
	if task.Status == models.TaskStatusSucceeded {
		m.send(LogMessage{Message: fmt.Sprintf("✅ Task %s succeeded", id)})
	} else {
		m.send(LogMessage{Message: fmt.Sprintf("❌ Task %s failed", id)})
	}
}

func (m *Monitor) send(msg tea.Msg) {
	if m.program != nil {
		m.program.Send(msg)
	}
}
