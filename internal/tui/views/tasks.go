package views

import (
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tangxiangong/yushi/internal/controller"
)

// tasksModel is the live task table. Rows repaint on every RefreshMsg; the
// row order is the registry's insertion order, so the cursor stays put while
// progress advances.
type tasksModel struct {
	mgr       *controller.Manager
	table     table.Model
	ids       []string
	statusMsg string
	statusErr bool
}

func (m tasksModel) GetKeyBinds() []key.Binding {
	return []key.Binding{
		key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "pause")),
		key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "resume/retry")),
		key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "cancel")),
		key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "remove")),
		key.NewBinding(key.WithKeys("C"), key.WithHelp("C", "clear completed")),
	}
}

func (m tasksModel) GetName() string {
	return "Tasks"
}

func (m tasksModel) CapturesKeys() bool {
	return false
}

func InitTasks(mgr *controller.Manager) tasksModel {
	columns := []table.Column{
		{Title: "File", Width: 28},
		{Title: "State", Width: 12},
		{Title: "Progress", Width: 26},
		{Title: "Error", Width: 24},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(12),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	m := tasksModel{mgr: mgr, table: t}
	m.reload()
	return m
}

func (m *tasksModel) reload() {
	tasks := m.mgr.Tasks()
	rows := make([]table.Row, 0, len(tasks))
	ids := make([]string, 0, len(tasks))
	for _, task := range tasks {
		rows = append(rows, table.Row{
			task.FileName(),
			string(task.State),
			formatProgress(task.BytesReceived, task.TotalBytes),
			task.Error,
		})
		ids = append(ids, task.ID)
	}
	m.table.SetRows(rows)
	m.ids = ids
}

// selected returns the task id under the cursor.
func (m tasksModel) selected() (string, bool) {
	idx := m.table.Cursor()
	if idx < 0 || idx >= len(m.ids) {
		return "", false
	}
	return m.ids[idx], true
}

func (m tasksModel) Init() tea.Cmd {
	return nil
}

func (m tasksModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch msg := msg.(type) {
	case RefreshMsg:
		m.reload()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "p":
			m.act("paused", func(id string) error { return m.mgr.PauseTask(id) })
		case "r":
			m.act("resumed", func(id string) error { return m.mgr.ResumeTask(id) })
		case "c":
			m.act("cancelled", func(id string) error { return m.mgr.CancelTask(id) })
		case "d":
			m.act("removed", func(id string) error { return m.mgr.RemoveTask(id) })
		case "C":
			m.mgr.ClearCompletedTasks()
			m.reload()
			m.statusMsg = "Cleared completed tasks"
			m.statusErr = false
		}
	}
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// act applies op to the selected task and surfaces the outcome.
func (m *tasksModel) act(verb string, op func(id string) error) {
	id, ok := m.selected()
	if !ok {
		m.statusMsg = "No task selected"
		m.statusErr = true
		return
	}
	if err := op(id); err != nil {
		m.statusMsg = "Error: " + err.Error()
		m.statusErr = true
		return
	}
	m.reload()
	m.statusMsg = "Task " + verb
	m.statusErr = false
}

func (m tasksModel) View() string {
	out := baseStyle.Render(m.table.View())
	if m.statusMsg != "" {
		style := statusStyle
		if m.statusErr {
			style = errorStyle
		}
		out += "\n" + style.Render(m.statusMsg)
	}
	return out
}
