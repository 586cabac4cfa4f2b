package views

import (
	"path/filepath"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tangxiangong/yushi/internal/controller"
	"github.com/tangxiangong/yushi/internal/models"
)

// historyModel lists finished transfers, newest first, with substring search
// over URL and destination.
type historyModel struct {
	mgr       *controller.Manager
	table     table.Model
	search    textinput.Model
	searching bool
	ids       []string
	statusMsg string
	statusErr bool
}

func (m historyModel) GetKeyBinds() []key.Binding {
	return []key.Binding{
		key.NewBinding(key.WithKeys("/"), key.WithHelp("/", "search")),
		key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "clear search")),
		key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "delete record")),
		key.NewBinding(key.WithKeys("D"), key.WithHelp("D", "clear history")),
	}
}

func (m historyModel) GetName() string {
	return "History"
}

func (m historyModel) CapturesKeys() bool {
	return m.searching
}

func InitHistory(mgr *controller.Manager) historyModel {
	columns := []table.Column{
		{Title: "File", Width: 24},
		{Title: "Size", Width: 10},
		{Title: "Speed", Width: 12},
		{Title: "Outcome", Width: 10},
		{Title: "Completed", Width: 18},
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

	search := textinput.New()
	search.Placeholder = "url or filename"
	search.Width = 40

	m := historyModel{mgr: mgr, table: t, search: search}
	m.reload()
	return m
}

func (m *historyModel) reload() {
	var records []models.CompletedTask
	var err error
	if query := m.search.Value(); query != "" {
		records, err = m.mgr.SearchHistory(query)
	} else {
		records, err = m.mgr.History()
	}
	if err != nil {
		m.statusMsg = "Error: " + err.Error()
		m.statusErr = true
		return
	}

	rows := make([]table.Row, 0, len(records))
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, table.Row{
			filepath.Base(rec.Dest),
			formatBytes(rec.TotalBytes),
			formatBytes(rec.AvgSpeed) + "/s",
			string(rec.Outcome),
			rec.CompletedAt.Format("2006-01-02 15:04"),
		})
		ids = append(ids, rec.ID)
	}
	m.table.SetRows(rows)
	m.ids = ids
}

func (m historyModel) Init() tea.Cmd {
	return nil
}

func (m historyModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch msg := msg.(type) {
	case RefreshMsg:
		m.reload()
		return m, nil

	case tea.KeyMsg:
		if m.searching {
			switch msg.String() {
			case "enter", "esc":
				if msg.String() == "esc" {
					m.search.SetValue("")
				}
				m.search.Blur()
				m.searching = false
				m.reload()
				return m, nil
			}
			m.search, cmd = m.search.Update(msg)
			m.reload()
			return m, cmd
		}

		switch msg.String() {
		case "/":
			m.searching = true
			m.search.Focus()
			return m, textinput.Blink
		case "esc":
			m.search.SetValue("")
			m.reload()
			return m, nil
		case "d":
			idx := m.table.Cursor()
			if idx < 0 || idx >= len(m.ids) {
				m.statusMsg = "No record selected"
				m.statusErr = true
				return m, nil
			}
			if err := m.mgr.RemoveHistory(m.ids[idx]); err != nil {
				m.statusMsg = "Error: " + err.Error()
				m.statusErr = true
				return m, nil
			}
			m.reload()
			m.statusMsg = "Record deleted"
			m.statusErr = false
			return m, nil
		case "D":
			if err := m.mgr.ClearHistory(); err != nil {
				m.statusMsg = "Error: " + err.Error()
				m.statusErr = true
				return m, nil
			}
			m.reload()
			m.statusMsg = "History cleared"
			m.statusErr = false
			return m, nil
		}
	}
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m historyModel) View() string {
	out := "Search: " + m.search.View() + "\n"
	out += baseStyle.Render(m.table.View())
	if m.statusMsg != "" {
		style := statusStyle
		if m.statusErr {
			style = errorStyle
		}
		out += "\n" + style.Render(m.statusMsg)
	}
	return out
}
