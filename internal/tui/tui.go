package tui

import (
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tangxiangong/yushi/internal/controller"
	"github.com/tangxiangong/yushi/internal/tui/components"
	"github.com/tangxiangong/yushi/internal/tui/views"
)

// refreshInterval drives table repaints while transfers are running.
const refreshInterval = 500 * time.Millisecond

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

type model struct {
	Tabs      []string
	children  []ChildModel
	help      components.HelpModel
	activeTab int
	width     int
	height    int
}

func (m model) Init() tea.Cmd {
	return tick()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		for i := range m.children {
			child, _ := m.children[i].Update(msg)
			m.children[i] = child.(ChildModel)
		}
		helpModel, _ := m.help.Update(msg)
		m.help = helpModel.(components.HelpModel)
		return m, nil

	case tickMsg:
		// Repaint from live state, then schedule the next tick.
		child, _ := m.children[m.activeTab].Update(views.RefreshMsg{})
		m.children[m.activeTab] = child.(ChildModel)
		return m, tick()

	case tea.KeyMsg:
		// A view in text entry mode gets every key, including the ones the
		// root model would otherwise handle.
		if m.children[m.activeTab].CapturesKeys() {
			break
		}
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "?":
			helpModel, _ := m.help.Update(msg)
			m.help = helpModel.(components.HelpModel)
			return m, nil
		case "right", "tab":
			return m.switchTab(m.activeTab + 1), nil
		case "left", "shift+tab":
			return m.switchTab(m.activeTab - 1), nil
		case "1", "2", "3", "4":
			return m.switchTab(int(msg.String()[0] - '1')), nil
		}
	}

	// Delegate to the active view.
	child, cmd := m.children[m.activeTab].Update(msg)
	m.children[m.activeTab] = child.(ChildModel)
	return m, cmd
}

func (m model) switchTab(idx int) model {
	m.activeTab = min(max(idx, 0), len(m.Tabs)-1)
	m.help = m.help.SetActiveTab(m.children[m.activeTab].GetName())
	// The new tab paints from current state right away.
	child, _ := m.children[m.activeTab].Update(views.RefreshMsg{})
	m.children[m.activeTab] = child.(ChildModel)
	return m
}

func tabBorderWithBottom(left, middle, right string) lipgloss.Border {
	border := lipgloss.RoundedBorder()
	border.BottomLeft = left
	border.Bottom = middle
	border.BottomRight = right
	return border
}

var (
	inactiveTabBorder = tabBorderWithBottom("┴", "─", "┴")
	activeTabBorder   = tabBorderWithBottom("┘", " ", "└")
	docStyle          = lipgloss.NewStyle().Padding(1, 2, 1, 2)
	highlightColor    = lipgloss.Color("#7D56F4")
	inactiveTabStyle  = lipgloss.NewStyle().Border(inactiveTabBorder, true).BorderForeground(highlightColor).Padding(0, 1)
	activeTabStyle    = inactiveTabStyle.Border(activeTabBorder, true)
	windowStyle       = lipgloss.NewStyle().
				BorderForeground(highlightColor).
				Padding(1, 2).
				Border(lipgloss.NormalBorder()).
				UnsetBorderTop()
)

func (m model) View() string {
	doc := strings.Builder{}

	var renderedTabs []string

	tabBarWidth := m.width
	for i, t := range m.Tabs {
		var style lipgloss.Style
		isFirst, isLast, isActive := i == 0, i == len(m.Tabs)-1, i == m.activeTab
		if isActive {
			style = activeTabStyle
		} else {
			style = inactiveTabStyle
		}

		border, _, _, _, _ := style.GetBorder()
		if isFirst && isActive {
			border.BottomLeft = "│"
		} else if isFirst && !isActive {
			border.BottomLeft = "├"
		} else if isLast && isActive {
			border.BottomRight = "└"
		}

		style = style.Width(16).Border(border)
		renderedText := style.Render(t)

		renderedTabs = append(renderedTabs, renderedText)
		tabBarWidth = tabBarWidth - lipgloss.Width(renderedText)
	}

	blankBorder := lipgloss.HiddenBorder()
	blankBorder.Bottom = "─"
	blankBorder.BottomLeft = "─"
	blankBorder.BottomRight = "┐"
	blankTab := lipgloss.NewStyle().
		Width(tabBarWidth - windowStyle.GetHorizontalFrameSize()).
		Border(blankBorder).
		BorderForeground(highlightColor).
		Render("")

	renderedTabs = append(renderedTabs, blankTab)
	row := lipgloss.JoinHorizontal(lipgloss.Top, renderedTabs...)

	tabContents := windowStyle.Width(
		m.width - windowStyle.GetHorizontalFrameSize()).
		Render(m.children[m.activeTab].View())

	doc.WriteString(row)
	doc.WriteString("\n")
	doc.WriteString(tabContents)
	doc.WriteString(m.help.View())

	return docStyle.Render(doc.String())
}

// GetTui assembles the tab models around the manager and returns a program
// ready to Run.
func GetTui(mgr *controller.Manager) *tea.Program {
	children := []ChildModel{
		views.InitAddTask(mgr),
		views.InitTasks(mgr),
		views.InitHistory(mgr),
		views.InitSettings(mgr),
	}

	tabs := make([]string, len(children))
	keyMap := make(map[string]components.TabKeyMap, len(children))
	for i, child := range children {
		tabs[i] = child.GetName()
		keyMap[child.GetName()] = components.TabKeyMap{
			Name:     child.GetName(),
			Bindings: child.GetKeyBinds(),
		}
	}

	m := model{
		Tabs:      tabs,
		children:  children,
		// Default to the task list.
		activeTab: 1,
		help:      components.InitHelp().SetKeyMap(keyMap).SetActiveTab(children[1].GetName()),
	}
	return tea.NewProgram(m, tea.WithAltScreen())
}
