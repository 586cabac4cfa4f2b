package views

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tangxiangong/yushi/internal/controller"
)

type button struct {
	label  string
	action string
}

type buttonPressedMsg struct {
	action string
}

// addTaskModel is the form for admitting a new download.
type addTaskModel struct {
	mgr *controller.Manager

	startButton  button
	cancelButton button
	focusIndex   int
	inputs       []textinput.Model
	statusMsg    string
	statusErr    bool
}

func (m addTaskModel) GetKeyBinds() []key.Binding {
	return []key.Binding{
		key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "select/confirm")),
		key.NewBinding(key.WithKeys("down"), key.WithHelp("down", "next field")),
		key.NewBinding(key.WithKeys("up"), key.WithHelp("up", "previous field")),
	}
}

func (m addTaskModel) GetName() string {
	return "Add Task"
}

// CapturesKeys is true while an input has focus, so URLs can contain any
// character the root model binds.
func (m addTaskModel) CapturesKeys() bool {
	return m.focusIndex < len(m.inputs)
}

func InitAddTask(mgr *controller.Manager) addTaskModel {
	urlInput := textinput.New()
	urlInput.Placeholder = "https://..."
	urlInput.Focus()
	urlInput.Width = 50

	destInput := textinput.New()
	destInput.Placeholder = "Optional, defaults to the download directory"
	destInput.Width = 50

	return addTaskModel{
		mgr:          mgr,
		startButton:  button{label: "Start Download", action: "start"},
		cancelButton: button{label: "Clear", action: "clear"},
		inputs:       []textinput.Model{urlInput, destInput},
		focusIndex:   0,
	}
}

func (m addTaskModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m addTaskModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case RefreshMsg:
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "down", "tab":
			return m.moveFocus(1), nil
		case "up", "shift+tab":
			return m.moveFocus(-1), nil
		case "esc":
			if m.focusIndex < len(m.inputs) {
				m.inputs[m.focusIndex].Blur()
				m.focusIndex = len(m.inputs)
				return m, nil
			}

		case "enter":
			switch m.focusIndex {
			case len(m.inputs):
				return m, func() tea.Msg { return buttonPressedMsg{action: m.startButton.action} }
			case len(m.inputs) + 1:
				return m, func() tea.Msg { return buttonPressedMsg{action: m.cancelButton.action} }
			default:
				// Enter inside the form submits it too.
				return m, func() tea.Msg { return buttonPressedMsg{action: m.startButton.action} }
			}
		}

	case buttonPressedMsg:
		switch msg.action {
		case "start":
			url := strings.TrimSpace(m.inputs[0].Value())
			dest := strings.TrimSpace(m.inputs[1].Value())

			if url == "" {
				m.statusMsg = "Error: URL cannot be empty"
				m.statusErr = true
				return m, nil
			}

			if _, err := m.mgr.AddTask(url, dest); err != nil {
				m.statusMsg = "Error: " + err.Error()
				m.statusErr = true
				return m, nil
			}
			m.statusMsg = "Download has been queued!"
			m.statusErr = false
			m.clearInputs()
		case "clear":
			m.statusMsg = ""
			m.clearInputs()
		}
		return m, nil
	}

	var cmd tea.Cmd
	for i := range m.inputs {
		m.inputs[i], cmd = m.inputs[i].Update(msg)
	}
	return m, cmd
}

func (m addTaskModel) moveFocus(delta int) addTaskModel {
	if m.focusIndex < len(m.inputs) {
		m.inputs[m.focusIndex].Blur()
	}
	slots := len(m.inputs) + 2
	m.focusIndex = (m.focusIndex + delta + slots) % slots
	if m.focusIndex < len(m.inputs) {
		m.inputs[m.focusIndex].Focus()
	}
	return m
}

func (m addTaskModel) View() string {
	doc := strings.Builder{}

	normalButton := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color("#888888")).
		Padding(0, 3).
		Margin(0, 1)

	focusedButton := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#000000")).
		Background(lipgloss.Color("#00FF00")).
		Padding(0, 3).
		Margin(0, 1)

	doc.WriteString("URL: ")
	doc.WriteString(m.inputs[0].View())
	doc.WriteString("\n\n")

	doc.WriteString("Save to: ")
	doc.WriteString(m.inputs[1].View())
	doc.WriteString("\n\n")

	startButtonStyle := normalButton
	if m.focusIndex == len(m.inputs) {
		startButtonStyle = focusedButton
	}
	cancelButtonStyle := normalButton
	if m.focusIndex == len(m.inputs)+1 {
		cancelButtonStyle = focusedButton
	}
	doc.WriteString(startButtonStyle.Render(m.startButton.label))
	doc.WriteString(cancelButtonStyle.Render(m.cancelButton.label))
	doc.WriteString("\n")

	if m.statusMsg != "" {
		style := statusStyle
		if m.statusErr {
			style = errorStyle
		}
		doc.WriteString(style.Render(m.statusMsg))
		doc.WriteString("\n")
	}

	doc.WriteString("\n(Up/Down to switch fields, Enter to confirm)")
	return doc.String()
}

func (m *addTaskModel) clearInputs() {
	for i := range m.inputs {
		m.inputs[i].SetValue("")
	}
}
