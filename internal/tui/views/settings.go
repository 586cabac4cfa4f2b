package views

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/tangxiangong/yushi/internal/controller"
	"github.com/tangxiangong/yushi/internal/models"
)

const (
	fieldMaxConcurrent = iota
	fieldDownloadDir
	fieldTimeout
	fieldMaxHistory
	fieldManifestURL
	fieldCount
)

var fieldLabels = [fieldCount]string{
	"Max concurrent downloads",
	"Download directory",
	"Stall timeout (seconds)",
	"History cap",
	"Update manifest URL",
}

type updateCheckedMsg struct {
	info models.UpdateInfo
	err  error
}

// settingsModel edits the runtime configuration and drives update checks.
// Edits apply on save; a raised concurrency ceiling admits waiting tasks
// immediately.
type settingsModel struct {
	mgr        *controller.Manager
	inputs     []textinput.Model
	focusIndex int
	editing    bool
	statusMsg  string
	statusErr  bool
	updateInfo *models.UpdateInfo
}

func (m settingsModel) GetKeyBinds() []key.Binding {
	return []key.Binding{
		key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "edit field")),
		key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "save")),
		key.NewBinding(key.WithKeys("u"), key.WithHelp("u", "check for updates")),
		key.NewBinding(key.WithKeys("i"), key.WithHelp("i", "install update")),
	}
}

func (m settingsModel) GetName() string {
	return "Settings"
}

func (m settingsModel) CapturesKeys() bool {
	return m.editing
}

func InitSettings(mgr *controller.Manager) settingsModel {
	m := settingsModel{mgr: mgr, inputs: make([]textinput.Model, fieldCount)}
	for i := range m.inputs {
		m.inputs[i] = textinput.New()
		m.inputs[i].Width = 44
	}
	m.loadValues()
	return m
}

// loadValues fills the inputs from the current config.
func (m *settingsModel) loadValues() {
	cfg := m.mgr.Config()
	m.inputs[fieldMaxConcurrent].SetValue(strconv.Itoa(cfg.MaxConcurrentDownloads))
	m.inputs[fieldDownloadDir].SetValue(cfg.DownloadDir)
	m.inputs[fieldTimeout].SetValue(strconv.Itoa(int(cfg.Timeout / time.Second)))
	m.inputs[fieldMaxHistory].SetValue(strconv.Itoa(cfg.MaxHistory))
	m.inputs[fieldManifestURL].SetValue(cfg.UpdateManifestURL)
}

// save parses the inputs back into a config and applies it. Validation
// failures leave the active config untouched.
func (m *settingsModel) save() {
	cfg := m.mgr.Config()

	maxConcurrent, err := strconv.Atoi(strings.TrimSpace(m.inputs[fieldMaxConcurrent].Value()))
	if err != nil {
		m.fail("max concurrent downloads must be a number")
		return
	}
	timeoutSec, err := strconv.Atoi(strings.TrimSpace(m.inputs[fieldTimeout].Value()))
	if err != nil {
		m.fail("timeout must be a number of seconds")
		return
	}
	maxHistory, err := strconv.Atoi(strings.TrimSpace(m.inputs[fieldMaxHistory].Value()))
	if err != nil {
		m.fail("history cap must be a number")
		return
	}

	cfg.MaxConcurrentDownloads = maxConcurrent
	cfg.DownloadDir = strings.TrimSpace(m.inputs[fieldDownloadDir].Value())
	cfg.Timeout = time.Duration(timeoutSec) * time.Second
	cfg.MaxHistory = maxHistory
	cfg.UpdateManifestURL = strings.TrimSpace(m.inputs[fieldManifestURL].Value())

	if err := m.mgr.UpdateConfig(cfg); err != nil {
		m.fail(err.Error())
		return
	}
	m.statusMsg = "Settings saved"
	m.statusErr = false
}

func (m *settingsModel) fail(msg string) {
	m.statusMsg = "Error: " + msg
	m.statusErr = true
}

func (m settingsModel) Init() tea.Cmd {
	return nil
}

func (m settingsModel) checkUpdates() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		info, err := m.mgr.CheckUpdates(ctx)
		return updateCheckedMsg{info: info, err: err}
	}
}

func (m settingsModel) installUpdate() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := m.mgr.InstallUpdate(ctx); err != nil {
			return updateCheckedMsg{err: err}
		}
		return tea.Quit()
	}
}

func (m settingsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case RefreshMsg:
		if !m.editing {
			m.loadValues()
		}
		return m, nil

	case updateCheckedMsg:
		if msg.err != nil {
			m.fail(msg.err.Error())
			return m, nil
		}
		info := msg.info
		m.updateInfo = &info
		if info.Available {
			m.statusMsg = fmt.Sprintf("Update %s available (press i to install)", info.LatestVersion)
		} else {
			m.statusMsg = "Up to date (" + info.CurrentVersion + ")"
		}
		m.statusErr = false
		return m, nil

	case tea.KeyMsg:
		if m.editing {
			switch msg.String() {
			case "enter", "esc":
				m.inputs[m.focusIndex].Blur()
				m.editing = false
				return m, nil
			}
			var cmd tea.Cmd
			m.inputs[m.focusIndex], cmd = m.inputs[m.focusIndex].Update(msg)
			return m, cmd
		}

		switch msg.String() {
		case "down", "j":
			m.focusIndex = min(m.focusIndex+1, fieldCount-1)
		case "up", "k":
			m.focusIndex = max(m.focusIndex-1, 0)
		case "enter":
			m.editing = true
			m.inputs[m.focusIndex].Focus()
			return m, textinput.Blink
		case "s":
			m.save()
		case "u":
			m.statusMsg = "Checking for updates..."
			m.statusErr = false
			return m, m.checkUpdates()
		case "i":
			if m.updateInfo == nil || !m.updateInfo.Available {
				m.fail("no update available, check first")
				return m, nil
			}
			m.statusMsg = "Installing update..."
			m.statusErr = false
			return m, m.installUpdate()
		}
	}
	return m, nil
}

func (m settingsModel) View() string {
	doc := strings.Builder{}
	for i, input := range m.inputs {
		cursor := "  "
		if i == m.focusIndex {
			cursor = "> "
		}
		doc.WriteString(fmt.Sprintf("%s%-26s %s\n", cursor, fieldLabels[i]+":", input.View()))
	}
	doc.WriteString("\n")

	if m.statusMsg != "" {
		style := statusStyle
		if m.statusErr {
			style = errorStyle
		}
		doc.WriteString(style.Render(m.statusMsg))
		doc.WriteString("\n")
	}
	if m.updateInfo != nil && m.updateInfo.Available && m.updateInfo.Notes != "" {
		doc.WriteString("\nRelease notes:\n" + m.updateInfo.Notes + "\n")
	}

	doc.WriteString("\n(Enter to edit a field, s to save)")
	return doc.String()
}
