package tui

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

// ChildModel is a tab's view model. The root model queries its name and key
// bindings for the tab bar and the help line.
type ChildModel interface {
	tea.Model
	GetName() string
	GetKeyBinds() []key.Binding
	// CapturesKeys reports whether the view is in a text entry mode and
	// wants keys the root model would otherwise act on.
	CapturesKeys() bool
}
