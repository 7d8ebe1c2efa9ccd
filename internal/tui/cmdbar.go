package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fentz26/glimpse/internal/models"
)

var (
	cmdBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true)
)

// CmdBarModel manages the command input bar
type CmdBarModel struct {
	input       textinput.Model
	suggestions *Suggestions
	focused     bool
	message     string
}

// NewCmdBarModel creates a new command bar
func NewCmdBarModel() *CmdBarModel {
	ti := textinput.New()
	ti.Placeholder = "capture | select x y w h | abort | cancel | delete | clear | jobs"
	ti.CharLimit = 256
	return &CmdBarModel{
		input:       ti,
		suggestions: NewSuggestions(),
	}
}

// Focused reports whether the bar is taking keystrokes.
func (m *CmdBarModel) Focused() bool {
	return m.focused
}

// Focus focuses the command bar
func (m *CmdBarModel) Focus() tea.Cmd {
	m.focused = true
	m.message = ""
	return m.input.Focus()
}

// Blur unfocuses the command bar
func (m *CmdBarModel) Blur() {
	m.focused = false
	m.input.Blur()
	m.input.SetValue("")
	m.suggestions.Update("")
}

// Submit returns the current input and blurs
func (m *CmdBarModel) Submit() string {
	val := strings.TrimSpace(m.input.Value())
	m.Blur()
	return val
}

// SetMessage replaces the hint with a result line.
func (m *CmdBarModel) SetMessage(msg string) {
	m.message = msg
}

// Update handles messages while the bar is focused. Enter with an open
// suggestion list completes the command word instead of submitting.
func (m *CmdBarModel) Update(msg tea.Msg) (*CmdBarModel, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "esc":
			m.Blur()
			return m, nil
		case "up":
			m.suggestions.Prev()
			return m, nil
		case "down":
			m.suggestions.Next()
			return m, nil
		case "tab":
			if sel := m.suggestions.Selected(); sel != nil {
				m.input.SetValue(sel.Text + " ")
				m.input.CursorEnd()
				m.suggestions.Update(m.input.Value())
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	m.suggestions.Update(m.input.Value())
	return m, cmd
}

// View renders the command bar
func (m *CmdBarModel) View(width int) string {
	style := cmdBarStyle.Width(max(width, 1))
	if m.focused {
		line := style.Render(promptStyle.Render(": ") + m.input.View())
		if m.suggestions.IsVisible() {
			line += "\n" + m.suggestions.Render(width)
		}
		return line
	}
	if m.message != "" {
		msgStyle := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(m.message, "Error") {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		return style.Render(msgStyle.Render(m.message))
	}
	return style.Render("Press : to enter a command (capture, select, abort, cancel, delete, clear, jobs)")
}

// cmdContext is what a command may need from the current screen.
type cmdContext struct {
	category string
	selected string
}

// Execute parses and runs a command against the daemon.
func (m *CmdBarModel) Execute(client *Client, input string, ctx cmdContext) tea.Cmd {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return nil
	}

	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "capture":
		category, mode := ctx.category, string(models.ModeFull)
		for _, arg := range args {
			if _, err := models.ParseCategory(arg); err == nil {
				category = arg
				continue
			}
			if _, err := models.ParseMode(arg); err == nil {
				mode = arg
				continue
			}
			err := fmt.Errorf("unknown capture argument %q", arg)
			return func() tea.Msg { return captureDoneMsg{err: err} }
		}
		return captureCmd(client, category, mode)

	case "jobs":
		status := ""
		if len(args) > 0 {
			status = args[0]
		}
		return func() tea.Msg { return showJobsMsg{status: status} }

	case "q", "quit", "exit":
		return tea.Quit

	case "help":
		return result("c/w/s capture full/window/region • tab category • enter details • d delete • D clear • x cancel • J jobs", false)
	}

	return func() tea.Msg {
		switch cmd {
		case "select":
			if len(args) != 4 {
				return cmdResultMsg{message: "Usage: select <x> <y> <width> <height>"}
			}
			var nums [4]int
			for i, arg := range args {
				n, err := strconv.Atoi(arg)
				if err != nil {
					return cmdResultMsg{message: fmt.Sprintf("Error: %q is not a number", arg)}
				}
				nums[i] = n
			}
			region := models.Region{X: nums[0], Y: nums[1], Width: nums[2], Height: nums[3]}
			if err := client.ResolveSelection(region); err != nil {
				return cmdResultMsg{message: "Error: " + err.Error()}
			}
			return cmdResultMsg{message: fmt.Sprintf("✓ Selected %dx%d at %d,%d", region.Width, region.Height, region.X, region.Y)}

		case "abort":
			if err := client.AbortSelection(); err != nil {
				return cmdResultMsg{message: "Error: " + err.Error()}
			}
			return cmdResultMsg{message: "✓ Selection aborted"}

		case "cancel":
			ok, err := client.CancelCapture()
			if err != nil {
				return cmdResultMsg{message: "Error: " + err.Error()}
			}
			if !ok {
				return cmdResultMsg{message: "No capture in progress"}
			}
			return cmdResultMsg{message: "✓ Capture cancelled"}

		case "delete":
			id := ctx.selected
			if len(args) > 0 {
				id = args[0]
			}
			if id == "" {
				return cmdResultMsg{message: "No capture selected"}
			}
			if err := client.DeleteCapture(id); err != nil {
				return cmdResultMsg{message: "Error: " + err.Error()}
			}
			return cmdResultMsg{message: "✓ Capture deleted", refresh: true}

		case "clear":
			category := ctx.category
			if len(args) > 0 {
				category = args[0]
			}
			if category == "all" {
				category = ""
			}
			n, err := client.ClearCaptures(category)
			if err != nil {
				return cmdResultMsg{message: "Error: " + err.Error()}
			}
			return cmdResultMsg{message: fmt.Sprintf("✓ Removed %d captures", n), refresh: true}

		default:
			return cmdResultMsg{message: fmt.Sprintf("Unknown: %s (try: capture, select, cancel, clear, help)", cmd)}
		}
	}
}

func captureCmd(client *Client, category, mode string) tea.Cmd {
	return func() tea.Msg {
		res, err := client.Capture(category, mode)
		return captureDoneMsg{result: res, err: err}
	}
}

func result(message string, refresh bool) tea.Cmd {
	return func() tea.Msg { return cmdResultMsg{message: message, refresh: refresh} }
}
