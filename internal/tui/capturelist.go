package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fentz26/glimpse/internal/models"
)

var (
	listTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	modeFull   = lipgloss.NewStyle().Foreground(lipgloss.Color("4")) // Blue
	modeWindow = lipgloss.NewStyle().Foreground(lipgloss.Color("6")) // Cyan
	modeRegion = lipgloss.NewStyle().Foreground(lipgloss.Color("3")) // Yellow
	handedOff  = lipgloss.NewStyle().Foreground(lipgloss.Color("2")) // Green
)

// CaptureItem implements list.Item for a queued capture
type CaptureItem struct {
	models.Summary
}

func (i CaptureItem) FilterValue() string { return i.ID }
func (i CaptureItem) Title() string {
	return fmt.Sprintf("%s  %s", i.CreatedAt.Local().Format("15:04:05"), shortID(i.ID))
}
func (i CaptureItem) Description() string {
	parts := []string{formatMode(i.Mode), formatSize(i.Size)}
	if i.Preview != nil {
		parts = append(parts, fmt.Sprintf("preview %dx%d", i.Preview.Width, i.Preview.Height))
	}
	if i.ArtifactID != "" {
		parts = append(parts, handedOff.Render("● handed off"))
	}
	return strings.Join(parts, " • ")
}

func formatMode(mode models.CaptureMode) string {
	switch mode {
	case models.ModeFull:
		return modeFull.Render("full")
	case models.ModeWindow:
		return modeWindow.Render("window")
	case models.ModeRegion:
		return modeRegion.Render("region")
	default:
		return string(mode)
	}
}

func formatSize(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// CaptureListModel shows one category queue
type CaptureListModel struct {
	client      *Client
	list        list.Model
	captures    []models.Summary
	category    string
	categoryIdx int
	loading     bool
}

// NewCaptureListModel creates a new capture list model
func NewCaptureListModel(client *Client) *CaptureListModel {
	delegate := list.NewDefaultDelegate()
	l := list.New([]list.Item{}, delegate, 80, 20)
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(true)
	l.SetShowHelp(false)
	l.KeyMap.Quit.SetEnabled(false)
	l.Styles.Title = listTitleStyle

	m := &CaptureListModel{
		client: client,
		list:   l,
	}
	m.setCategory(0)
	return m
}

// Category returns the queue being shown.
func (m *CaptureListModel) Category() string {
	return m.category
}

// SetSize sets the list dimensions
func (m *CaptureListModel) SetSize(w, h int) {
	m.list.SetSize(w, h)
}

// Filtering reports whether the list is taking keystrokes for its filter.
func (m *CaptureListModel) Filtering() bool {
	return m.list.FilterState() == list.Filtering
}

// Len returns the number of captures shown.
func (m *CaptureListModel) Len() int {
	return len(m.captures)
}

// SelectedCapture returns the currently selected capture
func (m *CaptureListModel) SelectedCapture() *models.Summary {
	if item, ok := m.list.SelectedItem().(CaptureItem); ok {
		return &item.Summary
	}
	return nil
}

// CycleCategory switches to the next category queue
func (m *CaptureListModel) CycleCategory() tea.Cmd {
	m.setCategory((m.categoryIdx + 1) % len(models.Categories))
	m.captures = nil
	return tea.Batch(m.list.SetItems(nil), m.Refresh())
}

func (m *CaptureListModel) setCategory(idx int) {
	m.categoryIdx = idx
	m.category = string(models.Categories[idx])
	m.list.Title = fmt.Sprintf("Captures [%s]", m.category)
}

// Refresh fetches the queue from the API
func (m *CaptureListModel) Refresh() tea.Cmd {
	m.loading = true
	category := m.category
	return func() tea.Msg {
		items, err := m.client.ListCaptures(category)
		if err != nil {
			return errMsg{err}
		}
		return capturesLoadedMsg{category: category, items: items}
	}
}

// Update handles messages
func (m *CaptureListModel) Update(msg tea.Msg) (*CaptureListModel, tea.Cmd) {
	switch msg := msg.(type) {
	case capturesLoadedMsg:
		if msg.category != m.category {
			return m, nil
		}
		m.loading = false
		m.captures = msg.items
		// Newest first
		items := make([]list.Item, len(m.captures))
		for i, c := range m.captures {
			items[len(items)-1-i] = CaptureItem{c}
		}
		return m, m.list.SetItems(items)
	case errMsg:
		m.loading = false
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View renders the capture list
func (m *CaptureListModel) View() string {
	if m.loading && len(m.captures) == 0 {
		return "\n  Loading captures..."
	}
	if len(m.captures) == 0 {
		return fmt.Sprintf("\n  %s\n\n  No %s captures queued. Press c, w or s to take one.",
			listTitleStyle.Render(m.list.Title), m.category)
	}
	return m.list.View()
}
