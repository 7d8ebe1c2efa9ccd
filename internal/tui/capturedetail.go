package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fentz26/glimpse/internal/models"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("240"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255"))

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			MarginTop(1)
)

// CaptureDetailModel shows one capture and its decision records
type CaptureDetailModel struct {
	client    *Client
	captureID string
	item      *models.Summary
	audit     []models.PDREntry
	height    int
	loading   bool
	scroll    int
}

// NewCaptureDetailModel creates a new capture detail model
func NewCaptureDetailModel(client *Client) *CaptureDetailModel {
	return &CaptureDetailModel{client: client}
}

// SetCapture sets the capture to display
func (m *CaptureDetailModel) SetCapture(id string) {
	m.captureID = id
	m.item = nil
	m.audit = nil
	m.scroll = 0
}

// SetSize sets the dimensions
func (m *CaptureDetailModel) SetSize(w, h int) {
	m.height = h
}

// Refresh fetches the capture and its audit trail
func (m *CaptureDetailModel) Refresh() tea.Cmd {
	m.loading = true
	id := m.captureID
	return func() tea.Msg {
		item, err := m.client.GetCapture(id)
		if err != nil {
			return errMsg{err}
		}
		audit, _ := m.client.Audit(id, 10)
		return detailLoadedMsg{item: item, audit: audit}
	}
}

// Update handles messages
func (m *CaptureDetailModel) Update(msg tea.Msg) (*CaptureDetailModel, tea.Cmd) {
	switch msg := msg.(type) {
	case detailLoadedMsg:
		if msg.item == nil || msg.item.ID != m.captureID {
			return m, nil
		}
		m.loading = false
		m.item = msg.item
		m.audit = msg.audit
	case errMsg:
		m.loading = false

	case tea.KeyMsg:
		switch msg.String() {
		case "j", "down":
			m.scroll++
		case "k", "up":
			if m.scroll > 0 {
				m.scroll--
			}
		case "r":
			return m, m.Refresh()
		}
	}
	return m, nil
}

// View renders the capture detail
func (m *CaptureDetailModel) View() string {
	if m.item == nil {
		if m.loading {
			return "\n  Loading capture..."
		}
		return "\n  Capture is no longer queued."
	}

	var b strings.Builder
	it := m.item

	b.WriteString(headerStyle.Render(fmt.Sprintf("%s capture %s", it.Category, shortID(it.ID))))
	b.WriteString("\n\n")

	b.WriteString(m.renderField("ID", it.ID))
	b.WriteString(m.renderField("Mode", formatMode(it.Mode)))
	b.WriteString(m.renderField("Captured", it.CreatedAt.Local().Format("2006-01-02 15:04:05")))
	b.WriteString(m.renderField("Size", fmt.Sprintf("%s (%s)", formatSize(it.Size), it.MimeType)))
	b.WriteString(m.renderField("File", it.Path))
	if it.Region != nil {
		b.WriteString(m.renderField("Region", fmt.Sprintf("%dx%d at %d,%d", it.Region.Width, it.Region.Height, it.Region.X, it.Region.Y)))
	}
	if it.Window != nil {
		b.WriteString(m.renderField("Window", fmt.Sprintf("%s (%s)", it.Window.Title, it.Window.ID)))
	}
	if it.Preview != nil {
		b.WriteString(m.renderField("Preview", fmt.Sprintf("%dx%d, %s", it.Preview.Width, it.Preview.Height, formatSize(it.Preview.Size))))
	}
	if it.ArtifactID != "" {
		b.WriteString(m.renderField("Artifact", it.ArtifactID))
	}

	if len(m.audit) > 0 {
		b.WriteString(sectionStyle.Render("Decisions"))
		b.WriteString("\n")
		for _, e := range m.audit {
			outcome := handedOff.Render(e.Outcome)
			if e.Outcome != "success" {
				outcome = lipgloss.NewStyle().Foreground(errorColor).Render(e.Outcome)
			}
			b.WriteString(fmt.Sprintf("  %s  %-16s %s\n", e.Timestamp.Local().Format("15:04:05"), e.Action, outcome))
			if e.Details != "" {
				b.WriteString(fmt.Sprintf("    → %s\n", truncate(e.Details, 80)))
			}
		}
	}

	// Apply scroll
	lines := strings.Split(b.String(), "\n")
	if m.scroll >= len(lines) {
		m.scroll = len(lines) - 1
	}
	visible := lines[m.scroll:]
	if m.height > 0 && len(visible) > m.height {
		visible = visible[:m.height]
	}
	return strings.Join(visible, "\n")
}

func (m *CaptureDetailModel) renderField(label, value string) string {
	return fmt.Sprintf("%s %s\n", labelStyle.Render(label+":"), valueStyle.Render(value))
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
