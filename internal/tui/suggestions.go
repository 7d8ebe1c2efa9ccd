package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Suggestions provides autocomplete for the command bar
type Suggestions struct {
	items       []SuggestionItem
	filtered    []SuggestionItem
	selectedIdx int
	visible     bool
}

// SuggestionItem represents a single autocomplete suggestion
type SuggestionItem struct {
	Text        string
	Description string
}

var commandSuggestions = []SuggestionItem{
	{Text: "capture", Description: "capture [problem|debug] [full|window|region]"},
	{Text: "select", Description: "select <x> <y> <width> <height> resolves a region capture"},
	{Text: "abort", Description: "Abort the pending region selection"},
	{Text: "cancel", Description: "Cancel the capture in progress"},
	{Text: "delete", Description: "delete [id] removes the selected capture"},
	{Text: "clear", Description: "clear [problem|debug|all] empties a queue"},
	{Text: "jobs", Description: "jobs [status] lists pipeline jobs"},
	{Text: "help", Description: "Show key bindings"},
	{Text: "quit", Description: "Leave glimpse"},
}

// NewSuggestions creates a new suggestions handler
func NewSuggestions() *Suggestions {
	return &Suggestions{items: commandSuggestions}
}

// Update updates suggestions based on current input. Suggestions only
// cover the command word.
func (s *Suggestions) Update(input string) {
	if input == "" || strings.ContainsRune(input, ' ') {
		s.visible = false
		s.filtered = nil
		return
	}
	s.visible = true
	s.filter(strings.ToLower(input))
}

func (s *Suggestions) filter(query string) {
	s.filtered = s.filtered[:0]
	for _, item := range s.items {
		if strings.HasPrefix(item.Text, query) {
			s.filtered = append(s.filtered, item)
		}
	}
	s.selectedIdx = 0
}

// Next moves to the next suggestion
func (s *Suggestions) Next() {
	if len(s.filtered) == 0 {
		return
	}
	s.selectedIdx = (s.selectedIdx + 1) % len(s.filtered)
}

// Prev moves to the previous suggestion
func (s *Suggestions) Prev() {
	if len(s.filtered) == 0 {
		return
	}
	s.selectedIdx--
	if s.selectedIdx < 0 {
		s.selectedIdx = len(s.filtered) - 1
	}
}

// Selected returns the currently selected suggestion
func (s *Suggestions) Selected() *SuggestionItem {
	if !s.visible || len(s.filtered) == 0 || s.selectedIdx >= len(s.filtered) {
		return nil
	}
	return &s.filtered[s.selectedIdx]
}

// IsVisible returns whether suggestions are currently visible
func (s *Suggestions) IsVisible() bool {
	return s.visible && len(s.filtered) > 0
}

// Render renders the suggestions dropdown
func (s *Suggestions) Render(width int) string {
	if !s.IsVisible() {
		return ""
	}

	var b strings.Builder

	suggestionStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(secondaryColor).
		Padding(0, 1).
		Width(max(width-4, 20))

	itemStyle := lipgloss.NewStyle().Foreground(fgColor)
	descStyle := lipgloss.NewStyle().Foreground(mutedColor).Italic(true)

	// Show max 5 suggestions
	maxVisible := 5
	for i, item := range s.filtered {
		if i >= maxVisible {
			b.WriteString(descStyle.Render(fmt.Sprintf("  ... and %d more", len(s.filtered)-maxVisible)))
			break
		}
		if i == s.selectedIdx {
			b.WriteString(selectedStyle.Render("▶ " + item.Text))
		} else {
			b.WriteString(itemStyle.Render("  " + item.Text))
		}
		b.WriteString(" " + descStyle.Render(item.Description) + "\n")
	}

	return suggestionStyle.Render(strings.TrimRight(b.String(), "\n"))
}
