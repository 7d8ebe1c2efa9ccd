// Package tui provides the interactive terminal UI for glimpse.
package tui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fentz26/glimpse/internal/controlplane"
	"github.com/fentz26/glimpse/internal/models"
)

var (
	// Colors
	primaryColor   = lipgloss.Color("#7C3AED")
	secondaryColor = lipgloss.Color("#6366F1")
	successColor   = lipgloss.Color("#10B981")
	warningColor   = lipgloss.Color("#F59E0B")
	errorColor     = lipgloss.Color("#EF4444")
	mutedColor     = lipgloss.Color("#6B7280")
	fgColor        = lipgloss.Color("#F9FAFB")
	cyanColor      = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	selectedStyle = lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(fgColor).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	onlineStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	offlineStyle = lipgloss.NewStyle().
			Foreground(errorColor)
)

// refreshInterval paces the state poll.
const refreshInterval = 2 * time.Second

// App is the main TUI application model.
type App struct {
	client       *Client
	captures     *CaptureListModel
	detail       *CaptureDetailModel
	cmdbar       *CmdBarModel
	view         view
	width        int
	height       int
	state        *controlplane.StateResponse
	jobs         []models.Job
	jobFilter    string
	jobIdx       int
	daemonOnline bool
	capturing    bool
	hotkey       string
}

// New creates a new TUI application. hotkey is only displayed.
func New(apiAddr, hotkey string) *App {
	client := NewClient(apiAddr)
	return &App{
		client:   client,
		captures: NewCaptureListModel(client),
		detail:   NewCaptureDetailModel(client),
		cmdbar:   NewCmdBarModel(),
		view:     viewCaptures,
		hotkey:   hotkey,
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		a.captures.Refresh(),
		a.checkDaemon(),
		a.fetchState(),
		a.tickCmd(),
	)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.captures.SetSize(msg.Width, a.contentHeight())
		a.detail.SetSize(msg.Width, a.contentHeight())
		return a, nil

	case capturesLoadedMsg:
		var cmd tea.Cmd
		a.captures, cmd = a.captures.Update(msg)
		return a, cmd

	case detailLoadedMsg:
		var cmd tea.Cmd
		a.detail, cmd = a.detail.Update(msg)
		return a, cmd

	case captureDoneMsg:
		a.capturing = false
		if msg.err != nil {
			a.cmdbar.SetMessage("Error: " + describeError(msg.err))
			return a, a.fetchState()
		}
		a.cmdbar.SetMessage(describeCapture(msg.result))
		return a, tea.Batch(a.captures.Refresh(), a.fetchState())

	case jobsLoadedMsg:
		a.jobs = msg.jobs
		if a.jobIdx >= len(a.jobs) {
			a.jobIdx = max(0, len(a.jobs)-1)
		}
		return a, nil

	case showJobsMsg:
		a.view = viewJobs
		a.jobFilter = msg.status
		a.jobIdx = 0
		return a, a.fetchJobs()

	case stateLoadedMsg:
		a.state = msg.state
		a.daemonOnline = true
		return a, nil

	case daemonStatusMsg:
		a.daemonOnline = msg.online
		return a, nil

	case tickMsg:
		cmds := []tea.Cmd{a.fetchState(), a.tickCmd()}
		if a.view == viewJobs {
			cmds = append(cmds, a.fetchJobs())
		}
		return a, tea.Batch(cmds...)

	case cmdResultMsg:
		a.cmdbar.SetMessage(msg.message)
		if msg.refresh {
			return a, tea.Batch(a.captures.Refresh(), a.fetchState())
		}
		return a, nil

	case errMsg:
		a.cmdbar.SetMessage("Error: " + describeError(msg.err))
		var apiErr *APIError
		if !errors.As(msg.err, &apiErr) {
			a.daemonOnline = false
		}
		var cmd tea.Cmd
		a.captures, cmd = a.captures.Update(msg)
		a.detail, _ = a.detail.Update(msg)
		return a, cmd
	}

	var cmd tea.Cmd
	if a.cmdbar.Focused() {
		a.cmdbar, cmd = a.cmdbar.Update(msg)
		return a, cmd
	}
	if a.view == viewCaptures {
		a.captures, cmd = a.captures.Update(msg)
	}
	return a, cmd
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return a, tea.Quit
	}

	if a.cmdbar.Focused() {
		if msg.String() == "enter" && !a.cmdbar.suggestions.IsVisible() {
			input := a.cmdbar.Submit()
			return a, a.runCommand(input)
		}
		if msg.String() == "enter" {
			msg = tea.KeyMsg{Type: tea.KeyTab}
		}
		var cmd tea.Cmd
		a.cmdbar, cmd = a.cmdbar.Update(msg)
		return a, cmd
	}

	if a.view == viewCaptures && a.captures.Filtering() {
		var cmd tea.Cmd
		a.captures, cmd = a.captures.Update(msg)
		return a, cmd
	}

	switch msg.String() {
	case ":":
		return a, a.cmdbar.Focus()
	case "q":
		return a, tea.Quit
	case "esc":
		if a.view != viewCaptures {
			a.view = viewCaptures
			return a, a.captures.Refresh()
		}
		return a, nil
	case "c":
		return a, a.startCapture(models.ModeFull)
	case "w":
		return a, a.startCapture(models.ModeWindow)
	case "s":
		return a, a.startCapture(models.ModeRegion)
	case "x":
		return a, a.runCommand("cancel")
	case "J":
		return a, func() tea.Msg { return showJobsMsg{} }
	}

	switch a.view {
	case viewCaptures:
		switch msg.String() {
		case "tab":
			return a, a.captures.CycleCategory()
		case "r":
			return a, tea.Batch(a.captures.Refresh(), a.fetchState())
		case "d", "delete":
			return a, a.runCommand("delete")
		case "D":
			return a, a.runCommand("clear")
		case "enter":
			if sel := a.captures.SelectedCapture(); sel != nil {
				a.view = viewDetail
				a.detail.SetCapture(sel.ID)
				return a, a.detail.Refresh()
			}
			return a, nil
		}
		var cmd tea.Cmd
		a.captures, cmd = a.captures.Update(msg)
		return a, cmd

	case viewDetail:
		switch msg.String() {
		case "d", "delete":
			a.view = viewCaptures
			return a, a.cmdbar.Execute(a.client, "delete "+a.detail.captureID, a.cmdContext())
		}
		var cmd tea.Cmd
		a.detail, cmd = a.detail.Update(msg)
		return a, cmd

	case viewJobs:
		switch msg.String() {
		case "up", "k":
			if a.jobIdx > 0 {
				a.jobIdx--
			}
		case "down", "j":
			if a.jobIdx < len(a.jobs)-1 {
				a.jobIdx++
			}
		case "r":
			return a, a.fetchJobs()
		}
	}
	return a, nil
}

func (a *App) cmdContext() cmdContext {
	ctx := cmdContext{category: a.captures.Category()}
	if sel := a.captures.SelectedCapture(); sel != nil && a.view == viewCaptures {
		ctx.selected = sel.ID
	}
	return ctx
}

func (a *App) runCommand(input string) tea.Cmd {
	if strings.HasPrefix(strings.TrimSpace(input), "capture") {
		if a.capturing {
			a.cmdbar.SetMessage("A capture is already running")
			return nil
		}
		a.capturing = true
		a.cmdbar.SetMessage("Capturing...")
	}
	return a.cmdbar.Execute(a.client, input, a.cmdContext())
}

func (a *App) startCapture(mode models.CaptureMode) tea.Cmd {
	return a.runCommand(fmt.Sprintf("capture %s %s", a.captures.Category(), mode))
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	b.WriteString(a.renderHeader() + "\n")
	b.WriteString(strings.Repeat("─", max(a.width, 1)) + "\n")

	switch a.view {
	case viewCaptures:
		b.WriteString(a.captures.View())
	case viewDetail:
		b.WriteString(a.detail.View())
	case viewJobs:
		b.WriteString(a.renderJobsPanel(a.contentHeight()))
	}

	b.WriteString("\n\n")
	b.WriteString(a.cmdbar.View(a.width))
	b.WriteString("\n")
	b.WriteString(statusBarStyle.Width(max(a.width, 1)).Render(a.statusLine()))
	return b.String()
}

func (a *App) contentHeight() int {
	return max(a.height-7, 5)
}

func (a *App) renderHeader() string {
	daemon := onlineStyle.Render("● DAEMON")
	if !a.daemonOnline {
		daemon = offlineStyle.Render("○ DAEMON")
	}
	header := titleStyle.Render("glimpse") + "  " + daemon

	if s := a.state; s != nil {
		phase := lipgloss.NewStyle().Foreground(mutedColor).Render("idle")
		if s.Busy {
			phase = lipgloss.NewStyle().Foreground(warningColor).Bold(true).Render(string(s.Phase))
		}
		if s.Selecting {
			phase = lipgloss.NewStyle().Foreground(cyanColor).Bold(true).Render("awaiting region: select x y w h")
		}
		header += "  " + phase

		var queues []string
		for _, cat := range models.Categories {
			queues = append(queues, fmt.Sprintf("%s:%d", cat, s.Queued[cat]))
		}
		header += "  " + lipgloss.NewStyle().Foreground(cyanColor).Render("["+strings.Join(queues, " ")+"]")
		if s.Backend != "" {
			header += "  " + helpStyle.Render(s.Backend)
		}
	}
	if a.hotkey != "" {
		header += "  " + helpStyle.Render("hotkey "+a.hotkey)
	}
	return header
}

func (a *App) statusLine() string {
	switch a.view {
	case viewDetail:
		return " ↑↓:scroll | d:delete | r:refresh | Esc:back | :command"
	case viewJobs:
		filter := a.jobFilter
		if filter == "" {
			filter = "all"
		}
		return fmt.Sprintf(" Jobs [%s]: %d | ↑↓:nav | r:refresh | Esc:back", filter, len(a.jobs))
	default:
		return fmt.Sprintf(" %s: %d | c/w/s:capture | tab:category | enter:details | d:delete | D:clear | x:cancel | J:jobs | q:quit",
			a.captures.Category(), a.captures.Len())
	}
}

func (a *App) renderJobsPanel(height int) string {
	var b strings.Builder

	b.WriteString("\n  Pipeline Jobs\n")
	b.WriteString("  " + strings.Repeat("─", 50) + "\n")

	if a.state != nil && a.state.Scheduler != nil {
		st := a.state.Scheduler
		activeStyle := lipgloss.NewStyle().Foreground(successColor).Bold(true)
		b.WriteString(fmt.Sprintf("  Workers: %s / %d  processor %s  completed %d  failed %d\n",
			activeStyle.Render(fmt.Sprintf("%d", st.ActiveWorkers)), st.Workers, st.Processor, st.Completed, st.Failed))
	}
	b.WriteString("\n")

	if len(a.jobs) == 0 {
		b.WriteString("  " + helpStyle.Render("No jobs") + "\n")
		return b.String()
	}

	colStyle := lipgloss.NewStyle().Bold(true).Foreground(cyanColor)
	b.WriteString(fmt.Sprintf("  %s  %s  %s\n",
		colStyle.Render(fmt.Sprintf("%-8s", "JOB")),
		colStyle.Render(fmt.Sprintf("%-11s", "STATUS")),
		colStyle.Render("TITLE"),
	))

	rows := height - 6
	start := 0
	if rows > 0 && a.jobIdx >= rows {
		start = a.jobIdx - rows + 1
	}
	for i := start; i < len(a.jobs) && (rows <= 0 || i < start+rows); i++ {
		job := a.jobs[i]
		line := fmt.Sprintf("%-8s  %s  %s", shortID(job.ID), formatJobStatus(job.Status), truncate(job.Title, 40))
		if i == a.jobIdx {
			b.WriteString(selectedStyle.Render("▶ "+line) + "\n")
			if job.Result != "" {
				b.WriteString("    " + helpStyle.Render(truncate(job.Result, 70)) + "\n")
			}
		} else {
			b.WriteString("  " + line + "\n")
		}
	}
	return b.String()
}

func formatJobStatus(status models.JobStatus) string {
	label := fmt.Sprintf("%-11s", status)
	switch status {
	case models.JobStatusQueued, models.JobStatusCreated:
		return lipgloss.NewStyle().Foreground(warningColor).Render(label)
	case models.JobStatusProcessing:
		return lipgloss.NewStyle().Foreground(secondaryColor).Render(label)
	case models.JobStatusCompleted:
		return lipgloss.NewStyle().Foreground(successColor).Render(label)
	case models.JobStatusFailed:
		return lipgloss.NewStyle().Foreground(errorColor).Render(label)
	default:
		return label
	}
}

// describeCapture summarizes a finished capture for the message line.
func describeCapture(res *CaptureResult) string {
	msg := fmt.Sprintf("✓ Captured %s %s (%s)", res.Item.Category, shortID(res.Item.ID), formatSize(res.Item.Size))
	switch {
	case res.Pipeline.Success:
		msg += " → job " + shortID(res.Pipeline.JobID)
	case res.Pipeline.Error != "":
		msg += " • handoff: " + res.Pipeline.Error
	}
	return msg
}

func describeError(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Body.Error != "" {
		if apiErr.Body.Kind != "" {
			return fmt.Sprintf("%s (%s)", apiErr.Body.Error, apiErr.Body.Kind)
		}
		return apiErr.Body.Error
	}
	return err.Error()
}

func (a *App) checkDaemon() tea.Cmd {
	return func() tea.Msg {
		_, err := a.client.CheckHealth()
		return daemonStatusMsg{online: err == nil}
	}
}

func (a *App) fetchState() tea.Cmd {
	return func() tea.Msg {
		state, err := a.client.State()
		if err != nil {
			return daemonStatusMsg{online: false}
		}
		return stateLoadedMsg{state}
	}
}

func (a *App) fetchJobs() tea.Cmd {
	filter := a.jobFilter
	return func() tea.Msg {
		jobs, err := a.client.ListJobs(filter)
		if err != nil {
			return errMsg{err}
		}
		return jobsLoadedMsg{jobs}
	}
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
