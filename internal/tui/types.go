package tui

import (
	"time"

	"github.com/fentz26/glimpse/internal/controlplane"
	"github.com/fentz26/glimpse/internal/models"
)

// view selects the main panel.
type view int

const (
	viewCaptures view = iota
	viewDetail
	viewJobs
)

type capturesLoadedMsg struct {
	category string
	items    []models.Summary
}

type captureDoneMsg struct {
	result *CaptureResult
	err    error
}

type detailLoadedMsg struct {
	item  *models.Summary
	audit []models.PDREntry
}

type jobsLoadedMsg struct {
	jobs []models.Job
}

type stateLoadedMsg struct {
	state *controlplane.StateResponse
}

type daemonStatusMsg struct {
	online bool
}

// showJobsMsg switches to the jobs panel with a status filter.
type showJobsMsg struct {
	status string
}

type cmdResultMsg struct {
	message string
	refresh bool
}

type errMsg struct {
	err error
}

type tickMsg time.Time
