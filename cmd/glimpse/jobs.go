package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect pipeline jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE:  runJobsList,
}

var jobsShowCmd = &cobra.Command{
	Use:   "show [job-id]",
	Short: "Show job details",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsShow,
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent decision records",
	RunE:  runAudit,
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show daemon state",
	RunE:  runState,
}

var (
	jobStatus    string
	auditCapture string
	auditLimit   int
)

func init() {
	jobsListCmd.Flags().StringVarP(&jobStatus, "status", "s", "", "Filter by status (created, queued, processing, completed, failed)")
	jobsCmd.AddCommand(jobsListCmd, jobsShowCmd)

	auditCmd.Flags().StringVar(&auditCapture, "capture", "", "Only show records for one capture")
	auditCmd.Flags().IntVarP(&auditLimit, "limit", "n", 20, "Maximum number of records")
}

func runJobsList(cmd *cobra.Command, args []string) error {
	jobs, err := newClient().ListJobs(jobStatus)
	if err != nil {
		return err
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tTITLE\tSESSION\tUPDATED")
	for _, job := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			truncateID(job.ID),
			job.Status,
			truncate(job.Title, 40),
			truncateID(job.SessionID),
			job.UpdatedAt.Local().Format(time.DateTime),
		)
	}
	return w.Flush()
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	resp, err := newClient().GetJob(args[0])
	if err != nil {
		return err
	}
	job := resp.Job

	fmt.Printf("ID:          %s\n", job.ID)
	fmt.Printf("Title:       %s\n", job.Title)
	fmt.Printf("Status:      %s\n", job.Status)
	fmt.Printf("Session:     %s\n", job.SessionID)
	if len(job.Tags) > 0 {
		fmt.Printf("Tags:        %s\n", strings.Join(job.Tags, ", "))
	}
	if job.Provider != "" {
		fmt.Printf("Provider:    %s %s\n", job.Provider, job.Model)
	}
	if job.ClaimedBy != "" {
		fmt.Printf("Claimed By:  %s\n", job.ClaimedBy)
	}
	fmt.Printf("Created:     %s\n", job.CreatedAt.Local().Format(time.RFC3339))
	fmt.Printf("Updated:     %s\n", job.UpdatedAt.Local().Format(time.RFC3339))
	if job.Description != "" {
		fmt.Printf("\nDescription:\n%s\n", job.Description)
	}
	if job.Result != "" {
		fmt.Printf("\nResult:\n%s\n", job.Result)
	}

	if len(resp.Artifacts) > 0 {
		fmt.Println("\nArtifacts:")
		for _, a := range resp.Artifacts {
			fmt.Printf("  %s  %s  %s  %s\n", truncateID(a.ID), a.Metadata.Category, a.Metadata.MimeType, formatBytes(a.Size))
		}
	}
	return nil
}

func runAudit(cmd *cobra.Command, args []string) error {
	entries, err := newClient().Audit(auditCapture, auditLimit)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Println("No records found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tOUTCOME\tCAPTURE\tDETAILS")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format(time.TimeOnly),
			e.Action,
			e.Outcome,
			truncateID(e.CaptureID),
			truncate(e.Details, 50),
		)
	}
	return w.Flush()
}

func runState(cmd *cobra.Command, args []string) error {
	state, err := newClient().State()
	if err != nil {
		return err
	}
	return printJSON(state)
}
