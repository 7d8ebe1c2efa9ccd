package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/glimpse/internal/models"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Take a capture",
	Long: `Asks the daemon for a capture and waits for it to finish.

A region capture waits until a region is chosen with "glimpse select".`,
	RunE: runCapture,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued captures",
	RunE:  runList,
}

var showCmd = &cobra.Command{
	Use:   "show [capture-id]",
	Short: "Show capture details",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var deleteCmd = &cobra.Command{
	Use:   "delete [capture-id]",
	Short: "Delete a queued capture",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove queued captures",
	RunE:  runClear,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel the capture in progress",
	RunE:  runCancel,
}

var selectCmd = &cobra.Command{
	Use:   "select [x] [y] [width] [height]",
	Short: "Choose the region for a pending region capture",
	RunE:  runSelect,
}

var (
	captureCategory string
	captureMode     string
	captureJSON     bool
	listCategory    string
	clearCategory   string
	selectAbort     bool
)

func init() {
	captureCmd.Flags().StringVarP(&captureCategory, "category", "c", "", "Capture category (problem, debug)")
	captureCmd.Flags().StringVarP(&captureMode, "mode", "m", "", "Capture mode (full, window, region)")
	captureCmd.Flags().BoolVar(&captureJSON, "json", false, "Print the result as JSON")

	listCmd.Flags().StringVarP(&listCategory, "category", "c", "", "Only list one category")

	clearCmd.Flags().StringVarP(&clearCategory, "category", "c", "", "Only clear one category")

	selectCmd.Flags().BoolVar(&selectAbort, "abort", false, "Abort the pending selection")
}

func runCapture(cmd *cobra.Command, args []string) error {
	if captureMode == string(models.ModeRegion) {
		fmt.Println("Waiting for a region. Run \"glimpse select x y w h\" to choose one.")
	}
	res, err := newClient().Capture(captureCategory, captureMode)
	if err != nil {
		return err
	}
	if captureJSON {
		return printJSON(res)
	}

	fmt.Printf("✓ Captured %s (%s, %s, %s)\n", res.Item.ID, res.Item.Category, res.Item.Mode, formatBytes(res.Item.Size))
	fmt.Printf("  Path: %s\n", res.Item.Path)
	switch {
	case res.Pipeline.Success:
		fmt.Printf("  Job:  %s\n", res.Pipeline.JobID)
	case res.Pipeline.Error != "":
		fmt.Printf("  Handoff failed: %s\n", res.Pipeline.Error)
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	items, err := newClient().ListCaptures(listCategory)
	if err != nil {
		return err
	}

	if len(items) == 0 {
		fmt.Println("No captures queued")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCATEGORY\tMODE\tSIZE\tCREATED\tJOB")
	for _, item := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(item.ID),
			item.Category,
			item.Mode,
			formatBytes(item.Size),
			item.CreatedAt.Local().Format(time.DateTime),
			truncateID(item.ArtifactID),
		)
	}
	return w.Flush()
}

func runShow(cmd *cobra.Command, args []string) error {
	item, err := newClient().GetCapture(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("ID:       %s\n", item.ID)
	fmt.Printf("Category: %s\n", item.Category)
	fmt.Printf("Mode:     %s\n", item.Mode)
	fmt.Printf("Size:     %s\n", formatBytes(item.Size))
	fmt.Printf("Type:     %s\n", item.MimeType)
	fmt.Printf("Path:     %s\n", item.Path)
	fmt.Printf("Created:  %s\n", item.CreatedAt.Local().Format(time.RFC3339))
	if item.Region != nil {
		fmt.Printf("Region:   %dx%d at %d,%d\n", item.Region.Width, item.Region.Height, item.Region.X, item.Region.Y)
	}
	if item.Window != nil {
		fmt.Printf("Window:   %s\n", truncate(item.Window.Title, 60))
	}
	if item.Preview != nil {
		fmt.Printf("Preview:  %dx%d\n", item.Preview.Width, item.Preview.Height)
	}
	if item.ArtifactID != "" {
		fmt.Printf("Artifact: %s\n", item.ArtifactID)
	}
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	if err := newClient().DeleteCapture(args[0]); err != nil {
		return err
	}
	fmt.Printf("✓ Deleted %s\n", args[0])
	return nil
}

func runClear(cmd *cobra.Command, args []string) error {
	n, err := newClient().ClearCaptures(clearCategory)
	if err != nil {
		return err
	}
	fmt.Printf("✓ Removed %d captures\n", n)
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	ok, err := newClient().CancelCapture()
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("No capture in progress")
		return nil
	}
	fmt.Println("✓ Capture cancelled")
	return nil
}

func runSelect(cmd *cobra.Command, args []string) error {
	client := newClient()
	if selectAbort {
		if err := client.AbortSelection(); err != nil {
			return err
		}
		fmt.Println("✓ Selection aborted")
		return nil
	}

	if len(args) != 4 {
		return fmt.Errorf("expected x y width height, got %d arguments", len(args))
	}
	var nums [4]int
	for i, arg := range args {
		n, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("%q is not a number", arg)
		}
		nums[i] = n
	}
	region := models.Region{X: nums[0], Y: nums[1], Width: nums[2], Height: nums[3]}
	if err := client.ResolveSelection(region); err != nil {
		return err
	}
	fmt.Printf("✓ Selected %dx%d at %d,%d\n", region.Width, region.Height, region.X, region.Y)
	return nil
}
