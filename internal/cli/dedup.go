package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rescale/filehub/internal/dedup"
)

// newDedupCmd creates the 'dedup' command group.
func newDedupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dedup",
		Short: "Duplicate file detection",
		Long: `Inspect and act on the server's duplicate-detection job.

The server rescans the library after every upload or delete. These commands
poll the latest scan until it completes or fails.`,
	}

	cmd.AddCommand(newDedupStatusCmd())
	cmd.AddCommand(newDedupTriggerCmd())
	cmd.AddCommand(newDedupCleanCmd())

	return cmd
}

func newDedupStatusCmd() *cobra.Command {
	var wait, notifyDone bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the latest duplicate scan",
		Long: `Show the latest duplicate scan and its duplicate groups.

Examples:
  # One fetch
  filehub dedup status

  # Poll until the scan finishes, then show a desktop notification
  filehub dedup status --wait --notify`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := GetContext()
			out := cmd.OutOrStdout()

			snap := a.poller.Read(ctx)
			if wait && snap.State == dedup.StatePolling {
				fmt.Fprintln(out, "Waiting for duplicate scan...")
				snap, err = a.waitForReport(ctx)
				if err != nil {
					return err
				}
				if notifyDone {
					a.notifier.DedupFinished(snap.Report)
				}
			}

			printDedupSnapshot(out, snap)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Poll until the scan completes or fails")
	cmd.Flags().BoolVar(&notifyDone, "notify", false, "Show a desktop notification when --wait finishes")

	return cmd
}

func newDedupTriggerCmd() *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Start a new duplicate scan",
		Long: `Ask the server to rescan the whole library for duplicates.

Examples:
  filehub dedup trigger
  filehub dedup trigger --wait`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := GetContext()
			out := cmd.OutOrStdout()

			taskID, err := a.service.TriggerDedup(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "✓ Duplicate scan started (task %s)\n", taskID)

			if wait {
				snap, err := a.waitForReport(ctx)
				if err != nil {
					return err
				}
				printDedupSnapshot(out, snap)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Poll until the scan completes or fails")

	return cmd
}

func newDedupCleanCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Delete every reported duplicate",
		Long: `Delete every duplicate in the latest completed scan, keeping the
original of each group.

The scan must be completed: pending results are never acted on. After the
batch delete the command follows the rescan the server starts.

WARNING: This operation cannot be undone!

Examples:
  filehub dedup clean
  filehub dedup clean --yes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := GetContext()
			out := cmd.OutOrStdout()

			snap := a.poller.Read(ctx)
			if snap.State == dedup.StatePolling {
				fmt.Fprintln(out, "Waiting for duplicate scan...")
				if snap, err = a.waitForReport(ctx); err != nil {
					return err
				}
			}
			if snap.State != dedup.StateCompleted {
				printDedupSnapshot(out, snap)
				return fmt.Errorf("no completed duplicate scan to clean")
			}

			ids := snap.Report.DuplicateIDs()
			if len(ids) == 0 {
				fmt.Fprintln(out, "No duplicate files found")
				return nil
			}
			if len(snap.Violations) > 0 {
				return fmt.Errorf("refusing to clean: report has %d inconsistency(ies), run 'filehub dedup status' for details", len(snap.Violations))
			}

			printDedupSnapshot(out, snap)
			ok, err := confirmDestructive(cmd, yes, fmt.Sprintf("\nDelete %d duplicate file(s), freeing %s?", len(ids), formatSize(snap.Report.WastedBytes())))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(out, "Clean cancelled")
				return nil
			}

			if err := a.service.DeleteMany(ctx, ids); err != nil {
				return err
			}
			fmt.Fprintf(out, "✓ Deleted %d duplicate file(s)\n\nWaiting for rescan...\n", len(ids))

			snap, err = a.waitForReport(ctx)
			if err != nil {
				return err
			}
			printDedupSnapshot(out, snap)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation prompt")

	return cmd
}
