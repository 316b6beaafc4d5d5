package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/rescale/filehub/internal/models"
	"github.com/rescale/filehub/internal/progress"
	"github.com/rescale/filehub/internal/services"
	"github.com/rescale/filehub/internal/state"
	"github.com/rescale/filehub/internal/util/paths"
)

// newFilesCmd creates the 'files' command group.
func newFilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files",
		Short: "File library operations",
		Long:  `Browse, upload, download and delete files in the library.`,
	}

	cmd.AddCommand(newFilesListCmd())
	cmd.AddCommand(newFilesUploadCmd())
	cmd.AddCommand(newFilesDownloadCmd())
	cmd.AddCommand(newFilesDeleteCmd())

	return cmd
}

// listOptions holds the 'files list' flags.
type listOptions struct {
	search   string
	filter   string
	sort     string
	page     int
	pageSize int
	watch    bool
	interval time.Duration
}

// applyTo pushes the flags into the view model in the order a user would:
// query fields first (each resetting the page), then the page itself.
func (o listOptions) applyTo(view *state.FileCollection) error {
	if o.search != "" {
		view.SetSearch(o.search)
		view.FlushSearch()
	}
	if o.filter != "" {
		f, err := models.ParseFileFilter(o.filter)
		if err != nil {
			return err
		}
		if err := view.SetFilter(f); err != nil {
			return err
		}
	}
	if o.sort != "" {
		k, err := models.ParseSortKey(o.sort)
		if err != nil {
			return err
		}
		if err := view.SetSort(k); err != nil {
			return err
		}
	}
	if o.pageSize != 0 {
		if err := view.SetPageSize(o.pageSize); err != nil {
			return err
		}
	}
	if o.page != 0 {
		if err := view.SetPage(o.page); err != nil {
			return err
		}
	}
	return nil
}

func newFilesListCmd() *cobra.Command {
	var opts listOptions

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List files in the library",
		Long: `List one page of the file library.

Examples:
  # Newest files first
  filehub files list

  # Search by name, images only, sorted by size
  filehub files list --search holiday --filter images --sort size

  # Third page, 25 per page
  filehub files list --page 3 --page-size 25

  # Refresh the page every 5 seconds until Ctrl+C
  filehub files list --watch --interval 5s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := opts.applyTo(a.view); err != nil {
				return err
			}

			ctx := GetContext()
			out := cmd.OutOrStdout()

			if opts.watch {
				q := a.view.Query()
				err := a.files.Watch(ctx, q, opts.interval, func(list *models.PaginatedFileList, err error) {
					fmt.Fprintf(out, "\n[%s]\n", time.Now().Format("15:04:05"))
					if err != nil {
						fmt.Fprintf(out, "File list unavailable: %v\n", err)
						return
					}
					printFileView(out, state.View{Query: q, Status: state.StatusReady, List: list})
				})
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}

			if err := a.view.Load(ctx); err != nil {
				return fmt.Errorf("failed to list files: %w", err)
			}
			printFileView(out, a.view.View())
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.search, "search", "", "Only files whose name contains this text")
	cmd.Flags().StringVar(&opts.filter, "filter", "", "File category: all, images, documents, videos, audio, archives, other")
	cmd.Flags().StringVar(&opts.sort, "sort", "", "Sort order: name, size, date, type (default date)")
	cmd.Flags().IntVar(&opts.page, "page", 0, "Page number (1-based)")
	cmd.Flags().IntVar(&opts.pageSize, "page-size", 0, "Files per page: 5, 10, 25 or 50 (default from config)")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Refetch the page periodically until interrupted")
	cmd.Flags().DurationVar(&opts.interval, "interval", 5*time.Second, "Refetch interval for --watch")

	return cmd
}

func newFilesUploadCmd() *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "upload <file> [file...]",
		Short: "Upload local files",
		Long: `Upload one or more local files.

Every upload starts a new duplicate scan on the server. With --wait the
command follows that scan and prints its result.

Examples:
  filehub files upload report.pdf
  filehub files upload photos/*.jpg --wait`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := GetContext()
			out := cmd.OutOrStdout()

			var wrap services.ReaderWrapper
			var ui *progress.TransferUI
			var reporter progress.Reporter
			if len(args) == 1 {
				reporter = progress.NewReporter()
				wrap = progress.ReaderFor(reporter)
			} else {
				ui = progress.NewTransferUI("Uploading", len(args))
				wrap = ui.ReaderWrapper()
			}

			results, err := a.service.UploadPaths(ctx, args, wrap)
			if reporter != nil && err == nil {
				reporter.Finish()
			}
			if ui != nil {
				for _, r := range results {
					if b := ui.Bar(filepath.Base(r.Path)); b != nil {
						if r.Err != nil {
							b.Complete("", r.Err)
						} else {
							b.Complete(r.File.ID, nil)
						}
					}
				}
				ui.Wait()
			}

			uploaded := 0
			for _, r := range results {
				if r.Err == nil {
					uploaded++
				}
				if ui != nil {
					continue
				}
				if r.Err != nil {
					fmt.Fprintf(out, "✗ %s: %v\n", r.Path, r.Err)
				} else {
					fmt.Fprintf(out, "✓ %s -> %s\n", r.Path, r.File.ID)
				}
			}
			if len(args) > 1 {
				a.notifier.TransferFinished("Upload", uploaded, len(args)-uploaded, "")
			}
			if err != nil && uploaded == 0 {
				return fmt.Errorf("upload failed: %w", err)
			}

			if wait && uploaded > 0 {
				fmt.Fprintln(out, "\nWaiting for duplicate scan...")
				snap, werr := a.waitForReport(ctx)
				if werr != nil {
					return werr
				}
				printDedupSnapshot(out, snap)
			}

			if err != nil {
				return fmt.Errorf("%d of %d upload(s) failed", len(args)-uploaded, len(args))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the duplicate scan started by the upload")

	return cmd
}

func newFilesDownloadCmd() *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "download <file-id> [file-id...]",
		Short: "Download files by id",
		Long: `Download files into a local directory, named by their original filenames.

Files that would share a local name get their id appended.

Examples:
  filehub files download 3f2a9c1e-...
  filehub files download ID1 ID2 ID3 --outdir ./downloads`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outDir, err := paths.ResolveDir(outDir)
			if err != nil {
				return fmt.Errorf("invalid output directory: %w", err)
			}
			if err := os.MkdirAll(outDir, 0755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ui := progress.NewTransferUI("Downloading", len(args))
			results, err := a.service.DownloadIDs(GetContext(), args, outDir, ui.WriterWrapper())
			for _, r := range results {
				if r.Path == "" {
					continue
				}
				if b := ui.Bar(filepath.Base(r.Path)); b != nil {
					if r.Err != nil {
						b.Complete("", r.Err)
					} else {
						b.Complete(formatSize(r.Bytes), nil)
					}
				}
			}
			ui.Wait()

			out := cmd.OutOrStdout()
			ok := 0
			for _, r := range results {
				switch {
				case r.Err == nil:
					ok++
				case r.Path == "":
					// Lookup failed, no bar reported it
					fmt.Fprintf(out, "✗ %s: %v\n", r.FileID, r.Err)
				}
			}
			fmt.Fprintf(out, "Downloaded %d of %d file(s) to %s\n", ok, len(results), outDir)
			if len(args) > 1 {
				a.notifier.TransferFinished("Download", ok, len(results)-ok, outDir)
			}

			if err != nil {
				return fmt.Errorf("%d of %d download(s) failed", len(results)-ok, len(results))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "outdir", "o", ".", "Directory to download into")

	return cmd
}

func newFilesDeleteCmd() *cobra.Command {
	var yes, wait bool

	cmd := &cobra.Command{
		Use:   "delete <file-id> [file-id...]",
		Short: "Delete files by id",
		Long: `Delete one or more files.

WARNING: This operation cannot be undone!

Several ids are deleted in one batch request. After the server confirms the
delete, cached file lists are refetched and a new duplicate scan is followed.

Examples:
  filehub files delete 3f2a9c1e-...
  filehub files delete ID1 ID2 --yes --wait`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := confirmDestructive(cmd, yes, fmt.Sprintf("Delete %d file(s)? This cannot be undone.", len(args)))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !ok {
				fmt.Fprintln(out, "Deletion cancelled")
				return nil
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := GetContext()
			if len(args) == 1 {
				err = a.service.DeleteOne(ctx, args[0])
			} else {
				err = a.service.DeleteMany(ctx, args)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "✓ Deleted %d file(s)\n", len(args))

			if wait {
				fmt.Fprintln(out, "\nWaiting for duplicate scan...")
				snap, err := a.waitForReport(ctx)
				if err != nil {
					return err
				}
				printDedupSnapshot(out, snap)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation prompt")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the duplicate scan started by the delete")

	return cmd
}
