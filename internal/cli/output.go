package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/rescale/filehub/internal/dedup"
	"github.com/rescale/filehub/internal/models"
	"github.com/rescale/filehub/internal/state"
)

// formatSize renders a byte count with binary units.
func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// fitColumn pads or shortens s to exactly width runes.
func fitColumn(s string, width int) string {
	r := []rune(s)
	if len(r) > width {
		return string(r[:width-1]) + "…"
	}
	return s + strings.Repeat(" ", width-len(r))
}

// printFileView renders one page of the file collection.
func printFileView(out io.Writer, v state.View) {
	q := v.Query
	fmt.Fprintf(out, "Query: search=%q filter=%s sort=%s page=%d page_size=%d\n",
		q.Search, q.Filter, q.Sort, q.Page, q.PageSize)

	switch v.Status {
	case state.StatusUnavailable:
		fmt.Fprintf(out, "File list unavailable: %v\n", v.Err)
		return
	case state.StatusLoading, state.StatusIdle:
		fmt.Fprintln(out, "Loading...")
		return
	}

	if v.List.Empty() {
		fmt.Fprintln(out, "No files found")
		return
	}
	printFileTable(out, v.List.Results)
	fmt.Fprintf(out, "\nPage %d of %d (%d file(s) total)\n", q.Page, v.List.PageCount(q.PageSize), v.List.Count)
}

func printFileTable(out io.Writer, files []models.File) {
	fmt.Fprintf(out, "%-36s  %-40s  %10s  %-9s  %s\n", "FILE ID", "NAME", "SIZE", "TYPE", "UPLOADED")
	fmt.Fprintln(out, strings.Repeat("-", 120))
	for _, f := range files {
		uploaded := ""
		if !f.UploadedAt.IsZero() {
			uploaded = f.UploadedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(out, "%-36s  %s  %10s  %-9s  %s\n",
			f.ID, fitColumn(f.OriginalFilename, 40), formatSize(f.Size), f.Category(), uploaded)
	}
}

// printDedupSnapshot renders the poller state and, once completed, the groups.
func printDedupSnapshot(out io.Writer, s dedup.Snapshot) {
	switch s.State {
	case dedup.StateIdle:
		fmt.Fprintln(out, "Duplicate scan: not checked")
		return
	case dedup.StatePolling:
		fmt.Fprintln(out, "Duplicate scan: in progress")
		if s.ConsecutiveErrors > 0 {
			fmt.Fprintf(out, "  Last %d poll(s) failed: %v\n", s.ConsecutiveErrors, s.LastError)
		}
		return
	case dedup.StateFailed:
		fmt.Fprintln(out, "Duplicate scan: failed")
		if s.Report != nil {
			fmt.Fprintf(out, "  Job: %s\n", s.Report.ID)
		}
		return
	}

	r := s.Report
	groups := r.Groups()
	fmt.Fprintf(out, "Duplicate scan: completed (job %s, %s)\n", r.ID, r.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	if len(groups) == 0 {
		fmt.Fprintln(out, "No duplicate files found")
		return
	}

	fmt.Fprintf(out, "%d group(s), %d duplicate file(s), %s reclaimable\n\n",
		len(groups), len(r.DuplicateIDs()), formatSize(r.WastedBytes()))
	for i, g := range groups {
		fmt.Fprintf(out, "[%d] %s  %s  (%s)\n", i+1, g.Original.ID, g.Original.Name, formatSize(g.Original.Size))
		for _, d := range g.Duplicates {
			fmt.Fprintf(out, "    = %s  %s\n", d.ID, d.Name)
		}
	}
	if len(s.Violations) > 0 {
		fmt.Fprintf(out, "\nWarning: report has %d inconsistency(ies):\n", len(s.Violations))
		for _, v := range s.Violations {
			fmt.Fprintf(out, "  %s\n", v)
		}
	}
}
