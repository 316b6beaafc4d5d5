package progress

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// TransferUI manages concurrent per-file progress bars using mpb
type TransferUI struct {
	progress   *mpb.Progress
	out        io.Writer
	verb       string // "Uploading" or "Downloading"
	isTerminal bool
	totalFiles int
	started    int32 // Atomic counter for file index (1, 2, 3, ...)
	completed  int32
	failed     int32

	mu   sync.Mutex
	bars []*FileBar
}

// FileBar represents a single file's progress bar
type FileBar struct {
	bar       *mpb.Bar
	ui        *TransferUI
	index     int
	name      string
	size      int64
	startTime time.Time
	done      atomic.Bool
}

// NewTransferUI creates a transfer UI for totalFiles files on stderr.
func NewTransferUI(verb string, totalFiles int) *TransferUI {
	return newTransferUI(verb, totalFiles, os.Stderr, IsTerminal(os.Stderr))
}

func newTransferUI(verb string, totalFiles int, out io.Writer, isTerminal bool) *TransferUI {
	var p *mpb.Progress
	if isTerminal {
		if f, ok := out.(*os.File); ok {
			enableANSI(f)
		}
		p = mpb.New(
			mpb.WithOutput(out),
			mpb.WithRefreshRate(300*time.Millisecond), // ~3 times per second
			mpb.WithWidth(100),
		)
	} else {
		// Non-TTY: disable progress bars, just use text output
		p = mpb.New(mpb.WithOutput(io.Discard))
	}

	return &TransferUI{
		progress:   p,
		out:        out,
		verb:       verb,
		isTerminal: isTerminal,
		totalFiles: totalFiles,
	}
}

// AddFileBar creates a new progress bar for one file
func (u *TransferUI) AddFileBar(name string, size int64) *FileBar {
	index := int(atomic.AddInt32(&u.started, 1))
	label := truncatePath(name, 2)

	fb := &FileBar{ui: u, index: index, name: name, size: size, startTime: time.Now()}

	if u.isTerminal && size > 0 {
		fb.bar = u.progress.New(size,
			mpb.BarStyle().
				Lbound("[").
				Filler("█").
				Tip("█").
				Padding("░").
				Rbound("]"),
			mpb.PrependDecorators(
				decor.Name(fmt.Sprintf("[%d/%d] %s", index, u.totalFiles, label), decor.WCSyncSpace),
			),
			mpb.AppendDecorators(
				decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncSpace),
				decor.Name("  "),
				decor.Percentage(decor.WCSyncSpace),
				decor.Name("  "),
				decor.EwmaSpeed(decor.SizeB1024(0), "% .1f", 30, decor.WCSyncSpace),
				decor.Name("  "),
				decor.Name("ETA ", decor.WCSyncWidth),
				decor.EwmaETA(decor.ET_STYLE_GO, 30),
			),
			mpb.BarRemoveOnComplete(),
		)
	} else if !u.isTerminal {
		fmt.Fprintf(u.out, "%s [%d/%d]: %s (%.1f MiB)\n", u.verb, index, u.totalFiles, label, float64(size)/(1024*1024))
	}

	u.mu.Lock()
	u.bars = append(u.bars, fb)
	u.mu.Unlock()
	return fb
}

// Reader proxies r through the bar.
func (f *FileBar) Reader(r io.Reader) io.Reader {
	if f.bar == nil {
		return r
	}
	return f.bar.ProxyReader(r)
}

// Writer proxies w through the bar.
func (f *FileBar) Writer(w io.Writer) io.Writer {
	if f.bar == nil {
		return w
	}
	return f.bar.ProxyWriter(w)
}

// Complete marks the transfer as finished and prints a summary line.
func (f *FileBar) Complete(detail string, err error) {
	if !f.done.CompareAndSwap(false, true) {
		return
	}
	elapsed := time.Since(f.startTime)

	var msg string
	if err == nil {
		if f.bar != nil {
			// Exact 100% regardless of rounding, triggers BarRemoveOnComplete
			f.bar.SetCurrent(f.size)
			f.bar.SetTotal(f.size, true)
		}
		speed := float64(f.size) / elapsed.Seconds() / (1024 * 1024)
		msg = fmt.Sprintf("✓ %s", truncatePath(f.name, 2))
		if detail != "" {
			msg += " → " + detail
		}
		msg += fmt.Sprintf(" (%.1f MiB, %s, %.1f MiB/s)\n", float64(f.size)/(1024*1024), elapsed.Round(time.Second), speed)
	} else {
		if f.bar != nil {
			f.bar.Abort(false) // keep the bar visible to show the failure
		}
		msg = fmt.Sprintf("✗ %s: %v\n", truncatePath(f.name, 2), err)
		atomic.AddInt32(&f.ui.failed, 1)
	}

	// Write through mpb so the line lands above the bars
	if _, werr := io.WriteString(f.ui.Writer(), msg); werr != nil {
		fmt.Fprint(os.Stderr, msg)
	}
	atomic.AddInt32(&f.ui.completed, 1)
}

// ReaderWrapper returns an upload reader wrapper adding one bar per file.
func (u *TransferUI) ReaderWrapper() func(name string, size int64, r io.Reader) io.Reader {
	return func(name string, size int64, r io.Reader) io.Reader {
		return u.AddFileBar(name, size).Reader(r)
	}
}

// WriterWrapper returns a download writer wrapper adding one bar per file.
func (u *TransferUI) WriterWrapper() func(name string, size int64, w io.Writer) io.Writer {
	return func(name string, size int64, w io.Writer) io.Writer {
		return u.AddFileBar(name, size).Writer(w)
	}
}

// Bar returns the bar for name, or nil.
func (u *TransferUI) Bar(name string) *FileBar {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, b := range u.bars {
		if b.name == name {
			return b
		}
	}
	return nil
}

// Wait aborts bars nobody completed and blocks until rendering stops.
func (u *TransferUI) Wait() {
	u.mu.Lock()
	bars := append([]*FileBar(nil), u.bars...)
	u.mu.Unlock()

	for _, b := range bars {
		if !b.done.Load() && b.bar != nil && !b.bar.Completed() {
			b.bar.Abort(false)
		}
	}
	u.progress.Wait()
}

// Counts returns the number of completed and failed transfers.
func (u *TransferUI) Counts() (completed, failed int) {
	return int(atomic.LoadInt32(&u.completed)), int(atomic.LoadInt32(&u.failed))
}

// Writer returns an io.Writer that safely prints above the progress bars.
func (u *TransferUI) Writer() io.Writer {
	if u.isTerminal {
		return u.progress
	}
	return u.out
}

// IsTerminal returns true if progress bars are active.
func (u *TransferUI) IsTerminal() bool {
	return u.isTerminal
}

// truncatePath truncates a file path to show only the last N components
// Example: truncatePath("/a/b/c/d/file.txt", 3) → "…/c/d/file.txt"
func truncatePath(path string, maxComponents int) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	if len(parts) <= maxComponents {
		return filepath.Base(path)
	}
	relevant := parts[len(parts)-maxComponents:]
	return "…/" + strings.Join(relevant, "/")
}
