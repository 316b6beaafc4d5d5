// Package progress renders transfer progress on the terminal: a single
// progressbar for one file, and stacked mpb bars for multi-file transfers.
// When stderr is not a terminal both fall back to plain lines.
package progress

import (
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// Reporter receives progress for one transfer.
type Reporter interface {
	Start(total int64, description string)
	Update(current int64)
	Finish()
	Error(err error)
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// NewReporter returns a progress bar on stderr when it is a terminal, or a
// no-op reporter otherwise.
func NewReporter() Reporter {
	if IsTerminal(os.Stderr) {
		return NewCLIProgress(os.Stderr)
	}
	return NewNoOpProgress()
}

// CLIProgress implements progress reporting for CLI mode using progress bars.
type CLIProgress struct {
	out io.Writer
	bar *progressbar.ProgressBar
}

// NewCLIProgress creates a new CLI progress reporter writing to out.
func NewCLIProgress(out io.Writer) *CLIProgress {
	return &CLIProgress{out: out}
}

// Start initializes the progress bar with total size and description.
// An unknown total (<= 0) renders a spinner.
func (p *CLIProgress) Start(total int64, description string) {
	if total <= 0 {
		total = -1
	}
	p.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(p.out, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Update updates the progress bar to the current position.
func (p *CLIProgress) Update(current int64) {
	if p.bar != nil {
		_ = p.bar.Set64(current)
	}
}

// Finish completes the progress bar.
func (p *CLIProgress) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

// Error displays an error message.
func (p *CLIProgress) Error(err error) {
	if err != nil {
		fmt.Fprintf(p.out, "\nError: %v\n", err)
	}
}

// NoOpProgress is a progress reporter that does nothing (for background/silent operations).
type NoOpProgress struct{}

// NewNoOpProgress creates a new no-op progress reporter.
func NewNoOpProgress() *NoOpProgress {
	return &NoOpProgress{}
}

func (p *NoOpProgress) Start(total int64, description string) {}
func (p *NoOpProgress) Update(current int64)                  {}
func (p *NoOpProgress) Finish()                               {}
func (p *NoOpProgress) Error(err error)                       {}

// ProgressWriter wraps an io.Writer to report progress.
type ProgressWriter struct {
	writer   io.Writer
	reporter Reporter
	current  int64
}

// NewProgressWriter creates a new progress-reporting writer.
func NewProgressWriter(writer io.Writer, reporter Reporter) *ProgressWriter {
	return &ProgressWriter{writer: writer, reporter: reporter}
}

// Write implements io.Writer interface with progress reporting.
func (pw *ProgressWriter) Write(p []byte) (int, error) {
	n, err := pw.writer.Write(p)
	pw.current += int64(n)
	pw.reporter.Update(pw.current)
	return n, err
}

// Written returns the bytes written so far.
func (pw *ProgressWriter) Written() int64 { return pw.current }

// ProgressReader wraps an io.Reader to report progress.
type ProgressReader struct {
	reader   io.Reader
	reporter Reporter
	current  int64
}

// NewProgressReader creates a new progress-reporting reader.
func NewProgressReader(reader io.Reader, reporter Reporter) *ProgressReader {
	return &ProgressReader{reader: reader, reporter: reporter}
}

// Read implements io.Reader interface with progress reporting.
func (pr *ProgressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	pr.current += int64(n)
	pr.reporter.Update(pr.current)
	return n, err
}

// WriterFor starts r for a download of size bytes and returns a wrapper
// that feeds it. Pass the result as a download writer wrapper.
func WriterFor(r Reporter) func(name string, size int64, w io.Writer) io.Writer {
	return func(name string, size int64, w io.Writer) io.Writer {
		r.Start(size, "Downloading "+name)
		return NewProgressWriter(w, r)
	}
}

// ReaderFor is the upload counterpart of WriterFor.
func ReaderFor(r Reporter) func(name string, size int64, rd io.Reader) io.Reader {
	return func(name string, size int64, rd io.Reader) io.Reader {
		r.Start(size, "Uploading "+name)
		return NewProgressReader(rd, r)
	}
}
