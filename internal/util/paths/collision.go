// Package paths maps remote files to local download paths.
package paths

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rescale/filehub/internal/models"
	"github.com/rescale/filehub/internal/util/sanitize"
)

// FileForDownload is one remote file and the local path it will be written to.
type FileForDownload struct {
	FileID    string
	Name      string // original filename
	LocalPath string
	Size      int64
}

// LocalName returns a safe base name for f, falling back to its id when the
// original filename is unusable.
func LocalName(f models.File) string {
	name := sanitize.Filename(filepath.Base(filepath.FromSlash(f.OriginalFilename)))
	if name == "" || name == "." || name == ".." {
		return f.ID
	}
	return name
}

// Plan assigns every file a unique path under dir.
func Plan(dir string, files []models.File) ([]FileForDownload, int) {
	out := make([]FileForDownload, len(files))
	for i, f := range files {
		out[i] = FileForDownload{
			FileID:    f.ID,
			Name:      f.OriginalFilename,
			LocalPath: filepath.Join(dir, LocalName(f)),
			Size:      f.Size,
		}
	}
	return ResolveCollisions(out)
}

// ResolveCollisions makes all LocalPaths unique. Files sharing a path get
// their FileID inserted before the extension:
//
//	report.pdf, report.pdf -> report_f1.pdf, report_f2.pdf
//
// Returns the slice (modified in place) and the number of files renamed.
func ResolveCollisions(files []FileForDownload) ([]FileForDownload, int) {
	if len(files) == 0 {
		return files, 0
	}

	pathToIndices := make(map[string][]int)
	for i, f := range files {
		key := strings.ToLower(f.LocalPath) // case-insensitive filesystems
		pathToIndices[key] = append(pathToIndices[key], i)
	}

	collisionCount := 0
	for _, indices := range pathToIndices {
		if len(indices) <= 1 {
			continue
		}

		collisionCount += len(indices)
		for _, idx := range indices {
			f := &files[idx]
			ext := filepath.Ext(f.LocalPath)
			base := f.LocalPath[:len(f.LocalPath)-len(ext)]
			f.LocalPath = fmt.Sprintf("%s_%s%s", base, f.FileID, ext)
		}
	}

	return files, collisionCount
}
