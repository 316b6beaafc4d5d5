package paths

import (
	"os"
	"path/filepath"
	"strings"
)

// ResolveDir turns a user-supplied directory into an absolute path. A
// leading ~ expands to the home directory, and symlinks (or Windows
// junctions such as a redirected Downloads folder) are resolved in the part
// of the path that already exists. An empty path means the working directory.
func ResolveDir(dir string) (string, error) {
	if dir == "" {
		return os.Getwd()
	}

	if dir == "~" || strings.HasPrefix(dir, "~/") || strings.HasPrefix(dir, `~\`) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, dir[1:])
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}

	// Resolve the deepest existing ancestor and re-append the rest
	existing := abs
	var missing []string
	for {
		if _, err := os.Stat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return abs, nil
		}
		missing = append([]string{filepath.Base(existing)}, missing...)
		existing = parent
	}

	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		resolved = existing
	}
	return filepath.Join(append([]string{resolved}, missing...)...), nil
}
