package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/rescale/filehub/internal/config"
	"github.com/rescale/filehub/internal/models"
)

// fakeFileServer serves the files and dedup endpoints from memory. The dedup
// report lists every remaining file named "copy-*" as a duplicate of "orig".
type fakeFileServer struct {
	mu       sync.Mutex
	files    map[string]models.File
	deletes  [][]string
	requests []string
}

func newFakeFileServer(t *testing.T) *httptest.Server {
	t.Helper()
	fs := &fakeFileServer{files: map[string]models.File{
		"orig":   {ID: "orig", OriginalFilename: "photo.jpg", FileType: "image/jpeg", Size: 100},
		"copy-1": {ID: "copy-1", OriginalFilename: "photo (1).jpg", FileType: "image/jpeg", Size: 100},
		"copy-2": {ID: "copy-2", OriginalFilename: "photo (2).jpg", FileType: "image/jpeg", Size: 100},
		"notes":  {ID: "notes", OriginalFilename: "notes.txt", FileType: "text/plain", Size: 5},
	}}
	srv := httptest.NewServer(fs)
	t.Cleanup(srv.Close)
	return srv
}

func (fs *fakeFileServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.requests = append(fs.requests, r.Method+" "+r.URL.Path)

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/files/":
		var results []models.File
		for _, f := range fs.files {
			results = append(results, f)
		}
		sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
		json.NewEncoder(w).Encode(models.PaginatedFileList{Count: len(results), Results: results})

	case r.Method == http.MethodPost && r.URL.Path == "/api/files/batch_delete/":
		var body struct {
			FileIDs []string `json:"file_ids"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		for _, id := range body.FileIDs {
			delete(fs.files, id)
		}
		fs.deletes = append(fs.deletes, body.FileIDs)
		w.WriteHeader(http.StatusNoContent)

	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/api/files/"):
		id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/files/"), "/")
		if _, ok := fs.files[id]; !ok {
			http.NotFound(w, r)
			return
		}
		delete(fs.files, id)
		fs.deletes = append(fs.deletes, []string{id})
		w.WriteHeader(http.StatusNoContent)

	case r.Method == http.MethodGet && r.URL.Path == "/api/dedup/latest/":
		report := models.DedupReport{ID: "job", IsValid: true, Status: models.DedupStatusCompleted}
		group := models.DuplicateGroup{Original: models.FileRef{ID: "orig", Name: "photo.jpg", Size: 100}}
		for id, f := range fs.files {
			if strings.HasPrefix(id, "copy-") {
				group.Duplicates = append(group.Duplicates, models.FileRef{ID: id, Name: f.OriginalFilename, Size: f.Size})
			}
		}
		sort.Slice(group.Duplicates, func(i, j int) bool { return group.Duplicates[i].ID < group.Duplicates[j].ID })
		if len(group.Duplicates) > 0 {
			report.Duplicates = []models.DuplicateGroup{group}
		}
		json.NewEncoder(w).Encode(report)

	default:
		http.NotFound(w, r)
	}
}

func executeCommand(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv(config.EnvAPIURL, "")
	t.Setenv(config.EnvAPIKey, "")

	root := NewRootCmd()
	AddCommands(root)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)

	err := root.Execute()
	return out.String(), err
}

func serverArgs(t *testing.T, srv *httptest.Server, args ...string) []string {
	cfgPath := filepath.Join(t.TempDir(), "config")
	return append([]string{"--config", cfgPath, "--api-url", srv.URL + "/api"}, args...)
}

func TestFilesList(t *testing.T) {
	srv := newFakeFileServer(t)

	out, err := executeCommand(t, "", serverArgs(t, srv, "files", "list", "--sort", "name", "--filter", "images")...)
	if err != nil {
		t.Fatalf("files list error = %v\n%s", err, out)
	}
	for _, want := range []string{"sort=name", "filter=images", "photo.jpg", "notes.txt", "Page 1 of 1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFilesListRejectsInvalidFlags(t *testing.T) {
	srv := newFakeFileServer(t)

	tests := [][]string{
		{"files", "list", "--sort", "color"},
		{"files", "list", "--filter", "spreadsheets"},
		{"files", "list", "--page-size", "7"},
		{"files", "list", "--page", "-1"},
	}
	for _, args := range tests {
		if _, err := executeCommand(t, "", serverArgs(t, srv, args...)...); err == nil {
			t.Errorf("%v: expected error", args)
		}
	}
}

func TestFilesDeleteRequiresConfirmation(t *testing.T) {
	srv := newFakeFileServer(t)

	out, err := executeCommand(t, "n\n", serverArgs(t, srv, "files", "delete", "notes")...)
	if err != nil {
		t.Fatalf("files delete error = %v", err)
	}
	if !strings.Contains(out, "Deletion cancelled") {
		t.Errorf("output = %q, want cancellation", out)
	}

	out, err = executeCommand(t, "", serverArgs(t, srv, "files", "delete", "notes", "--yes")...)
	if err != nil {
		t.Fatalf("files delete --yes error = %v\n%s", err, out)
	}
	if !strings.Contains(out, "Deleted 1 file(s)") {
		t.Errorf("output = %q", out)
	}

	out, err = executeCommand(t, "", serverArgs(t, srv, "files", "list")...)
	if err != nil {
		t.Fatalf("files list error = %v", err)
	}
	if strings.Contains(out, "notes.txt") {
		t.Errorf("deleted file still listed:\n%s", out)
	}
}

func TestDedupStatus(t *testing.T) {
	srv := newFakeFileServer(t)

	out, err := executeCommand(t, "", serverArgs(t, srv, "dedup", "status")...)
	if err != nil {
		t.Fatalf("dedup status error = %v\n%s", err, out)
	}
	for _, want := range []string{"completed", "1 group(s), 2 duplicate file(s)", "copy-1", "copy-2"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestDedupCleanDeletesDuplicatesAndWaitsForRescan(t *testing.T) {
	srv := newFakeFileServer(t)

	out, err := executeCommand(t, "", serverArgs(t, srv, "dedup", "clean", "--yes")...)
	if err != nil {
		t.Fatalf("dedup clean error = %v\n%s", err, out)
	}
	if !strings.Contains(out, "Deleted 2 duplicate file(s)") {
		t.Errorf("output missing delete summary:\n%s", out)
	}
	if !strings.Contains(out, "No duplicate files found") {
		t.Errorf("output missing rescan result:\n%s", out)
	}
}

func TestConfigInitAndShow(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config")
	input := strings.Join([]string{
		"http://files.example.test/api", // API URL
		"supersecret",                   // API key
		"50",                            // poll interval, below minimum
		"2000",                          // poll interval
		"",                              // page size default
		"n",                             // proxy
	}, "\n") + "\n"

	out, err := executeCommand(t, input, "--config", cfgPath, "config", "init")
	if err != nil {
		t.Fatalf("config init error = %v\n%s", err, out)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	if cfg.APIBaseURL != "http://files.example.test/api" {
		t.Errorf("APIBaseURL = %q", cfg.APIBaseURL)
	}
	if cfg.APIKey != "supersecret" {
		t.Errorf("APIKey = %q", cfg.APIKey)
	}
	if cfg.PollIntervalMs != 2000 {
		t.Errorf("PollIntervalMs = %d, want 2000", cfg.PollIntervalMs)
	}
	if cfg.PageSize != 10 {
		t.Errorf("PageSize = %d, want 10", cfg.PageSize)
	}

	out, err = executeCommand(t, "", "--config", cfgPath, "config", "init")
	if err != nil {
		t.Fatalf("second config init error = %v", err)
	}
	if !strings.Contains(out, "already exists") {
		t.Errorf("second init should refuse without --force:\n%s", out)
	}

	out, err = executeCommand(t, "", "--config", cfgPath, "config", "show")
	if err != nil {
		t.Fatalf("config show error = %v\n%s", err, out)
	}
	if strings.Contains(out, "supersecret") {
		t.Errorf("config show leaked the API key:\n%s", out)
	}
	for _, want := range []string{"****cret", "2s", cfgPath} {
		if !strings.Contains(out, want) {
			t.Errorf("config show missing %q:\n%s", want, out)
		}
	}
}

func TestConfigShowFlagOverride(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config")

	out, err := executeCommand(t, "", "--config", cfgPath, "--api-url", "https://override.example.test/api", "config", "show")
	if err != nil {
		t.Fatalf("config show error = %v", err)
	}
	if !strings.Contains(out, "https://override.example.test/api") {
		t.Errorf("flag override not shown:\n%s", out)
	}
	if !strings.Contains(out, "file does not exist") {
		t.Errorf("missing file note:\n%s", out)
	}
	if _, err := os.Stat(cfgPath); !os.IsNotExist(err) {
		t.Errorf("config show must not create the file")
	}
}
