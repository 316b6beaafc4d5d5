package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rescale/filehub/internal/cache"
	"github.com/rescale/filehub/internal/constants"
	"github.com/rescale/filehub/internal/dedup"
	"github.com/rescale/filehub/internal/diskspace"
	"github.com/rescale/filehub/internal/events"
	"github.com/rescale/filehub/internal/logging"
	"github.com/rescale/filehub/internal/models"
	"github.com/rescale/filehub/internal/state"
	"github.com/rescale/filehub/internal/util/paths"
)

// FileCache is the file-collection resource cache.
type FileCache = cache.Cache[models.FileCollectionQuery, *models.PaginatedFileList]

// Options configures a FileService. Poller and View are optional.
type Options struct {
	Poller      *dedup.Poller
	View        *state.FileCollection
	Bus         *events.EventBus
	Logger      *logging.Logger
	Concurrency int // parallel transfers for multi-file uploads and downloads
}

// FileService coordinates mutations with the caches that depend on them.
// Invalidation only ever follows an observed success response: a failed
// mutation leaves the file list and the dedup report untouched.
type FileService struct {
	backend     Backend
	files       *FileCache
	poller      *dedup.Poller
	view        *state.FileCollection
	eventBus    *events.EventBus
	logger      *logging.Logger
	concurrency int

	// Serializes mutations so invalidation order matches server order
	mu sync.Mutex
}

// NewFileService creates a new FileService.
func NewFileService(backend Backend, files *FileCache, opts Options) *FileService {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = constants.DefaultTransferConcurrency
	}
	return &FileService{
		backend:     backend,
		files:       files,
		poller:      opts.Poller,
		view:        opts.View,
		eventBus:    opts.Bus,
		logger:      logger.Component("file-service"),
		concurrency: concurrency,
	}
}

// DeleteOne deletes a single file.
func (fs *FileService) DeleteOne(ctx context.Context, fileID string) error {
	if strings.TrimSpace(fileID) == "" {
		return &models.ValidationError{Field: "file_id", Reason: "must not be empty"}
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.backend.DeleteFile(ctx, fileID); err != nil {
		fs.logger.Error().Err(err).Str("file_id", fileID).Msg("Delete failed")
		fs.eventBus.Publish(events.NewMutationEvent(OpDelete, []string{fileID}, err))
		return fmt.Errorf("failed to delete file: %w", err)
	}

	fs.afterMutation(ctx, OpDelete, []string{fileID})
	return nil
}

// DeleteMany deletes files in one batch request. An empty id list is
// rejected before any request is issued.
func (fs *FileService) DeleteMany(ctx context.Context, fileIDs []string) error {
	if len(fileIDs) == 0 {
		return &models.ValidationError{Field: "file_ids", Reason: "batch delete requires at least one id"}
	}
	for _, id := range fileIDs {
		if strings.TrimSpace(id) == "" {
			return &models.ValidationError{Field: "file_ids", Reason: "ids must not be empty"}
		}
	}
	ids := dedupeIDs(fileIDs)

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.backend.BatchDeleteFiles(ctx, ids); err != nil {
		fs.logger.Error().Err(err).Int("count", len(ids)).Msg("Batch delete failed")
		fs.eventBus.Publish(events.NewMutationEvent(OpDelete, ids, err))
		return fmt.Errorf("failed to delete %d files: %w", len(ids), err)
	}

	fs.afterMutation(ctx, OpDelete, ids)
	return nil
}

// DeleteSelected batch-deletes the files selected in the view model.
func (fs *FileService) DeleteSelected(ctx context.Context) ([]string, error) {
	if fs.view == nil {
		return nil, errors.New("no file collection attached")
	}
	ids := fs.view.SelectedIDs()
	if len(ids) == 0 {
		return nil, &models.ValidationError{Field: "selection", Reason: "no files selected"}
	}
	if err := fs.DeleteMany(ctx, ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// Upload sends one file. The server starts a new dedup job on every save,
// so a successful upload re-arms the poller.
func (fs *FileService) Upload(ctx context.Context, name string, content io.Reader) (*models.File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, err := fs.backend.UploadFile(ctx, name, content)
	if err != nil {
		fs.logger.Error().Err(err).Str("name", name).Msg("Upload failed")
		fs.eventBus.Publish(events.NewMutationEvent(OpUpload, nil, err))
		return nil, fmt.Errorf("failed to upload %s: %w", name, err)
	}

	fs.afterMutation(ctx, OpUpload, []string{f.ID})
	return f, nil
}

// UploadPaths uploads local files in parallel and applies one invalidation
// for the whole batch once every upload has finished. Results keep the order
// of paths; the returned error joins every per-file failure.
func (fs *FileService) UploadPaths(ctx context.Context, paths []string, wrap ReaderWrapper) ([]UploadResult, error) {
	if len(paths) == 0 {
		return nil, &models.ValidationError{Field: "paths", Reason: "no files to upload"}
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	results := make([]UploadResult, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fs.concurrency)

	for i, p := range paths {
		results[i].Path = p
		g.Go(func() error {
			f, err := fs.uploadPath(gctx, p, wrap)
			results[i].File, results[i].Err = f, err
			// Per-file failures are collected, not used to cancel siblings
			return nil
		})
	}
	_ = g.Wait()

	var ids []string
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
			continue
		}
		ids = append(ids, r.File.ID)
	}

	if len(ids) > 0 {
		fs.afterMutation(ctx, OpUpload, ids)
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		fs.eventBus.Publish(events.NewMutationEvent(OpUpload, nil, err))
		return results, err
	}
	return results, nil
}

func (fs *FileService) uploadPath(ctx context.Context, path string, wrap ReaderWrapper) (*models.File, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, &models.ValidationError{Field: "path", Reason: fmt.Sprintf("%s is a directory", path)}
	}

	name := filepath.Base(path)
	var r io.Reader = file
	if wrap != nil {
		r = wrap(name, info.Size(), file)
	}

	f, err := fs.backend.UploadFile(ctx, name, r)
	if err != nil {
		fs.logger.Error().Err(err).Str("path", path).Msg("Upload failed")
		return nil, fmt.Errorf("failed to upload %s: %w", path, err)
	}
	fs.logger.Info().Str("path", path).Str("file_id", f.ID).Int64("size", info.Size()).Msg("Uploaded")
	return f, nil
}

// Download writes a file to destPath. Nothing is invalidated. The file is
// written to a temporary name and renamed into place on success.
func (fs *FileService) Download(ctx context.Context, f models.File, destPath string, wrap WriterWrapper) (int64, error) {
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(destPath)+".*.part")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	var w io.Writer = tmp
	if wrap != nil {
		w = wrap(filepath.Base(destPath), f.Size, tmp)
	}

	n, err := fs.backend.DownloadFile(ctx, f, w)
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		fs.logger.Error().Err(err).Str("file_id", f.ID).Msg("Download failed")
		return n, fmt.Errorf("failed to download %s: %w", f.ID, err)
	}

	if err := os.Rename(tmpName, destPath); err != nil {
		return n, fmt.Errorf("failed to move download into place: %w", err)
	}
	fs.logger.Info().Str("file_id", f.ID).Str("path", destPath).Int64("bytes", n).Msg("Downloaded")
	return n, nil
}

// DownloadIDs looks up each id and downloads the files into dir in
// parallel, named by their original filenames. Files sharing a name get
// their id appended. Nothing is written unless dir has room for all of them.
func (fs *FileService) DownloadIDs(ctx context.Context, ids []string, dir string, wrap WriterWrapper) ([]DownloadResult, error) {
	if len(ids) == 0 {
		return nil, &models.ValidationError{Field: "file_ids", Reason: "no files to download"}
	}
	ids = dedupeIDs(ids)

	results := make([]DownloadResult, len(ids))
	metas := make([]*models.File, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fs.concurrency)
	for i, id := range ids {
		results[i].FileID = id
		g.Go(func() error {
			f, err := fs.backend.GetFile(gctx, id)
			if err != nil {
				results[i].Err = fmt.Errorf("failed to look up %s: %w", id, err)
				return nil
			}
			metas[i] = f
			return nil
		})
	}
	_ = g.Wait()

	var found []models.File
	var index []int
	for i, f := range metas {
		if f != nil {
			found = append(found, *f)
			index = append(index, i)
		}
	}
	plan, renamed := paths.Plan(dir, found)
	if renamed > 0 {
		fs.logger.Info().Int("files", renamed).Msg("Renamed downloads with clashing names")
	}

	var total int64
	for _, f := range found {
		total += f.Size
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return results, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	if err := diskspace.CheckAvailableSpace(dir, total, constants.DiskSpaceSafetyMargin); err != nil {
		for _, i := range index {
			results[i].Err = err
		}
		return results, err
	}

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(fs.concurrency)
	for j, p := range plan {
		i := index[j]
		f := found[j]
		results[i].Path = p.LocalPath
		g.Go(func() error {
			results[i].Bytes, results[i].Err = fs.Download(gctx, f, p.LocalPath, wrap)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return results, errors.Join(errs...)
}

// TriggerDedup asks the server to start a duplicate scan and re-arms the
// poller to follow it.
func (fs *FileService) TriggerDedup(ctx context.Context) (string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	resp, err := fs.backend.TriggerDedup(ctx)
	if err != nil {
		fs.eventBus.Publish(events.NewMutationEvent(OpTriggerDedup, nil, err))
		return "", fmt.Errorf("failed to trigger duplicate scan: %w", err)
	}

	fs.logger.Info().Str("task_id", resp.TaskID).Msg("Duplicate scan triggered")
	if fs.poller != nil {
		fs.poller.Rearm()
	}
	fs.eventBus.Publish(events.NewMutationEvent(OpTriggerDedup, nil, nil))
	return resp.TaskID, nil
}

// afterMutation runs once the server confirmed a mutation: every cached file
// list is invalidated, the poller is re-armed, deleted ids leave the
// selection and the view reloads its current key. Must hold fs.mu.
func (fs *FileService) afterMutation(ctx context.Context, op string, ids []string) {
	n := fs.files.InvalidateAll()
	if fs.poller != nil {
		fs.poller.Rearm()
	}

	fs.logger.Info().Str("op", op).Int("files", len(ids)).Int("invalidated_keys", n).Msg("Mutation applied")

	if fs.view != nil {
		if op == OpDelete {
			fs.view.Deselect(ids...)
		}
		if err := fs.view.Load(ctx); err != nil && !errors.Is(err, state.ErrSuperseded) {
			fs.logger.Warn().Err(err).Msg("Reload after mutation failed")
		}
	}

	fs.eventBus.Publish(events.NewMutationEvent(op, ids, nil))
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
