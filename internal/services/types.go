// Package services provides frontend-agnostic business logic for filehub.
// This layer sits between the CLI and the REST client: every mutation goes
// through FileService, which keeps the caches and the dedup poller coherent.
package services

import (
	"context"
	"io"

	"github.com/rescale/filehub/internal/api"
	"github.com/rescale/filehub/internal/models"
)

// Backend is the subset of the REST client FileService drives.
type Backend interface {
	GetFile(ctx context.Context, fileID string) (*models.File, error)
	DeleteFile(ctx context.Context, fileID string) error
	BatchDeleteFiles(ctx context.Context, fileIDs []string) error
	UploadFile(ctx context.Context, filename string, content io.Reader) (*models.File, error)
	DownloadFile(ctx context.Context, f models.File, w io.Writer) (int64, error)
	TriggerDedup(ctx context.Context) (*api.TriggerResponse, error)
}

var _ Backend = (*api.Client)(nil)

// Mutation operation names carried by MutationEvent.Op.
const (
	OpDelete       = "delete"
	OpUpload       = "upload"
	OpTriggerDedup = "trigger_dedup"
)

// ReaderWrapper lets callers observe upload progress. The returned reader
// replaces r for the transfer.
type ReaderWrapper func(name string, size int64, r io.Reader) io.Reader

// WriterWrapper lets callers observe download progress. name is the local
// file name. The returned writer replaces w for the transfer.
type WriterWrapper func(name string, size int64, w io.Writer) io.Writer

// UploadResult is the outcome of one file in a multi-file upload.
type UploadResult struct {
	Path string
	File *models.File // nil on failure
	Err  error
}

// DownloadResult is the outcome of one file in a multi-file download.
type DownloadResult struct {
	FileID string
	Path   string
	Bytes  int64
	Err    error
}
