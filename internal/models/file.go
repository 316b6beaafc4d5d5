package models

import (
	"path/filepath"
	"strings"
	"time"
)

// File represents an uploaded file as returned by the files endpoint.
// Files are immutable once created.
type File struct {
	ID               string    `json:"id"`
	URL              string    `json:"file"` // storage reference
	OriginalFilename string    `json:"original_filename"`
	FileType         string    `json:"file_type"` // media type recorded at upload
	Size             int64     `json:"size"`
	UploadedAt       time.Time `json:"uploaded_at"`
	FileHash         string    `json:"file_hash,omitempty"`
}

// Category classifies the file into one of the filter categories.
func (f File) Category() FileFilter {
	return CategoryOf(f.FileType, f.OriginalFilename)
}

// PaginatedFileList is one page of a file collection query.
type PaginatedFileList struct {
	Count    int     `json:"count"` // total matching the query, across all pages
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  []File  `json:"results"`
}

// Empty reports whether the query matched no files at all.
func (l *PaginatedFileList) Empty() bool {
	return l == nil || l.Count == 0
}

// PageCount returns the number of pages for the given page size.
// An empty collection still has one (empty) page.
func (l *PaginatedFileList) PageCount(pageSize int) int {
	if l == nil || pageSize <= 0 || l.Count <= 0 {
		return 1
	}
	return (l.Count + pageSize - 1) / pageSize
}

// IDs returns the ids of the files on this page, in order.
func (l *PaginatedFileList) IDs() []string {
	if l == nil {
		return nil
	}
	ids := make([]string, 0, len(l.Results))
	for _, f := range l.Results {
		ids = append(ids, f.ID)
	}
	return ids
}

// categoryExtensions mirrors the server's extension table for fileType filtering.
var categoryExtensions = map[FileFilter][]string{
	FilterImages:    {"jpg", "jpeg", "png", "gif", "bmp", "svg", "webp"},
	FilterDocuments: {"pdf", "doc", "docx", "txt", "rtf", "odt", "xls", "xlsx", "ppt", "pptx"},
	FilterVideos:    {"mp4", "avi", "mov", "wmv", "flv", "webm", "mkv"},
	FilterAudio:     {"mp3", "wav", "flac", "aac", "ogg", "wma"},
	FilterArchives:  {"zip", "rar", "7z", "tar", "gz", "bz2"},
}

// CategoryOf maps a media type (e.g. "image/png") and optional filename to a
// filter category. Unknown types fall into FilterOther.
func CategoryOf(fileType, filename string) FileFilter {
	ft := strings.ToLower(strings.TrimSpace(fileType))

	switch {
	case strings.HasPrefix(ft, "image/"):
		return FilterImages
	case strings.HasPrefix(ft, "video/"):
		return FilterVideos
	case strings.HasPrefix(ft, "audio/"):
		return FilterAudio
	}

	candidates := []string{ft}
	if i := strings.LastIndex(ft, "/"); i >= 0 {
		candidates = append(candidates, ft[i+1:])
	}
	if ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), "."); ext != "" {
		candidates = append(candidates, ext)
	}

	for _, c := range candidates {
		if c == "" {
			continue
		}
		for _, filter := range categoryFilters {
			for _, ext := range categoryExtensions[filter] {
				if c == ext {
					return filter
				}
			}
		}
	}
	return FilterOther
}

// categoryFilters fixes the lookup order so classification is deterministic.
var categoryFilters = []FileFilter{FilterImages, FilterDocuments, FilterVideos, FilterAudio, FilterArchives}
