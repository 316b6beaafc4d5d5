package models

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/rescale/filehub/internal/constants"
)

// SortKey selects the ordering of a file collection.
type SortKey string

const (
	SortName SortKey = "name"
	SortSize SortKey = "size"
	SortDate SortKey = "date"
	SortType SortKey = "type"
)

// SortKeys lists the accepted sort keys.
var SortKeys = []SortKey{SortName, SortSize, SortDate, SortType}

// FileFilter restricts a file collection to one category.
type FileFilter string

const (
	FilterAll       FileFilter = "all"
	FilterImages    FileFilter = "images"
	FilterDocuments FileFilter = "documents"
	FilterVideos    FileFilter = "videos"
	FilterAudio     FileFilter = "audio"
	FilterArchives  FileFilter = "archives"
	FilterOther     FileFilter = "other"
)

// FileFilters lists the accepted filters.
var FileFilters = []FileFilter{FilterAll, FilterImages, FilterDocuments, FilterVideos, FilterAudio, FilterArchives, FilterOther}

// ParseSortKey validates a sort key string.
func ParseSortKey(s string) (SortKey, error) {
	k := SortKey(strings.ToLower(strings.TrimSpace(s)))
	for _, valid := range SortKeys {
		if k == valid {
			return k, nil
		}
	}
	return "", &ValidationError{Field: "sort", Reason: fmt.Sprintf("unknown sort key %q", s)}
}

// ParseFileFilter validates a filter string.
func ParseFileFilter(s string) (FileFilter, error) {
	f := FileFilter(strings.ToLower(strings.TrimSpace(s)))
	for _, valid := range FileFilters {
		if f == valid {
			return f, nil
		}
	}
	return "", &ValidationError{Field: "filter", Reason: fmt.Sprintf("unknown filter %q", s)}
}

// FileCollectionQuery is the full set of parameters for one list request.
// Two queries with equal normalized fields produce the same Key.
type FileCollectionQuery struct {
	Search   string
	Sort     SortKey
	Filter   FileFilter
	Page     int
	PageSize int
}

// DefaultFileCollectionQuery returns search="", sort=date, filter=all, page 1.
func DefaultFileCollectionQuery() FileCollectionQuery {
	return FileCollectionQuery{
		Sort:     SortKey(constants.DefaultSort),
		Filter:   FileFilter(constants.DefaultFilter),
		Page:     1,
		PageSize: constants.DefaultPageSize,
	}
}

// Normalized fills zero fields with defaults and trims the search text.
func (q FileCollectionQuery) Normalized() FileCollectionQuery {
	q.Search = strings.TrimSpace(q.Search)
	if q.Sort == "" {
		q.Sort = SortKey(constants.DefaultSort)
	}
	if q.Filter == "" {
		q.Filter = FileFilter(constants.DefaultFilter)
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize == 0 {
		q.PageSize = constants.DefaultPageSize
	}
	return q
}

// Validate checks field ranges without contacting the server.
func (q FileCollectionQuery) Validate() error {
	if q.Page < 1 {
		return &ValidationError{Field: "page", Reason: fmt.Sprintf("page must be >= 1, got %d", q.Page)}
	}
	if !constants.IsAllowedPageSize(q.PageSize) {
		return &ValidationError{Field: "page_size", Reason: fmt.Sprintf("page size %d not in %v", q.PageSize, constants.AllowedPageSizes)}
	}
	if _, err := ParseSortKey(string(q.Sort)); err != nil {
		return err
	}
	if _, err := ParseFileFilter(string(q.Filter)); err != nil {
		return err
	}
	return nil
}

// Params maps the query onto the list endpoint's request parameters.
func (q FileCollectionQuery) Params() url.Values {
	n := q.Normalized()
	v := url.Values{}
	v.Set("search", n.Search)
	v.Set("sortBy", string(n.Sort))
	v.Set("fileType", string(n.Filter))
	v.Set("page", strconv.Itoa(n.Page))
	v.Set("page_size", strconv.Itoa(n.PageSize))
	return v
}

// Key is the deterministic value-equality key for the query.
// url.Values.Encode sorts by parameter name.
func (q FileCollectionQuery) Key() string {
	return q.Params().Encode()
}

// CacheKey implements cache.Key.
func (q FileCollectionQuery) CacheKey() string {
	return "files?" + q.Key()
}

// IsDefault reports whether filter, search, sort and page are at their defaults.
// Page size is a display preference and is not considered.
func (q FileCollectionQuery) IsDefault() bool {
	d := DefaultFileCollectionQuery()
	n := q.Normalized()
	return n.Search == d.Search && n.Sort == d.Sort && n.Filter == d.Filter && n.Page == d.Page
}
