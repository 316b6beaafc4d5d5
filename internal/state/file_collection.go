// Package state provides observable state containers for filehub.
// FileCollection is the view model of the paginated, filterable file list.
package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rescale/filehub/internal/cache"
	"github.com/rescale/filehub/internal/constants"
	"github.com/rescale/filehub/internal/debounce"
	"github.com/rescale/filehub/internal/events"
	"github.com/rescale/filehub/internal/logging"
	"github.com/rescale/filehub/internal/models"
	"github.com/rescale/filehub/internal/util/sanitize"
)

// FileCache is the resource cache the view model reads file pages from.
type FileCache = cache.Cache[models.FileCollectionQuery, *models.PaginatedFileList]

// Status describes what the view currently shows.
type Status string

const (
	StatusIdle        Status = "idle"        // nothing requested yet
	StatusLoading     Status = "loading"     // fetch for the current key outstanding
	StatusReady       Status = "ready"       // List belongs to the current key
	StatusUnavailable Status = "unavailable" // last fetch for the current key failed
)

// ErrSuperseded is returned by Load when the query changed while the fetch
// was in flight. The result was not applied.
var ErrSuperseded = errors.New("query changed before the result arrived")

// View is an immutable snapshot for presentation.
type View struct {
	Query         models.FileCollectionQuery
	Key           string
	Status        Status
	List          *models.PaginatedFileList // nil unless Status is ready, or unavailable after a refetch of the same key
	Err           error
	SearchText    string // raw text, may differ from Query.Search while debouncing
	SearchPending bool
	Selected      []string
	CanReset      bool
}

// Options configures a FileCollection.
type Options struct {
	SearchDebounce time.Duration // 0 commits search text immediately
	PageSize       int           // initial page size; 0 uses the default
	AutoLoad       bool          // fetch in the background whenever the key changes
	Bus            *events.EventBus
	Logger         *logging.Logger
}

// FileCollection owns the query state (search, filter, sort, page) and the
// selection, and exposes the list most recently fetched for the current key.
// Thread-safe for concurrent access.
type FileCollection struct {
	files    *FileCache
	eventBus *events.EventBus
	logger   *logging.Logger
	search   *debounce.Timer[string]
	autoLoad bool

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	query     models.FileCollectionQuery
	rawSearch string
	list      *models.PaginatedFileList
	listKey   string
	status    Status
	lastError error
	selected  map[string]bool
}

// NewFileCollection creates a view model reading from files.
func NewFileCollection(files *FileCache, opts Options) *FileCollection {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	q := models.DefaultFileCollectionQuery()
	if constants.IsAllowedPageSize(opts.PageSize) {
		q.PageSize = opts.PageSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	fc := &FileCollection{
		files:    files,
		eventBus: opts.Bus,
		logger:   logger.Component("file-collection"),
		autoLoad: opts.AutoLoad,
		ctx:      ctx,
		cancel:   cancel,
		query:    q,
		status:   StatusIdle,
		selected: make(map[string]bool),
	}
	fc.search = debounce.NewTimer(opts.SearchDebounce, fc.commitSearch)
	return fc
}

// Close stops the search debouncer and any background loads.
func (fc *FileCollection) Close() {
	fc.search.Stop()
	fc.cancel()
}

// Query returns the committed query.
func (fc *FileCollection) Query() models.FileCollectionQuery {
	fc.mu.RLock()
	defer fc.mu.RUnlock()
	return fc.query
}

// View returns a snapshot of the current state.
func (fc *FileCollection) View() View {
	fc.mu.RLock()
	defer fc.mu.RUnlock()

	return View{
		Query:         fc.query,
		Key:           fc.query.Key(),
		Status:        fc.status,
		List:          fc.list,
		Err:           fc.lastError,
		SearchText:    fc.rawSearch,
		SearchPending: fc.search.Pending(),
		Selected:      fc.selectedIDsLocked(),
		CanReset:      fc.canResetLocked(),
	}
}

// SetSearch records typed text. The query only changes once the text has
// been stable for the debounce window.
func (fc *FileCollection) SetSearch(text string) {
	fc.mu.Lock()
	fc.rawSearch = text
	fc.mu.Unlock()

	fc.search.Push(text)
}

// FlushSearch commits pending search text immediately.
func (fc *FileCollection) FlushSearch() {
	fc.search.Flush()
}

func (fc *FileCollection) commitSearch(text string) {
	text = sanitize.SearchText(text)
	fc.update(func(q *models.FileCollectionQuery) bool {
		if q.Search == text {
			return false
		}
		q.Search = text
		q.Page = 1
		return true
	})
}

// SetFilter changes the type filter. A different filter resets the page to 1.
func (fc *FileCollection) SetFilter(filter models.FileFilter) error {
	f, err := models.ParseFileFilter(string(filter))
	if err != nil {
		return err
	}
	fc.update(func(q *models.FileCollectionQuery) bool {
		if q.Filter == f {
			return false
		}
		q.Filter = f
		q.Page = 1
		return true
	})
	return nil
}

// SetSort changes the sort key. A different key resets the page to 1.
func (fc *FileCollection) SetSort(key models.SortKey) error {
	k, err := models.ParseSortKey(string(key))
	if err != nil {
		return err
	}
	fc.update(func(q *models.FileCollectionQuery) bool {
		if q.Sort == k {
			return false
		}
		q.Sort = k
		q.Page = 1
		return true
	})
	return nil
}

// SetPage moves to page n. Pages below 1, or beyond the page count of the
// list currently shown, are rejected.
func (fc *FileCollection) SetPage(n int) error {
	if n < 1 {
		return &models.ValidationError{Field: "page", Reason: fmt.Sprintf("page must be >= 1, got %d", n)}
	}

	var rangeErr error
	fc.update(func(q *models.FileCollectionQuery) bool {
		if pages, ok := fc.knownPagesLocked(*q, q.PageSize); ok && n > pages {
			rangeErr = &models.ValidationError{Field: "page", Reason: fmt.Sprintf("page %d beyond last page %d", n, pages)}
			return false
		}
		if q.Page == n {
			return false
		}
		q.Page = n
		return true
	})
	return rangeErr
}

// knownPagesLocked returns the page count at pageSize of the list shown for q,
// if that list is known.
func (fc *FileCollection) knownPagesLocked(q models.FileCollectionQuery, pageSize int) (int, bool) {
	if fc.list == nil || fc.listKey != q.Key() {
		return 0, false
	}
	return fc.list.PageCount(pageSize), true
}

// NextPage and PrevPage step through pages within the known range.
func (fc *FileCollection) NextPage() error { return fc.SetPage(fc.Query().Page + 1) }
func (fc *FileCollection) PrevPage() error { return fc.SetPage(fc.Query().Page - 1) }

// SetPageSize changes the number of files per page. The page number is kept
// unless the known list has fewer pages at the new size, in which case it
// moves to the last page.
func (fc *FileCollection) SetPageSize(n int) error {
	if !constants.IsAllowedPageSize(n) {
		return &models.ValidationError{Field: "page_size", Reason: fmt.Sprintf("page size %d not in %v", n, constants.AllowedPageSizes)}
	}
	fc.update(func(q *models.FileCollectionQuery) bool {
		if q.PageSize == n {
			return false
		}
		if pages, ok := fc.knownPagesLocked(*q, n); ok && q.Page > pages {
			q.Page = pages
		}
		q.PageSize = n
		return true
	})
	return nil
}

// CanReset reports whether any of filter, search, sort or page differs from
// its default (including search text still being debounced).
func (fc *FileCollection) CanReset() bool {
	fc.mu.RLock()
	defer fc.mu.RUnlock()
	return fc.canResetLocked()
}

func (fc *FileCollection) canResetLocked() bool {
	return !fc.query.IsDefault() || sanitize.SearchText(fc.rawSearch) != ""
}

// Reset restores filter=all, search="", sort=date, page=1. Page size is kept.
// Returns false when there was nothing to reset.
func (fc *FileCollection) Reset() bool {
	if !fc.CanReset() {
		return false
	}

	fc.search.Cancel()
	fc.mu.Lock()
	fc.rawSearch = ""
	fc.mu.Unlock()

	def := models.DefaultFileCollectionQuery()
	fc.update(func(q *models.FileCollectionQuery) bool {
		changed := q.Search != def.Search || q.Filter != def.Filter || q.Sort != def.Sort || q.Page != def.Page
		q.Search, q.Filter, q.Sort, q.Page = def.Search, def.Filter, def.Sort, def.Page
		return changed
	})
	return true
}

// update applies mutate to the query. When it reports a change, the shown
// list is dropped and the view enters loading for the new key.
func (fc *FileCollection) update(mutate func(q *models.FileCollectionQuery) bool) {
	fc.mu.Lock()
	if !mutate(&fc.query) {
		fc.mu.Unlock()
		return
	}

	q := fc.query
	key := q.Key()
	fc.lastError = nil

	// A fresh cached page for the new key can be shown right away
	if e, ok := fc.files.Peek(q); ok && e.HasValue && !e.Stale {
		fc.list = e.Value
		fc.listKey = key
		fc.status = StatusReady
	} else {
		fc.list = nil
		fc.listKey = ""
		fc.status = StatusLoading
	}
	status, list := fc.status, fc.list
	fc.mu.Unlock()

	fc.logger.Debug().Str("key", key).Msg("Query changed")
	fc.eventBus.Publish(events.NewQueryChangedEvent(q))
	if status == StatusReady {
		fc.eventBus.Publish(events.NewFileListEvent(events.EventFileListChanged, key, list, nil))
		return
	}
	fc.eventBus.Publish(events.NewFileListEvent(events.EventFileListLoading, key, nil, nil))

	if fc.autoLoad {
		go func() {
			if err := fc.Load(fc.ctx); err != nil && !errors.Is(err, ErrSuperseded) && fc.ctx.Err() == nil {
				fc.logger.Debug().Err(err).Str("key", key).Msg("Background load failed")
			}
		}()
	}
}

// Load fetches the list for the current key through the cache and applies it
// if the key is still current. A result for a key the user already moved
// away from is discarded and ErrSuperseded returned.
func (fc *FileCollection) Load(ctx context.Context) error {
	fc.mu.Lock()
	q := fc.query
	key := q.Key()
	if fc.status == StatusIdle || fc.listKey != key {
		fc.status = StatusLoading
	}
	fc.mu.Unlock()

	list, err := fc.files.Get(ctx, q)

	if err != nil && ctx.Err() != nil {
		return err
	}

	fc.mu.Lock()
	if fc.query.Key() != key {
		fc.mu.Unlock()
		fc.logger.Debug().Str("key", key).Msg("Discarding result for superseded query")
		return ErrSuperseded
	}

	if err != nil {
		fc.status = StatusUnavailable
		fc.lastError = err
		if fc.listKey != key {
			fc.list = nil
		}
		fc.mu.Unlock()

		fc.logger.Warn().Err(err).Str("key", key).Msg("File list unavailable")
		fc.eventBus.Publish(events.NewFileListEvent(events.EventFileListError, key, nil, err))
		return err
	}

	fc.list = list
	fc.listKey = key
	fc.status = StatusReady
	fc.lastError = nil
	fc.mu.Unlock()

	fc.eventBus.Publish(events.NewFileListEvent(events.EventFileListChanged, key, list, nil))
	return nil
}

// Select adds an item to the selection.
func (fc *FileCollection) Select(ids ...string) {
	fc.mutateSelection(func(sel map[string]bool) {
		for _, id := range ids {
			sel[id] = true
		}
	})
}

// Deselect removes items from the selection.
func (fc *FileCollection) Deselect(ids ...string) {
	fc.mutateSelection(func(sel map[string]bool) {
		for _, id := range ids {
			delete(sel, id)
		}
	})
}

// Toggle flips an item's selection state.
func (fc *FileCollection) Toggle(id string) {
	fc.mutateSelection(func(sel map[string]bool) {
		if sel[id] {
			delete(sel, id)
		} else {
			sel[id] = true
		}
	})
}

// SelectPage selects every file on the page currently shown.
func (fc *FileCollection) SelectPage() {
	fc.mu.RLock()
	ids := fc.list.IDs()
	fc.mu.RUnlock()
	fc.Select(ids...)
}

// ClearSelection clears all selections.
func (fc *FileCollection) ClearSelection() {
	fc.mutateSelection(func(sel map[string]bool) {
		for id := range sel {
			delete(sel, id)
		}
	})
}

// IsSelected returns whether an item is selected.
func (fc *FileCollection) IsSelected(id string) bool {
	fc.mu.RLock()
	defer fc.mu.RUnlock()
	return fc.selected[id]
}

// SelectedIDs returns the selected ids in sorted order.
func (fc *FileCollection) SelectedIDs() []string {
	fc.mu.RLock()
	defer fc.mu.RUnlock()
	return fc.selectedIDsLocked()
}

func (fc *FileCollection) mutateSelection(fn func(map[string]bool)) {
	fc.mu.Lock()
	fn(fc.selected)
	ids := fc.selectedIDsLocked()
	fc.mu.Unlock()

	fc.eventBus.Publish(events.NewSelectionChangedEvent(ids))
}

// selectedIDsLocked returns selected IDs (must hold lock).
func (fc *FileCollection) selectedIDsLocked() []string {
	ids := make([]string, 0, len(fc.selected))
	for id := range fc.selected {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
