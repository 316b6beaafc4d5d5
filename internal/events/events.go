package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rescale/filehub/internal/constants"
	"github.com/rescale/filehub/internal/models"
)

// EventType defines the types of events that can be emitted
type EventType string

const (
	// File collection view
	EventQueryChanged     EventType = "query_changed"      // Query key changed (filter/sort/search/page)
	EventFileListLoading  EventType = "file_list_loading"  // Fetch for the current key started
	EventFileListChanged  EventType = "file_list_changed"  // Current key's list was applied
	EventFileListError    EventType = "file_list_error"    // Current key's fetch failed
	EventSelectionChanged EventType = "selection_changed"  // Selected file ids changed

	// Resource cache
	EventCacheUpdated     EventType = "cache_updated"      // Fetch result applied to an entry
	EventCacheInvalidated EventType = "cache_invalidated"  // Entry marked stale
	EventCacheFetchFailed EventType = "cache_fetch_failed" // Fetch failed, previous value kept

	// Duplicate detection
	EventDedupStateChanged EventType = "dedup_state_changed" // Poller moved between idle/polling/completed/failed

	// Mutations
	EventMutationCompleted EventType = "mutation_completed"
	EventMutationFailed    EventType = "mutation_failed"
)

// Event is the base interface for all events
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

func newBase(t EventType) BaseEvent {
	return BaseEvent{EventType: t, Time: time.Now()}
}

// QueryChangedEvent is published when the file collection query key changes.
type QueryChangedEvent struct {
	BaseEvent
	Key   string
	Query models.FileCollectionQuery
}

// FileListEvent carries loading/changed/error notifications for the current key.
type FileListEvent struct {
	BaseEvent
	Key  string
	List *models.PaginatedFileList
	Err  error
}

// SelectionChangedEvent lists the currently selected file ids.
type SelectionChangedEvent struct {
	BaseEvent
	SelectedIDs []string
}

// CacheEvent describes a change to one resource cache entry.
type CacheEvent struct {
	BaseEvent
	Cache string // cache name ("files", "dedup")
	Key   string
	Err   error
}

// DedupStateEvent represents poller state transitions.
type DedupStateEvent struct {
	BaseEvent
	OldState string
	NewState string
	Epoch    uint64
	Report   *models.DedupReport
}

// MutationEvent reports the outcome of an upload/delete/trigger.
type MutationEvent struct {
	BaseEvent
	Op      string // "delete", "batch_delete", "upload", "trigger"
	FileIDs []string
	Err     error
}

// NewQueryChangedEvent creates a QueryChangedEvent.
func NewQueryChangedEvent(q models.FileCollectionQuery) *QueryChangedEvent {
	return &QueryChangedEvent{BaseEvent: newBase(EventQueryChanged), Key: q.Key(), Query: q}
}

// NewFileListEvent creates a FileListEvent of the given type.
func NewFileListEvent(t EventType, key string, list *models.PaginatedFileList, err error) *FileListEvent {
	return &FileListEvent{BaseEvent: newBase(t), Key: key, List: list, Err: err}
}

// NewSelectionChangedEvent creates a SelectionChangedEvent.
func NewSelectionChangedEvent(ids []string) *SelectionChangedEvent {
	return &SelectionChangedEvent{BaseEvent: newBase(EventSelectionChanged), SelectedIDs: ids}
}

// NewCacheEvent creates a CacheEvent of the given type.
func NewCacheEvent(t EventType, cache, key string, err error) *CacheEvent {
	return &CacheEvent{BaseEvent: newBase(t), Cache: cache, Key: key, Err: err}
}

// NewDedupStateEvent creates a DedupStateEvent.
func NewDedupStateEvent(oldState, newState string, epoch uint64, report *models.DedupReport) *DedupStateEvent {
	return &DedupStateEvent{
		BaseEvent: newBase(EventDedupStateChanged),
		OldState:  oldState,
		NewState:  newState,
		Epoch:     epoch,
		Report:    report,
	}
}

// NewMutationEvent creates a completed or failed MutationEvent depending on err.
func NewMutationEvent(op string, ids []string, err error) *MutationEvent {
	t := EventMutationCompleted
	if err != nil {
		t = EventMutationFailed
	}
	return &MutationEvent{BaseEvent: newBase(t), Op: op, FileIDs: ids, Err: err}
}

// EventBus manages event subscriptions and publishing
type EventBus struct {
	subscribers   map[EventType][]chan Event
	all           []chan Event // Subscribers to all events
	mu            sync.RWMutex
	bufferSize    int
	closed        bool
	droppedEvents atomic.Int64 // Count of dropped events due to full buffers
}

// NewEventBus creates a new event bus with specified buffer size
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	if bufferSize > constants.EventBusMaxBuffer {
		bufferSize = constants.EventBusMaxBuffer
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		all:         make([]chan Event, 0),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a subscription to a specific event type
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	return ch
}

// SubscribeAll creates a subscription to all events
func (eb *EventBus) SubscribeAll() <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.all = append(eb.all, ch)
	return ch
}

// Publish sends an event to all subscribers without blocking.
// A nil bus is a valid no-op publisher.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	for _, ch := range eb.subscribers[event.Type()] {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}

	for _, ch := range eb.all {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}
}

// Close shuts down the event bus and closes all channels
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	eb.closed = true

	for _, channels := range eb.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}

	for _, ch := range eb.all {
		close(ch)
	}
}

// Unsubscribe removes a subscription channel from a specific event type
func (eb *EventBus) Unsubscribe(eventType EventType, ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	subscribers := eb.subscribers[eventType]
	for i, subCh := range subscribers {
		if subCh == ch {
			subscribers[i] = subscribers[len(subscribers)-1]
			eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
			close(subCh)
			break
		}
	}
}

// UnsubscribeAll removes a subscription channel from the all-events list
func (eb *EventBus) UnsubscribeAll(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	for i, subCh := range eb.all {
		if subCh == ch {
			eb.all[i] = eb.all[len(eb.all)-1]
			eb.all = eb.all[:len(eb.all)-1]
			close(subCh)
			break
		}
	}
}

// GetDroppedEventCount returns the total number of events dropped due to full buffers
func (eb *EventBus) GetDroppedEventCount() int64 {
	return eb.droppedEvents.Load()
}
