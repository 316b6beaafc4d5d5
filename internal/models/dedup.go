package models

import (
	"fmt"
	"time"
)

// DedupStatus is the server-reported state of a duplicate-detection job.
type DedupStatus string

const (
	DedupStatusPending    DedupStatus = "pending"
	DedupStatusInProgress DedupStatus = "in_progress"
	DedupStatusCompleted  DedupStatus = "completed"
	DedupStatusFailed     DedupStatus = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s DedupStatus) Terminal() bool {
	return s == DedupStatusCompleted || s == DedupStatusFailed
}

// Pending reports whether the job is still running. Unknown statuses are
// treated as pending so polling continues.
func (s DedupStatus) Pending() bool {
	return !s.Terminal()
}

// FileRef is the compact file description embedded in duplicate groups.
type FileRef struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	FileType   string    `json:"file_type"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// DuplicateGroup is one original and the files with identical content.
type DuplicateGroup struct {
	Original   FileRef   `json:"original_file"`
	Duplicates []FileRef `json:"duplicate_files"`
}

// WastedBytes is the storage reclaimed by deleting every duplicate in the group.
func (g DuplicateGroup) WastedBytes() int64 {
	var n int64
	for _, d := range g.Duplicates {
		n += d.Size
	}
	return n
}

// DedupReport is a snapshot of the latest duplicate-detection job.
// Groups are meaningful only when Status is completed.
type DedupReport struct {
	ID         string           `json:"id"`
	CreatedAt  time.Time        `json:"created_at"`
	IsValid    bool             `json:"is_valid"`
	Status     DedupStatus      `json:"status"`
	Duplicates []DuplicateGroup `json:"duplicates"`
}

func (r *DedupReport) Completed() bool { return r != nil && r.Status == DedupStatusCompleted }
func (r *DedupReport) Failed() bool    { return r != nil && r.Status == DedupStatusFailed }

// Groups returns the duplicate groups, or nil unless the job completed.
func (r *DedupReport) Groups() []DuplicateGroup {
	if !r.Completed() {
		return nil
	}
	return r.Duplicates
}

// DuplicateIDs returns the ids of every reported duplicate (originals excluded).
func (r *DedupReport) DuplicateIDs() []string {
	var ids []string
	for _, g := range r.Groups() {
		for _, d := range g.Duplicates {
			ids = append(ids, d.ID)
		}
	}
	return ids
}

// WastedBytes sums WastedBytes over all groups.
func (r *DedupReport) WastedBytes() int64 {
	var n int64
	for _, g := range r.Groups() {
		n += g.WastedBytes()
	}
	return n
}

// GroupViolation describes one breach of the duplicate-group invariants.
type GroupViolation struct {
	Group  int
	FileID string
	Reason string
}

func (v GroupViolation) String() string {
	return fmt.Sprintf("group %d: file %s: %s", v.Group, v.FileID, v.Reason)
}

// Validate checks that no file is a duplicate in more than one group and that
// no original lists itself as a duplicate. Violations are reported, not fixed.
func (r *DedupReport) Validate() []GroupViolation {
	var violations []GroupViolation
	seen := make(map[string]int)
	for gi, g := range r.Groups() {
		for _, d := range g.Duplicates {
			if d.ID == g.Original.ID {
				violations = append(violations, GroupViolation{Group: gi, FileID: d.ID, Reason: "original listed among its own duplicates"})
				continue
			}
			if prev, ok := seen[d.ID]; ok {
				violations = append(violations, GroupViolation{
					Group:  gi,
					FileID: d.ID,
					Reason: fmt.Sprintf("already a duplicate in group %d", prev),
				})
				continue
			}
			seen[d.ID] = gi
		}
	}
	return violations
}

// DedupKey is the cache key of the latest dedup report. There is only one.
type DedupKey struct{}

// CacheKey implements cache.Key.
func (DedupKey) CacheKey() string { return "dedup/latest" }
