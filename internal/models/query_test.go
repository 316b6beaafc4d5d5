package models

import (
	"errors"
	"testing"
)

func TestFileCollectionQuery_KeyEquality(t *testing.T) {
	a := FileCollectionQuery{Search: "report", Sort: SortName, Filter: FilterDocuments, Page: 2, PageSize: 25}
	b := FileCollectionQuery{PageSize: 25, Page: 2, Filter: FilterDocuments, Sort: SortName, Search: "report"}
	if a.Key() != b.Key() {
		t.Errorf("equal queries produced different keys: %q vs %q", a.Key(), b.Key())
	}

	c := a
	c.Page = 3
	if a.Key() == c.Key() {
		t.Error("queries differing in page produced the same key")
	}
}

func TestFileCollectionQuery_KeyNormalizesDefaults(t *testing.T) {
	zero := FileCollectionQuery{}
	def := DefaultFileCollectionQuery()
	if zero.Key() != def.Key() {
		t.Errorf("zero query key %q != default key %q", zero.Key(), def.Key())
	}

	padded := FileCollectionQuery{Search: "  cat  "}
	trimmed := FileCollectionQuery{Search: "cat"}
	if padded.Key() != trimmed.Key() {
		t.Error("search whitespace should not change the key")
	}
}

func TestFileCollectionQuery_Params(t *testing.T) {
	q := FileCollectionQuery{Search: "a b", Sort: SortSize, Filter: FilterImages, Page: 4, PageSize: 50}
	p := q.Params()

	tests := map[string]string{
		"search":    "a b",
		"sortBy":    "size",
		"fileType":  "images",
		"page":      "4",
		"page_size": "50",
	}
	for k, want := range tests {
		if got := p.Get(k); got != want {
			t.Errorf("param %s = %q, want %q", k, got, want)
		}
	}
	if q.CacheKey() != "files?"+q.Key() {
		t.Errorf("unexpected cache key %q", q.CacheKey())
	}
}

func TestFileCollectionQuery_Validate(t *testing.T) {
	tests := []struct {
		name  string
		q     FileCollectionQuery
		field string
	}{
		{"default", DefaultFileCollectionQuery(), ""},
		{"page zero", FileCollectionQuery{Sort: SortDate, Filter: FilterAll, Page: 0, PageSize: 10}, "page"},
		{"page size", FileCollectionQuery{Sort: SortDate, Filter: FilterAll, Page: 1, PageSize: 7}, "page_size"},
		{"sort", FileCollectionQuery{Sort: "color", Filter: FilterAll, Page: 1, PageSize: 10}, "sort"},
		{"filter", FileCollectionQuery{Sort: SortDate, Filter: "movies", Page: 1, PageSize: 10}, "filter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.q.Validate()
			if tt.field == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tt.field {
				t.Errorf("field = %q, want %q", ve.Field, tt.field)
			}
		})
	}
}

func TestFileCollectionQuery_IsDefault(t *testing.T) {
	q := DefaultFileCollectionQuery()
	if !q.IsDefault() {
		t.Error("default query should report IsDefault")
	}
	q.PageSize = 50
	if !q.IsDefault() {
		t.Error("page size alone should not make a query non-default")
	}
	q.Filter = FilterAudio
	if q.IsDefault() {
		t.Error("changed filter should not be default")
	}
}

func TestParseSortKeyAndFilter(t *testing.T) {
	if k, err := ParseSortKey(" Name "); err != nil || k != SortName {
		t.Errorf("ParseSortKey(Name) = %q, %v", k, err)
	}
	if _, err := ParseSortKey("bogus"); err == nil {
		t.Error("expected error for unknown sort key")
	}
	if f, err := ParseFileFilter("ARCHIVES"); err != nil || f != FilterArchives {
		t.Errorf("ParseFileFilter(ARCHIVES) = %q, %v", f, err)
	}
	if _, err := ParseFileFilter(""); err == nil {
		t.Error("expected error for empty filter")
	}
}
