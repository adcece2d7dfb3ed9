package post

import (
	"sort"

	"github.com/google/uuid"
)

// DefaultPageSize is used when a caller does not ask for a page size.
const DefaultPageSize = 100

// Cursor is the exclusive continuation boundary of a keyset page.
type Cursor struct {
	LastID    int64 `json:"last_id"`
	LastScore int64 `json:"last_score"`
}

// CursorOf returns the cursor that continues right after p.
func CursorOf(p Post) Cursor {
	return Cursor{LastID: p.ID, LastScore: p.Score}
}

// Admits reports whether (score, id) lies strictly after the cursor in canonical order.
func (c Cursor) Admits(score, id int64) bool {
	return score < c.LastScore || (score == c.LastScore && id < c.LastID)
}

// Before reports whether a sorts strictly before b: score descending, then numeric id descending.
func Before(a, b Post) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.ID > b.ID
}

// SortCanonical orders posts in place by score descending, id descending.
func SortCanonical(posts []Post) {
	sort.SliceStable(posts, func(i, j int) bool { return Before(posts[i], posts[j]) })
}

// SearchAfter returns the index of the first post in a canonically ordered slice that
// lies strictly after c. The cursor need not reference a post present in the slice.
func SearchAfter(posts []Post, c Cursor) int {
	return sort.Search(len(posts), func(i int) bool {
		return c.Admits(posts[i].Score, posts[i].ID)
	})
}

// Filter selects which posts a ranking query may return.
type Filter struct {
	Visibilities []Visibility
	CreatorID    *uuid.UUID
}

// EligibleOnly is the only filter the ranked cache serves.
func EligibleOnly() Filter {
	return Filter{Visibilities: []Visibility{VisibilityPublished}}
}

// Cacheable reports whether the filter is exactly the single eligible visibility
// with no creator scope.
func (f Filter) Cacheable() bool {
	if f.CreatorID != nil {
		return false
	}
	vs := f.Distinct()
	return len(vs) == 1 && vs[0].Eligible()
}

// Distinct returns the visibilities without duplicates, preserving first occurrence.
func (f Filter) Distinct() []Visibility {
	seen := make(map[Visibility]struct{}, len(f.Visibilities))
	out := make([]Visibility, 0, len(f.Visibilities))
	for _, v := range f.Visibilities {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Page is one keyset page of ranked posts.
type Page struct {
	Items      []Post  `json:"items"`
	NextCursor *Cursor `json:"next_cursor,omitempty"`
}

// NewPage builds a page; NextCursor is set only when the page is full.
func NewPage(items []Post, size int) *Page {
	if items == nil {
		items = []Post{}
	}
	p := &Page{Items: items}
	if size > 0 && len(items) == size {
		c := CursorOf(items[len(items)-1])
		p.NextCursor = &c
	}
	return p
}

// ListQuery is a ranking request as issued by callers.
type ListQuery struct {
	Size   int
	Cursor *Cursor
	Filter Filter
}
