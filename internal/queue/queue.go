// Package queue holds captured items in bounded per-category FIFO queues.
package queue

import (
	"sync"

	"github.com/fentz26/glimpse/internal/models"
)

// Queue is a set of ordered partitions, one per capture category, each
// bounded by the same maximum. Eviction is strictly by insertion order.
type Queue struct {
	mu       sync.Mutex
	maxItems int
	parts    map[models.CaptureCategory][]*models.CaptureItem
}

// New creates a queue holding at most maxItems per category. Values below
// one are treated as one.
func New(maxItems int) *Queue {
	if maxItems < 1 {
		maxItems = 1
	}
	return &Queue{
		maxItems: maxItems,
		parts:    make(map[models.CaptureCategory][]*models.CaptureItem),
	}
}

// MaxItems returns the per-category bound.
func (q *Queue) MaxItems() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.maxItems
}

// SetMaxItems changes the bound. Partitions already over the new bound are
// trimmed oldest-first and the removed items returned.
func (q *Queue) SetMaxItems(n int) []*models.CaptureItem {
	if n < 1 {
		n = 1
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.maxItems = n

	var evicted []*models.CaptureItem
	for cat, items := range q.parts {
		if over := len(items) - n; over > 0 {
			evicted = append(evicted, items[:over]...)
			q.parts[cat] = append([]*models.CaptureItem(nil), items[over:]...)
		}
	}
	return evicted
}

// Push appends item to its category. If that takes the partition past the
// bound, the oldest item is removed and returned so the caller can delete
// its backing file.
func (q *Queue) Push(item *models.CaptureItem) *models.CaptureItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := append(q.parts[item.Category], item)
	var evicted *models.CaptureItem
	if len(items) > q.maxItems {
		evicted = items[0]
		items[0] = nil
		items = items[1:]
	}
	q.parts[item.Category] = items
	return evicted
}

// Remove deletes the item with the given id from whichever partition holds
// it.
func (q *Queue) Remove(id string) (*models.CaptureItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for cat, items := range q.parts {
		for i, it := range items {
			if it.ID != id {
				continue
			}
			rest := make([]*models.CaptureItem, 0, len(items)-1)
			rest = append(rest, items[:i]...)
			rest = append(rest, items[i+1:]...)
			q.parts[cat] = rest
			return it, true
		}
	}
	return nil, false
}

// Get returns the item with the given id.
func (q *Queue) Get(id string) (*models.CaptureItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, items := range q.parts {
		for _, it := range items {
			if it.ID == id {
				return it, true
			}
		}
	}
	return nil, false
}

// Clear drains a category and returns its items oldest first.
func (q *Queue) Clear(category models.CaptureCategory) []*models.CaptureItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.parts[category]
	delete(q.parts, category)
	return items
}

// ClearAll drains every category.
func (q *Queue) ClearAll() []*models.CaptureItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	var all []*models.CaptureItem
	for _, cat := range models.Categories {
		all = append(all, q.parts[cat]...)
	}
	q.parts = make(map[models.CaptureCategory][]*models.CaptureItem)
	return all
}

// Snapshot returns a copy of a category's items, oldest first.
func (q *Queue) Snapshot(category models.CaptureCategory) []*models.CaptureItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*models.CaptureItem(nil), q.parts[category]...)
}

// Len returns the number of items in a category.
func (q *Queue) Len(category models.CaptureCategory) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.parts[category])
}
