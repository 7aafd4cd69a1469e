// Copyright (c) 2024 The infoserviced developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package entrystore

import (
	"container/heap"
	"time"
)

// timelineItem tracks the expiration slot of a single entry.
type timelineItem struct {
	id     string
	expire time.Time
	index  int
}

// expiryHeap is a min-heap of entries ordered by ascending expiration time
// that implements heap.Interface.  Ties are broken by id so the order is
// deterministic.
type expiryHeap []*timelineItem

func (h expiryHeap) Len() int { return len(h) }

func (h expiryHeap) Less(i, j int) bool {
	if h[i].expire.Equal(h[j].expire) {
		return h[i].id < h[j].id
	}
	return h[i].expire.Before(h[j].expire)
}

func (h expiryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *expiryHeap) Push(x interface{}) {
	item := x.(*timelineItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *expiryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// timeline orders the live entries of a store by expiration.  Entries that
// never expire are not slotted.
//
// It is not safe for concurrent access.
type timeline struct {
	heap  expiryHeap
	items map[string]*timelineItem
}

func newTimeline() *timeline {
	return &timeline{items: make(map[string]*timelineItem)}
}

// set slots or re-slots the id at the given expiration time.  It returns true
// when the id became the new earliest deadline.
func (t *timeline) set(id string, expire time.Time) bool {
	if item, ok := t.items[id]; ok {
		item.expire = expire
		heap.Fix(&t.heap, item.index)
	} else {
		item := &timelineItem{id: id, expire: expire}
		t.items[id] = item
		heap.Push(&t.heap, item)
	}
	return t.heap[0].id == id
}

// remove drops the id from the timeline if it is slotted.
func (t *timeline) remove(id string) {
	item, ok := t.items[id]
	if !ok {
		return
	}
	heap.Remove(&t.heap, item.index)
	delete(t.items, id)
}

// reset drops every slot.
func (t *timeline) reset() {
	t.heap = nil
	t.items = make(map[string]*timelineItem)
}

// next returns the earliest deadline, if any.
func (t *timeline) next() (time.Time, bool) {
	if len(t.heap) == 0 {
		return time.Time{}, false
	}
	return t.heap[0].expire, true
}

// popExpired removes and returns the ids of all slots with a deadline at or
// before now in ascending expiration order.
func (t *timeline) popExpired(now time.Time) []string {
	var ids []string
	for len(t.heap) > 0 && !t.heap[0].expire.After(now) {
		item := heap.Pop(&t.heap).(*timelineItem)
		delete(t.items, item.id)
		ids = append(ids, item.id)
	}
	return ids
}
