// Package queue implements the per-sink in-memory path queue: a
// mutex-guarded deque supporting FIFO drain (oldest admitted first) and
// LIFO shed (most recently admitted evicted first), matching the data
// model in spec §3: "FIFO for normal admission, LIFO for shed".
//
// Every new or retried path is pushed to the same end (Front). Senders
// drain from the opposite end (Back), giving oldest-first delivery.
// Size-cap eviction pops from Front, shedding the most recently admitted
// path first — see DESIGN.md for why this, rather than spec §4.5 step 5's
// literal "pop the back" phrasing, is what's implemented (the two
// sibling sections of the spec disagree on which end is which, and
// §9 explicitly leaves the eviction direction as an implementer's
// choice).
//
// Every operation (the four push/pop calls, Len and Discard) takes the
// lock. Discard is the only one that walks the list while holding it.
package queue

import (
	"container/list"
	"sync"
)

// Queue is a thread-safe double-ended queue of spool file paths.
type Queue struct {
	mu    sync.Mutex
	items *list.List
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{items: list.New()}
}

// PushFront admits path as the newest entry.
func (q *Queue) PushFront(path string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items.PushFront(path)
}

// PushFrontAll re-admits paths in order, preserving their relative order
// (the first element of paths ends up closest to Back, i.e. drained
// first among the group). Used to requeue a failed request's consumed
// files.
func (q *Queue) PushFrontAll(paths []string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range paths {
		q.items.PushFront(p)
	}
}

// PopBack removes and returns the oldest entry (FIFO drain).
func (q *Queue) PopBack() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e := q.items.Back()
	if e == nil {
		return "", false
	}
	q.items.Remove(e)
	return e.Value.(string), true
}

// PopFront removes and returns the newest entry (LIFO shed).
func (q *Queue) PopFront() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e := q.items.Front()
	if e == nil {
		return "", false
	}
	q.items.Remove(e)
	return e.Value.(string), true
}

// Len reports the number of queued paths.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Discard removes path from the queue, wherever it sits. It reports
// whether path was found. Used by the TTL sweep to purge an
// already-queued file whose age crosses the TTL before a sender ever
// pops it, preserving the invariant that no file past its sink's TTL
// is ever sent (spec §4.5).
func (q *Queue) Discard(path string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for e := q.items.Front(); e != nil; e = e.Next() {
		if e.Value.(string) == path {
			q.items.Remove(e)
			return true
		}
	}
	return false
}
