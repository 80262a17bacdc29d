// Package bestresults keeps the N best backtests of a sweep and discards
// the journals of everything that falls out.
package bestresults

import (
	"container/heap"
	"math"
	"sort"
	"sync"
)

// Discard releases the resources of an evicted entry, typically by deleting
// its journal. It runs on its own goroutine, outside the tracker lock.
type Discard func()

// Entry is one retained result.
type Entry struct {
	Fitness float64
	Key     string
	Payload any
	seq     uint64
	discard Discard
}

// entryHeap is a min-heap on (fitness, seq): the oldest of the lowest
// fitness is at the root.
type entryHeap []*Entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].Fitness != h[j].Fitness {
		return h[i].Fitness < h[j].Fitness
	}
	return h[i].seq < h[j].seq
}
func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)   { *h = append(*h, x.(*Entry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Tracker retains at most Capacity entries. Safe for concurrent use.
type Tracker struct {
	capacity int

	mu        sync.Mutex
	entries   entryHeap
	keys      map[string]struct{}
	threshold float64
	seq       uint64

	// OnEvict is called under the lock with the evicted fitness; used for metrics.
	OnEvict func(fitness float64)

	pending sync.WaitGroup
}

// New creates a tracker for the n best results (n >= 1).
func New(n int) *Tracker {
	if n < 1 {
		n = 1
	}
	return &Tracker{
		capacity:  n,
		entries:   make(entryHeap, 0, n+1),
		keys:      make(map[string]struct{}, n),
		threshold: math.Inf(-1),
	}
}

// Capacity returns N.
func (t *Tracker) Capacity() int { return t.capacity }

// Threshold returns the fitness a result must exceed to be admitted.
// It never decreases.
func (t *Tracker) Threshold() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.threshold
}

// PeekShouldAdd is a cheap pre-check before materializing a journal.
// A true result may still be rejected by ShouldAdd.
func (t *Tracker) PeekShouldAdd(fitness float64) bool {
	return admissible(fitness, t.Threshold())
}

// ShouldAdd inserts the result if it still beats the threshold. When the
// tracker overflows, the lowest entry is evicted and its discard action
// runs asynchronously. A rejected result's discard is not invoked; the
// caller still owns it.
func (t *Tracker) ShouldAdd(fitness float64, discard Discard, payload any) bool {
	return t.ShouldAddKeyed(fitness, "", discard, payload)
}

// ShouldAddKeyed is ShouldAdd for results with an identity. A result whose
// key is already retained is rejected. The empty key never conflicts.
func (t *Tracker) ShouldAddKeyed(fitness float64, key string, discard Discard, payload any) bool {
	var evicted *Entry

	t.mu.Lock()
	if !admissible(fitness, t.threshold) {
		t.mu.Unlock()
		return false
	}
	if key != "" {
		if _, dup := t.keys[key]; dup {
			t.mu.Unlock()
			return false
		}
		t.keys[key] = struct{}{}
	}
	t.seq++
	heap.Push(&t.entries, &Entry{Fitness: fitness, Key: key, Payload: payload, seq: t.seq, discard: discard})
	if len(t.entries) > t.capacity {
		evicted = heap.Pop(&t.entries).(*Entry)
		if evicted.Key != "" {
			delete(t.keys, evicted.Key)
		}
		if t.OnEvict != nil {
			t.OnEvict(evicted.Fitness)
		}
	}
	if len(t.entries) == t.capacity && t.entries[0].Fitness > t.threshold {
		t.threshold = t.entries[0].Fitness
	}
	t.mu.Unlock()

	if evicted != nil && evicted.discard != nil {
		t.pending.Add(1)
		go func(d Discard) {
			defer t.pending.Done()
			d()
		}(evicted.discard)
	}
	return true
}

// Entries returns the retained entries, best first.
func (t *Tracker) Entries() []Entry {
	t.mu.Lock()
	out := make([]Entry, len(t.entries))
	for i, e := range t.entries {
		out[i] = *e
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Fitness != out[j].Fitness {
			return out[i].Fitness > out[j].Fitness
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// Holds reports whether a result with key is retained.
func (t *Tracker) Holds(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.keys[key]
	return ok
}

// Len returns the number of retained entries.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Wait blocks until every pending discard action has returned.
func (t *Tracker) Wait() {
	t.pending.Wait()
}

func admissible(fitness, threshold float64) bool {
	return !math.IsNaN(fitness) && fitness > threshold
}
