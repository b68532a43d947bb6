package batcher

// dedupWindow is a bounded FIFO set of recently seen request IDs. It is
// independent of queue occupancy and persists across flushes: once an ID
// ages out of the window, a repeat of that ID is accepted again.
//
// Not safe for concurrent use; the batcher serializes access under its mutex.
type dedupWindow struct {
	capacity int
	order    []string
	seen     map[string]struct{}
}

func newDedupWindow(capacity int) *dedupWindow {
	return &dedupWindow{
		capacity: capacity,
		order:    make([]string, 0, capacity),
		seen:     make(map[string]struct{}, capacity),
	}
}

func (w *dedupWindow) Seen(id string) bool {
	_, ok := w.seen[id]
	return ok
}

// Record marks id as seen, evicting the oldest entry when the window is full.
func (w *dedupWindow) Record(id string) {
	if _, ok := w.seen[id]; ok {
		return
	}
	if len(w.order) >= w.capacity {
		oldest := w.order[0]
		w.order = w.order[1:]
		delete(w.seen, oldest)
	}
	w.order = append(w.order, id)
	w.seen[id] = struct{}{}
}

func (w *dedupWindow) Len() int {
	return len(w.order)
}
