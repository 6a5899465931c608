package core

import (
	"sync"
)

// pollHistory is a fixed-size ring of the most recent task polls.
type pollHistory struct {
	mu    sync.Mutex
	items []PollRecord
	head  int
	count int
}

func newPollHistory(capacity int) *pollHistory {
	if capacity < 1 {
		return nil
	}
	return &pollHistory{items: make([]PollRecord, capacity)}
}

func (h *pollHistory) Add(record PollRecord) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.items[h.head] = record
	h.head = (h.head + 1) % len(h.items)
	if h.count < len(h.items) {
		h.count++
	}
}

// Recent returns up to limit records, newest first. limit <= 0 means all.
func (h *pollHistory) Recent(limit int) []PollRecord {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return nil
	}

	if limit <= 0 || limit > h.count {
		limit = h.count
	}

	out := make([]PollRecord, 0, limit)
	for i := range limit {
		idx := (h.head - 1 - i + len(h.items)) % len(h.items)
		out = append(out, h.items[idx])
	}
	return out
}

func (h *pollHistory) Last() (PollRecord, bool) {
	if h == nil {
		return PollRecord{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return PollRecord{}, false
	}

	idx := (h.head - 1 + len(h.items)) % len(h.items)
	return h.items[idx], true
}
