package logging

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Entry is one log record kept in the history.
type Entry struct {
	Timestamp  time.Time      `json:"timestamp"`
	Level      string         `json:"level"`
	Module     string         `json:"module"`
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// String formats the entry as a single display line.
func (e Entry) String() string {
	var sb strings.Builder
	sb.WriteString(e.Timestamp.Format(time.RFC3339Nano))
	fmt.Fprintf(&sb, " [%s] [%s] %s", strings.ToUpper(e.Level), e.Module, e.Message)

	keys := make([]string, 0, len(e.Attributes))
	for k := range e.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, e.Attributes[k])
	}
	return sb.String()
}

// History keeps the most recent log entries in a fixed-size ring.
type History struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	full    bool
}

// NewHistory creates a history holding up to size entries.
func NewHistory(size int) *History {
	if size <= 0 {
		size = 1
	}
	return &History{entries: make([]Entry, size)}
}

// Cap returns the maximum number of entries kept.
func (h *History) Cap() int {
	return len(h.entries)
}

// Add stores an entry, dropping the oldest one when full.
func (h *History) Add(e Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[h.next] = e
	h.next++
	if h.next == len(h.entries) {
		h.next = 0
		h.full = true
	}
}

// Len returns the number of stored entries.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.full {
		return len(h.entries)
	}
	return h.next
}

// Tail returns up to n of the newest entries, oldest first. n <= 0 returns
// everything.
func (h *History) Tail(n int) []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var ordered []Entry
	if h.full {
		ordered = append(ordered, h.entries[h.next:]...)
	}
	ordered = append(ordered, h.entries[:h.next]...)

	if n > 0 && n < len(ordered) {
		ordered = ordered[len(ordered)-n:]
	}
	return ordered
}
