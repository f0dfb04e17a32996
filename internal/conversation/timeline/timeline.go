package timeline

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"civicom/internal/conversation"
	"civicom/internal/feed"
)

// Entry is one displayed message. Pending entries are optimistic local
// inserts that have not been confirmed by the authoritative stream yet;
// they are matched to their record by the correlation token and replaced
// in place, never duplicated.
type Entry struct {
	Message conversation.MessageDTO
	Pending bool
}

// Timeline is the ordered message view for one open conversation.
// Confirmed entries sort by (timestamp, seq) regardless of arrival
// order; pending entries sit after all confirmed ones, in insert order.
type Timeline struct {
	mu      sync.Mutex
	entries []Entry
}

func New() *Timeline {
	return &Timeline{}
}

// Load replaces the view with an initial fetch.
func (t *Timeline) Load(msgs []conversation.MessageDTO) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = t.entries[:0]
	for _, m := range msgs {
		t.entries = append(t.entries, Entry{Message: m})
	}
	t.sortLocked()
}

// AppendPending records an optimistic local insert keyed by its
// correlation token.
func (t *Timeline) AppendPending(m conversation.MessageDTO) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.indexByTokenLocked(m.ClientToken) >= 0 {
		return
	}
	t.entries = append(t.entries, Entry{Message: m, Pending: true})
}

// DropPending removes an optimistic entry whose send failed.
func (t *Timeline) DropPending(token uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if i := t.indexByTokenLocked(token); i >= 0 && t.entries[i].Pending {
		t.entries = append(t.entries[:i], t.entries[i+1:]...)
	}
}

// Apply folds one change event in. Create events reconcile a pending
// entry in place (by correlation token) or insert; a duplicate id is a
// no-op, so at-least-once delivery is safe.
func (t *Timeline) Apply(ev feed.Event) {
	if ev.Message == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	m := *ev.Message
	switch ev.Op {
	case feed.OpCreate, feed.OpUpdate:
		if i := t.indexByIDLocked(m.ID); i >= 0 {
			t.entries[i] = Entry{Message: m}
		} else if i := t.indexByTokenLocked(m.ClientToken); i >= 0 {
			t.entries[i] = Entry{Message: m}
		} else {
			t.entries = append(t.entries, Entry{Message: m})
		}
		t.sortLocked()
	case feed.OpDelete:
		if i := t.indexByIDLocked(m.ID); i >= 0 {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
		}
	}
}

// Messages returns a snapshot in display order.
func (t *Timeline) Messages() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t *Timeline) indexByIDLocked(id uuid.UUID) int {
	if id == uuid.Nil {
		return -1
	}
	for i, e := range t.entries {
		if !e.Pending && e.Message.ID == id {
			return i
		}
	}
	return -1
}

func (t *Timeline) indexByTokenLocked(token uuid.UUID) int {
	if token == uuid.Nil {
		return -1
	}
	for i, e := range t.entries {
		if e.Message.ClientToken == token {
			return i
		}
	}
	return -1
}

func (t *Timeline) sortLocked() {
	sort.SliceStable(t.entries, func(i, j int) bool {
		a, b := t.entries[i], t.entries[j]
		if a.Pending != b.Pending {
			return !a.Pending // pending entries stay at the bottom
		}
		if a.Pending {
			return false
		}
		if !a.Message.Timestamp.Equal(b.Message.Timestamp) {
			return a.Message.Timestamp.Before(b.Message.Timestamp)
		}
		return a.Message.Seq < b.Message.Seq
	})
}
