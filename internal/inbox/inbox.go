package inbox

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"civicom/internal/conversation"
	"civicom/internal/feed"
)

// Inbox is one user's conversation-list projection, kept consistent
// under at-least-once, unordered event delivery. Events for
// conversations the user is no longer part of are discarded, not
// errored.
type Inbox struct {
	mu      sync.Mutex
	userID  string
	entries []conversation.ConversationDTO
}

func New(userID string) *Inbox {
	return &Inbox{userID: userID}
}

// Load replaces the projection with an initial fetch.
func (in *Inbox) Load(convs []conversation.ConversationDTO) {
	in.mu.Lock()
	defer in.mu.Unlock()

	in.entries = append(in.entries[:0], convs...)
	in.sortLocked()
}

// Apply folds one conversation event in. Upserts are keyed by id, so a
// redelivered create yields one entry, not two.
func (in *Inbox) Apply(ev feed.Event) {
	if ev.Conversation == nil {
		return
	}
	in.mu.Lock()
	defer in.mu.Unlock()

	c := *ev.Conversation
	if ev.Op == feed.OpDelete || !hasParticipant(c.Participants, in.userID) {
		in.removeLocked(c.ID)
		return
	}

	if i := in.indexLocked(c.ID); i >= 0 {
		// A stale event must not roll the entry back: neither the
		// ordering timestamp nor the preview regress.
		if c.LastUpdated.Before(in.entries[i].LastUpdated) {
			return
		}
		in.entries[i] = c
	} else {
		in.entries = append(in.entries, c)
	}
	in.sortLocked()
}

// List returns the projection, lastUpdated descending. Ties keep their
// prior relative order.
func (in *Inbox) List() []conversation.ConversationDTO {
	in.mu.Lock()
	defer in.mu.Unlock()

	out := make([]conversation.ConversationDTO, len(in.entries))
	copy(out, in.entries)
	return out
}

func (in *Inbox) indexLocked(id uuid.UUID) int {
	for i, e := range in.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func (in *Inbox) removeLocked(id uuid.UUID) {
	if i := in.indexLocked(id); i >= 0 {
		in.entries = append(in.entries[:i], in.entries[i+1:]...)
	}
}

func (in *Inbox) sortLocked() {
	sort.SliceStable(in.entries, func(i, j int) bool {
		return in.entries[i].LastUpdated.After(in.entries[j].LastUpdated)
	})
}

func hasParticipant(participants []string, userID string) bool {
	for _, p := range participants {
		if p == userID {
			return true
		}
	}
	return false
}
