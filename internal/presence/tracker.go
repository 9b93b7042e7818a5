package presence

import (
	"sort"
	"sync"
	"time"
)

// Tracker keeps best-effort typing state per room, in memory only. Entries
// expire after the TTL and are pruned on every read. Losing this state on
// restart is fine; durable presence lives on the membership rows.
type Tracker struct {
	mu    sync.RWMutex
	ttl   time.Duration
	rooms map[string]map[string]time.Time
	now   func() time.Time
}

func NewTracker(ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = 6 * time.Second
	}
	return &Tracker{
		ttl:   ttl,
		rooms: make(map[string]map[string]time.Time),
		now:   time.Now,
	}
}

// Touch records that name is typing in the room right now.
func (t *Tracker) Touch(roomID, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	room := t.rooms[roomID]
	if room == nil {
		room = make(map[string]time.Time)
		t.rooms[roomID] = room
	}
	room[name] = t.now()
}

// Active returns who is typing in the room, pruning expired entries.
func (t *Tracker) Active(roomID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	room := t.rooms[roomID]
	if room == nil {
		return nil
	}
	cutoff := t.now().Add(-t.ttl)
	names := make([]string, 0, len(room))
	for name, at := range room {
		if at.Before(cutoff) {
			delete(room, name)
			continue
		}
		names = append(names, name)
	}
	if len(room) == 0 {
		delete(t.rooms, roomID)
	}
	sort.Strings(names)
	return names
}

// Forget drops a single entry, used when a member leaves the room.
func (t *Tracker) Forget(roomID, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if room := t.rooms[roomID]; room != nil {
		delete(room, name)
		if len(room) == 0 {
			delete(t.rooms, roomID)
		}
	}
}
