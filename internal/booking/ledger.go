package booking

import (
	"sort"
	"sync"
	"time"

	"zapys/internal/models"
)

const dayKeyLayout = "2006-01-02"

// Ledger holds reservations made by this process. It is consulted together
// with the availability cache and is authoritative the moment an entry is added.
type Ledger struct {
	mu   sync.RWMutex
	loc  *time.Location
	days map[string][]models.BusyInterval
}

func NewLedger(loc *time.Location) *Ledger {
	if loc == nil {
		loc = time.Local
	}
	return &Ledger{loc: loc, days: make(map[string][]models.BusyInterval)}
}

func (l *Ledger) key(t time.Time) string {
	return t.In(l.loc).Format(dayKeyLayout)
}

func (l *Ledger) Add(entry models.BusyInterval) {
	entry.Source = models.SourceLedger
	l.mu.Lock()
	defer l.mu.Unlock()

	k := l.key(entry.Start)
	list := append(l.days[k], entry)
	sort.Slice(list, func(i, j int) bool { return list[i].Start.Before(list[j].Start) })
	l.days[k] = list
}

// Remove drops the entry starting exactly at start.
func (l *Ledger) Remove(start time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := l.key(start)
	list := l.days[k]
	for i := range list {
		if list[i].Start.Equal(start) {
			l.days[k] = append(list[:i:i], list[i+1:]...)
			if len(l.days[k]) == 0 {
				delete(l.days, k)
			}
			return true
		}
	}
	return false
}

// RemoveEvent drops every entry attached to eventID.
func (l *Ledger) RemoveEvent(eventID string) bool {
	if eventID == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := false
	for k, list := range l.days {
		kept := list[:0:0]
		for _, e := range list {
			if e.EventID == eventID {
				removed = true
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(l.days, k)
		} else {
			l.days[k] = kept
		}
	}
	return removed
}

// Attach records the remote event id of the entry starting at start.
func (l *Ledger) Attach(start time.Time, eventID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	list := l.days[l.key(start)]
	for i := range list {
		if list[i].Start.Equal(start) {
			list[i].EventID = eventID
			return true
		}
	}
	return false
}

// Busy returns a copy of the entries on day's calendar date.
func (l *Ledger) Busy(day time.Time) []models.BusyInterval {
	l.mu.RLock()
	defer l.mu.RUnlock()

	list := l.days[l.key(day)]
	out := make([]models.BusyInterval, len(list))
	copy(out, list)
	return out
}

// Prune drops entries that ended before the given instant.
func (l *Ledger) Prune(before time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	dropped := 0
	for k, list := range l.days {
		kept := list[:0:0]
		for _, e := range list {
			if e.End.Before(before) {
				dropped++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(l.days, k)
		} else {
			l.days[k] = kept
		}
	}
	return dropped
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := 0
	for _, list := range l.days {
		n += len(list)
	}
	return n
}
