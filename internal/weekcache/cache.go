// Package weekcache holds the per-week event cache: one entry per subscribed
// week, replaced wholesale on every snapshot, with a short-lived tombstone
// set protecting local deletes from being resurrected by lagging snapshots.
package weekcache

import (
	"sync"
	"time"

	"github.com/takanerehabili-creator/Completed-version-sub000/internal/model"
)

// TombstoneGrace is how long a deleted id keeps suppressing snapshot
// resurrection. By then the store has caught up with the delete.
const TombstoneGrace = 5 * time.Second

// ChangeHandler observes cache mutations for one week. The presentation
// layer subscribes once instead of render calls being sprinkled through
// mutation paths.
type ChangeHandler func(weekKey string)

// Cache is the week-keyed event cache.
type Cache struct {
	mu         sync.Mutex
	weeks      map[string][]model.Event
	loaded     map[string]bool
	tombstones map[string]time.Time

	handlers []ChangeHandler
	now      func() time.Time
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		weeks:      make(map[string][]model.Event),
		loaded:     make(map[string]bool),
		tombstones: make(map[string]time.Time),
		now:        time.Now,
	}
}

// SetClock replaces the time source. Test hook.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// OnChange registers a mutation observer. Handlers run outside the cache
// lock, after the mutation is fully applied.
func (c *Cache) OnChange(h ChangeHandler) {
	c.mu.Lock()
	c.handlers = append(c.handlers, h)
	c.mu.Unlock()
}

func (c *Cache) emit(weekKeys ...string) {
	c.mu.Lock()
	handlers := append([]ChangeHandler(nil), c.handlers...)
	c.mu.Unlock()
	for _, h := range handlers {
		for _, key := range weekKeys {
			h(key)
		}
	}
}

// ApplySnapshot replaces the week's event list with the snapshot contents,
// dropping any id still inside its tombstone grace window.
func (c *Cache) ApplySnapshot(weekKey string, events []model.Event) {
	c.mu.Lock()
	c.pruneTombstonesLocked()
	kept := make([]model.Event, 0, len(events))
	for _, e := range events {
		if _, dead := c.tombstones[e.ID]; dead {
			continue
		}
		kept = append(kept, e)
	}
	c.weeks[weekKey] = kept
	c.loaded[weekKey] = true
	c.mu.Unlock()
	c.emit(weekKey)
}

// Events returns the cached events for a week.
func (c *Cache) Events(weekKey string) []model.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Event(nil), c.weeks[weekKey]...)
}

// EventsOn returns the cached events for a single date.
func (c *Cache) EventsOn(date string) []model.Event {
	day, err := model.ParseDate(date)
	if err != nil {
		return nil
	}
	weekKey := model.WeekKeyFor(day)

	c.mu.Lock()
	defer c.mu.Unlock()
	var out []model.Event
	for _, e := range c.weeks[weekKey] {
		if e.Date == date {
			out = append(out, e)
		}
	}
	return out
}

// Find returns the cached event with the given id, searching every week.
func (c *Cache) Find(id string) (model.Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, events := range c.weeks {
		for _, e := range events {
			if e.ID == id {
				return e, true
			}
		}
	}
	return model.Event{}, false
}

// IsLoaded reports whether the week has received at least one snapshot.
func (c *Cache) IsLoaded(weekKey string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded[weekKey]
}

// Upsert applies an optimistic local write so a just-saved event reads back
// before any snapshot arrives.
func (c *Cache) Upsert(event model.Event) {
	day, err := model.ParseDate(event.Date)
	if err != nil {
		return
	}
	weekKey := model.WeekKeyFor(day)

	c.mu.Lock()
	events := c.weeks[weekKey]
	replaced := false
	for i, e := range events {
		if e.ID == event.ID {
			events[i] = event
			replaced = true
			break
		}
	}
	if !replaced {
		events = append(events, event)
	}
	c.weeks[weekKey] = events
	delete(c.tombstones, event.ID)
	c.mu.Unlock()
	c.emit(weekKey)
}

// Remove applies an optimistic local delete: the id is dropped from every
// cached week and tombstoned for the grace window.
func (c *Cache) Remove(id string) {
	c.RemoveWhere(func(e model.Event) bool { return e.ID == id })
	c.mu.Lock()
	c.tombstones[id] = c.now().Add(TombstoneGrace)
	c.mu.Unlock()
}

// RemoveWhere drops every matching event from the cache, tombstoning each
// removed id. Returns the removed count.
func (c *Cache) RemoveWhere(match func(model.Event) bool) int {
	c.mu.Lock()
	expiry := c.now().Add(TombstoneGrace)
	removed := 0
	var changed []string
	for weekKey, events := range c.weeks {
		kept := events[:0:len(events)]
		for _, e := range events {
			if match(e) {
				c.tombstones[e.ID] = expiry
				removed++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) != len(events) {
			c.weeks[weekKey] = kept
			changed = append(changed, weekKey)
		}
	}
	c.mu.Unlock()
	if removed > 0 {
		c.emit(changed...)
	}
	return removed
}

// IsTombstoned reports whether id is inside its grace window.
func (c *Cache) IsTombstoned(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneTombstonesLocked()
	_, ok := c.tombstones[id]
	return ok
}

// Purge evicts a week entirely: events and loaded marker.
func (c *Cache) Purge(weekKey string) {
	c.mu.Lock()
	delete(c.weeks, weekKey)
	delete(c.loaded, weekKey)
	c.mu.Unlock()
}

// LoadedWeeks lists weeks that have received a snapshot.
func (c *Cache) LoadedWeeks() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.loaded))
	for k := range c.loaded {
		keys = append(keys, k)
	}
	return keys
}

func (c *Cache) pruneTombstonesLocked() {
	now := c.now()
	for id, expiry := range c.tombstones {
		if now.After(expiry) {
			delete(c.tombstones, id)
		}
	}
}
