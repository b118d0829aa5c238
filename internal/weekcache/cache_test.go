package weekcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/takanerehabili-creator/Completed-version-sub000/internal/model"
)

const testWeek = "2025-01-06"

func ev(id, date, slot string) model.Event {
	return model.Event{ID: id, Member: "田中", Date: date, Time: slot, Type: model.Type20Min}
}

func TestApplySnapshotReplacesWholesale(t *testing.T) {
	c := New()
	c.ApplySnapshot(testWeek, []model.Event{ev("a", "2025-01-06", "9:00"), ev("b", "2025-01-07", "10:00")})
	assert.Len(t, c.Events(testWeek), 2)
	assert.True(t, c.IsLoaded(testWeek))

	// Next snapshot is a full replacement, not a patch.
	c.ApplySnapshot(testWeek, []model.Event{ev("c", "2025-01-08", "11:00")})
	events := c.Events(testWeek)
	assert.Len(t, events, 1)
	assert.Equal(t, "c", events[0].ID)
}

func TestTombstoneSuppressesResurrection(t *testing.T) {
	c := New()
	base := time.Date(2025, 1, 6, 12, 0, 0, 0, time.UTC)
	now := base
	c.SetClock(func() time.Time { return now })

	c.ApplySnapshot(testWeek, []model.Event{ev("a", "2025-01-06", "9:00"), ev("b", "2025-01-06", "9:20")})
	c.Remove("a")
	assert.Len(t, c.Events(testWeek), 1)
	assert.True(t, c.IsTombstoned("a"))

	// A lagging snapshot that still carries the deleted id must not bring it back.
	now = base.Add(2 * time.Second)
	c.ApplySnapshot(testWeek, []model.Event{ev("a", "2025-01-06", "9:00"), ev("b", "2025-01-06", "9:20")})
	events := c.Events(testWeek)
	assert.Len(t, events, 1)
	assert.Equal(t, "b", events[0].ID)

	// After the grace window the id is allowed through again.
	now = base.Add(TombstoneGrace + time.Second)
	assert.False(t, c.IsTombstoned("a"))
	c.ApplySnapshot(testWeek, []model.Event{ev("a", "2025-01-06", "9:00")})
	assert.Len(t, c.Events(testWeek), 1)
}

func TestUpsertReadBack(t *testing.T) {
	c := New()
	saved := model.Event{
		ID: "x", Member: "佐藤", Date: "2025-01-08", Time: "10:00",
		Type: model.Type40Min, PatientSurname: "山田", IsNewPatient: true,
	}
	c.Upsert(saved)

	// Round-trip before any snapshot arrives.
	got, ok := c.Find("x")
	assert.True(t, ok)
	assert.Equal(t, saved, got)
	assert.Equal(t, []model.Event{saved}, c.EventsOn("2025-01-08"))

	// Editing in place keeps one entry.
	saved.Time = "11:00"
	c.Upsert(saved)
	assert.Len(t, c.Events(testWeek), 1)
	got, _ = c.Find("x")
	assert.Equal(t, "11:00", got.Time)
}

func TestRemoveWhere(t *testing.T) {
	c := New()
	c.ApplySnapshot(testWeek, []model.Event{
		ev("a", "2025-01-06", "9:00"),
		ev("b", "2025-01-07", "9:00"),
		{ID: "c", Member: "佐藤", Date: "2025-01-07", Time: "9:20", Type: model.Type20Min},
	})

	removed := c.RemoveWhere(func(e model.Event) bool { return e.Member == "田中" })
	assert.Equal(t, 2, removed)
	assert.Len(t, c.Events(testWeek), 1)
	assert.True(t, c.IsTombstoned("a"))
	assert.True(t, c.IsTombstoned("b"))
}

func TestPurge(t *testing.T) {
	c := New()
	c.ApplySnapshot(testWeek, []model.Event{ev("a", "2025-01-06", "9:00")})
	c.Purge(testWeek)
	assert.Empty(t, c.Events(testWeek))
	assert.False(t, c.IsLoaded(testWeek))
	assert.Empty(t, c.LoadedWeeks())
}

func TestOnChange(t *testing.T) {
	c := New()
	var seen []string
	c.OnChange(func(weekKey string) { seen = append(seen, weekKey) })

	c.ApplySnapshot(testWeek, nil)
	c.Upsert(ev("a", "2025-01-06", "9:00"))
	c.Remove("a")

	assert.Equal(t, []string{testWeek, testWeek, testWeek}, seen)
}
