package schedule

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/takanerehabili-creator/Completed-version-sub000/internal/lifecycle"
	"github.com/takanerehabili-creator/Completed-version-sub000/internal/model"
	"github.com/takanerehabili-creator/Completed-version-sub000/internal/notify"
	"github.com/takanerehabili-creator/Completed-version-sub000/internal/store"
)

type notifications struct {
	mu   sync.Mutex
	msgs []string
	sevs []string
}

func (n *notifications) Notify(message, severity string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, message)
	n.sevs = append(n.sevs, severity)
}

func (n *notifications) last() (string, string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.msgs) == 0 {
		return "", ""
	}
	return n.msgs[len(n.msgs)-1], n.sevs[len(n.sevs)-1]
}

// newTestController starts a controller pinned to the week of Mon 2025-01-06.
func newTestController(t *testing.T) (*Controller, *store.MemStore, *notifications) {
	t.Helper()
	ms := store.NewMemStore()
	sink := &notifications{}
	logger := zerolog.New(io.Discard)
	c := NewController(ms, sink, &logger)
	c.SetClock(func() time.Time { return time.Date(2025, 1, 8, 12, 0, 0, 0, time.UTC) })
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Shutdown)
	return c, ms, sink
}

func TestStartSubscribesCurrentWeekAndRefData(t *testing.T) {
	c, ms, _ := newTestController(t)
	ctx := context.Background()

	assert.Equal(t, "2025-01-06", c.CurrentWeek())
	assert.Equal(t, 1, ms.ListenerCount(model.CollectionEvents))

	// Roster changes flow through the live reference-data feed.
	member := model.StaffMember{Surname: "田中", Workdays: model.DefaultWorkdays()}
	require.NoError(t, ms.Collection(model.CollectionStaff).Doc("s1").Set(ctx, member.Fields(), false))
	present := c.GetStaffForDate("2025-01-06")
	require.Len(t, present, 1)
	assert.Equal(t, "田中", present[0].DisplayName())

	require.NoError(t, ms.Collection(model.CollectionHolidays).Doc("h1").Set(ctx,
		model.Holiday{Date: "2025-01-13", Name: "成人の日"}.Fields(), false))
	assert.True(t, c.IsHoliday("2025-01-13"))
	assert.False(t, c.IsHoliday("2025-01-14"))
}

func TestNavigationSubscribesAndPrunes(t *testing.T) {
	c, ms, _ := newTestController(t)

	week := c.ChangeWeek(1)
	assert.Equal(t, "2025-01-13", week)
	assert.Equal(t, 2, ms.ListenerCount(model.CollectionEvents))

	// A far jump keeps only weeks inside the eviction window plus the
	// displayed one.
	week = c.GoToDate("2025-03-12")
	assert.Equal(t, "2025-03-10", week)
	assert.Equal(t, c.CurrentWeek(), week)
	weeks := c.Subscriptions().SubscribedWeeks()
	assert.Contains(t, weeks, "2025-03-10")
	assert.NotContains(t, weeks, "2025-03-03")

	// Going back to today's week re-subscribes it.
	week = c.GoToDate("2025-01-08")
	assert.Equal(t, "2025-01-06", week)
	assert.Contains(t, c.Subscriptions().SubscribedWeeks(), "2025-01-06")
}

func TestSaveEventNotifiesAndRenders(t *testing.T) {
	c, _, sink := newTestController(t)
	ctx := context.Background()

	var mu sync.Mutex
	var rendered []model.Event
	c.OnRender(func(weekKey string, events []model.Event) {
		mu.Lock()
		defer mu.Unlock()
		if weekKey == "2025-01-06" {
			rendered = append([]model.Event(nil), events...)
		}
	})

	res, err := c.SaveEvent(ctx, lifecycle.SaveRequest{Draft: model.Event{
		Member: "田中", Date: "2025-01-06", Time: "10:00",
		Type: model.Type20Min, PatientSurname: "山本",
	}})
	require.NoError(t, err)

	msg, sev := sink.last()
	assert.Equal(t, "予定を保存しました", msg)
	assert.Equal(t, notify.SeveritySuccess, sev)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, rendered, 1)
	assert.Equal(t, res.Event.ID, rendered[0].ID)
}

func TestSaveEventFailureNotifies(t *testing.T) {
	c, _, sink := newTestController(t)
	ctx := context.Background()

	_, err := c.SaveEvent(ctx, lifecycle.SaveRequest{Draft: model.Event{
		Member: "田中", Date: "2025-01-06", Time: "10:00", Type: model.Type20Min,
	}})
	require.True(t, lifecycle.IsValidation(err))
	_, sev := sink.last()
	assert.Equal(t, notify.SeverityError, sev)
}

func TestConcurrentModificationPassesThrough(t *testing.T) {
	c, _, sink := newTestController(t)
	ctx := context.Background()

	base := time.Date(2025, 1, 8, 12, 0, 0, 0, time.UTC)
	saved, err := c.SaveEvent(ctx, lifecycle.SaveRequest{Draft: model.Event{
		Member: "田中", Date: "2025-01-06", Time: "10:00",
		Type: model.Type20Min, PatientSurname: "山本",
	}})
	require.NoError(t, err)
	before := len(sink.msgs)

	edit := saved.Event
	edit.PatientSurname = "高橋"
	_, err = c.SaveEvent(ctx, lifecycle.SaveRequest{
		Draft: edit, EditSessionStart: base.Add(-time.Hour),
	})
	require.True(t, lifecycle.IsConcurrentModification(err))
	// The overwrite decision belongs to the user; no notification fires.
	assert.Equal(t, before, len(sink.msgs))
}

func TestDeleteEventRoutesSeries(t *testing.T) {
	c, ms, sink := newTestController(t)
	ctx := context.Background()

	saved, err := c.SaveEvent(ctx, lifecycle.SaveRequest{Draft: model.Event{
		Member: "田中", Date: "2025-01-06", Time: "10:00",
		Type: model.Type20Min, PatientSurname: "山本", Repeat: model.RepeatWeekly,
	}})
	require.NoError(t, err)
	assert.Greater(t, saved.Generated, 0)

	require.NoError(t, c.DeleteEvent(ctx, saved.Event.ID))
	remaining, err := ms.Collection(model.CollectionEvents).Get(ctx)
	require.NoError(t, err)
	assert.Empty(t, remaining)
	_, sev := sink.last()
	assert.Equal(t, notify.SeveritySuccess, sev)
}

func TestDeleteSingleLeavesSiblings(t *testing.T) {
	c, ms, _ := newTestController(t)
	ctx := context.Background()

	saved, err := c.SaveEvent(ctx, lifecycle.SaveRequest{Draft: model.Event{
		Member: "田中", Date: "2025-01-06", Time: "10:00",
		Type: model.Type20Min, PatientSurname: "山本", Repeat: model.RepeatWeekly,
	}})
	require.NoError(t, err)

	require.NoError(t, c.DeleteSingle(ctx, saved.Event.ID))
	remaining, err := ms.Collection(model.CollectionEvents).Get(ctx)
	require.NoError(t, err)
	assert.Len(t, remaining, saved.Generated)
}

func TestCreateLeaveReportsRemovals(t *testing.T) {
	c, _, sink := newTestController(t)
	ctx := context.Background()

	_, err := c.SaveEvent(ctx, lifecycle.SaveRequest{Draft: model.Event{
		Member: "田中", Date: "2025-01-06", Time: "10:00",
		Type: model.Type20Min, PatientSurname: "山本",
	}})
	require.NoError(t, err)

	require.NoError(t, c.CreateLeave(ctx, model.StaffLeave{
		StaffName: "田中", Date: "2025-01-06", StartTime: "9:00", EndTime: "12:00",
	}))
	_, sev := sink.last()
	assert.Equal(t, notify.SeverityInfo, sev)
	assert.Empty(t, c.Cache().EventsOn("2025-01-06"))
}
