// Package schedule wires the scheduling engine together: week navigation and
// subscriptions, reference-data feeds into the availability resolver, the
// query surface the presentation layer renders from, and the mutation entry
// points with their user-visible outcome notifications.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/takanerehabili-creator/Completed-version-sub000/internal/availability"
	"github.com/takanerehabili-creator/Completed-version-sub000/internal/lifecycle"
	"github.com/takanerehabili-creator/Completed-version-sub000/internal/metrics"
	"github.com/takanerehabili-creator/Completed-version-sub000/internal/model"
	"github.com/takanerehabili-creator/Completed-version-sub000/internal/notify"
	"github.com/takanerehabili-creator/Completed-version-sub000/internal/repeat"
	"github.com/takanerehabili-creator/Completed-version-sub000/internal/store"
	"github.com/takanerehabili-creator/Completed-version-sub000/internal/subscription"
	"github.com/takanerehabili-creator/Completed-version-sub000/internal/weekcache"
)

// RenderFunc receives the displayed week's event list whenever it changes.
type RenderFunc func(weekKey string, events []model.Event)

// Controller is the single composition point of the engine. Constructed once
// at startup and passed by reference; there is no ambient global instance.
type Controller struct {
	store     store.Store
	cache     *weekcache.Cache
	resolver  *availability.Resolver
	subs      *subscription.Manager
	lifecycle *lifecycle.Lifecycle
	repeats   *repeat.Engine
	notifier  notify.Notifier
	logger    *zerolog.Logger
	now       func() time.Time

	mu           sync.Mutex
	currentWeek  string
	renderFns    []RenderFunc
	refUnsubs    []func()
}

func NewController(st store.Store, notifier notify.Notifier, logger *zerolog.Logger) *Controller {
	cache := weekcache.New()
	resolver := availability.NewResolver()
	c := &Controller{
		store:    st,
		cache:    cache,
		resolver: resolver,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
	c.subs = subscription.NewManager(st, cache, notify.Func(c.notify), logger)
	c.lifecycle = lifecycle.New(st, cache, resolver, logger)
	c.repeats = repeat.NewEngine(st, cache, resolver, logger)
	c.lifecycle.SetSeriesGenerator(c.repeats)
	cache.OnChange(c.onCacheChange)
	return c
}

// SetClock replaces the time source on the controller and its subscription
// manager. Test hook.
func (c *Controller) SetClock(now func() time.Time) {
	c.now = now
	c.subs.SetClock(now)
}

// Cache exposes the week cache for read-side consumers such as exports.
func (c *Controller) Cache() *weekcache.Cache { return c.cache }

// Resolver exposes the availability resolver for read-side consumers.
func (c *Controller) Resolver() *availability.Resolver { return c.resolver }

// Subscriptions exposes the subscription manager, mainly for the manual
// reconnect affordance.
func (c *Controller) Subscriptions() *subscription.Manager { return c.subs }

// Repeats exposes the repeat engine for the conflict-resolution flow.
func (c *Controller) Repeats() *repeat.Engine { return c.repeats }

// OnRender registers a presentation callback for displayed-week changes.
// Register before Start.
func (c *Controller) OnRender(fn RenderFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.renderFns = append(c.renderFns, fn)
}

// Start opens the reference-data subscriptions and the current week's event
// subscription.
func (c *Controller) Start(ctx context.Context) error {
	c.openRefData()
	week := model.WeekKeyFor(c.now())
	c.mu.Lock()
	c.currentWeek = week
	c.mu.Unlock()
	c.subs.SetCurrentWeek(week)
	c.subs.EnsureSubscription(week)
	c.logger.Info().Str("week", week).Msg("schedule controller started")
	return ctx.Err()
}

// Shutdown tears down every live subscription.
func (c *Controller) Shutdown() {
	c.subs.Shutdown()
	c.mu.Lock()
	unsubs := c.refUnsubs
	c.refUnsubs = nil
	c.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

// CurrentWeek returns the displayed week's key.
func (c *Controller) CurrentWeek() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentWeek
}

// WeekEvents returns the displayed week's cached events.
func (c *Controller) WeekEvents() []model.Event {
	return c.cache.Events(c.CurrentWeek())
}

// ChangeWeek moves the displayed week by direction weeks (negative for the
// past) and prunes subscriptions that fell out of range.
func (c *Controller) ChangeWeek(direction int) string {
	c.mu.Lock()
	week := c.currentWeek
	c.mu.Unlock()
	monday, err := model.ParseDate(week)
	if err != nil {
		monday = c.now()
	}
	return c.GoToDate(monday.AddDate(0, 0, 7*direction).Format(model.DateLayout))
}

// GoToDate displays the week containing date. The new week is subscribed
// before out-of-range cleanup runs, so a jump target is never evicted
// mid-transition.
func (c *Controller) GoToDate(date string) string {
	day, err := model.ParseDate(date)
	if err != nil {
		c.logger.Error().Err(err).Str("date", date).Msg("go to date rejected")
		return c.CurrentWeek()
	}
	week := model.WeekKeyFor(day)

	c.mu.Lock()
	c.currentWeek = week
	c.mu.Unlock()

	c.subs.SetCurrentWeek(week)
	c.subs.EnsureSubscription(week)
	c.subs.CleanupOutOfRange(week)
	c.emitRender(week)
	return week
}

// Query surface for rendering. All pure reads against resolver state.

func (c *Controller) GetStaffForDate(date string) []model.StaffMember {
	return c.resolver.StaffPresentOn(date)
}

func (c *Controller) GetStaffForTimeSlot(date, slot string) []model.StaffMember {
	return c.resolver.StaffPresentAt(date, slot)
}

func (c *Controller) IsStaffActiveAtTime(member, date, slot string) bool {
	return c.resolver.IsActiveAt(member, date, slot)
}

func (c *Controller) IsStaffLeave(member, date, slot string) bool {
	return c.resolver.IsOnLeave(member, date, slot)
}

func (c *Controller) IsDaySchedule(member, date, slot string) bool {
	return c.resolver.IsDayScheduleBlock(member, date, slot)
}

func (c *Controller) IsHoliday(date string) bool {
	return c.resolver.IsHoliday(date)
}

// SaveEvent persists a draft and reports the outcome to the user. A
// concurrent-modification error passes through untouched so the caller can
// run the overwrite confirmation flow.
func (c *Controller) SaveEvent(ctx context.Context, req lifecycle.SaveRequest) (lifecycle.SaveResult, error) {
	res, err := c.lifecycle.Save(ctx, req)
	if err != nil {
		if lifecycle.IsConcurrentModification(err) {
			return res, err
		}
		c.notify(saveFailureMessage(err), notify.SeverityError)
		return res, err
	}
	switch {
	case res.Generated > 0:
		c.notify(fmt.Sprintf("予定を保存し、繰り返し%d件を作成しました", res.Generated), notify.SeveritySuccess)
	case res.SiblingsDeleted > 0:
		c.notify(fmt.Sprintf("予定を保存し、繰り返し%d件を削除しました", res.SiblingsDeleted), notify.SeveritySuccess)
	default:
		c.notify("予定を保存しました", notify.SeveritySuccess)
	}
	return res, nil
}

// DeleteSingle removes one occurrence only.
func (c *Controller) DeleteSingle(ctx context.Context, id string) error {
	if err := c.lifecycle.DeleteOne(ctx, id); err != nil {
		c.notify(deleteFailureMessage(err), notify.SeverityError)
		return err
	}
	c.notify("予定を削除しました", notify.SeveritySuccess)
	return nil
}

// DeleteFrom removes the event's series from its own date onward.
func (c *Controller) DeleteFrom(ctx context.Context, id string) error {
	event, ok := c.cache.Find(id)
	if !ok {
		err := &lifecycle.NotFoundError{ID: id}
		c.notify(deleteFailureMessage(err), notify.SeverityError)
		return err
	}
	n, err := c.lifecycle.DeleteSeriesFrom(ctx, event, event.Date)
	if err != nil {
		c.notify(deleteFailureMessage(err), notify.SeverityError)
		return err
	}
	c.notify(fmt.Sprintf("%d件の繰り返し予定を削除しました", n), notify.SeveritySuccess)
	return nil
}

// DeleteEvent is the routed delete: a plain event is removed alone, a series
// member fans out from its own date.
func (c *Controller) DeleteEvent(ctx context.Context, id string) error {
	event, ok := c.cache.Find(id)
	if ok && (event.RepeatParent != "" || (event.Repeat != "" && event.Repeat != model.RepeatNone)) {
		return c.DeleteFrom(ctx, id)
	}
	return c.DeleteSingle(ctx, id)
}

// SaveOverride persists a staff substitution.
func (c *Controller) SaveOverride(ctx context.Context, o model.StaffOverride) error {
	if err := c.lifecycle.SaveOverride(ctx, o); err != nil {
		c.notify(saveFailureMessage(err), notify.SeverityError)
		return err
	}
	c.notify("担当変更を登録しました", notify.SeveritySuccess)
	return nil
}

// CreateLeave persists a leave window, removing bookings it overlaps.
func (c *Controller) CreateLeave(ctx context.Context, leave model.StaffLeave) error {
	removed, err := c.lifecycle.CreateLeave(ctx, leave)
	if err != nil {
		c.notify(saveFailureMessage(err), notify.SeverityError)
		return err
	}
	if removed > 0 {
		c.notify(fmt.Sprintf("休みを登録し、重なっていた予定%d件を削除しました", removed), notify.SeverityInfo)
	} else {
		c.notify("休みを登録しました", notify.SeveritySuccess)
	}
	return nil
}

// RenameStaff rewrites the display-name join key across all records.
func (c *Controller) RenameStaff(ctx context.Context, oldName, newName string) error {
	n, err := c.lifecycle.RenameStaff(ctx, oldName, newName)
	if err != nil {
		c.notify("スタッフ名の変更に失敗しました", notify.SeverityError)
		return err
	}
	c.notify(fmt.Sprintf("スタッフ名を変更しました（%d件更新）", n), notify.SeveritySuccess)
	return nil
}

// DeleteStaff removes a roster member and every record joined to the name.
func (c *Controller) DeleteStaff(ctx context.Context, member model.StaffMember) error {
	if _, err := c.lifecycle.DeleteStaff(ctx, member); err != nil {
		c.notify("スタッフの削除に失敗しました", notify.SeverityError)
		return err
	}
	c.notify("スタッフを削除しました", notify.SeveritySuccess)
	return nil
}

// openRefData subscribes each reference collection into the resolver. Every
// snapshot replaces that collection's state wholesale and re-renders the
// displayed week, since availability affects how events are laid out.
func (c *Controller) openRefData() {
	col := func(name string, apply func(store.Snapshot)) {
		unsub := c.store.Collection(name).OnSnapshot(
			func(snap store.Snapshot) {
				apply(snap)
				c.emitRender(c.CurrentWeek())
			},
			func(err error) {
				c.logger.Error().Err(err).Str("collection", name).Msg("reference data subscription error")
			},
		)
		c.mu.Lock()
		c.refUnsubs = append(c.refUnsubs, unsub)
		c.mu.Unlock()
	}

	col(model.CollectionStaff, func(snap store.Snapshot) {
		staff := make([]model.StaffMember, 0, len(snap.Docs))
		for _, d := range snap.Docs {
			staff = append(staff, model.StaffFromFields(d.ID, d.Fields))
		}
		c.resolver.SetStaff(staff)
	})
	col(model.CollectionOverrides, func(snap store.Snapshot) {
		overrides := make([]model.StaffOverride, 0, len(snap.Docs))
		for _, d := range snap.Docs {
			overrides = append(overrides, model.OverrideFromFields(d.ID, d.Fields))
		}
		c.resolver.SetOverrides(overrides)
	})
	col(model.CollectionLeaves, func(snap store.Snapshot) {
		leaves := make([]model.StaffLeave, 0, len(snap.Docs))
		for _, d := range snap.Docs {
			leaves = append(leaves, model.LeaveFromFields(d.ID, d.Fields))
		}
		c.resolver.SetLeaves(leaves)
	})
	col(model.CollectionDaySchedules, func(snap store.Snapshot) {
		schedules := make([]model.DaySchedule, 0, len(snap.Docs))
		for _, d := range snap.Docs {
			schedules = append(schedules, model.DayScheduleFromFields(d.ID, d.Fields))
		}
		c.resolver.SetDaySchedules(schedules)
	})
	col(model.CollectionHolidays, func(snap store.Snapshot) {
		holidays := make([]model.Holiday, 0, len(snap.Docs))
		for _, d := range snap.Docs {
			holidays = append(holidays, model.HolidayFromFields(d.ID, d.Fields))
		}
		c.resolver.SetHolidays(holidays)
	})
}

// onCacheChange re-renders when the displayed week's cached list changed.
func (c *Controller) onCacheChange(weekKey string) {
	if weekKey == c.CurrentWeek() {
		c.emitRender(weekKey)
	}
}

func (c *Controller) emitRender(weekKey string) {
	c.mu.Lock()
	fns := append([]RenderFunc(nil), c.renderFns...)
	c.mu.Unlock()
	if len(fns) == 0 {
		return
	}
	events := c.cache.Events(weekKey)
	for _, fn := range fns {
		fn(weekKey, events)
	}
}

func (c *Controller) notify(message, severity string) {
	metrics.IncNotification(severity)
	c.notifier.Notify(message, severity)
}

func saveFailureMessage(err error) string {
	switch {
	case lifecycle.IsValidation(err):
		return "入力内容に誤りがあります: " + err.Error()
	case lifecycle.IsConflict(err):
		return "その時間帯はすでに予約があります"
	default:
		var se *lifecycle.StoreError
		if errors.As(err, &se) {
			return "保存に失敗しました。もう一度お試しください"
		}
		return "保存に失敗しました"
	}
}

func deleteFailureMessage(err error) string {
	if lifecycle.IsNotFound(err) {
		return "その予定はすでに削除されています"
	}
	return "削除に失敗しました。もう一度お試しください"
}
