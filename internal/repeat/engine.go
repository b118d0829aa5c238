// Package repeat generates and maintains series of repeating events: a base
// event fans out into dated occurrences over a bounded horizon, skipping
// holidays and weekday drift.
package repeat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/teambition/rrule-go"

	"github.com/takanerehabili-creator/Completed-version-sub000/internal/availability"
	"github.com/takanerehabili-creator/Completed-version-sub000/internal/metrics"
	"github.com/takanerehabili-creator/Completed-version-sub000/internal/model"
	"github.com/takanerehabili-creator/Completed-version-sub000/internal/store"
	"github.com/takanerehabili-creator/Completed-version-sub000/internal/weekcache"
)

// DefaultHorizonMonths bounds how far ahead a series is materialized.
const DefaultHorizonMonths = 3

// IntervalDays maps a repeat kind to its step in days. Daily and monthly are
// legacy kinds kept for old records; monthly has always meant a flat 30-day
// step here, not a calendar month.
func IntervalDays(repeatKind string) int {
	switch repeatKind {
	case model.RepeatWeekly:
		return 7
	case model.RepeatBiweekly:
		return 14
	case model.RepeatTriweekly:
		return 21
	case model.RepeatDaily:
		return 1
	case model.RepeatMonthly:
		return 30
	}
	return 0
}

// Resolution is the caller's choice when a new series collides with existing
// bookings. Never decided automatically.
type Resolution string

const (
	// ResolutionReplace deletes the collisions, then generates the full series.
	ResolutionReplace Resolution = "replace"
	// ResolutionSkip generates the series but omits colliding dates.
	ResolutionSkip Resolution = "skip"
	// ResolutionCancel discards the already-created base event instead.
	ResolutionCancel Resolution = "cancel"
)

// Engine materializes repeat series against the store and week cache.
type Engine struct {
	store    store.Store
	cache    *weekcache.Cache
	resolver *availability.Resolver
	logger   *zerolog.Logger
	horizon  int
	now      func() time.Time
	newID    func() string
}

func NewEngine(st store.Store, cache *weekcache.Cache, resolver *availability.Resolver, logger *zerolog.Logger) *Engine {
	return &Engine{
		store:    st,
		cache:    cache,
		resolver: resolver,
		logger:   logger,
		horizon:  DefaultHorizonMonths,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// SetHorizonMonths overrides the generation horizon.
func (g *Engine) SetHorizonMonths(months int) { g.horizon = months }

// SetClock replaces the timestamp source. Test hook.
func (g *Engine) SetClock(now func() time.Time) { g.now = now }

// SetIDFunc replaces the id generator. Test hook.
func (g *Engine) SetIDFunc(f func() string) { g.newID = f }

// Occurrences returns the series dates after baseDate, exclusive of baseDate
// itself: interval steps whose weekday still matches the base date's weekday
// and that do not fall on a holiday, up to baseDate plus the horizon. The
// weekday check is a no-op for 7, 14 and 21 day steps but catches drift for
// the legacy daily and monthly kinds.
func (g *Engine) Occurrences(repeatKind, baseDate string) ([]string, error) {
	step := IntervalDays(repeatKind)
	if step == 0 {
		return nil, fmt.Errorf("not a repeating kind: %q", repeatKind)
	}
	base, err := model.ParseDate(baseDate)
	if err != nil {
		return nil, fmt.Errorf("parse base date: %w", err)
	}
	until := base.AddDate(0, g.horizon, 0)

	rule, err := rrule.NewRRule(rrule.ROption{
		Freq:     rrule.DAILY,
		Interval: step,
		Dtstart:  base,
		Until:    until,
	})
	if err != nil {
		return nil, fmt.Errorf("build recurrence rule: %w", err)
	}

	var out []string
	for _, candidate := range rule.Between(base.AddDate(0, 0, 1), until, true) {
		if candidate.Weekday() != base.Weekday() {
			continue
		}
		date := candidate.Format(model.DateLayout)
		if g.resolver.IsHoliday(date) {
			continue
		}
		out = append(out, date)
	}
	return out, nil
}

// Generate writes one occurrence of base per series date, each linked to
// parentID, in chunked batches. Returns the number written. Implements the
// generator hook the event lifecycle calls on a none-to-recurring save.
func (g *Engine) Generate(ctx context.Context, base model.Event, parentID, baseDate string) (int, error) {
	return g.generate(ctx, base, parentID, baseDate, nil)
}

// CheckConflicts walks the would-be series dates and collects every existing
// booking for the same member whose slots overlap the base event's footprint.
// Nothing is written; the caller picks a Resolution from the result.
func (g *Engine) CheckConflicts(ctx context.Context, base model.Event, baseDate string) ([]model.Event, error) {
	dates, err := g.Occurrences(base.Repeat, baseDate)
	if err != nil {
		return nil, err
	}
	var collisions []model.Event
	for _, date := range dates {
		docs, err := g.store.Collection(model.CollectionEvents).
			Where("member", "==", base.Member).
			Where("date", "==", date).
			Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("query bookings on %s: %w", date, err)
		}
		probe := base
		probe.Date = date
		for _, d := range docs {
			existing := model.EventFromFields(d.ID, d.Fields)
			if existing.ID != base.ID && probe.Overlaps(existing) {
				collisions = append(collisions, existing)
			}
		}
	}
	return collisions, nil
}

// Resolve applies the caller's decision for a colliding series. Returns the
// number of occurrences generated (zero for cancel).
func (g *Engine) Resolve(ctx context.Context, base model.Event, parentID, baseDate string, collisions []model.Event, res Resolution) (int, error) {
	switch res {
	case ResolutionReplace:
		if err := g.deleteEvents(ctx, collisions); err != nil {
			return 0, err
		}
		return g.generate(ctx, base, parentID, baseDate, nil)
	case ResolutionSkip:
		skip := make(map[string]bool, len(collisions))
		for _, c := range collisions {
			skip[c.Date] = true
		}
		return g.generate(ctx, base, parentID, baseDate, skip)
	case ResolutionCancel:
		if err := g.deleteEvents(ctx, []model.Event{{ID: base.ID}}); err != nil {
			return 0, err
		}
		return 0, nil
	}
	return 0, fmt.Errorf("unknown resolution %q", res)
}

func (g *Engine) generate(ctx context.Context, base model.Event, parentID, baseDate string, skipDates map[string]bool) (int, error) {
	dates, err := g.Occurrences(base.Repeat, baseDate)
	if err != nil {
		return 0, err
	}

	stamp := g.now().UTC()
	var occurrences []model.Event
	for _, date := range dates {
		if skipDates[date] {
			continue
		}
		occ := base
		occ.ID = g.newID()
		occ.Date = date
		occ.RepeatParent = parentID
		occ.LastModified = stamp
		occurrences = append(occurrences, occ)
	}

	written := 0
	for len(occurrences) > 0 {
		n := len(occurrences)
		if n > store.MaxBatchOps {
			n = store.MaxBatchOps
		}
		batch := g.store.Batch()
		for _, occ := range occurrences[:n] {
			batch.Set(model.CollectionEvents, occ.ID, occ.Fields(), false)
		}
		if err := batch.Commit(ctx); err != nil {
			return written, fmt.Errorf("write series batch: %w", err)
		}
		for _, occ := range occurrences[:n] {
			g.cache.Upsert(occ)
			metrics.IncEventSaved(occ.Type)
		}
		written += n
		occurrences = occurrences[n:]
	}
	g.logger.Info().Str("parent", parentID).Str("repeat", base.Repeat).
		Int("occurrences", written).Msg("generated repeat series")
	return written, nil
}

func (g *Engine) deleteEvents(ctx context.Context, events []model.Event) error {
	for len(events) > 0 {
		n := len(events)
		if n > store.MaxBatchOps {
			n = store.MaxBatchOps
		}
		batch := g.store.Batch()
		for _, e := range events[:n] {
			batch.Delete(model.CollectionEvents, e.ID)
		}
		if err := batch.Commit(ctx); err != nil {
			return fmt.Errorf("delete colliding events: %w", err)
		}
		for _, e := range events[:n] {
			g.cache.Remove(e.ID)
		}
		metrics.AddEventsDeleted(n)
		events = events[n:]
	}
	return nil
}
