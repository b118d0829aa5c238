// Package lifecycle implements create, update and delete of schedule events
// and the staff reference records that hang off them. Validation and conflict
// checks run locally against the week cache before anything reaches the
// store; series fan-out deletes chunk around the store's batch cap.
package lifecycle

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/takanerehabili-creator/Completed-version-sub000/internal/availability"
	"github.com/takanerehabili-creator/Completed-version-sub000/internal/metrics"
	"github.com/takanerehabili-creator/Completed-version-sub000/internal/model"
	"github.com/takanerehabili-creator/Completed-version-sub000/internal/store"
	"github.com/takanerehabili-creator/Completed-version-sub000/internal/timegrid"
	"github.com/takanerehabili-creator/Completed-version-sub000/internal/weekcache"
)

// SeriesGenerator creates repeat occurrences for a freshly recurring base
// event. Wired at composition time to break the dependency between this
// package and the repeat engine.
type SeriesGenerator interface {
	Generate(ctx context.Context, base model.Event, parentID, baseDate string) (int, error)
}

// Lifecycle owns event mutations.
type Lifecycle struct {
	store     store.Store
	cache     *weekcache.Cache
	resolver  *availability.Resolver
	logger    *zerolog.Logger
	generator SeriesGenerator
	now       func() time.Time
	newID     func() string
}

func New(st store.Store, cache *weekcache.Cache, resolver *availability.Resolver, logger *zerolog.Logger) *Lifecycle {
	return &Lifecycle{
		store:    st,
		cache:    cache,
		resolver: resolver,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// SetSeriesGenerator wires the repeat engine in. Optional; without it a
// none-to-recurring transition saves the base event and generates nothing.
func (l *Lifecycle) SetSeriesGenerator(g SeriesGenerator) { l.generator = g }

// SetClock replaces the timestamp source. Test hook.
func (l *Lifecycle) SetClock(now func() time.Time) { l.now = now }

// SetIDFunc replaces the id generator. Test hook.
func (l *Lifecycle) SetIDFunc(f func() string) { l.newID = f }

// SaveRequest carries an event draft plus the edit-session context needed
// for lost-update detection. EditSessionStart is zero for new events;
// Overwrite acknowledges a previously reported concurrent modification.
type SaveRequest struct {
	Draft            model.Event
	EditSessionStart time.Time
	Overwrite        bool
}

// SaveResult reports what a save did beyond the event itself.
type SaveResult struct {
	Event           model.Event
	Generated       int
	SiblingsDeleted int
}

// Save validates, conflict-checks and persists one event draft, then runs
// any recurrence transition the edit implies.
func (l *Lifecycle) Save(ctx context.Context, req SaveRequest) (SaveResult, error) {
	draft := normalize(req.Draft)
	if err := l.validate(draft); err != nil {
		return SaveResult{}, err
	}
	if err := l.checkConflicts(draft); err != nil {
		return SaveResult{}, err
	}

	prior, hadPrior, err := l.fetchPrior(ctx, draft.ID)
	if err != nil {
		return SaveResult{}, err
	}
	if hadPrior && !req.Overwrite && !req.EditSessionStart.IsZero() &&
		prior.LastModified.After(req.EditSessionStart) {
		return SaveResult{}, &ConcurrentModificationError{Submitted: draft, Stored: prior}
	}

	if draft.ID == "" {
		draft.ID = l.newID()
	}
	draft.LastModified = l.now().UTC()
	doc := l.store.Collection(model.CollectionEvents).Doc(draft.ID)
	if err := doc.Set(ctx, draft.Fields(), hadPrior); err != nil {
		return SaveResult{}, &StoreError{Op: "save event", Err: err}
	}
	l.cache.Upsert(draft)
	metrics.IncEventSaved(draft.Type)

	res := SaveResult{Event: draft}
	wasRecurring := hadPrior && isRecurring(prior.Repeat)
	nowRecurring := isRecurring(draft.Repeat)
	switch {
	// Only series roots fan out; generated occurrences carry a repeatParent
	// and must never re-generate.
	case !wasRecurring && nowRecurring && draft.RepeatParent == "" && l.generator != nil:
		res.Generated, err = l.generator.Generate(ctx, draft, draft.ID, draft.Date)
		if err != nil {
			return res, err
		}
	case wasRecurring && !nowRecurring:
		root := prior.RepeatParent
		if root == "" {
			root = prior.ID
		}
		res.SiblingsDeleted, err = l.deleteSiblings(ctx, root, draft.ID)
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

// DeleteOne removes a single event. The cache is mutated optimistically and
// the id tombstoned before the store delete, so the grid updates immediately
// and a lagging snapshot cannot resurrect the record.
func (l *Lifecycle) DeleteOne(ctx context.Context, id string) error {
	doc := l.store.Collection(model.CollectionEvents).Doc(id)
	if _, err := doc.Get(ctx); err != nil {
		if store.IsNotFound(err) {
			return &NotFoundError{ID: id}
		}
		return &StoreError{Op: "load event", Err: err}
	}
	l.cache.Remove(id)
	if err := doc.Delete(ctx); err != nil {
		// Cache already dropped it; the next snapshot reconciles.
		return &StoreError{Op: "delete event", Err: err}
	}
	metrics.AddEventsDeleted(1)
	return nil
}

// DeleteSeriesFrom removes every occurrence of event's series dated at or
// after cutoffDate, the series root included. Three lookups are unioned:
// the repeatParent link, the root document itself, and a field-correlation
// fallback for legacy records written without a repeatParent.
func (l *Lifecycle) DeleteSeriesFrom(ctx context.Context, event model.Event, cutoffDate string) (int, error) {
	root := event.RepeatParent
	if root == "" {
		root = event.ID
	}
	events := l.store.Collection(model.CollectionEvents)
	targets := make(map[string]model.Event)

	linked, err := events.
		Where("repeatParent", "==", root).
		Where("date", ">=", cutoffDate).
		Get(ctx)
	if err != nil {
		return 0, &StoreError{Op: "query series", Err: err}
	}
	for _, d := range linked {
		targets[d.ID] = model.EventFromFields(d.ID, d.Fields)
	}

	if rootDoc, err := events.Doc(root).Get(ctx); err == nil {
		e := model.EventFromFields(rootDoc.ID, rootDoc.Fields)
		if e.Date >= cutoffDate {
			targets[e.ID] = e
		}
	} else if !store.IsNotFound(err) {
		return 0, &StoreError{Op: "load series root", Err: err}
	}

	// Legacy occurrences predating repeatParent stamping: correlate by
	// member, type, anchor slot and weekday.
	correlated, err := events.
		Where("member", "==", event.Member).
		Where("type", "==", event.Type).
		Where("date", ">=", cutoffDate).
		Get(ctx)
	if err != nil {
		return 0, &StoreError{Op: "query series fallback", Err: err}
	}
	for _, d := range correlated {
		e := model.EventFromFields(d.ID, d.Fields)
		if e.ID == root || e.RepeatParent == root {
			targets[e.ID] = e
			continue
		}
		if e.RepeatParent == "" && e.Time == event.Time && sameWeekday(e.Date, event.Date) {
			targets[e.ID] = e
		}
	}

	ids := make([]string, 0, len(targets))
	for id := range targets {
		ids = append(ids, id)
	}
	deleted, err := l.deleteChunked(ctx, ids)
	metrics.AddEventsDeleted(deleted)
	if err != nil {
		return deleted, err
	}
	l.logger.Info().Str("root", root).Str("cutoff", cutoffDate).
		Int("deleted", deleted).Msg("deleted repeat series")
	return deleted, nil
}

// SaveOverride persists a staff substitution after rejecting a same-day
// override whose window overlaps an existing one for the same original
// staff member. A full-day and a half-day override for one member and date
// are contradictory, so the overlap is refused outright.
func (l *Lifecycle) SaveOverride(ctx context.Context, o model.StaffOverride) error {
	if o.Date == "" || o.OriginalStaff == "" || o.ReplacementStaff == "" {
		return &ValidationError{Field: "override", Reason: "date, original and replacement staff are required"}
	}
	switch o.TimeSlot {
	case "", model.OverrideAll, model.OverrideMorning, model.OverrideAfternoon:
	default:
		return &ValidationError{Field: "timeSlot", Reason: "unknown half-day window " + o.TimeSlot}
	}

	existing, err := l.store.Collection(model.CollectionOverrides).
		Where("date", "==", o.Date).
		Where("originalStaff", "==", o.OriginalStaff).
		Get(ctx)
	if err != nil {
		return &StoreError{Op: "query overrides", Err: err}
	}
	for _, d := range existing {
		other := model.OverrideFromFields(d.ID, d.Fields)
		if other.ID == o.ID {
			continue
		}
		if o.IsFullDay() || other.IsFullDay() || o.TimeSlot == other.TimeSlot {
			return &ConflictError{Reason: "an overlapping substitution already exists for " + o.OriginalStaff + " on " + o.Date}
		}
	}

	if o.ID == "" {
		o.ID = l.newID()
	}
	if err := l.store.Collection(model.CollectionOverrides).Doc(o.ID).Set(ctx, o.Fields(), false); err != nil {
		return &StoreError{Op: "save override", Err: err}
	}
	return nil
}

// CreateLeave persists a leave window and deletes every already-booked event
// for that member overlapping it. Returns the number of events removed.
func (l *Lifecycle) CreateLeave(ctx context.Context, leave model.StaffLeave) (int, error) {
	if leave.StaffName == "" || leave.Date == "" {
		return 0, &ValidationError{Field: "leave", Reason: "staff name and date are required"}
	}
	startMin := timegrid.MinuteOf(timegrid.Normalize(leave.StartTime))
	endMin := timegrid.MinuteOf(timegrid.Normalize(leave.EndTime))
	if startMin < 0 || endMin < 0 || startMin >= endMin {
		return 0, &ValidationError{Field: "leave", Reason: "start time must precede end time"}
	}

	if leave.ID == "" {
		leave.ID = l.newID()
	}
	if err := l.store.Collection(model.CollectionLeaves).Doc(leave.ID).Set(ctx, leave.Fields(), false); err != nil {
		return 0, &StoreError{Op: "save leave", Err: err}
	}

	window := model.Event{Type: model.TypeBreak, Date: leave.Date,
		StartTime: timegrid.Normalize(leave.StartTime), EndTime: timegrid.Normalize(leave.EndTime)}
	var ids []string
	for _, e := range l.cache.EventsOn(leave.Date) {
		if e.Member == leave.StaffName && e.Overlaps(window) {
			ids = append(ids, e.ID)
		}
	}
	deleted, err := l.deleteChunked(ctx, ids)
	metrics.AddEventsDeleted(deleted)
	if err != nil {
		return deleted, err
	}
	return deleted, nil
}

// RenameStaff rewrites the display name across every record that joins on
// it. The name is the join key, so a rename fans out to events, overrides,
// leaves and day schedules in chunked batches. Returns the rewritten count.
func (l *Lifecycle) RenameStaff(ctx context.Context, oldName, newName string) (int, error) {
	if oldName == "" || newName == "" || oldName == newName {
		return 0, &ValidationError{Field: "name", Reason: "old and new names must differ and be non-empty"}
	}

	type patch struct {
		collection string
		id         string
		fields     map[string]any
	}
	var patches []patch
	refs := []struct {
		collection string
		field      string
	}{
		{model.CollectionEvents, "member"},
		{model.CollectionOverrides, "originalStaff"},
		{model.CollectionOverrides, "replacementStaff"},
		{model.CollectionLeaves, "staffName"},
		{model.CollectionDaySchedules, "staffName"},
	}
	for _, ref := range refs {
		docs, err := l.store.Collection(ref.collection).
			Where(ref.field, "==", oldName).
			Get(ctx)
		if err != nil {
			return 0, &StoreError{Op: "query " + ref.collection, Err: err}
		}
		for _, d := range docs {
			patches = append(patches, patch{ref.collection, d.ID, map[string]any{ref.field: newName}})
		}
	}

	written := 0
	for len(patches) > 0 {
		n := len(patches)
		if n > store.MaxBatchOps {
			n = store.MaxBatchOps
		}
		batch := l.store.Batch()
		for _, p := range patches[:n] {
			batch.Set(p.collection, p.id, p.fields, true)
		}
		if err := batch.Commit(ctx); err != nil {
			return written, &StoreError{Op: "rename staff", Err: err}
		}
		written += n
		patches = patches[n:]
	}
	l.logger.Info().Str("from", oldName).Str("to", newName).
		Int("records", written).Msg("renamed staff member across records")
	return written, nil
}

// DeleteStaff removes a roster entry and cascades over every record joined
// to its display name. Returns the number of cascaded deletions.
func (l *Lifecycle) DeleteStaff(ctx context.Context, member model.StaffMember) (int, error) {
	name := member.DisplayName()
	refs := []struct {
		collection string
		field      string
	}{
		{model.CollectionEvents, "member"},
		{model.CollectionOverrides, "originalStaff"},
		{model.CollectionOverrides, "replacementStaff"},
		{model.CollectionLeaves, "staffName"},
		{model.CollectionDaySchedules, "staffName"},
	}
	type target struct{ collection, id string }
	var targets []target
	for _, ref := range refs {
		docs, err := l.store.Collection(ref.collection).
			Where(ref.field, "==", name).
			Get(ctx)
		if err != nil {
			return 0, &StoreError{Op: "query " + ref.collection, Err: err}
		}
		for _, d := range docs {
			targets = append(targets, target{ref.collection, d.ID})
		}
	}
	if member.ID != "" {
		targets = append(targets, target{model.CollectionStaff, member.ID})
	}

	deleted := 0
	for len(targets) > 0 {
		n := len(targets)
		if n > store.MaxBatchOps {
			n = store.MaxBatchOps
		}
		batch := l.store.Batch()
		for _, t := range targets[:n] {
			batch.Delete(t.collection, t.id)
		}
		if err := batch.Commit(ctx); err != nil {
			return deleted, &StoreError{Op: "delete staff cascade", Err: err}
		}
		deleted += n
		targets = targets[n:]
	}
	removed := l.cache.RemoveWhere(func(e model.Event) bool { return e.Member == name })
	metrics.AddEventsDeleted(removed)
	l.logger.Info().Str("member", name).Int("records", deleted).Msg("deleted staff member and records")
	return deleted, nil
}

// deleteSiblings removes every occurrence linked to root except keepID.
// Used when an event stops recurring.
func (l *Lifecycle) deleteSiblings(ctx context.Context, root, keepID string) (int, error) {
	docs, err := l.store.Collection(model.CollectionEvents).
		Where("repeatParent", "==", root).
		Get(ctx)
	if err != nil {
		return 0, &StoreError{Op: "query siblings", Err: err}
	}
	var ids []string
	for _, d := range docs {
		if d.ID != keepID {
			ids = append(ids, d.ID)
		}
	}
	deleted, err := l.deleteChunked(ctx, ids)
	metrics.AddEventsDeleted(deleted)
	return deleted, err
}

// deleteChunked deletes event ids in batches under the provider cap,
// dropping each successfully committed chunk from the cache.
func (l *Lifecycle) deleteChunked(ctx context.Context, ids []string) (int, error) {
	deleted := 0
	for len(ids) > 0 {
		n := len(ids)
		if n > store.MaxBatchOps {
			n = store.MaxBatchOps
		}
		batch := l.store.Batch()
		for _, id := range ids[:n] {
			batch.Delete(model.CollectionEvents, id)
		}
		if err := batch.Commit(ctx); err != nil {
			return deleted, &StoreError{Op: "delete events", Err: err}
		}
		for _, id := range ids[:n] {
			l.cache.Remove(id)
		}
		deleted += n
		ids = ids[n:]
	}
	return deleted, nil
}

func (l *Lifecycle) fetchPrior(ctx context.Context, id string) (model.Event, bool, error) {
	if id == "" {
		return model.Event{}, false, nil
	}
	doc, err := l.store.Collection(model.CollectionEvents).Doc(id).Get(ctx)
	if err != nil {
		if store.IsNotFound(err) {
			return model.Event{}, false, nil
		}
		return model.Event{}, false, &StoreError{Op: "load event", Err: err}
	}
	return model.EventFromFields(doc.ID, doc.Fields), true, nil
}

// validate runs the per-type field checks that never reach the store.
func (l *Lifecycle) validate(e model.Event) error {
	if e.Member == "" {
		return &ValidationError{Field: "member", Reason: "staff member is required"}
	}
	if _, err := model.ParseDate(e.Date); err != nil {
		return &ValidationError{Field: "date", Reason: "not a valid date: " + e.Date}
	}
	if e.IsRange() {
		start := timegrid.IndexOf(e.StartTime)
		end := timegrid.EndIndexOf(e.EndTime)
		if start < 0 || end < 0 {
			return &ValidationError{Field: "time", Reason: "start and end must be grid slots"}
		}
		if start >= end {
			return &ValidationError{Field: "time", Reason: "start time must precede end time"}
		}
	} else {
		if e.PatientSurname == "" {
			return &ValidationError{Field: "patientSurname", Reason: "patient surname is required"}
		}
		start := timegrid.IndexOf(e.Time)
		if start < 0 {
			return &ValidationError{Field: "time", Reason: "not a grid slot: " + e.Time}
		}
		if start+timegrid.SlotCount(e.Type) > timegrid.Count() {
			return &ValidationError{Field: "time", Reason: "not enough remaining slots before closing"}
		}
	}

	if l.resolver.IsHoliday(e.Date) {
		return &ValidationError{Field: "date", Reason: "the clinic is closed on " + e.Date}
	}
	if !e.IsRange() && l.resolver.IsOnLeave(e.Member, e.Date, e.Time) {
		return &ValidationError{Field: "time", Reason: e.Member + " is on leave at " + e.Time}
	}
	return nil
}

// checkConflicts inspects the cached day for collisions: range drafts
// against other range events by half-open interval intersection, point
// drafts against other point events at the exact anchor slot. The event
// being edited never conflicts with itself.
func (l *Lifecycle) checkConflicts(draft model.Event) error {
	var conflicts []model.Event
	for _, e := range l.cache.EventsOn(draft.Date) {
		if e.ID == draft.ID || e.Member != draft.Member {
			continue
		}
		if draft.IsRange() {
			if e.IsRange() && draft.Overlaps(e) {
				conflicts = append(conflicts, e)
			}
			continue
		}
		if !e.IsRange() && e.Time == draft.Time {
			conflicts = append(conflicts, e)
		}
	}
	if len(conflicts) > 0 {
		return &ConflictError{Reason: "the slot is already booked", Conflicts: conflicts}
	}
	return nil
}

func normalize(e model.Event) model.Event {
	e.Time = timegrid.Normalize(e.Time)
	e.StartTime = timegrid.Normalize(e.StartTime)
	e.EndTime = timegrid.Normalize(e.EndTime)
	if e.Repeat == "" {
		e.Repeat = model.RepeatNone
	}
	return e
}

func isRecurring(repeat string) bool {
	return repeat != "" && repeat != model.RepeatNone
}

func sameWeekday(a, b string) bool {
	da, errA := model.ParseDate(a)
	db, errB := model.ParseDate(b)
	return errA == nil && errB == nil && da.Weekday() == db.Weekday()
}
