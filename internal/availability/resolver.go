// Package availability answers "who is working this slot": base workday
// rules overlaid with full-day and half-day substitutions, leave windows and
// recurring day-schedule blocks.
package availability

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/takanerehabili-creator/Completed-version-sub000/internal/model"
	"github.com/takanerehabili-creator/Completed-version-sub000/internal/timegrid"
)

const rosterMemoSize = 64

// Resolver holds the current reference data and derives per-slot staffing.
// Reference data arrives as full replacements from live snapshots.
type Resolver struct {
	mu           sync.RWMutex
	staff        []model.StaffMember
	overrides    map[string][]model.StaffOverride
	leaves       map[string][]model.StaffLeave
	daySchedules []model.DaySchedule
	holidays     map[string]model.Holiday

	// rosterMemo caches the full-day-resolved roster per date. Any reference
	// data replacement purges it.
	rosterMemo *lru.Cache[string, []model.StaffMember]
}

// NewResolver creates an empty resolver.
func NewResolver() *Resolver {
	memo, _ := lru.New[string, []model.StaffMember](rosterMemoSize)
	return &Resolver{
		overrides:  make(map[string][]model.StaffOverride),
		leaves:     make(map[string][]model.StaffLeave),
		holidays:   make(map[string]model.Holiday),
		rosterMemo: memo,
	}
}

// SetStaff replaces the roster, preserving the given order.
func (r *Resolver) SetStaff(staff []model.StaffMember) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.staff = append([]model.StaffMember(nil), staff...)
	r.rosterMemo.Purge()
}

// SetOverrides replaces all substitution records.
func (r *Resolver) SetOverrides(overrides []model.StaffOverride) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides = make(map[string][]model.StaffOverride)
	for _, o := range overrides {
		r.overrides[o.Date] = append(r.overrides[o.Date], o)
	}
	r.rosterMemo.Purge()
}

// SetLeaves replaces all leave records.
func (r *Resolver) SetLeaves(leaves []model.StaffLeave) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaves = make(map[string][]model.StaffLeave)
	for _, l := range leaves {
		r.leaves[l.Date] = append(r.leaves[l.Date], l)
	}
}

// SetDaySchedules replaces all recurring block records.
func (r *Resolver) SetDaySchedules(schedules []model.DaySchedule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.daySchedules = append([]model.DaySchedule(nil), schedules...)
}

// SetHolidays replaces all holidays.
func (r *Resolver) SetHolidays(holidays []model.Holiday) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.holidays = make(map[string]model.Holiday)
	for _, h := range holidays {
		r.holidays[h.Date] = h
	}
}

// Staff returns the current roster in stored order.
func (r *Resolver) Staff() []model.StaffMember {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]model.StaffMember(nil), r.staff...)
}

// IsHoliday reports whether date is a registered holiday.
func (r *Resolver) IsHoliday(date string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.holidays[date]
	return ok
}

// HolidayName returns the holiday name for date, empty if none.
func (r *Resolver) HolidayName(date string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.holidays[date].Name
}

// StaffPresentOn resolves the roster scheduled on date: workday members in
// roster order, with full-day substitutions applied in listed order. The
// result is never re-sorted so column order stays stable across renders.
func (r *Resolver) StaffPresentOn(date string) []model.StaffMember {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.presentOnLocked(date)
}

func (r *Resolver) presentOnLocked(date string) []model.StaffMember {
	if cached, ok := r.rosterMemo.Get(date); ok {
		return append([]model.StaffMember(nil), cached...)
	}

	day, err := model.ParseDate(date)
	if err != nil {
		return nil
	}
	weekday := day.Weekday()

	var present []model.StaffMember
	for _, m := range r.staff {
		if m.WorksOn(weekday) {
			present = append(present, m)
		}
	}

	for _, o := range r.overrides[date] {
		if !o.IsFullDay() {
			continue
		}
		present = r.substitute(present, o.OriginalStaff, o.ReplacementStaff)
	}

	r.rosterMemo.Add(date, append([]model.StaffMember(nil), present...))
	return present
}

// StaffPresentAt narrows StaffPresentOn by the half-day substitutions whose
// window contains the slot.
func (r *Resolver) StaffPresentAt(date, slot string) []model.StaffMember {
	r.mu.RLock()
	defer r.mu.RUnlock()

	present := r.presentOnLocked(date)
	minute := timegrid.MinuteOf(slot)
	for _, o := range r.overrides[date] {
		if o.IsFullDay() || !o.Covers(minute) {
			continue
		}
		present = r.substitute(present, o.OriginalStaff, o.ReplacementStaff)
	}
	return present
}

// substitute removes original and appends replacement unless already present.
func (r *Resolver) substitute(present []model.StaffMember, original, replacement string) []model.StaffMember {
	out := present[:0:len(present)]
	for _, m := range present {
		if m.DisplayName() != original {
			out = append(out, m)
		}
	}
	for _, m := range out {
		if m.DisplayName() == replacement {
			return out
		}
	}
	return append(out, r.memberByName(replacement))
}

func (r *Resolver) memberByName(name string) model.StaffMember {
	for _, m := range r.staff {
		if m.DisplayName() == name {
			return m
		}
	}
	// Legacy records may name a member that was since deleted.
	return model.StaffMember{Surname: name, Workdays: model.DefaultWorkdays()}
}

// IsActiveAt resolves presence for one named member at date/slot. Precedence:
// full-day override, then half-day override for the covered window, then the
// base workday rule.
func (r *Resolver) IsActiveAt(memberName, date, slot string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	minute := timegrid.MinuteOf(slot)
	for _, o := range r.overrides[date] {
		if !o.IsFullDay() {
			continue
		}
		if o.OriginalStaff == memberName {
			return false
		}
		if o.ReplacementStaff == memberName {
			return true
		}
	}
	for _, o := range r.overrides[date] {
		if o.IsFullDay() {
			continue
		}
		if o.ReplacementStaff == memberName {
			return o.Covers(minute)
		}
		if o.OriginalStaff == memberName {
			if o.Covers(minute) {
				return false
			}
			return r.baseActive(memberName, date)
		}
	}
	return r.baseActive(memberName, date)
}

func (r *Resolver) baseActive(memberName, date string) bool {
	day, err := model.ParseDate(date)
	if err != nil {
		return false
	}
	for _, m := range r.staff {
		if m.DisplayName() == memberName {
			return m.WorksOn(day.Weekday())
		}
	}
	return false
}

// IsOnLeave reports whether a leave window of memberName on date contains the
// slot (half-open interval).
func (r *Resolver) IsOnLeave(memberName, date, slot string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	minute := timegrid.MinuteOf(slot)
	for _, l := range r.leaves[date] {
		if l.StaffName == memberName && l.Contains(minute) {
			return true
		}
	}
	return false
}

// IsDayScheduleBlock reports whether a recurring day-schedule block of
// memberName covers the slot on date (inclusive slot-index interval).
func (r *Resolver) IsDayScheduleBlock(memberName, date, slot string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	day, err := model.ParseDate(date)
	if err != nil {
		return false
	}
	idx := timegrid.IndexOf(slot)
	if idx < 0 {
		return false
	}
	for _, d := range r.daySchedules {
		if d.StaffName != memberName || !d.AppliesOn(day.Weekday()) {
			continue
		}
		start, end := d.Range()
		startIdx := timegrid.IndexOf(start)
		endIdx := timegrid.EndIndexOf(end)
		if startIdx < 0 || endIdx < 0 {
			continue
		}
		if idx >= startIdx && idx <= endIdx {
			return true
		}
	}
	return false
}

// LeavesOn returns the leave records for a member on date.
func (r *Resolver) LeavesOn(memberName, date string) []model.StaffLeave {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []model.StaffLeave
	for _, l := range r.leaves[date] {
		if l.StaffName == memberName {
			out = append(out, l)
		}
	}
	return out
}
