package model

import (
	"time"

	"github.com/takanerehabili-creator/Completed-version-sub000/internal/timegrid"
)

// DateLayout is the wire format for all date fields.
const DateLayout = "2006-01-02"

// Event types. Point types occupy a fixed number of grid slots anchored at
// Time; range types span [StartTime, EndTime) instead.
const (
	Type20Min        = "20min"
	Type40Min        = "40min"
	Type60Min        = "60min"
	TypeWorkInjury20 = "workinjury20"
	TypeWorkInjury40 = "workinjury40"
	TypeAccident     = "accident"
	TypeVisit        = "visit"
	TypeOther        = "other"
	TypeDay          = "day"
	TypeMeeting      = "meeting"
	TypeBreak        = "break"
)

// Repeat kinds. Weekly steps 7 days, biweekly 14, triweekly 21. Daily and
// monthly exist only for legacy records.
const (
	RepeatNone      = "none"
	RepeatWeekly    = "weekly"
	RepeatBiweekly  = "biweekly"
	RepeatTriweekly = "triweekly"
	RepeatDaily     = "daily"
	RepeatMonthly   = "monthly"
)

// Override half-day windows.
const (
	OverrideAll       = "all"
	OverrideMorning   = "morning"
	OverrideAfternoon = "afternoon"
)

// DaySchedule legacy named patterns and the ranges they map to.
const (
	DaySchedulePattern1 = "pattern1" // 9:20 - 14:40
	DaySchedulePattern2 = "pattern2" // 13:00 - 14:40
)

// StaffMember is a roster entry. Workdays holds weekday numbers
// (0=Sunday .. 6=Saturday); the default is Monday through Friday.
type StaffMember struct {
	ID        string `json:"id"`
	Surname   string `json:"surname"`
	GivenName string `json:"givenName,omitempty"`
	Workdays  []int  `json:"workdays"`
}

// DisplayName is the join key used by events, overrides and leave records.
func (s StaffMember) DisplayName() string {
	if s.GivenName == "" {
		return s.Surname
	}
	return s.Surname + " " + s.GivenName
}

// WorksOn reports base-schedule membership for a weekday.
func (s StaffMember) WorksOn(weekday time.Weekday) bool {
	for _, d := range s.Workdays {
		if d == int(weekday) {
			return true
		}
	}
	return false
}

// DefaultWorkdays is Monday through Friday.
func DefaultWorkdays() []int {
	return []int{1, 2, 3, 4, 5}
}

// Event is one scheduled cell: a point event anchored at Time with a
// type-determined footprint, or a range event spanning StartTime..EndTime.
// Member is the staff display name, not an id.
type Event struct {
	ID             string    `json:"id"`
	Member         string    `json:"member"`
	Date           string    `json:"date"`
	Time           string    `json:"time,omitempty"`
	StartTime      string    `json:"startTime,omitempty"`
	EndTime        string    `json:"endTime,omitempty"`
	Type           string    `json:"type"`
	PatientSurname string    `json:"patientSurname,omitempty"`
	PatientGiven   string    `json:"patientGiven,omitempty"`
	IsNewPatient   bool      `json:"isNewPatient,omitempty"`
	Repeat         string    `json:"repeat,omitempty"`
	RepeatParent   string    `json:"repeatParent,omitempty"`
	LastModified   time.Time `json:"lastModified"`
}

// IsRangeType reports whether an event type spans a start/end interval
// instead of a fixed footprint.
func IsRangeType(eventType string) bool {
	switch eventType {
	case TypeDay, TypeMeeting, TypeBreak:
		return true
	}
	return false
}

// IsRange reports whether the event itself is a range event.
func (e Event) IsRange() bool {
	return IsRangeType(e.Type)
}

// SlotSpan returns the half-open slot-index interval the event occupies.
// ok is false when the stored labels do not resolve on the grid.
func (e Event) SlotSpan() (start, end int, ok bool) {
	if e.IsRange() {
		start = timegrid.IndexOf(e.StartTime)
		end = timegrid.EndIndexOf(e.EndTime)
		return start, end, start >= 0 && end >= 0
	}
	start = timegrid.IndexOf(e.Time)
	if start < 0 {
		return 0, 0, false
	}
	return start, start + timegrid.SlotCount(e.Type), true
}

// Overlaps reports half-open slot-interval intersection of two events.
func (e Event) Overlaps(other Event) bool {
	aStart, aEnd, ok := e.SlotSpan()
	if !ok {
		return false
	}
	bStart, bEnd, ok := other.SlotSpan()
	if !ok {
		return false
	}
	return aStart < bEnd && bStart < aEnd
}

// StaffOverride substitutes ReplacementStaff for OriginalStaff on Date.
// TimeSlot is empty or "all" for a full day, "morning" or "afternoon" for a
// half day.
type StaffOverride struct {
	ID               string `json:"id"`
	Date             string `json:"date"`
	OriginalStaff    string `json:"originalStaff"`
	ReplacementStaff string `json:"replacementStaff"`
	TimeSlot         string `json:"timeSlot,omitempty"`
}

// IsFullDay reports whether the override covers the whole date.
func (o StaffOverride) IsFullDay() bool {
	return o.TimeSlot == "" || o.TimeSlot == OverrideAll
}

// Covers reports whether a half-day override's window contains the given
// minute of day. Full-day overrides cover every minute.
func (o StaffOverride) Covers(minute int) bool {
	switch o.TimeSlot {
	case OverrideMorning:
		return minute >= timegrid.MorningStartMin && minute <= timegrid.MorningEndMin
	case OverrideAfternoon:
		return minute >= timegrid.AfternoonStartMin && minute <= timegrid.AfternoonEndMin
	}
	return true
}

// StaffLeave blocks booking for one staff member inside a half-open
// [StartTime, EndTime) window on Date.
type StaffLeave struct {
	ID        string `json:"id"`
	StaffName string `json:"staffName"`
	Date      string `json:"date"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

// Contains reports whether a minute of day falls inside the leave window.
func (l StaffLeave) Contains(minute int) bool {
	start := timegrid.MinuteOf(l.StartTime)
	end := timegrid.MinuteOf(l.EndTime)
	return start >= 0 && end >= 0 && start <= minute && minute < end
}

// DaySchedule marks recurring blocked slots for a staff member on a set of
// weekdays, either via a legacy named pattern or explicit start/end labels.
type DaySchedule struct {
	ID        string `json:"id"`
	StaffName string `json:"staffName"`
	Days      []int  `json:"days"`
	Pattern   string `json:"pattern,omitempty"`
	StartTime string `json:"startTime,omitempty"`
	EndTime   string `json:"endTime,omitempty"`
}

// Range resolves the blocked slot range, mapping legacy patterns to their
// fixed label pairs.
func (d DaySchedule) Range() (string, string) {
	switch d.Pattern {
	case DaySchedulePattern1:
		return "9:20", "14:40"
	case DaySchedulePattern2:
		return "13:00", "14:40"
	}
	return timegrid.Normalize(d.StartTime), timegrid.Normalize(d.EndTime)
}

// AppliesOn reports whether the block recurs on the given weekday.
func (d DaySchedule) AppliesOn(weekday time.Weekday) bool {
	for _, day := range d.Days {
		if day == int(weekday) {
			return true
		}
	}
	return false
}

// Holiday blocks all booking for every staff member on Date.
type Holiday struct {
	ID   string `json:"id"`
	Date string `json:"date"`
	Name string `json:"name"`
}

// WeekKeyFor returns the ISO date of the Monday of d's week. Weeks start on
// Monday; a Sunday maps to the previous Monday.
func WeekKeyFor(d time.Time) string {
	diff := 1 - int(d.Weekday())
	if d.Weekday() == time.Sunday {
		diff = -6
	}
	monday := d.AddDate(0, 0, diff)
	return monday.Format(DateLayout)
}

// WeekDates lists the seven dates of the week identified by weekKey.
func WeekDates(weekKey string) ([]string, error) {
	monday, err := time.Parse(DateLayout, weekKey)
	if err != nil {
		return nil, err
	}
	dates := make([]string, 7)
	for i := 0; i < 7; i++ {
		dates[i] = monday.AddDate(0, 0, i).Format(DateLayout)
	}
	return dates, nil
}

// ParseDate parses a wire-format date.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}
