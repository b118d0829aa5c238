package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWeekKeyFor(t *testing.T) {
	// 2025-01-06 is a Monday.
	monday := time.Date(2025, 1, 6, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, "2025-01-06", WeekKeyFor(monday))

	// Mid-week maps back to the same Monday.
	thursday := monday.AddDate(0, 0, 3)
	assert.Equal(t, "2025-01-06", WeekKeyFor(thursday))

	// Sunday belongs to the previous Monday, not the next one.
	sunday := monday.AddDate(0, 0, 6)
	assert.Equal(t, "2025-01-06", WeekKeyFor(sunday))
}

func TestWeekKeyForAlwaysMondayAndIdempotent(t *testing.T) {
	start := time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 120; i++ {
		d := start.AddDate(0, 0, i)
		key := WeekKeyFor(d)
		parsed, err := ParseDate(key)
		assert.NoError(t, err)
		assert.Equal(t, time.Monday, parsed.Weekday(), key)
		assert.Equal(t, key, WeekKeyFor(parsed))
	}
}

func TestWeekDates(t *testing.T) {
	dates, err := WeekDates("2025-01-06")
	assert.NoError(t, err)
	assert.Len(t, dates, 7)
	assert.Equal(t, "2025-01-06", dates[0])
	assert.Equal(t, "2025-01-12", dates[6])
}

func TestEventSlotSpan(t *testing.T) {
	point := Event{Member: "田中", Date: "2025-01-06", Time: "10:00", Type: Type60Min}
	start, end, ok := point.SlotSpan()
	assert.True(t, ok)
	assert.Equal(t, 3, start)
	assert.Equal(t, 6, end)

	ranged := Event{Member: "田中", Date: "2025-01-06", StartTime: "13:00", EndTime: "18:00", Type: TypeMeeting}
	start, end, ok = ranged.SlotSpan()
	assert.True(t, ok)
	assert.Equal(t, 12, start)
	assert.Equal(t, 27, end)

	bad := Event{Time: "18:00", Type: Type20Min}
	_, _, ok = bad.SlotSpan()
	assert.False(t, ok)
}

func TestEventOverlaps(t *testing.T) {
	a := Event{Time: "10:00", Type: Type60Min}             // slots 3..6
	b := Event{Time: "10:40", Type: Type20Min}             // slot 5
	c := Event{Time: "11:00", Type: Type20Min}             // slot 6
	d := Event{StartTime: "10:20", EndTime: "11:00", Type: TypeMeeting} // 4..6

	assert.True(t, a.Overlaps(b))
	assert.False(t, a.Overlaps(c))
	assert.True(t, a.Overlaps(d))
	assert.False(t, c.Overlaps(d))
}

func TestOverrideCovers(t *testing.T) {
	morning := StaffOverride{TimeSlot: OverrideMorning}
	assert.True(t, morning.Covers(540))
	assert.True(t, morning.Covers(760))
	assert.False(t, morning.Covers(780))

	afternoon := StaffOverride{TimeSlot: OverrideAfternoon}
	assert.False(t, afternoon.Covers(760))
	assert.True(t, afternoon.Covers(780))
	assert.True(t, afternoon.Covers(1080))

	full := StaffOverride{}
	assert.True(t, full.IsFullDay())
	assert.True(t, full.Covers(600))
}

func TestLeaveContains(t *testing.T) {
	l := StaffLeave{StartTime: "10:00", EndTime: "12:00"}
	assert.True(t, l.Contains(600))
	assert.True(t, l.Contains(719))
	assert.False(t, l.Contains(720)) // end-exclusive
	assert.False(t, l.Contains(599))
}

func TestDayScheduleRange(t *testing.T) {
	p1 := DaySchedule{Pattern: DaySchedulePattern1}
	s, e := p1.Range()
	assert.Equal(t, "9:20", s)
	assert.Equal(t, "14:40", e)

	p2 := DaySchedule{Pattern: DaySchedulePattern2}
	s, e = p2.Range()
	assert.Equal(t, "13:00", s)
	assert.Equal(t, "14:40", e)

	explicit := DaySchedule{StartTime: "09:20", EndTime: "14:40"}
	s, e = explicit.Range()
	assert.Equal(t, "9:20", s) // zero-padded hour normalized
	assert.Equal(t, "14:40", e)
}

func TestEventCodecRoundTrip(t *testing.T) {
	e := Event{
		ID:             "ev1",
		Member:         "佐藤",
		Date:           "2025-02-03",
		Time:           "10:00",
		Type:           Type40Min,
		PatientSurname: "山田",
		IsNewPatient:   true,
		Repeat:         RepeatWeekly,
		RepeatParent:   "root1",
		LastModified:   time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC),
	}
	got := EventFromFields("ev1", e.Fields())
	assert.Equal(t, e, got)
}

func TestStaffFromFieldsDefaultsWorkdays(t *testing.T) {
	m := StaffFromFields("s1", map[string]any{"surname": "鈴木"})
	assert.Equal(t, DefaultWorkdays(), m.Workdays)
	assert.Equal(t, "鈴木", m.DisplayName())

	withGiven := StaffMember{Surname: "鈴木", GivenName: "一郎"}
	assert.Equal(t, "鈴木 一郎", withGiven.DisplayName())
}
