package model

import (
	"time"
)

// Collection names in the document store.
const (
	CollectionEvents       = "events"
	CollectionStaff        = "staff"
	CollectionOverrides    = "staffOverrides"
	CollectionLeaves       = "staffLeaves"
	CollectionDaySchedules = "daySchedules"
	CollectionHolidays     = "holidays"
)

// Codecs between entities and the store's document field maps. The document
// id lives outside the field map, mirroring the store contract.

func (e Event) Fields() map[string]any {
	f := map[string]any{
		"member": e.Member,
		"date":   e.Date,
		"type":   e.Type,
	}
	if e.Time != "" {
		f["time"] = e.Time
	}
	if e.StartTime != "" {
		f["startTime"] = e.StartTime
	}
	if e.EndTime != "" {
		f["endTime"] = e.EndTime
	}
	if e.PatientSurname != "" {
		f["patientSurname"] = e.PatientSurname
	}
	if e.PatientGiven != "" {
		f["patientGiven"] = e.PatientGiven
	}
	if e.IsNewPatient {
		f["isNewPatient"] = true
	}
	if e.Repeat != "" {
		f["repeat"] = e.Repeat
	}
	if e.RepeatParent != "" {
		f["repeatParent"] = e.RepeatParent
	}
	if !e.LastModified.IsZero() {
		f["lastModified"] = e.LastModified.UTC().Format(time.RFC3339Nano)
	}
	return f
}

func EventFromFields(id string, f map[string]any) Event {
	e := Event{
		ID:             id,
		Member:         str(f, "member"),
		Date:           str(f, "date"),
		Time:           str(f, "time"),
		StartTime:      str(f, "startTime"),
		EndTime:        str(f, "endTime"),
		Type:           str(f, "type"),
		PatientSurname: str(f, "patientSurname"),
		PatientGiven:   str(f, "patientGiven"),
		Repeat:         str(f, "repeat"),
		RepeatParent:   str(f, "repeatParent"),
	}
	if v, ok := f["isNewPatient"].(bool); ok {
		e.IsNewPatient = v
	}
	if ts := str(f, "lastModified"); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.LastModified = t
		}
	}
	return e
}

func (s StaffMember) Fields() map[string]any {
	return map[string]any{
		"surname":   s.Surname,
		"givenName": s.GivenName,
		"workdays":  intsToAny(s.Workdays),
	}
}

func StaffFromFields(id string, f map[string]any) StaffMember {
	m := StaffMember{
		ID:        id,
		Surname:   str(f, "surname"),
		GivenName: str(f, "givenName"),
		Workdays:  ints(f, "workdays"),
	}
	if m.Workdays == nil {
		m.Workdays = DefaultWorkdays()
	}
	return m
}

func (o StaffOverride) Fields() map[string]any {
	f := map[string]any{
		"date":             o.Date,
		"originalStaff":    o.OriginalStaff,
		"replacementStaff": o.ReplacementStaff,
	}
	if o.TimeSlot != "" {
		f["timeSlot"] = o.TimeSlot
	}
	return f
}

func OverrideFromFields(id string, f map[string]any) StaffOverride {
	return StaffOverride{
		ID:               id,
		Date:             str(f, "date"),
		OriginalStaff:    str(f, "originalStaff"),
		ReplacementStaff: str(f, "replacementStaff"),
		TimeSlot:         str(f, "timeSlot"),
	}
}

func (l StaffLeave) Fields() map[string]any {
	return map[string]any{
		"staffName": l.StaffName,
		"date":      l.Date,
		"startTime": l.StartTime,
		"endTime":   l.EndTime,
	}
}

func LeaveFromFields(id string, f map[string]any) StaffLeave {
	return StaffLeave{
		ID:        id,
		StaffName: str(f, "staffName"),
		Date:      str(f, "date"),
		StartTime: str(f, "startTime"),
		EndTime:   str(f, "endTime"),
	}
}

func (d DaySchedule) Fields() map[string]any {
	f := map[string]any{
		"staffName": d.StaffName,
		"days":      intsToAny(d.Days),
	}
	if d.Pattern != "" {
		f["pattern"] = d.Pattern
	}
	if d.StartTime != "" {
		f["startTime"] = d.StartTime
	}
	if d.EndTime != "" {
		f["endTime"] = d.EndTime
	}
	return f
}

func DayScheduleFromFields(id string, f map[string]any) DaySchedule {
	return DaySchedule{
		ID:        id,
		StaffName: str(f, "staffName"),
		Days:      ints(f, "days"),
		Pattern:   str(f, "pattern"),
		StartTime: str(f, "startTime"),
		EndTime:   str(f, "endTime"),
	}
}

func (h Holiday) Fields() map[string]any {
	return map[string]any{"date": h.Date, "name": h.Name}
}

func HolidayFromFields(id string, f map[string]any) Holiday {
	return Holiday{ID: id, Date: str(f, "date"), Name: str(f, "name")}
}

func str(f map[string]any, key string) string {
	if v, ok := f[key].(string); ok {
		return v
	}
	return ""
}

// ints tolerates both []int (in-process writes) and []any of json numbers
// (documents round-tripped through the sqlite binding).
func ints(f map[string]any, key string) []int {
	switch v := f[key].(type) {
	case []int:
		return append([]int(nil), v...)
	case []any:
		out := make([]int, 0, len(v))
		for _, e := range v {
			switch n := e.(type) {
			case int:
				out = append(out, n)
			case float64:
				out = append(out, int(n))
			}
		}
		return out
	}
	return nil
}

func intsToAny(v []int) []any {
	out := make([]any, len(v))
	for i, n := range v {
		out[i] = n
	}
	return out
}
