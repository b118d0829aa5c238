package timegrid

import (
	"fmt"
	"strconv"
	"strings"
)

// SlotMinutes is the granularity of the daily grid.
const SlotMinutes = 20

// EndBoundary is a valid end-exclusive label but not a bookable slot.
const EndBoundary = "18:00"

// Half-day windows in minutes of day, bounds inclusive.
const (
	MorningStartMin   = 540 // 9:00
	MorningEndMin     = 760 // 12:40
	AfternoonStartMin = 780 // 13:00
	AfternoonEndMin   = 1080 // 18:00
)

// slots is the fixed ordered slot sequence for a business day,
// 9:00 through 17:40 at 20-minute steps. Immutable for the process lifetime.
var slots = buildSlots()

var slotIndex = func() map[string]int {
	m := make(map[string]int, len(slots))
	for i, s := range slots {
		m[s] = i
	}
	return m
}()

var lunchSlots = map[string]bool{
	"12:20": true,
	"12:40": true,
	"13:00": true,
	"13:20": true,
	EndBoundary: true,
}

func buildSlots() []string {
	var out []string
	for m := MorningStartMin; m < AfternoonEndMin; m += SlotMinutes {
		out = append(out, formatMinutes(m))
	}
	return out
}

// Slots returns the fixed slot sequence. Callers must not modify it.
func Slots() []string {
	return slots
}

// Count returns the number of bookable slots in a day.
func Count() int {
	return len(slots)
}

// Normalize strips a zero-padded hour ("09:20" -> "9:20"). Legacy records
// store both spellings for the same slot.
func Normalize(label string) string {
	if len(label) == 5 && label[0] == '0' {
		return label[1:]
	}
	return label
}

// IndexOf returns the slot index of label, or -1 if label is not a bookable
// slot. The 18:00 boundary is deliberately not found here; callers computing
// an end-exclusive index use EndIndexOf instead.
func IndexOf(label string) int {
	if i, ok := slotIndex[Normalize(label)]; ok {
		return i
	}
	return -1
}

// EndIndexOf resolves label as an end-exclusive bound: the 18:00 boundary
// maps to len(slots), every bookable slot maps to its index, anything else
// to -1.
func EndIndexOf(label string) int {
	if Normalize(label) == EndBoundary {
		return len(slots)
	}
	return IndexOf(label)
}

// At returns the slot label at index i, or the 18:00 boundary for i == Count().
func At(i int) (string, error) {
	if i >= 0 && i < len(slots) {
		return slots[i], nil
	}
	if i == len(slots) {
		return EndBoundary, nil
	}
	return "", fmt.Errorf("slot index %d out of range", i)
}

// MinuteOf converts a slot label to minutes of day, -1 for an unparseable label.
func MinuteOf(label string) int {
	parts := strings.SplitN(Normalize(label), ":", 2)
	if len(parts) != 2 {
		return -1
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return -1
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return -1
	}
	return h*60 + m
}

// AddMinutes shifts a label by n minutes. The result is not required to be a
// grid slot (e.g. 17:40 + 20 = 18:00).
func AddMinutes(label string, n int) string {
	m := MinuteOf(label)
	if m < 0 {
		return label
	}
	return formatMinutes(m + n)
}

// IsLunch reports whether a slot belongs to the fixed lunch window.
func IsLunch(label string) bool {
	return lunchSlots[Normalize(label)]
}

// SlotCount returns the footprint of a point event type in grid slots.
func SlotCount(eventType string) int {
	switch eventType {
	case "40min", "workinjury40":
		return 2
	case "60min", "visit":
		return 3
	default:
		return 1
	}
}

// AdjacencyGap returns the slot distance at which the next event of the given
// type counts as immediately following: footprint plus, for visits, one
// mandatory trailing buffer slot.
func AdjacencyGap(eventType string) int {
	switch eventType {
	case "visit":
		return 4
	case "60min":
		return 3
	case "40min", "workinjury40":
		return 2
	default:
		return 1
	}
}

// InMorning reports whether a slot falls inside the morning half-day window.
func InMorning(label string) bool {
	m := MinuteOf(label)
	return m >= MorningStartMin && m <= MorningEndMin
}

// InAfternoon reports whether a slot falls inside the afternoon half-day window.
func InAfternoon(label string) bool {
	m := MinuteOf(label)
	return m >= AfternoonStartMin && m <= AfternoonEndMin
}

func formatMinutes(m int) string {
	return fmt.Sprintf("%d:%02d", m/60, m%60)
}
