// Package export renders a week's schedule to an Excel workbook. Point
// bookings are summarized into continuous treatment runs using the grid's
// adjacency rule before being written out.
package export

import (
	"fmt"
	"io"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/takanerehabili-creator/Completed-version-sub000/internal/availability"
	"github.com/takanerehabili-creator/Completed-version-sub000/internal/model"
	"github.com/takanerehabili-creator/Completed-version-sub000/internal/timegrid"
	"github.com/takanerehabili-creator/Completed-version-sub000/internal/weekcache"
)

var headerColumns = []string{"日付", "担当", "開始", "終了", "件数", "備考"}

// WeekExporter writes week sheets from the live cache.
type WeekExporter struct {
	cache    *weekcache.Cache
	resolver *availability.Resolver
}

func NewWeekExporter(cache *weekcache.Cache, resolver *availability.Resolver) *WeekExporter {
	return &WeekExporter{cache: cache, resolver: resolver}
}

// Export writes one workbook for weekKey to w: a header row, then one row
// per continuous treatment run per staff member per day.
func (x *WeekExporter) Export(w io.Writer, weekKey string) error {
	dates, err := model.WeekDates(weekKey)
	if err != nil {
		return fmt.Errorf("invalid week key %s: %w", weekKey, err)
	}

	f := excelize.NewFile()
	defer f.Close()
	sheet := weekKey
	f.SetSheetName("Sheet1", sheet)

	for i, col := range headerColumns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, col); err != nil {
			return err
		}
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		start, _ := excelize.CoordinatesToCellName(1, 1)
		end, _ := excelize.CoordinatesToCellName(len(headerColumns), 1)
		_ = f.SetCellStyle(sheet, start, end, style)
	}

	row := 2
	for _, date := range dates {
		note := x.resolver.HolidayName(date)
		byMember := groupByMember(x.cache.EventsOn(date))
		members := make([]string, 0, len(byMember))
		for m := range byMember {
			members = append(members, m)
		}
		sort.Strings(members)

		for _, member := range members {
			points, ranges := splitKinds(byMember[member])
			for _, run := range StackRuns(points, ranges) {
				start, end, ok := runSpan(run)
				if !ok {
					continue
				}
				values := []any{date, member, start, end, len(run), note}
				for i, v := range values {
					cell, err := excelize.CoordinatesToCellName(i+1, row)
					if err != nil {
						return err
					}
					if err := f.SetCellValue(sheet, cell, v); err != nil {
						return err
					}
				}
				row++
			}
		}
	}
	return f.Write(w)
}

// StackRuns groups sorted point events into continuous runs: each next event
// must sit exactly at the previous one's adjacency distance, with no range
// event occupying a slot strictly between them.
func StackRuns(points, ranges []model.Event) [][]model.Event {
	sorted := append([]model.Event(nil), points...)
	sort.Slice(sorted, func(i, j int) bool {
		return timegrid.IndexOf(sorted[i].Time) < timegrid.IndexOf(sorted[j].Time)
	})

	var runs [][]model.Event
	var run []model.Event
	for _, e := range sorted {
		if timegrid.IndexOf(e.Time) < 0 {
			continue
		}
		if len(run) > 0 && !followsImmediately(run[len(run)-1], e, ranges) {
			runs = append(runs, run)
			run = nil
		}
		run = append(run, e)
	}
	if len(run) > 0 {
		runs = append(runs, run)
	}
	return runs
}

// followsImmediately applies the adjacency rule: next's anchor slot equals
// prev's anchor plus prev's adjacency distance, and no range event covers
// any slot strictly between prev's footprint end and next's anchor. The gap
// only exists for visits, whose distance includes a trailing buffer slot.
func followsImmediately(prev, next model.Event, ranges []model.Event) bool {
	prevIdx := timegrid.IndexOf(prev.Time)
	nextIdx := timegrid.IndexOf(next.Time)
	if prevIdx < 0 || nextIdx < 0 || nextIdx != prevIdx+timegrid.AdjacencyGap(prev.Type) {
		return false
	}
	footprintEnd := prevIdx + timegrid.SlotCount(prev.Type)
	for slot := footprintEnd; slot < nextIdx; slot++ {
		for _, r := range ranges {
			start, end, ok := r.SlotSpan()
			if ok && start <= slot && slot < end {
				return false
			}
		}
	}
	return true
}

// runSpan resolves a run's start label and end-exclusive label.
func runSpan(run []model.Event) (start, end string, ok bool) {
	if len(run) == 0 {
		return "", "", false
	}
	last := run[len(run)-1]
	endIdx := timegrid.IndexOf(last.Time) + timegrid.SlotCount(last.Type)
	endLabel, err := timegrid.At(endIdx)
	if err != nil {
		return "", "", false
	}
	return run[0].Time, endLabel, true
}

func groupByMember(events []model.Event) map[string][]model.Event {
	out := make(map[string][]model.Event)
	for _, e := range events {
		out[e.Member] = append(out[e.Member], e)
	}
	return out
}

func splitKinds(events []model.Event) (points, ranges []model.Event) {
	for _, e := range events {
		if e.IsRange() {
			ranges = append(ranges, e)
		} else {
			points = append(points, e)
		}
	}
	return points, ranges
}
