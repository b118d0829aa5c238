package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/takanerehabili-creator/Completed-version-sub000/internal/availability"
	"github.com/takanerehabili-creator/Completed-version-sub000/internal/model"
	"github.com/takanerehabili-creator/Completed-version-sub000/internal/weekcache"
)

func point(id, member, date, slot, eventType string) model.Event {
	return model.Event{ID: id, Member: member, Date: date, Time: slot, Type: eventType}
}

func TestStackRunsAdjacency(t *testing.T) {
	points := []model.Event{
		point("a", "田中", "2025-01-06", "9:00", model.Type20Min),
		point("b", "田中", "2025-01-06", "9:20", model.Type40Min),
		point("c", "田中", "2025-01-06", "10:00", model.Type20Min),
		// One free slot after c breaks the run.
		point("d", "田中", "2025-01-06", "11:00", model.Type20Min),
	}
	runs := StackRuns(points, nil)
	require.Len(t, runs, 2)
	assert.Len(t, runs[0], 3)
	assert.Len(t, runs[1], 1)

	start, end, ok := runSpan(runs[0])
	require.True(t, ok)
	assert.Equal(t, "9:00", start)
	assert.Equal(t, "10:20", end)
}

func TestStackRunsVisitBuffer(t *testing.T) {
	// A visit occupies three slots plus one mandatory buffer slot: the next
	// booking four slots later still counts as continuous.
	points := []model.Event{
		point("a", "田中", "2025-01-06", "9:00", model.TypeVisit),
		point("b", "田中", "2025-01-06", "10:20", model.Type20Min),
	}
	runs := StackRuns(points, nil)
	require.Len(t, runs, 1)
	assert.Len(t, runs[0], 2)

	// A meeting sitting in the buffer slot severs the run.
	blocker := model.Event{ID: "m", Member: "田中", Date: "2025-01-06",
		StartTime: "10:00", EndTime: "10:20", Type: model.TypeMeeting}
	runs = StackRuns(points, []model.Event{blocker})
	assert.Len(t, runs, 2)
}

func TestStackRunsUnsortedInput(t *testing.T) {
	points := []model.Event{
		point("b", "田中", "2025-01-06", "9:20", model.Type20Min),
		point("a", "田中", "2025-01-06", "9:00", model.Type20Min),
	}
	runs := StackRuns(points, nil)
	require.Len(t, runs, 1)
	assert.Equal(t, "a", runs[0][0].ID)
}

func TestExportWritesWorkbook(t *testing.T) {
	cache := weekcache.New()
	resolver := availability.NewResolver()
	resolver.SetHolidays([]model.Holiday{{ID: "h", Date: "2025-01-08", Name: "振替休日"}})
	cache.ApplySnapshot("2025-01-06", []model.Event{
		point("a", "田中", "2025-01-06", "9:00", model.Type20Min),
		point("b", "田中", "2025-01-06", "9:20", model.Type20Min),
		point("c", "佐藤", "2025-01-07", "14:00", model.Type60Min),
	})

	var buf bytes.Buffer
	x := NewWeekExporter(cache, resolver)
	require.NoError(t, x.Export(&buf, "2025-01-06"))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("2025-01-06")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "日付", rows[0][0])
	assert.Equal(t, []string{"2025-01-06", "田中", "9:00", "9:40", "2"}, rows[1][:5])
	assert.Equal(t, []string{"2025-01-07", "佐藤", "14:00", "15:00", "1"}, rows[2][:5])
}

func TestExportRejectsBadWeekKey(t *testing.T) {
	x := NewWeekExporter(weekcache.New(), availability.NewResolver())
	var buf bytes.Buffer
	assert.Error(t, x.Export(&buf, "not-a-week"))
}
