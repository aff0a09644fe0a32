package opt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(h, m int) time.Time { return time.Date(2024, 5, 6, h, m, 0, 0, time.UTC) }

func ptr(t time.Time) *time.Time { return &t }

func TestAnalyzeDefaultWindow(t *testing.T) {
	now := at(8, 0)
	an := Analyzer{}.Analyze([]Stop{{ID: "s1"}}, nil, now)
	w := an.Windows["s1"]
	require.NotNil(t, w)
	assert.Equal(t, now, w.EarliestStart)
	assert.Equal(t, time.Date(2024, 5, 7, 0, 0, 0, 0, time.UTC), w.LatestEnd)
	assert.Zero(t, an.Priorities["s1"])

	an = Analyzer{DayEndHour: 18}.Analyze([]Stop{{ID: "s1"}}, nil, now)
	assert.Equal(t, at(18, 0), an.Windows["s1"].LatestEnd)
}

func TestAnalyzeIntersectsTaskWindows(t *testing.T) {
	now := at(8, 0)
	tasks := []Task{
		{ID: "t1", StopID: "s1", NotBefore: ptr(at(9, 0)), NotAfter: ptr(at(15, 0))},
		{ID: "t2", StopID: "s1", NotBefore: ptr(at(10, 0))},
		{ID: "t3", StopID: "s1", NotAfter: ptr(at(12, 0)), Urgent: true},
	}
	an := Analyzer{}.Analyze([]Stop{{ID: "s1"}, {ID: "s2"}}, tasks, now)
	w := an.Windows["s1"]
	assert.Equal(t, at(10, 0), w.EarliestStart)
	assert.Equal(t, at(12, 0), w.LatestEnd)
	assert.Equal(t, PriorityUrgent, an.Priorities["s1"])
	assert.Zero(t, an.Priorities["s2"])
	assert.Empty(t, an.Conflicts)
}

func TestAnalyzeEmptyIntersectionFallsBack(t *testing.T) {
	now := at(8, 0)
	tasks := []Task{
		{ID: "t1", StopID: "s1", NotBefore: ptr(at(14, 0))},
		{ID: "t2", StopID: "s1", NotAfter: ptr(at(11, 0))},
	}
	an := Analyzer{DayEndHour: 20}.Analyze([]Stop{{ID: "s1"}}, tasks, now)
	assert.Equal(t, []string{"s1"}, an.Conflicts)
	assert.Equal(t, now, an.Windows["s1"].EarliestStart)
	assert.Equal(t, at(20, 0), an.Windows["s1"].LatestEnd)
}

func TestAnalyzeNotBeforeAfterDayEnd(t *testing.T) {
	now := at(8, 0)
	tasks := []Task{{ID: "t1", StopID: "s1", NotBefore: ptr(at(21, 0)), Priority: 3}}
	an := Analyzer{DayEndHour: 18}.Analyze([]Stop{{ID: "s1"}}, tasks, now)
	w := an.Windows["s1"]
	assert.Equal(t, at(21, 0), w.EarliestStart)
	assert.True(t, w.LatestEnd.After(w.EarliestStart))
	assert.Equal(t, 3, an.Priorities["s1"])
}
