package opt

import (
	"sort"
	"time"
)

// PriorityUrgent is the weight given to stops with an urgent task.
const PriorityUrgent = 10

// Analysis is the per-stop result of constraint analysis.
type Analysis struct {
	Windows    map[string]*TimeWindow
	Priorities map[string]int
	// Conflicts lists stops whose task windows do not intersect.
	Conflicts []string
}

// Analyzer derives time windows and priorities from tasks.
type Analyzer struct {
	// DayEndHour is the local hour the operating day ends; 0 means midnight.
	DayEndHour int
}

// EndOfDay returns the end of the operating day containing t. It is always
// after t.
func (a Analyzer) EndOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	h := a.DayEndHour
	if h <= 0 || h > 24 {
		h = 24
	}
	end := time.Date(y, m, d, h, 0, 0, 0, t.Location())
	if !end.After(t) {
		// t is past the operating day; close at midnight instead
		end = time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
	}
	return end
}

// Analyze builds a window and a priority for every stop. Unconstrained stops
// get [now, end of day]. Several tasks on one stop intersect, tightest wins;
// an empty intersection falls back to the default window.
func (a Analyzer) Analyze(stops []Stop, tasks []Task, now time.Time) Analysis {
	out := Analysis{
		Windows:    make(map[string]*TimeWindow, len(stops)),
		Priorities: make(map[string]int, len(stops)),
	}
	byStop := make(map[string][]Task, len(stops))
	for _, t := range tasks {
		byStop[t.StopID] = append(byStop[t.StopID], t)
	}
	dayEnd := a.EndOfDay(now)
	for _, s := range stops {
		var notBefore, notAfter, preferred *time.Time
		prio := 0
		for _, t := range byStop[s.ID] {
			if t.NotBefore != nil && (notBefore == nil || t.NotBefore.After(*notBefore)) {
				v := *t.NotBefore
				notBefore = &v
			}
			if t.NotAfter != nil && (notAfter == nil || t.NotAfter.Before(*notAfter)) {
				v := *t.NotAfter
				notAfter = &v
			}
			if t.Preferred != nil && preferred == nil {
				v := *t.Preferred
				preferred = &v
			}
			if t.Urgent && prio < PriorityUrgent {
				prio = PriorityUrgent
			}
			if t.Priority > prio {
				prio = t.Priority
			}
		}
		out.Priorities[s.ID] = prio

		w := &TimeWindow{EarliestStart: now, LatestEnd: dayEnd, PreferredTime: preferred}
		if notBefore != nil {
			w.EarliestStart = *notBefore
			if notAfter == nil && notBefore.After(dayEnd) {
				w.LatestEnd = a.EndOfDay(*notBefore)
			}
		}
		if notAfter != nil {
			w.LatestEnd = *notAfter
			if notBefore == nil && notAfter.Before(now) {
				// deadline already passed; keep it so lateness is scored
				w.EarliestStart = *notAfter
			}
		}
		if notBefore != nil && notAfter != nil && notBefore.After(*notAfter) {
			out.Conflicts = append(out.Conflicts, s.ID)
			w = &TimeWindow{EarliestStart: now, LatestEnd: dayEnd, PreferredTime: preferred}
		}
		out.Windows[s.ID] = w
	}
	sort.Strings(out.Conflicts)
	return out
}
