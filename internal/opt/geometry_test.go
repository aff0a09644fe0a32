package opt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistanceOneDegreeOfLatitude(t *testing.T) {
	d := Distance(Coordinate{0, 0}, Coordinate{1, 0})
	assert.InDelta(t, 111195, d, 5)
	assert.Zero(t, Distance(Coordinate{52.5, 13.4}, Coordinate{52.5, 13.4}))
	assert.InDelta(t, d, Distance(Coordinate{1, 0}, Coordinate{0, 0}), 1e-9)
}

func TestSeverityFactors(t *testing.T) {
	cases := map[Severity]float64{
		SeverityLight:    0.9,
		SeverityNormal:   1.0,
		SeverityModerate: 1.3,
		SeverityHeavy:    1.8,
		SeveritySevere:   2.5,
		Severity(""):     1.0,
	}
	for s, want := range cases {
		assert.Equal(t, want, s.Factor(), "severity %q", s)
	}
	assert.Less(t, SeverityLight.Rank(), SeveritySevere.Rank())
}

func TestTravelTimeScalesWithTraffic(t *testing.T) {
	a, b := Coordinate{0, 0}, Coordinate{0, 0.1}
	normal := TravelTime(a, b, SeverityNormal, 50)
	heavy := TravelTime(a, b, SeverityHeavy, 50)
	require.Greater(t, normal, time.Duration(0))
	assert.InDelta(t, 1.8, float64(heavy)/float64(normal), 1e-6)
	// 11.1 km at 50 km/h is a little over 13 minutes
	assert.InDelta(t, 13.3, normal.Minutes(), 0.2)
}

func TestClassifySeverity(t *testing.T) {
	assert.Equal(t, SeverityLight, ClassifySeverity(0.8))
	assert.Equal(t, SeverityNormal, ClassifySeverity(1.0))
	assert.Equal(t, SeverityModerate, ClassifySeverity(1.3))
	assert.Equal(t, SeverityHeavy, ClassifySeverity(1.8))
	assert.Equal(t, SeveritySevere, ClassifySeverity(3))
	assert.Equal(t, SeverityNormal, ClassifySeverity(0))
}

func TestTrafficSnapshotLookup(t *testing.T) {
	snap := NewTrafficSnapshot(time.Now(), map[string]Leg{
		PairKey("a", "b"): {Distance: 100, Duration: time.Minute, Severity: SeverityHeavy},
	})
	l, ok := snap.Lookup("a", "b")
	require.True(t, ok)
	assert.Equal(t, SeverityHeavy, l.Severity)
	_, ok = snap.Lookup("b", "a")
	assert.False(t, ok)

	var none *TrafficSnapshot
	_, ok = none.Lookup("a", "b")
	assert.False(t, ok)
	assert.Zero(t, none.Len())
}
