package store

import (
	"database/sql"
	"reflect"
	"testing"
	"time"
)

func TestNullIfEmpty(t *testing.T) {
	if v := nullIfEmpty(""); v != nil {
		t.Fatalf("empty -> nil expected")
	}
	if v := nullIfEmpty("a"); v != "a" {
		t.Fatalf("got %v", v)
	}
}

func TestNullTimeAndTimePtr(t *testing.T) {
	if v := nullTime(nil); v != nil {
		t.Fatalf("nil -> nil expected")
	}
	loc := time.FixedZone("x", 3600)
	ts := time.Date(2024, 5, 6, 9, 0, 0, 0, loc)
	if v := nullTime(&ts).(time.Time); v.Location() != time.UTC || !v.Equal(ts) {
		t.Fatalf("nullTime = %v", v)
	}
	if timePtr(sql.NullTime{}) != nil {
		t.Fatalf("invalid -> nil expected")
	}
	if p := timePtr(sql.NullTime{Time: ts, Valid: true}); p == nil || !p.Equal(ts) {
		t.Fatalf("timePtr = %v", p)
	}
}

func TestMergeCompleted(t *testing.T) {
	got := mergeCompleted([]string{"a", "b"}, []string{"b", "", "c", "a"})
	if !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("got %v", got)
	}
	if got := mergeCompleted(nil, nil); len(got) != 0 || got == nil {
		t.Fatalf("want empty non-nil slice, got %#v", got)
	}
}
