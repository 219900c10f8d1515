package gps

import (
	"strings"
	"testing"
	"time"
)

func TestFixSnapshotDisabled(t *testing.T) {
	s := NewState(false, time.Second)
	if _, _, ok, _ := s.FixSnapshot(); ok {
		t.Fatal("disabled state reported a fix")
	}
	if s.GPSStringForRecord() != nil {
		t.Fatal("disabled state rendered a fix")
	}
}

func TestFixFreshnessAndCaching(t *testing.T) {
	s := NewState(true, 50*time.Millisecond)

	if _, _, ok, _ := s.FixSnapshot(); ok {
		t.Fatal("fix reported before any update")
	}

	s.updateFix(38.7369, -9.1427)
	lat, lon, ok, cached := s.FixSnapshot()
	if !ok || cached {
		t.Fatalf("fresh fix: ok=%v cached=%v", ok, cached)
	}
	if lat != 38.7369 || lon != -9.1427 {
		t.Fatalf("fix = %f, %f", lat, lon)
	}
	if v := s.GPSStringForRecord(); v == nil || strings.HasPrefix(*v, "(") {
		t.Fatalf("fresh fix rendered %v", v)
	}

	time.Sleep(80 * time.Millisecond)
	_, _, ok, cached = s.FixSnapshot()
	if !ok || !cached {
		t.Fatalf("stale fix: ok=%v cached=%v", ok, cached)
	}
	if v := s.GPSStringForRecord(); v == nil || !strings.HasPrefix(*v, "(") {
		t.Fatalf("stale fix rendered %v", v)
	}
}
