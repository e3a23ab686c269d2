package camsync

import (
	"strconv"
	"strings"
	"testing"
)

func makeEvent(id int) EventRecord {
	return EventRecord{ID: RecordID(strconv.Itoa(id)), Type: "motion", Class: "car", Timestamp: float64(1714564800 + id)}
}

func TestBoundedList(t *testing.T) {
	t.Run("never exceeds bound and evicts oldest", func(t *testing.T) {
		l := newBoundedList[EventRecord](3)
		for i := 1; i <= 3; i++ {
			if added, evicted := l.Prepend(makeEvent(i)); !added || evicted != 0 {
				t.Fatalf("prepend %d: added=%v evicted=%d", i, added, evicted)
			}
		}
		added, evicted := l.Prepend(makeEvent(4))
		if !added || evicted != 1 {
			t.Fatalf("prepend 4: added=%v evicted=%d", added, evicted)
		}
		if l.Len() != 3 {
			t.Fatalf("len = %d", l.Len())
		}
		var got []string
		for _, e := range l.Snapshot() {
			got = append(got, string(e.ID))
		}
		if want := "4,3,2"; strings.Join(got, ",") != want {
			t.Errorf("order = %s, want %s", strings.Join(got, ","), want)
		}
		if _, _, ok := l.Find("1"); ok {
			t.Error("evicted record still findable")
		}
		// An evicted id can come back.
		if added, _ := l.Prepend(makeEvent(1)); !added {
			t.Error("re-adding an evicted id was rejected")
		}
	})

	t.Run("duplicate does not grow", func(t *testing.T) {
		l := newBoundedList[EventRecord](10)
		l.Prepend(makeEvent(1))
		l.Prepend(makeEvent(2))
		if added, _ := l.Prepend(makeEvent(1)); added {
			t.Error("duplicate accepted")
		}
		if l.Len() != 2 {
			t.Errorf("len = %d", l.Len())
		}
	})

	t.Run("indices follow inserts", func(t *testing.T) {
		l := newBoundedList[EventRecord](10)
		l.Prepend(makeEvent(1))
		if _, i, _ := l.Find("1"); i != 0 {
			t.Fatalf("index = %d", i)
		}
		l.Prepend(makeEvent(2))
		if _, i, _ := l.Find("1"); i != 1 {
			t.Errorf("index after insert = %d, want 1", i)
		}
		if e, ok := l.At(0); !ok || e.ID != "2" {
			t.Errorf("At(0) = %+v", e)
		}
		if _, ok := l.At(5); ok {
			t.Error("At out of range succeeded")
		}
	})

	t.Run("replace dedupes and trims", func(t *testing.T) {
		l := newBoundedList[EventRecord](2)
		l.Prepend(makeEvent(9))
		evicted := l.Replace([]EventRecord{makeEvent(1), makeEvent(1), makeEvent(2), makeEvent(3)})
		if evicted != 1 || l.Len() != 2 {
			t.Errorf("evicted=%d len=%d", evicted, l.Len())
		}
		if _, _, ok := l.Find("9"); ok {
			t.Error("replace kept old record")
		}
	})

	t.Run("identity without id", func(t *testing.T) {
		a := EventRecord{Type: "motion", Class: "car", Timestamp: 1.5}
		b := EventRecord{Type: "motion", Class: "car", Timestamp: 1.5}
		c := EventRecord{Type: "motion", Class: "car", Timestamp: 2}
		if a.Key() != b.Key() || a.Key() == c.Key() {
			t.Errorf("keys: %q %q %q", a.Key(), b.Key(), c.Key())
		}
	})
}
