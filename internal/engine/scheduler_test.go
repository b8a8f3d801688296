package engine

import (
	"reflect"
	"testing"
)

func TestSchedulerRunsInDueOrder(t *testing.T) {
	s := NewScheduler()
	var got []int
	s.At(300, func() { got = append(got, 3) })
	s.At(100, func() { got = append(got, 1) })
	s.At(200, func() { got = append(got, 2) })
	s.At(200, func() { got = append(got, 22) }) // equal due times run in insertion order

	ran, deferred := s.RunDue(250, 10)
	if ran != 3 || deferred != 0 {
		t.Fatalf("RunDue(250) = %d ran, %d deferred", ran, deferred)
	}
	if want := []int{1, 2, 22}; !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}

	if ran, _ = s.RunDue(299, 10); ran != 0 {
		t.Errorf("entry ran before its due time")
	}
	if ran, _ = s.RunDue(300, 10); ran != 1 {
		t.Errorf("due entry did not run")
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}
}

func TestSchedulerCapDefersOverflow(t *testing.T) {
	s := NewScheduler()
	n := 0
	for i := 0; i < 5; i++ {
		s.At(100, func() { n++ })
	}

	ran, deferred := s.RunDue(100, 2)
	if ran != 2 || deferred != 3 {
		t.Fatalf("capped RunDue = %d ran, %d deferred; want 2, 3", ran, deferred)
	}

	// The overflow drains on the next pass.
	ran, deferred = s.RunDue(100, 10)
	if ran != 3 || deferred != 0 {
		t.Fatalf("second RunDue = %d ran, %d deferred; want 3, 0", ran, deferred)
	}
	if n != 5 {
		t.Errorf("callbacks ran %d times, want 5", n)
	}
}

func TestSchedulerIsolatesPanickingCallback(t *testing.T) {
	s := NewScheduler()
	var recovered any
	s.OnPanic = func(r any) { recovered = r }

	var got []int
	s.At(100, func() { got = append(got, 1) })
	s.At(200, func() { panic("boom") })
	s.At(300, func() { got = append(got, 3) })

	ran, _ := s.RunDue(300, 10)
	if ran != 3 {
		t.Fatalf("ran = %d, want 3 despite the panic", ran)
	}
	if recovered != "boom" {
		t.Errorf("recovered = %v, want the panic value", recovered)
	}
	if want := []int{1, 3}; !reflect.DeepEqual(got, want) {
		t.Errorf("survivors = %v, want %v", got, want)
	}
}
