package platform

import "testing"

func TestSemaphoreAcquireRelease(t *testing.T) {
	s := NewSemaphore(2, 2)
	if got := s.Count(); got != 2 {
		t.Errorf("Count() = %d, want 2", got)
	}

	s.Acquire()
	s.Acquire()
	if got := s.Count(); got != 0 {
		t.Errorf("Count() after two acquires = %d, want 0", got)
	}

	s.Release()
	if got := s.Count(); got != 1 {
		t.Errorf("Count() after release = %d, want 1", got)
	}
}

func TestSemaphoreReleaseBeyondCapacityPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("Release() beyond capacity did not panic")
		}
	}()
	s := NewSemaphore(1, 1)
	s.Release()
}

func TestMinTracker(t *testing.T) {
	m := NewMinTracker(100)
	m.Observe(50)
	m.Observe(75)
	m.Observe(10)
	if got := m.Min(); got != 10 {
		t.Errorf("Min() = %d, want 10", got)
	}
}
