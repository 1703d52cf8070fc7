package interval

import "testing"

func TestAddFind(t *testing.T) {
	tr := New()
	if err := tr.Add(100, 200, "a"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := tr.Add(200, 300, "b"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	h, ok := tr.Find(150)
	if !ok || h != "a" {
		t.Errorf("Find(150) = %v, %v; want a, true", h, ok)
	}
	h, ok = tr.Find(250)
	if !ok || h != "b" {
		t.Errorf("Find(250) = %v, %v; want b, true", h, ok)
	}
	if _, ok := tr.Find(50); ok {
		t.Errorf("Find(50) unexpectedly found a range")
	}
	if _, ok := tr.Find(300); ok {
		t.Errorf("Find(300) unexpectedly found a range (end is exclusive)")
	}
}

func TestAddRejectsOverlap(t *testing.T) {
	tr := New()
	if err := tr.Add(100, 200, "a"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := tr.Add(150, 250, "b"); err == nil {
		t.Errorf("Add overlapping range did not error")
	}
}

func TestRemove(t *testing.T) {
	tr := New()
	_ = tr.Add(100, 200, "a")
	if err := tr.Remove(100); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := tr.Find(150); ok {
		t.Errorf("Find after Remove still found a range")
	}
	if err := tr.Remove(100); err == nil {
		t.Errorf("Remove of absent range did not error")
	}
}

func TestStartWalk(t *testing.T) {
	tr := New()
	_ = tr.Add(0, 10, "a")
	_ = tr.Add(10, 20, "b")
	_ = tr.Add(20, 30, "c")

	next := tr.StartWalk()
	var got []any
	for {
		h, ok := next()
		if !ok {
			break
		}
		got = append(got, h)
	}
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("StartWalk order = %v, want [a b c]", got)
	}
}
