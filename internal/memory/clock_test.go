package memory

import "testing"

func TestClockCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b VectorClock
		want Ordering
	}{
		{"both empty", VectorClock{}, VectorClock{}, OrderEqual},
		{"equal", VectorClock{"w1": 2}, VectorClock{"w1": 2}, OrderEqual},
		{"before", VectorClock{"w1": 1}, VectorClock{"w1": 2}, OrderBefore},
		{"after", VectorClock{"w1": 3}, VectorClock{"w1": 2}, OrderAfter},
		{"after with extra writer", VectorClock{"w1": 2, "w2": 1}, VectorClock{"w1": 2}, OrderAfter},
		{"before missing writer", VectorClock{"w1": 2}, VectorClock{"w1": 2, "w2": 1}, OrderBefore},
		{"concurrent", VectorClock{"w1": 2, "w2": 0}, VectorClock{"w1": 1, "w2": 1}, OrderConcurrent},
		{"concurrent disjoint", VectorClock{"w1": 1}, VectorClock{"w2": 1}, OrderConcurrent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Compare(tt.b); got != tt.want {
				t.Errorf("Compare() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClockIncrement(t *testing.T) {
	c := NewClock()
	c.Increment("w1")
	c.Increment("w1")
	c.Increment("w2")

	if c["w1"] != 2 || c["w2"] != 1 {
		t.Errorf("unexpected clock: %v", c)
	}
}

func TestClockMerge(t *testing.T) {
	a := VectorClock{"w1": 3, "w2": 1}
	b := VectorClock{"w1": 1, "w2": 4, "w3": 2}

	a.Merge(b)
	if a["w1"] != 3 || a["w2"] != 4 || a["w3"] != 2 {
		t.Errorf("unexpected merged clock: %v", a)
	}
}

func TestClockDominates(t *testing.T) {
	base := VectorClock{"w1": 1}
	next := base.Clone().Increment("w1")

	if !next.Dominates(base) {
		t.Error("incremented clock should dominate its predecessor")
	}
	if base.Dominates(next) {
		t.Error("predecessor should not dominate its successor")
	}
	if !base.Dominates(base.Clone()) {
		t.Error("a clock should dominate its copy")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	a := VectorClock{"w1": 1}
	b := a.Clone()
	b.Increment("w1")

	if a["w1"] != 1 {
		t.Error("mutating a clone must not affect the original")
	}
}
