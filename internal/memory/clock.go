package memory

// Ordering is the result of comparing two vector clocks.
type Ordering int

const (
	// OrderEqual means both clocks are identical.
	OrderEqual Ordering = iota
	// OrderBefore means the receiver happened strictly before the other.
	OrderBefore
	// OrderAfter means the receiver happened strictly after the other.
	OrderAfter
	// OrderConcurrent means neither clock dominates the other.
	OrderConcurrent
)

// String returns the ordering name.
func (o Ordering) String() string {
	switch o {
	case OrderEqual:
		return "equal"
	case OrderBefore:
		return "before"
	case OrderAfter:
		return "after"
	case OrderConcurrent:
		return "concurrent"
	default:
		return "unknown"
	}
}

// VectorClock tracks one logical counter per writer. Writers only ever
// advance their own component; merging takes the element-wise maximum.
type VectorClock map[string]uint64

// NewClock returns an empty vector clock.
func NewClock() VectorClock {
	return make(VectorClock)
}

// Clone returns a copy of the clock.
func (c VectorClock) Clone() VectorClock {
	out := make(VectorClock, len(c))
	for w, n := range c {
		out[w] = n
	}
	return out
}

// Increment advances the given writer's component and returns the clock.
func (c VectorClock) Increment(writerID string) VectorClock {
	c[writerID]++
	return c
}

// Merge folds the other clock into this one, taking element-wise maxima.
func (c VectorClock) Merge(other VectorClock) VectorClock {
	for w, n := range other {
		if n > c[w] {
			c[w] = n
		}
	}
	return c
}

// Compare returns the causal ordering between two clocks.
func (c VectorClock) Compare(other VectorClock) Ordering {
	var less, greater bool

	for w, n := range c {
		o := other[w]
		if n < o {
			less = true
		} else if n > o {
			greater = true
		}
	}
	for w, o := range other {
		if _, seen := c[w]; seen {
			continue
		}
		if o > 0 {
			less = true
		}
	}

	switch {
	case less && greater:
		return OrderConcurrent
	case less:
		return OrderBefore
	case greater:
		return OrderAfter
	default:
		return OrderEqual
	}
}

// Dominates returns true if this clock is causally at or after the other.
func (c VectorClock) Dominates(other VectorClock) bool {
	ord := c.Compare(other)
	return ord == OrderAfter || ord == OrderEqual
}
