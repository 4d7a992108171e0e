package resource

import "sync/atomic"

// Policy chooses a device for a new lease. Pick receives the current lease
// count of every device and the per-device limit, and returns the index of
// a device below the limit, or -1 if there is none.
//
// Policies must be deterministic for a given sequence of inputs.
type Policy interface {
	Pick(loads []int64, limit int64) int
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(loads []int64, limit int64) int

// Pick implements Policy.
func (f PolicyFunc) Pick(loads []int64, limit int64) int { return f(loads, limit) }

// LeastLoaded picks the device with the fewest leases, the lowest id on ties.
func LeastLoaded() Policy {
	return PolicyFunc(func(loads []int64, limit int64) int {
		best := -1
		for i, l := range loads {
			if l >= limit {
				continue
			}
			if best < 0 || l < loads[best] {
				best = i
			}
		}
		return best
	})
}

// RoundRobin cycles through devices, skipping full ones.
func RoundRobin() Policy {
	return &roundRobin{}
}

type roundRobin struct {
	next atomic.Uint64
}

func (r *roundRobin) Pick(loads []int64, limit int64) int {
	n := len(loads)
	if n == 0 {
		return -1
	}
	start := int(r.next.Add(1)-1) % n
	for i := 0; i < n; i++ {
		j := (start + i) % n
		if loads[j] < limit {
			return j
		}
	}
	return -1
}
