package terminal

// NumberAllocator assigns display slot numbers in [1, max].
//
// There is no release call: availability is recomputed from the live
// session set on every allocation, so a number becomes reusable the
// instant its session is purged from the registry.
type NumberAllocator struct {
	max int
}

// NewNumberAllocator creates an allocator bounded by max.
func NewNumberAllocator(max int) *NumberAllocator {
	return &NumberAllocator{max: max}
}

// Max returns the allocator bound.
func (a *NumberAllocator) Max() int {
	return a.max
}

// FindAvailable returns the smallest unused integer in [1, max] given the
// set of numbers currently in use. The second return is false when the
// range is exhausted. Smallest-first keeps display names stable.
func (a *NumberAllocator) FindAvailable(inUse []int) (int, bool) {
	used := make(map[int]bool, len(inUse))
	for _, n := range inUse {
		used[n] = true
	}
	for n := 1; n <= a.max; n++ {
		if !used[n] {
			return n, true
		}
	}
	return 0, false
}
