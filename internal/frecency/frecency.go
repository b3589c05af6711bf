// Package frecency scores URLs by how often and how recently they were
// visited.
//
// Each visit contributes a weight chosen by its age bucket, and a page's
// score is the sum over its visits. Bucket thresholds are inclusive upper
// bounds: a visit exactly one day old still weighs 100, one second older
// weighs 70. Visits older than the last threshold keep the minimum weight,
// so history never scores zero until it is deleted.
package frecency

const day = int64(86400)

// Bucket maps visits up to MaxAge seconds old to Weight.
type Bucket struct {
	MaxAge int64
	Weight int64
}

// Buckets are ordered from most to least recent.
var Buckets = []Bucket{
	{MaxAge: 1 * day, Weight: 100},
	{MaxAge: 7 * day, Weight: 70},
	{MaxAge: 30 * day, Weight: 50},
	{MaxAge: 90 * day, Weight: 30},
}

// MinWeight applies to visits older than every bucket.
const MinWeight int64 = 10

// Weight returns the contribution of a single visit of the given age in
// seconds. Negative ages (clock skew) count as zero.
func Weight(age int64) int64 {
	if age < 0 {
		age = 0
	}
	for _, b := range Buckets {
		if age <= b.MaxAge {
			return b.Weight
		}
	}
	return MinWeight
}

// Score sums the weights of visits at the given epoch-second times,
// measured against now. The times may be in any order.
func Score(now int64, times []int64) int64 {
	var total int64
	for _, ts := range times {
		total += Weight(now - ts)
	}
	return total
}

// Accumulator scores one URL's visits as they are streamed past it, so a
// caller iterating visits clustered by URL never has to buffer them.
type Accumulator struct {
	now   int64
	score int64
	count int64
}

// NewAccumulator starts an empty score measured against now.
func NewAccumulator(now int64) *Accumulator {
	return &Accumulator{now: now}
}

// Add folds one visit time into the score.
func (a *Accumulator) Add(ts int64) {
	a.score += Weight(a.now - ts)
	a.count++
}

// Score returns the running total.
func (a *Accumulator) Score() int64 { return a.score }

// Count returns how many visits were added.
func (a *Accumulator) Count() int64 { return a.count }

// Reset clears the total so the accumulator can be reused for the next URL.
func (a *Accumulator) Reset() {
	a.score = 0
	a.count = 0
}
