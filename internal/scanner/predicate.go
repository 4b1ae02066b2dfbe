package scanner

// Predicate is the spike detection rule over two consecutive window volumes.
// VLow < VHigh is a configuration precondition and is not rechecked here.
type Predicate struct {
	VLow      float64
	VHigh     float64
	MinGrowth float64 // relative, 0.5 = +50%
}

// Fires reports whether the move from prev to curr is a spike.
// A non-positive prev counts as unbounded growth.
func (p Predicate) Fires(prev, curr float64) bool {
	if !(prev < p.VLow) || !(curr > p.VHigh) {
		return false
	}
	if prev <= 0 {
		return true
	}
	return (curr-prev)/prev >= p.MinGrowth
}

// PercentChange returns (curr-prev)/prev*100, or 0 when prev is 0.
func PercentChange(prev, curr float64) float64 {
	if prev == 0 {
		return 0
	}
	return (curr - prev) / prev * 100
}
