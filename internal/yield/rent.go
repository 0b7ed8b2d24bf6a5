package yield

import (
	"math"
	"sort"
)

// DefaultRentTolerance is the relative size band used to pick comparables.
const DefaultRentTolerance = 0.10

// Comparable is a rental listing used to estimate rent.
type Comparable struct {
	Size float64
	Rent int
}

// EstimateRent estimates the monthly rent of a home of the given size.
//
// Comparables whose size is within ±tolerance of size are averaged. When none
// are, the rent of the median comparable (by size) is scaled by size relative
// to the median's size. Without usable comparables the estimate is 0.
func EstimateRent(size float64, comparables []Comparable, tolerance float64) int {
	if size <= 0 {
		return 0
	}
	if tolerance <= 0 {
		tolerance = DefaultRentTolerance
	}

	usable := make([]Comparable, 0, len(comparables))
	for _, c := range comparables {
		if c.Size > 0 && c.Rent > 0 {
			usable = append(usable, c)
		}
	}
	if len(usable) == 0 {
		return 0
	}

	low, high := size*(1-tolerance), size*(1+tolerance)
	var sum float64
	var n int
	for _, c := range usable {
		if c.Size >= low && c.Size <= high {
			sum += float64(c.Rent)
			n++
		}
	}
	if n > 0 {
		return int(math.Round(sum / float64(n)))
	}

	sort.SliceStable(usable, func(i, j int) bool { return usable[i].Size < usable[j].Size })
	median := usable[(len(usable)-1)/2]
	return int(math.Round(float64(median.Rent) * size / median.Size))
}
