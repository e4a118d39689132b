package gkdtree

import "sort"

// Point sets are stored as dense flat slices: point i occupies
// coordinates [i*dims, i*dims+dims). The helpers below are shared by the
// distributed driver and the local builder so that both apply the exact
// same split policy.

// SortByAxis sorts the flat point slice in place by the given axis.
func SortByAxis(pts []float64, dims, axis int) {
	sort.Sort(&axisSorter{pts: pts, dims: dims, axis: axis})
}

// UpperMedian returns the index of the median point among n sorted
// points. The upper median (index n/2) is the fixed policy everywhere:
// for an even count the higher of the two middle points becomes the
// splitting node, so the median x of {4,5,6,7,8,9} is 7.
func UpperMedian(n int) int { return n / 2 }

type axisSorter struct {
	pts  []float64
	dims int
	axis int
}

func (s *axisSorter) Len() int { return len(s.pts) / s.dims }

func (s *axisSorter) Less(i, j int) bool {
	return s.pts[i*s.dims+s.axis] < s.pts[j*s.dims+s.axis]
}

func (s *axisSorter) Swap(i, j int) {
	a := s.pts[i*s.dims : (i+1)*s.dims]
	b := s.pts[j*s.dims : (j+1)*s.dims]
	for k := range a {
		a[k], b[k] = b[k], a[k]
	}
}
