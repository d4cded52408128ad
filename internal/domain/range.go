package domain

import "fmt"

// UnknownSize marks a range whose length the server did not advertise.
const UnknownSize int64 = 0

// Range is an inclusive byte interval [Start, End] of a remote resource.
type Range struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// UnboundedRange is the single range used when the server cannot serve
// byte ranges; its size is UnknownSize.
func UnboundedRange() Range {
	return Range{Start: 0, End: -1}
}

func (r Range) Size() int64 {
	if r.End < r.Start {
		return UnknownSize
	}
	return r.End - r.Start + 1
}

func (r Range) Known() bool {
	return r.Size() != UnknownSize
}

func (r Range) String() string {
	if !r.Known() {
		return fmt.Sprintf("%d-", r.Start)
	}
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// Partition splits [0, total) into n contiguous ranges. The last range
// absorbs the remainder of the integer division. n is clamped to
// [1, total] so no range is empty.
func Partition(total int64, n int) []Range {
	if total <= 0 {
		return []Range{UnboundedRange()}
	}
	if n < 1 {
		n = 1
	}
	if int64(n) > total {
		n = int(total)
	}
	size := total / int64(n)
	ranges := make([]Range, n)
	for i := 0; i < n; i++ {
		start := int64(i) * size
		end := start + size - 1
		if i == n-1 {
			end = total - 1
		}
		ranges[i] = Range{Start: start, End: end}
	}
	return ranges
}
