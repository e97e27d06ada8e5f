package feed

import "math"

// PageSize is the fixed number of posts per page.
const PageSize = 2

// Page is one window of the post listing. TotalItems comes from a separate
// count and may disagree with the window under concurrent writes.
type Page struct {
	Posts      []*Post
	TotalItems int
	Page       int
	PerPage    int
}

// NormalizePage coerces missing, zero and negative page numbers to 1.
func NormalizePage(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// Offset returns the number of posts preceding page n. It saturates at
// math.MaxInt for pages too large to address, which yields an empty window.
func Offset(n int) int {
	n = NormalizePage(n) - 1
	if n > math.MaxInt/PageSize {
		return math.MaxInt
	}
	return n * PageSize
}
