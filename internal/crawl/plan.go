package crawl

import "math"

// DefaultArticlesPerPage is the density assumed when a checkpoint has no
// fetched pages to measure it from.
const DefaultArticlesPerPage = 9

// PagePlan lists the pages to visit: 1, 1+stride, 1+2*stride, ... up to
// bound, keeping only pages at or after start. The grid never depends on
// earlier runs.
func PagePlan(bound, stride, start int) []int {
	if stride < 1 {
		stride = 1
	}
	if start < 1 {
		start = 1
	}
	var pages []int
	for page := 1; page <= bound; page += stride {
		if page >= start {
			pages = append(pages, page)
		}
	}
	return pages
}

// ResumePage estimates where a resumed crawl should start. The listing is
// newest first, so the page holding minID sits about (bound*density -
// minID)/density pages in. The result is clamped to [1, bound]; a missing
// minID restarts from page 1.
func ResumePage(bound int, density float64, minID int64) int {
	if bound < 1 {
		return 1
	}
	if minID <= 0 {
		return 1
	}
	if density <= 0 {
		density = DefaultArticlesPerPage
	}
	page := int(math.Floor((float64(bound)*density - float64(minID)) / density))
	if page < 1 {
		return 1
	}
	if page > bound {
		return bound
	}
	return page
}
