package models

// Pagination describes a page of a list response.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

// Bounds returns the slice bounds of the page within total items. Pages past
// the end yield an empty range.
func (p Pagination) Bounds() (int, int) {
	if p.PageSize <= 0 || p.TotalCount <= 0 {
		return 0, 0
	}
	skipped := p.Page - 1
	if skipped < 0 {
		skipped = 0
	}
	// Compare in page units so Page*PageSize cannot overflow.
	if skipped > p.TotalCount/p.PageSize {
		return p.TotalCount, p.TotalCount
	}
	start := skipped * p.PageSize
	if start > p.TotalCount {
		start = p.TotalCount
	}
	end := p.TotalCount
	if p.PageSize < p.TotalCount-start {
		end = start + p.PageSize
	}
	return start, end
}
