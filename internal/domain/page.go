package domain

// StoryPage is one page of the newest-stories listing.
type StoryPage struct {
	Stories    []Item
	TotalCount int
	Page       int
	PageSize   int
}

// TotalPages is ceil(TotalCount / PageSize).
func (p StoryPage) TotalPages() int {
	if p.PageSize <= 0 {
		return 0
	}
	return (p.TotalCount + p.PageSize - 1) / p.PageSize
}
