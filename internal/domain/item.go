package domain

import "time"

// Item is a single entry of the upstream item API. The JSON tags follow the
// upstream wire format so the same shape is used for decoding and caching.
type Item struct {
	ID          int    `json:"id"`
	Title       string `json:"title,omitempty"`
	URL         string `json:"url,omitempty"`
	By          string `json:"by,omitempty"`
	Time        int64  `json:"time"`
	Score       int    `json:"score"`
	Descendants int    `json:"descendants"`
	Type        string `json:"type,omitempty"`
}

// HasTitle reports whether the item carries a non-empty title. Deleted and
// placeholder items come back without one.
func (i Item) HasTitle() bool {
	return i.Title != ""
}

// CreatedAt returns the submission time in UTC.
func (i Item) CreatedAt() time.Time {
	return time.Unix(i.Time, 0).UTC()
}
