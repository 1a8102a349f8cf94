package search

import (
	"strings"

	"photovault/pkg/domain"
)

// Search returns the photos whose name or any AI tag contains query,
// ignoring case. Input order is kept and an empty query matches everything.
func Search(photos []domain.Photo, query string) []domain.Photo {
	out := make([]domain.Photo, 0, len(photos))
	q := strings.ToLower(query)
	for _, p := range photos {
		if matches(p, q) {
			out = append(out, p)
		}
	}
	return out
}

func matches(p domain.Photo, q string) bool {
	if strings.Contains(strings.ToLower(p.Name), q) {
		return true
	}
	for _, tag := range p.AITags {
		if strings.Contains(strings.ToLower(tag), q) {
			return true
		}
	}
	return false
}
