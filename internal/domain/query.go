package domain

import (
	"sort"
	"strings"
)

// Query selects a view over the stored links. Set filters are combined with AND.
type Query struct {
	FavoritesOnly bool
	Domain        string
	// Search is a case-insensitive substring matched against title, URL and description.
	Search string
}

// Matches reports whether the link belongs to the view.
func (q Query) Matches(l Link) bool {
	if q.FavoritesOnly && !l.IsFavorite {
		return false
	}
	if q.Domain != "" && !strings.EqualFold(q.Domain, l.Domain) {
		return false
	}
	if needle := strings.ToLower(strings.TrimSpace(q.Search)); needle != "" {
		if !strings.Contains(strings.ToLower(l.Title), needle) &&
			!strings.Contains(strings.ToLower(l.URL), needle) &&
			!strings.Contains(strings.ToLower(l.Description), needle) {
			return false
		}
	}
	return true
}

// Folder is a derived group of links sharing a domain.
type Folder struct {
	Name  string
	Count int
}

// GroupByFolder counts links per folder, largest first, then by name.
func GroupByFolder(links []Link) []Folder {
	counts := make(map[string]int)
	for _, l := range links {
		counts[l.Folder()]++
	}

	folders := make([]Folder, 0, len(counts))
	for name, n := range counts {
		folders = append(folders, Folder{Name: name, Count: n})
	}
	sort.Slice(folders, func(i, j int) bool {
		if folders[i].Count != folders[j].Count {
			return folders[i].Count > folders[j].Count
		}
		return folders[i].Name < folders[j].Name
	})
	return folders
}

// SortNewestFirst orders links by creation time, newest first, ties by descending ID.
func SortNewestFirst(links []Link) {
	sort.Slice(links, func(i, j int) bool {
		if !links[i].CreatedAt.Equal(links[j].CreatedAt) {
			return links[i].CreatedAt.After(links[j].CreatedAt)
		}
		return links[i].ID > links[j].ID
	})
}
