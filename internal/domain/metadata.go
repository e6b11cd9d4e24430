package domain

import "strings"

// Metadata is what a page fetch yields. Empty fields are absent values.
type Metadata struct {
	Title       string
	Description string
	ImageURL    string
}

// IsEmpty reports whether no field carries a non-blank value.
func (m Metadata) IsEmpty() bool {
	return strings.TrimSpace(m.Title) == "" &&
		strings.TrimSpace(m.Description) == "" &&
		strings.TrimSpace(m.ImageURL) == ""
}
