package urls

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomain(t *testing.T) {
	tests := []struct {
		raw    string
		want   string
		wantOK bool
	}{
		{"https://www.example.com/a", "example.com", true},
		{"https://example.com", "example.com", true},
		{"http://sub.example.org:8080/x?y=1", "sub.example.org", true},
		{"https://WWW.Example.COM/Path", "example.com", true},
		{"https://www.exa mple.com/a", "exa mple.com", true},
		{"not a url", "", false},
		{"", "", false},
		{"https://", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := Domain(tt.raw)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
