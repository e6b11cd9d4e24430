package scraper

import (
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkstash/internal/domain"
)

func parseDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestExtractMetadata(t *testing.T) {
	base, _ := url.Parse("https://example.com/articles/1")

	tests := []struct {
		name string
		html string
		want domain.Metadata
	}{
		{
			name: "open graph wins",
			html: `<html><head>
				<title>Plain title</title>
				<meta property="og:title" content="OG title">
				<meta name="description" content="plain description">
				<meta property="og:description" content="OG description">
				<meta name="twitter:image" content="https://cdn.example.com/tw.png">
				<meta property="og:image" content="https://cdn.example.com/og.png">
			</head></html>`,
			want: domain.Metadata{
				Title:       "OG title",
				Description: "OG description",
				ImageURL:    "https://cdn.example.com/og.png",
			},
		},
		{
			name: "fallbacks",
			html: `<html><head>
				<title>  Plain title  </title>
				<meta name="description" content="plain description">
				<meta name="twitter:image" content="https://cdn.example.com/tw.png">
			</head></html>`,
			want: domain.Metadata{
				Title:       "Plain title",
				Description: "plain description",
				ImageURL:    "https://cdn.example.com/tw.png",
			},
		},
		{
			name: "blank og values fall through",
			html: `<html><head>
				<meta property="og:title" content="   ">
				<title>Real title</title>
				<meta property="og:description" content="">
				<meta name="description" content="real description">
			</head></html>`,
			want: domain.Metadata{Title: "Real title", Description: "real description"},
		},
		{
			name: "relative image resolved against page",
			html: `<html><head><meta property="og:image" content="/img/cover.jpg"></head></html>`,
			want: domain.Metadata{ImageURL: "https://example.com/img/cover.jpg"},
		},
		{
			name: "og tags declared with name attribute",
			html: `<html><head><meta name="og:title" content="Named OG"></head></html>`,
			want: domain.Metadata{Title: "Named OG"},
		},
		{
			name: "nothing recognizable",
			html: `<html><body><p>hello</p></body></html>`,
			want: domain.Metadata{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractMetadata(parseDoc(t, tt.html), base)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractMetadata_NilBaseKeepsRelativeImage(t *testing.T) {
	doc := parseDoc(t, `<meta property="og:image" content="/img/cover.jpg">`)
	assert.Equal(t, "/img/cover.jpg", ExtractMetadata(doc, nil).ImageURL)
}
