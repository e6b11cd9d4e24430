package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"linkstash/internal/scraper"
	"linkstash/internal/urls"
)

var previewCmd = &cobra.Command{
	Use:   "preview <url>",
	Short: "Fetch and print a page's metadata without saving it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		found := urls.Extract(args[0])
		if len(found) == 0 {
			return fmt.Errorf("%q is not a URL", args[0])
		}
		pageURL := found[0]

		meta := scraper.Lookup(context.Background(), newScraper(cfg, log), pageURL, log)
		d, _ := urls.Domain(pageURL)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "url:         %s\n", pageURL)
		fmt.Fprintf(out, "domain:      %s\n", d)
		fmt.Fprintf(out, "title:       %s\n", meta.Title)
		fmt.Fprintf(out, "description: %s\n", meta.Description)
		fmt.Fprintf(out, "image:       %s\n", meta.ImageURL)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(previewCmd)
}
