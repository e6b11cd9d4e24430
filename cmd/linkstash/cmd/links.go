package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"linkstash/internal/domain"
)

var (
	waitFor time.Duration

	listFavorites bool
	listDomain    string
	listSearch    string
)

// withApp opens the store for the duration of fn.
func withApp(fn func(ctx context.Context, a *app) error) error {
	a, err := openApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(context.Background(), a)
}

func parseLinkID(arg string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(arg, "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid link id %q", arg)
	}
	return id, nil
}

func printLinks(w io.Writer, all []domain.Link) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFAV\tDOMAIN\tTITLE\tURL")
	for _, l := range all {
		fav := ""
		if l.IsFavorite {
			fav = "*"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", l.ID, fav, l.Domain, l.Title, l.URL)
	}
	return tw.Flush()
}

func reportEnrichment(w io.Writer, settled bool) {
	if !settled && waitFor > 0 {
		fmt.Fprintln(w, "Metadata is still being fetched; it will finish on the next run of serve.")
	}
}

var addCmd = &cobra.Command{
	Use:   "add <text>...",
	Short: "Save every link found in the text",
	Long: `Extract URLs from the given text and save the ones not stored yet, then fetch
their metadata.

Examples:
  linkstash add https://go.dev/blog
  linkstash add "two links: example.com and https://www.example.org/a"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			captures, err := a.links.Capture(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			if len(captures) == 0 {
				return fmt.Errorf("no links found in input")
			}

			out := cmd.OutOrStdout()
			for _, c := range captures {
				if c.Existing {
					fmt.Fprintf(out, "already saved #%d %s\n", c.ID, c.URL)
				} else {
					fmt.Fprintf(out, "saved #%d %s\n", c.ID, c.URL)
				}
			}

			settled, err := a.enrichNow(ctx, waitFor)
			reportEnrichment(out, settled)
			return err
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved links, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			all, err := a.links.List(ctx, domain.Query{
				FavoritesOnly: listFavorites,
				Domain:        listDomain,
				Search:        listSearch,
			})
			if err != nil {
				return err
			}
			return printLinks(cmd.OutOrStdout(), all)
		})
	},
}

var foldersCmd = &cobra.Command{
	Use:   "folders",
	Short: "Show links grouped by site",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			folders, err := a.links.Folders(ctx)
			if err != nil {
				return err
			}
			for _, f := range folders {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %d\n", f.Name, f.Count)
			}
			return nil
		})
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh <id>",
	Short: "Fetch a link's metadata again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseLinkID(args[0])
		if err != nil {
			return err
		}
		return withApp(func(ctx context.Context, a *app) error {
			if err := a.links.RefreshMetadata(ctx, id); err != nil {
				return err
			}
			settled, err := a.enrichNow(ctx, waitFor)
			if err != nil {
				return err
			}
			reportEnrichment(cmd.OutOrStdout(), settled)

			link, err := a.links.Get(ctx, id)
			if err != nil {
				return err
			}
			return printLinks(cmd.OutOrStdout(), []domain.Link{link})
		})
	},
}

var favoriteCmd = &cobra.Command{
	Use:   "favorite <id>",
	Short: "Toggle a link's favorite flag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseLinkID(args[0])
		if err != nil {
			return err
		}
		return withApp(func(ctx context.Context, a *app) error {
			current, err := a.links.Get(ctx, id)
			if err != nil {
				return err
			}
			link, err := a.links.ToggleFavorite(ctx, id, current.IsFavorite)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "#%d favorite: %t\n", link.ID, link.IsFavorite)
			return nil
		})
	},
}

var tagCmd = &cobra.Command{
	Use:   "tag <id> [tag]...",
	Short: "Replace a link's tags; no tags clears them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseLinkID(args[0])
		if err != nil {
			return err
		}
		return withApp(func(ctx context.Context, a *app) error {
			link, err := a.links.SetTags(ctx, id, args[1:])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "#%d tags: %s\n", link.ID, strings.Join(link.Tags, ", "))
			return nil
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a link and cancel its pending enrichment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseLinkID(args[0])
		if err != nil {
			return err
		}
		return withApp(func(ctx context.Context, a *app) error {
			if err := a.links.Delete(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted #%d\n", id)
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{addCmd, refreshCmd} {
		c.Flags().DurationVarP(&waitFor, "wait", "w", 30*time.Second, "how long to wait for metadata; 0 leaves it to serve")
	}

	listCmd.Flags().BoolVarP(&listFavorites, "favorites", "f", false, "only favorite links")
	listCmd.Flags().StringVarP(&listDomain, "domain", "d", "", "only links from this domain")
	listCmd.Flags().StringVarP(&listSearch, "search", "s", "", "case-insensitive text in title, URL or description")

	rootCmd.AddCommand(addCmd, listCmd, foldersCmd, refreshCmd, favoriteCmd, tagCmd, deleteCmd)
}
