package bot

import (
	"fmt"
	"strconv"
	"strings"

	"linkstash/internal/domain"
	"linkstash/internal/links"
)

// maxListed keeps list replies well under Telegram's message size limit.
const maxListed = 20

const welcomeMessage = "Welcome to linkstash! Send me any text with links in it and I'll save them " +
	"and fetch their titles and previews in the background.\n\n" +
	"/list - recent links\n" +
	"/favorites - favorite links\n" +
	"/search <text> - search titles, URLs and descriptions\n" +
	"/folders - links grouped by site\n" +
	"/fav <id> - toggle favorite\n" +
	"/refresh <id> - fetch metadata again\n" +
	"/delete <id> - remove a link"

// parseCommand splits a message into a lowercased command without the bot mention and
// its trimmed argument. Plain text yields an empty command.
func parseCommand(text string) (cmd, arg string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", text
	}

	cmd, arg, _ = strings.Cut(text, " ")
	if at := strings.Index(cmd, "@"); at >= 0 {
		cmd = cmd[:at]
	}
	return strings.ToLower(cmd), strings.TrimSpace(arg)
}

// parseID accepts "12" or "#12".
func parseID(arg string) (int64, error) {
	arg = strings.TrimPrefix(strings.TrimSpace(arg), "#")
	if arg == "" {
		return 0, fmt.Errorf("missing link id")
	}
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%q is not a link id", arg)
	}
	return id, nil
}

func formatCaptures(captures []links.Capture) string {
	if len(captures) == 0 {
		return "I couldn't find any links in that message."
	}

	var sb strings.Builder
	for i, c := range captures {
		if i > 0 {
			sb.WriteString("\n")
		}
		if c.Existing {
			fmt.Fprintf(&sb, "Already saved #%d %s", c.ID, c.URL)
		} else {
			fmt.Fprintf(&sb, "Saved #%d %s", c.ID, c.URL)
		}
	}
	return sb.String()
}

func formatLink(l domain.Link) string {
	var sb strings.Builder
	star := ""
	if l.IsFavorite {
		star = " ★"
	}

	title := l.Title
	if title == "" {
		title = l.Folder()
	}
	fmt.Fprintf(&sb, "#%d%s %s\n%s", l.ID, star, title, l.URL)
	if len(l.Tags) > 0 {
		fmt.Fprintf(&sb, "\ntags: %s", strings.Join(l.Tags, ", "))
	}
	return sb.String()
}

func formatLinks(all []domain.Link, empty string) string {
	if len(all) == 0 {
		return empty
	}

	shown := all
	if len(shown) > maxListed {
		shown = shown[:maxListed]
	}

	parts := make([]string, 0, len(shown)+1)
	for _, l := range shown {
		parts = append(parts, formatLink(l))
	}
	if rest := len(all) - len(shown); rest > 0 {
		parts = append(parts, fmt.Sprintf("…and %d more", rest))
	}
	return strings.Join(parts, "\n\n")
}

func formatFolders(folders []domain.Folder) string {
	if len(folders) == 0 {
		return "No links saved yet."
	}

	var sb strings.Builder
	for i, f := range folders {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%s (%d)", f.Name, f.Count)
	}
	return sb.String()
}
