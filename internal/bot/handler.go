package bot

import (
	"context"
	"errors"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"linkstash/internal/config"
	"linkstash/internal/domain"
	"linkstash/internal/links"
	"linkstash/internal/storage"
)

// LinkService is what the bot needs from the ingestion service.
type LinkService interface {
	Capture(ctx context.Context, text string) ([]links.Capture, error)
	RefreshMetadata(ctx context.Context, id int64) error
	ToggleFavorite(ctx context.Context, id int64, current bool) (domain.Link, error)
	Delete(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (domain.Link, error)
	List(ctx context.Context, q domain.Query) ([]domain.Link, error)
	Folders(ctx context.Context) ([]domain.Folder, error)
}

// Handler holds dependencies for the Telegram bot handlers.
type Handler struct {
	bot   *tgbot.Bot
	links LinkService
	log   logrus.FieldLogger

	// allowed holds the chats the bot answers. The store is shared, so any other
	// chat could read or delete every saved link.
	allowed mapset.Set[int64]
}

// NewHandler creates a new bot handler instance.
func NewHandler(cfg config.Config, svc LinkService, logger logrus.FieldLogger) (*Handler, error) {
	log := logger.WithField("component", "bot_handler")

	if err := cfg.RequireBotToken(); err != nil {
		return nil, err
	}

	h := &Handler{
		links:   svc,
		log:     log,
		allowed: mapset.NewSet(cfg.AllowedChatIDs()...),
	}

	// Anything not matched by a registered handler is a command or a share.
	b, err := tgbot.New(cfg.TelegramBotToken, tgbot.WithDefaultHandler(h.defaultHandler))
	if err != nil {
		log.WithError(err).Error("Failed to create Telegram bot instance")
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	h.bot = b

	h.registerHandlers()

	log.WithField("allowed_chats", h.allowed.Cardinality()).Info("Telegram bot handler initialized")
	return h, nil
}

// registerHandlers sets up the command handlers that do not touch the store.
func (h *Handler) registerHandlers() {
	h.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/start", tgbot.MatchTypeExact, h.startHandler)
	h.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/help", tgbot.MatchTypeExact, h.startHandler)
	h.log.Info("Registered /start and /help command handlers")
}

// Start begins polling for updates from Telegram.
// This function blocks until the context is cancelled.
func (h *Handler) Start(ctx context.Context) {
	h.log.Info("Starting Telegram bot polling...")
	h.bot.Start(ctx)
	h.log.Info("Telegram bot polling stopped.")
}

// startHandler handles the /start command.
func (h *Handler) startHandler(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	if update.Message == nil || !h.authorized(update.Message) {
		return
	}
	log := h.log.WithFields(logrus.Fields{
		"chat_id": update.Message.Chat.ID,
		"command": "/start",
	})
	log.Info("Received /start command")

	h.send(ctx, b, update.Message.Chat.ID, welcomeMessage, log)
}

func (h *Handler) defaultHandler(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.Text == "" || !h.authorized(update.Message) {
		return
	}
	log := h.log.WithField("chat_id", update.Message.Chat.ID)

	reply := h.reply(ctx, update.Message.Text)
	h.send(ctx, b, update.Message.Chat.ID, reply, log)
}

// authorized reports whether msg comes from an allowed chat.
func (h *Handler) authorized(msg *models.Message) bool {
	if h.allowed.Contains(msg.Chat.ID) {
		return true
	}
	fields := logrus.Fields{"chat_id": msg.Chat.ID}
	if msg.From != nil {
		fields["user_id"] = msg.From.ID
		fields["username"] = msg.From.Username
	}
	h.log.WithFields(fields).Warn("Ignoring message from a chat that is not allowed")
	return false
}

func (h *Handler) send(ctx context.Context, b *tgbot.Bot, chatID int64, text string, log logrus.FieldLogger) {
	_, err := b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		log.WithError(err).Error("Failed to send message")
	}
}

// reply runs a command or captures links from plain text and returns the answer.
func (h *Handler) reply(ctx context.Context, text string) string {
	cmd, arg := parseCommand(text)
	log := h.log.WithField("command", cmd)
	if cmd != "" {
		log.Info("Received command")
	}

	switch cmd {
	case "":
		captures, err := h.links.Capture(ctx, arg)
		if err != nil {
			log.WithError(err).Error("Failed to save links")
			return "Sorry, I couldn't save that right now. Please try again."
		}
		return formatCaptures(captures)

	case "/start", "/help":
		return welcomeMessage

	case "/list":
		return h.list(ctx, domain.Query{}, "No links saved yet.")

	case "/favorites":
		return h.list(ctx, domain.Query{FavoritesOnly: true}, "No favorites yet.")

	case "/search":
		if arg == "" {
			return "Usage: /search <text>"
		}
		return h.list(ctx, domain.Query{Search: arg}, fmt.Sprintf("Nothing matches %q.", arg))

	case "/folders":
		folders, err := h.links.Folders(ctx)
		if err != nil {
			log.WithError(err).Error("Failed to list folders")
			return "Sorry, I couldn't load your folders."
		}
		return formatFolders(folders)

	case "/fav":
		return h.withLink(ctx, arg, func(link domain.Link) (string, error) {
			updated, err := h.links.ToggleFavorite(ctx, link.ID, link.IsFavorite)
			if err != nil {
				return "", err
			}
			if updated.IsFavorite {
				return fmt.Sprintf("Added #%d to favorites.", updated.ID), nil
			}
			return fmt.Sprintf("Removed #%d from favorites.", updated.ID), nil
		})

	case "/refresh":
		return h.withLink(ctx, arg, func(link domain.Link) (string, error) {
			if err := h.links.RefreshMetadata(ctx, link.ID); err != nil {
				return "", err
			}
			return fmt.Sprintf("Refreshing #%d in the background.", link.ID), nil
		})

	case "/delete":
		return h.withLink(ctx, arg, func(link domain.Link) (string, error) {
			if err := h.links.Delete(ctx, link.ID); err != nil {
				return "", err
			}
			return fmt.Sprintf("Deleted #%d %s", link.ID, link.URL), nil
		})

	default:
		return "Unknown command. Send /help to see what I can do."
	}
}

func (h *Handler) list(ctx context.Context, q domain.Query, empty string) string {
	all, err := h.links.List(ctx, q)
	if err != nil {
		h.log.WithError(err).Error("Failed to list links")
		return "Sorry, I couldn't load your links."
	}
	return formatLinks(all, empty)
}

// withLink resolves the id argument to a stored link before running fn.
func (h *Handler) withLink(ctx context.Context, arg string, fn func(domain.Link) (string, error)) string {
	id, err := parseID(arg)
	if err != nil {
		return fmt.Sprintf("Please give a link id, e.g. 12 (%v).", err)
	}

	link, err := h.links.Get(ctx, id)
	if err == nil {
		var msg string
		msg, err = fn(link)
		if err == nil {
			return msg
		}
	}
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Sprintf("There is no link #%d.", id)
	}
	h.log.WithError(err).WithField("link_id", id).Error("Link command failed")
	return "Sorry, something went wrong. Please try again."
}
