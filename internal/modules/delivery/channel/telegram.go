package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/mailfeed/mailfeed/internal/modules/delivery/domain"
	userdomain "github.com/mailfeed/mailfeed/internal/modules/user/domain"
)

// descriptionLimit caps how many runes of an item description render in
// a Telegram message.
const descriptionLimit = 200

// messageLimit keeps assembled messages under Telegram's 4096-character
// cap, with headroom for the truncation marker and closing tags.
const messageLimit = 3900

// telegramAPI is the slice of *bot.Bot the sender needs.
type telegramAPI interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// TelegramSender delivers batches as HTML-formatted bot messages to the
// user's chat.
type TelegramSender struct {
	api telegramAPI
}

func NewTelegramSender(b *bot.Bot) *TelegramSender {
	return &TelegramSender{api: b}
}

func (s *TelegramSender) Channel() domain.Channel {
	return domain.ChannelTelegram
}

func (s *TelegramSender) Send(ctx context.Context, user *userdomain.User, batch *domain.Batch) error {
	if user.TelegramChatID == "" {
		return newSendError(KindInvalidDestination, domain.ChannelTelegram,
			errors.New("user has no telegram chat configured"))
	}

	_, err := s.api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    user.TelegramChatID,
		Text:      formatTelegramMessage(batch),
		ParseMode: models.ParseModeHTML,
		LinkPreviewOptions: &models.LinkPreviewOptions{
			IsDisabled: bot.True(),
		},
	})
	if err != nil {
		return newSendError(classifyTelegramError(err), domain.ChannelTelegram, err)
	}
	return nil
}

// formatTelegramMessage renders one batch as Telegram HTML. Full entries
// get a linked title with date, author and a truncated description;
// link-only entries render as a bare link line. Messages that would
// exceed Telegram's length cap stop at an entry boundary with a marker,
// so the assembled HTML is never cut mid-tag.
func formatTelegramMessage(batch *domain.Batch) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📰 <b>%s</b>\n", escapeHTML(batch.Title()))

	for _, entry := range batch.Entries {
		block := formatTelegramEntry(entry)
		if b.Len()+len(block) > messageLimit {
			b.WriteString("\n<i>... more items truncated ...</i>")
			break
		}
		b.WriteString(block)
	}
	return b.String()
}

func formatTelegramEntry(entry domain.Entry) string {
	var b strings.Builder
	b.WriteString("\n")
	if entry.LinkOnly {
		fmt.Fprintf(&b, "📄 %s\n", escapeHTML(entry.Item.Link))
		return b.String()
	}

	fmt.Fprintf(&b, "📄 <a href=\"%s\">%s</a>\n",
		escapeHTML(entry.Item.Link), escapeHTML(entry.Item.Title))
	fmt.Fprintf(&b, "🕐 %s\n", entry.Item.PubDate.Format("Jan 2, 2006 15:04"))
	if entry.Item.Author != "" {
		fmt.Fprintf(&b, "👤 %s\n", escapeHTML(entry.Item.Author))
	}
	if desc := truncateRunes(entry.Item.Description, descriptionLimit); desc != "" {
		fmt.Fprintf(&b, "%s\n", escapeHTML(desc))
	}
	return b.String()
}

// escapeHTML escapes the three characters Telegram's HTML parse mode
// reserves.
func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return strings.TrimSpace(string(runes[:limit])) + "..."
}

func classifyTelegramError(err error) ErrorKind {
	var tooMany *bot.TooManyRequestsError
	if errors.As(err, &tooMany) {
		return KindRateLimited
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindUnreachable
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unauthorized"):
		return KindAuthFailure
	case strings.Contains(msg, "chat not found"),
		strings.Contains(msg, "bot was blocked"):
		return KindInvalidDestination
	case strings.Contains(msg, "too many requests"):
		return KindRateLimited
	}
	return KindUnreachable
}
