package adapter

import (
	"context"
	"html"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "linkguard/internal/transport"
)

const telegramTextLimit = 4000

// renderMentions HTML-escapes text and turns each mention's handle into a
// tg://user link, so members without a username are still notified.
func renderMentions(text string, mentions []kit.Contact) string {
	out := html.EscapeString(text)
	for _, c := range mentions {
		h := html.EscapeString(c.Handle())
		if h == "" || c.UserID == 0 || kit.IsChatID(c.UserID) {
			continue
		}
		link := `<a href="tg://user?id=` + strconv.FormatInt(c.UserID, 10) + `">` + h + `</a>`
		out = strings.Replace(out, h, link, 1)
	}
	return out
}

// splitTelegramText splits long messages into chunks Telegram accepts.
// It prefers newline boundaries and, for HTML, avoids cutting inside a tag.
func splitTelegramText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	for start := 0; start < len(rs); {
		end := min(start+limit, len(rs))

		if end < len(rs) {
			for i := end - 1; i > start+limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}

		if strings.EqualFold(parseMode, tele.ModeHTML) && end < len(rs) {
			open, closed := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					open = i
				case '>':
					closed = i
				}
			}
			if open > closed && open > start+1 {
				end = open
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	mode := tele.ParseMode(opt.ParseMode)
	if len(opt.Mentions) > 0 && mode == tele.ModeDefault {
		text = renderMentions(text, opt.Mentions)
		mode = tele.ModeHTML
	}

	chat := &tele.Chat{ID: to.ChatID}
	var first kit.MessageRef
	for i, chunk := range splitTelegramText(text, telegramTextLimit, string(mode)) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             mode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}
