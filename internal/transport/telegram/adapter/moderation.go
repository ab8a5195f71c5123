package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	tele "gopkg.in/telebot.v4"

	kit "linkguard/internal/transport"
	logx "linkguard/pkg/logx"
)

const (
	defaultAdminCacheTTL = 2 * time.Minute
	adminCacheChats      = 512
)

// adminCache remembers each chat's administrator set for a short while so a
// busy group costs one getChatAdministrators call per TTL, not per link.
type adminCache struct {
	lru *expirable.LRU[int64, map[int64]bool]
}

func newAdminCache(ttl time.Duration) *adminCache {
	if ttl <= 0 {
		ttl = defaultAdminCacheTTL
	}
	return &adminCache{lru: expirable.NewLRU[int64, map[int64]bool](adminCacheChats, nil, ttl)}
}

func (c *adminCache) get(chatID int64) (map[int64]bool, bool) { return c.lru.Get(chatID) }

func (c *adminCache) put(chatID int64, members []tele.ChatMember) map[int64]bool {
	set := make(map[int64]bool, len(members))
	for _, m := range members {
		if m.User == nil {
			continue
		}
		if m.Role == tele.Administrator || m.Role == tele.Creator {
			set[m.User.ID] = true
		}
	}
	c.lru.Add(chatID, set)
	return set
}

func (c *adminCache) forget(chatID int64) { c.lru.Remove(chatID) }

func (a *Adapter) IsAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if set, ok := a.admins.get(chatID); ok {
		return set[userID], nil
	}
	members, err := a.bot.AdminsOf(&tele.Chat{ID: chatID})
	if err != nil {
		return false, fmt.Errorf("get chat administrators: %w", err)
	}
	return a.admins.put(chatID, members)[userID], nil
}

func (a *Adapter) Contact(ctx context.Context, chatID, userID int64) (kit.Contact, error) {
	if err := ctx.Err(); err != nil {
		return kit.Contact{}, err
	}
	if kit.IsChatID(userID) {
		ch, err := a.bot.ChatByID(userID)
		if err != nil {
			return kit.Contact{}, fmt.Errorf("get sender chat: %w", err)
		}
		return kit.Contact{UserID: userID, Username: ch.Username, DisplayName: ch.Title}, nil
	}
	m, err := a.bot.ChatMemberOf(&tele.Chat{ID: chatID}, &tele.User{ID: userID})
	if err != nil {
		return kit.Contact{}, fmt.Errorf("get chat member: %w", err)
	}
	if m == nil || m.User == nil {
		return kit.Contact{UserID: userID}, nil
	}
	return kit.Contact{
		UserID:      userID,
		Username:    m.User.Username,
		DisplayName: strings.TrimSpace(m.User.FirstName + " " + m.User.LastName),
	}, nil
}

func (a *Adapter) DeleteMessage(ctx context.Context, ref kit.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Delete(&tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}})
}

// RemoveMember kicks users: a ban immediately lifted, so they may rejoin
// through an invite later. Channel identities are banned from posting in
// the chat and stay banned.
func (a *Adapter) RemoveMember(ctx context.Context, chatID int64, userIDs ...int64) error {
	chat := &tele.Chat{ID: chatID}
	var errs []error
	for _, id := range userIDs {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		if kit.IsChatID(id) {
			if err := a.bot.BanSenderChat(chat, &tele.Chat{ID: id}); err != nil {
				errs = append(errs, fmt.Errorf("ban sender chat %d: %w", id, err))
			}
			continue
		}
		user := &tele.User{ID: id}
		if err := a.bot.Ban(chat, &tele.ChatMember{User: user}); err != nil {
			errs = append(errs, fmt.Errorf("ban %d: %w", id, err))
			continue
		}
		if err := a.bot.Unban(chat, user); err != nil {
			a.log.Warn("kicked member stays banned; unban failed",
				logx.Int64("chat_id", chatID), logx.Int64("user_id", id), logx.Err(err))
		}
	}
	// Membership changed; the admin set may have too.
	a.admins.forget(chatID)
	return errors.Join(errs...)
}
