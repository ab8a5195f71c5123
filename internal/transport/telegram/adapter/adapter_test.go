package adapter

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	kit "linkguard/internal/transport"
)

func TestRenderMentions(t *testing.T) {
	got := renderMentions("⚠️ @bob <b> only links to linkedin.com", []kit.Contact{{UserID: 7, Username: "bob"}})
	assert.Equal(t, `⚠️ <a href="tg://user?id=7">@bob</a> &lt;b&gt; only links to linkedin.com`, got)

	got = renderMentions("hi Ann & Co", []kit.Contact{{UserID: 9, DisplayName: "Ann & Co"}})
	assert.Equal(t, `hi <a href="tg://user?id=9">Ann &amp; Co</a>`, got)

	assert.Equal(t, "no one", renderMentions("no one", nil))
}

func TestSplitTelegramText(t *testing.T) {
	short := "hello"
	assert.Equal(t, []string{short}, splitTelegramText(short, 10, ""))

	lines := strings.Repeat("abcdefghi\n", 5)
	parts := splitTelegramText(lines, 25, "")
	require.Greater(t, len(parts), 1)
	for _, p := range parts {
		assert.LessOrEqual(t, len([]rune(p)), 25)
		assert.False(t, strings.HasSuffix(p, "\n"))
	}
	assert.Equal(t, strings.ReplaceAll(lines, "\n", ""), strings.ReplaceAll(strings.Join(parts, ""), "\n", ""))

	html := strings.Repeat("x", 18) + `<a href="tg://user?id=1">u</a>`
	parts = splitTelegramText(html, 20, "HTML")
	require.Greater(t, len(parts), 1)
	assert.Equal(t, strings.Repeat("x", 18), parts[0])
}

func TestToMessage(t *testing.T) {
	group := &tele.Chat{ID: -100, Type: tele.ChatSuperGroup}

	m := toMessage(&tele.Message{ID: 5, Chat: group, ThreadID: 3, Text: "https://x.example",
		Sender: &tele.User{ID: 7, FirstName: "Ann", LastName: "Lee"}})
	require.NotNil(t, m)
	assert.Equal(t, kit.Message{ID: 5, ChatID: -100, ThreadID: 3, SenderID: 7, SenderName: "Ann Lee", Text: "https://x.example", IsGroup: true}, *m)

	m = toMessage(&tele.Message{ID: 6, Chat: group, Caption: "see https://x.example",
		Sender: &tele.User{ID: 1087968824, Username: "GroupAnonymousBot"}, SenderChat: group})
	require.NotNil(t, m)
	assert.True(t, m.FromChat)
	assert.Equal(t, "see https://x.example", m.Text)

	m = toMessage(&tele.Message{ID: 7, Chat: &tele.Chat{ID: 7, Type: tele.ChatPrivate}, Text: "/start abc",
		Sender: &tele.User{ID: 7, Username: "ann"}})
	require.NotNil(t, m)
	assert.False(t, m.IsGroup)
	assert.Equal(t, "ann", m.SenderName)

	assert.Nil(t, toMessage(&tele.Message{ID: 8, Chat: group}))
	assert.Nil(t, toMessage(nil))
}

func TestToMessageChannelPosts(t *testing.T) {
	group := &tele.Chat{ID: -100, Type: tele.ChatSuperGroup}
	channelBot := &tele.User{ID: 136817688, Username: "Channel_Bot"}

	a := toMessage(&tele.Message{ID: 1, Chat: group, Text: "https://evil.example", Sender: channelBot,
		SenderChat: &tele.Chat{ID: -1001, Type: tele.ChatChannel, Username: "spamcast"}})
	b := toMessage(&tele.Message{ID: 2, Chat: group, Text: "https://evil.example", Sender: channelBot,
		SenderChat: &tele.Chat{ID: -1002, Type: tele.ChatChannel, Title: "Deals Daily"}})
	require.NotNil(t, a)
	require.NotNil(t, b)

	assert.Equal(t, int64(-1001), a.SenderID)
	assert.Equal(t, "spamcast", a.SenderName)
	assert.Equal(t, "Deals Daily", b.SenderName)
	assert.NotEqual(t, a.SenderKey(), b.SenderKey())
	assert.False(t, a.FromChat)
	assert.True(t, kit.IsChatID(a.SenderID))

	fwd := toMessage(&tele.Message{ID: 3, Chat: group, Text: "new post https://evil.example", Sender: channelBot,
		SenderChat: &tele.Chat{ID: -1001, Type: tele.ChatChannel}, AutomaticForward: true})
	assert.Nil(t, fwd)
}

func TestRenderMentionsSkipsChannelLinks(t *testing.T) {
	got := renderMentions("⚠️ @spamcast removed", []kit.Contact{{UserID: -1001, Username: "spamcast"}})
	assert.Equal(t, "⚠️ @spamcast removed", got)
}

func TestAdminCache(t *testing.T) {
	c := newAdminCache(time.Minute)
	_, ok := c.get(-100)
	assert.False(t, ok)

	set := c.put(-100, []tele.ChatMember{
		{User: &tele.User{ID: 1}, Role: tele.Creator},
		{User: &tele.User{ID: 2}, Role: tele.Administrator},
		{User: &tele.User{ID: 3}, Role: tele.Member},
		{Role: tele.Administrator},
	})
	assert.Equal(t, map[int64]bool{1: true, 2: true}, set)

	got, ok := c.get(-100)
	require.True(t, ok)
	assert.True(t, got[2])
	assert.False(t, got[3])

	c.forget(-100)
	_, ok = c.get(-100)
	assert.False(t, ok)
}
