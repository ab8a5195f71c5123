// Package console is a local transport for trying the moderator without a
// chat platform. Each input line is one message:
//
//	alice: hello                 group message from alice
//	bob*: https://x.example      group message from bob, who is a group admin
//	@carol: /start <token>       direct message from carol
//
// Moderation actions are printed to the output writer.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	kit "linkguard/internal/transport"
	logx "linkguard/pkg/logx"
)

// GroupChatID is the chat every non-direct console line belongs to.
const GroupChatID int64 = -1

type Adapter struct {
	in  io.Reader
	log logx.Logger

	outMu sync.Mutex
	out   io.Writer

	mu      sync.Mutex
	ids     map[string]int64
	names   map[int64]string
	admins  map[int64]bool
	removed map[int64]bool
	nextID  int64
	nextMsg int

	cancel context.CancelFunc
	done   chan struct{}
}

func New(in io.Reader, out io.Writer, log logx.Logger) *Adapter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{
		in:      in,
		out:     out,
		log:     log,
		ids:     map[string]int64{},
		names:   map[int64]string{},
		admins:  map[int64]bool{},
		removed: map[int64]bool{},
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(a.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := sc.Err(); err != nil {
			a.log.Warn("console input failed", logx.Err(err))
		}
		close(lines)
	}()

	go func() {
		defer close(a.done)
		emit := func(up kit.Update) bool {
			select {
			case out <- up:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if !emit(kit.Update{Kind: kit.UpdateLifecycle, Lifecycle: &kit.Lifecycle{State: kit.LifecycleReady, Detail: "console"}}) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case line, ok := <-lines:
				if !ok {
					emit(kit.Update{Kind: kit.UpdateLifecycle, Lifecycle: &kit.Lifecycle{State: kit.LifecycleDisconnected, Detail: "input closed"}})
					return
				}
				msg, err := a.parse(line)
				if err != nil {
					a.printf("? %v\n", err)
					continue
				}
				if msg != nil && !emit(kit.Update{Kind: kit.UpdateMessage, Message: msg}) {
					return
				}
			}
		}
	}()
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	if a.cancel == nil {
		return nil
	}
	a.cancel()
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// parse turns one input line into a message. Blank lines yield nil.
func (a *Adapter) parse(line string) (*kit.Message, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}
	who, text, ok := strings.Cut(line, ":")
	if !ok {
		return nil, fmt.Errorf("expected \"sender: text\", got %q", line)
	}
	who, text = strings.TrimSpace(who), strings.TrimSpace(text)

	direct := strings.HasPrefix(who, "@")
	admin := strings.HasSuffix(who, "*")
	name := strings.TrimSuffix(strings.TrimPrefix(who, "@"), "*")
	if name == "" {
		return nil, fmt.Errorf("empty sender in %q", line)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	id, seen := a.ids[name]
	if !seen {
		a.nextID++
		id = a.nextID
		a.ids[name] = id
		a.names[id] = name
	}
	if admin {
		a.admins[id] = true
	}
	a.nextMsg++

	msg := &kit.Message{ID: a.nextMsg, SenderID: id, SenderName: name, Text: text, IsGroup: !direct}
	if direct {
		msg.ChatID = id
	} else {
		if a.removed[id] {
			delete(a.removed, id)
			a.printf("[join] %s rejoined\n", name)
		}
		msg.ChatID = GroupChatID
	}
	return msg, nil
}

func (a *Adapter) printf(format string, args ...any) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	fmt.Fprintf(a.out, format, args...)
}

func (a *Adapter) IsAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.admins[userID], nil
}

func (a *Adapter) Contact(ctx context.Context, chatID, userID int64) (kit.Contact, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	name, ok := a.names[userID]
	if !ok {
		return kit.Contact{}, fmt.Errorf("unknown console user %d", userID)
	}
	return kit.Contact{UserID: userID, DisplayName: name}, nil
}

func (a *Adapter) DeleteMessage(ctx context.Context, ref kit.MessageRef) error {
	a.printf("[delete] message %d\n", ref.MessageID)
	return nil
}

func (a *Adapter) RemoveMember(ctx context.Context, chatID int64, userIDs ...int64) error {
	a.mu.Lock()
	names := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		a.removed[id] = true
		names = append(names, a.names[id])
	}
	a.mu.Unlock()
	a.printf("[remove] %s\n", strings.Join(names, ", "))
	return nil
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	where := "group"
	if to.ChatID != GroupChatID {
		a.mu.Lock()
		where = "@" + a.names[to.ChatID]
		a.mu.Unlock()
	}
	a.printf("[%s] bot: %s\n", where, text)

	a.mu.Lock()
	a.nextMsg++
	id := a.nextMsg
	a.mu.Unlock()
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: id}, nil
}
