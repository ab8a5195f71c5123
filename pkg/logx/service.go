package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	kit "linkguard/internal/transport"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
	Chat    ChatConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// ChatConfig mirrors log lines into a chat, usually the moderators' log group.
type ChatConfig struct {
	Enabled    bool
	ThreadID   int
	MinLevel   string
	RatePerSec int
}

const defaultLogFile = "./linkguard.log"

// Sender is what the chat sink needs from a transport.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// Service owns the sinks behind every Logger it hands out and rebuilds them
// on Apply.
type Service struct {
	root atomic.Pointer[zerolog.Logger]

	mu   sync.Mutex
	file *os.File
	chat *chatSink
}

// New builds the service from cfg and returns it with its root Logger.
// sender may be nil, in which case chat mirroring stays off.
func New(cfg Config, sender Sender) (*Service, Logger) {
	s := &Service{}
	if sender != nil {
		s.chat = newChatSink(sender)
	}
	s.Apply(cfg)
	return s, s.Logger()
}

func (s *Service) Logger() Logger { return Logger{root: &s.root} }

// SetChatTarget picks the chat receiving mirrored lines. chatID 0 disables mirroring.
func (s *Service) SetChatTarget(chatID int64, threadID int) {
	if s.chat != nil {
		s.chat.setTarget(chatID, threadID)
	}
}

// Apply rebuilds outputs and levels. Loggers already handed out pick up the
// change on their next write.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, consoleWriter(os.Stdout))
	}

	old := s.file
	s.file = nil
	if cfg.File.Enabled {
		if f, err := openLogFile(cfg.File.Path); err != nil {
			fmt.Fprintf(os.Stderr, "logx: %v\n", err)
		} else {
			s.file = f
			sinks = append(sinks, zerolog.SyncWriter(f))
		}
	}

	if s.chat != nil {
		s.chat.configure(cfg.Chat)
		if cfg.Chat.Enabled {
			s.chat.start()
			sinks = append(sinks, s.chat)
		}
	}

	if len(sinks) == 0 {
		sinks = append(sinks, consoleWriter(os.Stdout))
	}
	zl := zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)

	if old != nil {
		_ = old.Close()
	}
}

func openLogFile(path string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = defaultLogFile
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	return f, nil
}

// Close stops the chat sink and closes the log file. Loggers stay usable
// and write to stdout afterwards.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fallback := zerolog.New(consoleWriter(os.Stdout)).With().Timestamp().Logger()
	if cur := s.root.Load(); cur != nil {
		fallback = fallback.Level(cur.GetLevel())
	}
	s.root.Store(&fallback)

	if s.chat != nil {
		s.chat.stop()
	}
	var err error
	if s.file != nil {
		err = s.file.Close()
		s.file = nil
	}
	return err
}
