package config

type Config struct {
	Transport  TransportConfig  `json:"transport"`
	Telegram   TelegramConfig   `json:"telegram"`
	Logging    LoggingConfig    `json:"logging"`
	Moderation ModerationConfig `json:"moderation"`
	Pairing    PairingConfig    `json:"pairing"`
	Storage    *StorageConfig   `json:"storage,omitempty"`
	Report     ReportConfig     `json:"report"`
	Debug      DebugConfig      `json:"debug"`
}

// TransportConfig picks the chat backend.
//
// Kind values:
//   - "telegram" (default): Bot API long polling
//   - "console": stdin lines of the form "sender: text" ("sender*: text" for an admin)
type TransportConfig struct {
	Kind string `json:"kind"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	// AdminCacheTTL bounds how long a chat's admin list is reused. Default "2m".
	AdminCacheTTL string `json:"admin_cache_ttl,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// ModerationConfig controls link moderation.
//
// Enabled and DeleteMessages are pointers so an omitted key keeps the
// default (true) while an explicit false is honored.
type ModerationConfig struct {
	Enabled        *bool         `json:"enabled,omitempty"`
	TrustedDomain  string        `json:"trusted_domain,omitempty"` // default: "linkedin.com"
	WarnLimit      int           `json:"warn_limit,omitempty"`     // default: 3
	DeleteMessages *bool         `json:"delete_messages,omitempty"`
	Notices        NoticesConfig `json:"notices"`
}

// NoticesConfig overrides the group notices. Placeholders:
// {user} {count} {limit} {domain}.
type NoticesConfig struct {
	Warn    string `json:"warn,omitempty"`
	Removed string `json:"removed,omitempty"`
}

// PairingConfig controls owner binding through a QR code.
//
// Security note:
//   - The QR code grants ownership to whoever scans it first.
//     Keep Addr on loopback unless the host is trusted.
type PairingConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr,omitempty"`      // default: "127.0.0.1:8080"
	LinkBase string `json:"link_base,omitempty"` // default: "https://t.me/<bot>?start="
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/linkguard.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// ReportConfig controls the periodic moderation digest.
type ReportConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"` // cron spec or descriptor; default "@daily"
	Timezone string `json:"timezone,omitempty"`
}

type DebugConfig struct {
	Pprof PprofConfig `json:"pprof"`
}

// PprofConfig controls the optional pprof HTTP server.
//
// Security:
//   - Prefer binding to localhost (default "127.0.0.1:6060").
//   - If binding to a non-loopback address, set token or enable allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}

// ModerationEnabled reports the effective moderation switch.
func (c *Config) ModerationEnabled() bool {
	return c.Moderation.Enabled == nil || *c.Moderation.Enabled
}

// DeleteMessages reports whether offending messages are deleted.
func (c *Config) DeleteMessages() bool {
	return c.Moderation.DeleteMessages == nil || *c.Moderation.DeleteMessages
}

// TransportKind returns the normalized transport kind.
func (c *Config) TransportKind() string {
	switch k := normalizeKind(c.Transport.Kind); k {
	case "":
		return "telegram"
	default:
		return k
	}
}
