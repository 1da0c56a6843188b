package voice

import (
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// NameResolver resolves Discord IDs to human-readable names. Empty string
// means "unknown"; callers fall back to the raw ID.
type NameResolver interface {
	UserName(userID string) string
	GuildName(guildID string) string
	ChannelName(channelID string) string
}

// nameCacheTTL controls how long a resolved name is reused before hitting
// the gateway state or REST again.
var nameCacheTTL = 5 * time.Minute

type cacheEntry struct {
	val    string
	expiry time.Time
}

type discordResolver struct {
	s  *discordgo.Session
	mu sync.Mutex
	// id -> (value, expiry) per entity kind
	userCache    map[string]cacheEntry
	guildCache   map[string]cacheEntry
	channelCache map[string]cacheEntry
}

// NewDiscordResolver builds a NameResolver backed by the session's gateway
// state with REST fallback, caching results for nameCacheTTL.
func NewDiscordResolver(s *discordgo.Session) *discordResolver {
	return &discordResolver{
		s:            s,
		userCache:    make(map[string]cacheEntry),
		guildCache:   make(map[string]cacheEntry),
		channelCache: make(map[string]cacheEntry),
	}
}

// cached serves id from m when fresh, otherwise invokes fetch and caches a
// non-empty result.
func (d *discordResolver) cached(m map[string]cacheEntry, id string, fetch func() string) string {
	if d.s == nil || id == "" {
		return ""
	}
	d.mu.Lock()
	if e, ok := m[id]; ok {
		if time.Now().Before(e.expiry) {
			d.mu.Unlock()
			return e.val
		}
		delete(m, id)
	}
	d.mu.Unlock()
	val := fetch()
	if val != "" {
		d.mu.Lock()
		m[id] = cacheEntry{val: val, expiry: time.Now().Add(nameCacheTTL)}
		d.mu.Unlock()
	}
	return val
}

func (d *discordResolver) UserName(userID string) string {
	return d.cached(d.userCache, userID, func() string {
		if u, err := d.s.User(userID); err == nil && u != nil {
			if u.GlobalName != "" {
				return u.GlobalName
			}
			return u.Username
		}
		return ""
	})
}

func (d *discordResolver) GuildName(guildID string) string {
	return d.cached(d.guildCache, guildID, func() string {
		if d.s.State != nil {
			if g, err := d.s.State.Guild(guildID); err == nil && g != nil {
				return g.Name
			}
		}
		if g, err := d.s.Guild(guildID); err == nil && g != nil {
			return g.Name
		}
		return ""
	})
}

func (d *discordResolver) ChannelName(channelID string) string {
	return d.cached(d.channelCache, channelID, func() string {
		if d.s.State != nil {
			if c, err := d.s.State.Channel(channelID); err == nil && c != nil {
				return c.Name
			}
		}
		if c, err := d.s.Channel(channelID); err == nil && c != nil {
			return c.Name
		}
		return ""
	})
}

// NoopResolver implements NameResolver but returns empty names. Useful for
// tests or when REST lookups should be disabled.
type NoopResolver struct{}

func NewNoopResolver() *NoopResolver { return &NoopResolver{} }

func (n *NoopResolver) UserName(userID string) string       { return "" }
func (n *NoopResolver) GuildName(guildID string) string     { return "" }
func (n *NoopResolver) ChannelName(channelID string) string { return "" }
