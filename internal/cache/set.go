package cache

import (
	"context"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"
	"github.com/juju/clock"

	"github.com/isometry/dirprov/internal/entity"
)

// KindConfig bounds one cache.
type KindConfig struct {
	MaxEntries int           `mapstructure:"max_entries" validate:"gte=0"`
	MaxAge     time.Duration `mapstructure:"max_age" validate:"gte=0"`
}

// Config sizes every cache of a Set.
type Config struct {
	Enabled       bool       `mapstructure:"enabled"`
	Account       KindConfig `mapstructure:"account"`
	Domain        KindConfig `mapstructure:"domain"`
	COS           KindConfig `mapstructure:"cos"`
	Server        KindConfig `mapstructure:"server"`
	Group         KindConfig `mapstructure:"group"`
	ShareLocator  KindConfig `mapstructure:"share_locator"`
	XMPPComponent KindConfig `mapstructure:"xmpp_component"`
	MimeType      KindConfig `mapstructure:"mime_type"`

	// Negative caches for domain lookups that commonly miss.
	DomainForeignNameMisses     KindConfig `mapstructure:"domain_foreign_name_misses"`
	DomainVirtualHostnameMisses KindConfig `mapstructure:"domain_virtual_hostname_misses"`
}

// DefaultConfig returns the default cache sizes.
func DefaultConfig() Config {
	return Config{
		Enabled:                     true,
		Account:                     KindConfig{MaxEntries: 20000, MaxAge: 15 * time.Minute},
		Domain:                      KindConfig{MaxEntries: 500, MaxAge: 15 * time.Minute},
		COS:                         KindConfig{MaxEntries: 100, MaxAge: 15 * time.Minute},
		Server:                      KindConfig{MaxEntries: 100, MaxAge: 15 * time.Minute},
		Group:                       KindConfig{MaxEntries: 10000, MaxAge: 15 * time.Minute},
		ShareLocator:                KindConfig{MaxEntries: 5000, MaxAge: 15 * time.Minute},
		XMPPComponent:               KindConfig{MaxEntries: 100, MaxAge: 15 * time.Minute},
		MimeType:                    KindConfig{MaxEntries: 100, MaxAge: time.Hour},
		DomainForeignNameMisses:     KindConfig{MaxEntries: 500, MaxAge: 15 * time.Minute},
		DomainVirtualHostnameMisses: KindConfig{MaxEntries: 500, MaxAge: 15 * time.Minute},
	}
}

func (c Config) kind(k entity.Kind) KindConfig {
	switch k {
	case entity.KindAccount:
		return c.Account
	case entity.KindDomain:
		return c.Domain
	case entity.KindCOS:
		return c.COS
	case entity.KindServer:
		return c.Server
	case entity.KindGroup:
		return c.Group
	case entity.KindShareLocator:
		return c.ShareLocator
	case entity.KindXMPPComponent:
		return c.XMPPComponent
	case entity.KindMimeType:
		return c.MimeType
	}
	return KindConfig{}
}

// ForeignNameKey is the alternate key of a domain foreign name such as
// "app:name".
func ForeignNameKey(foreignName string) string {
	return "foreign:" + foreignName
}

// VirtualHostnameKey is the alternate key of a domain virtual hostname.
func VirtualHostnameKey(host string) string {
	return "vhost:" + host
}

// AliasKey is the alternate key of an account or group alias.
func AliasKey(alias string) string {
	return "alias:" + alias
}

func domainAltKeys(e *entity.Entity) []string {
	var keys []string
	for _, fn := range e.Attrs.Values(entity.AttrForeignName) {
		keys = append(keys, ForeignNameKey(fn))
	}
	for _, h := range e.Attrs.Values(entity.AttrVirtualHostname) {
		keys = append(keys, VirtualHostnameKey(h))
	}
	return keys
}

func aliasAltKeys(e *entity.Entity) []string {
	var keys []string
	for _, alias := range e.Attrs.Values(entity.AttrMailAlias) {
		keys = append(keys, AliasKey(alias))
	}
	for _, p := range e.Attrs.Values(entity.AttrForeignPrincipal) {
		keys = append(keys, ForeignNameKey(p))
	}
	return keys
}

// Set holds one cache per kind plus the domain negative caches.
type Set struct {
	caches map[entity.Kind]Cache

	ForeignNameMisses     *NegativeCache
	VirtualHostnameMisses *NegativeCache
}

// NewSet builds the caches described by cfg. With caching disabled every
// cache is a disabled cache.
func NewSet(ctx context.Context, cfg Config, clk clock.Clock) *Set {
	if clk == nil {
		clk = clock.WallClock
	}
	s := &Set{caches: make(map[entity.Kind]Cache)}

	for _, kind := range entity.AllKinds.Split() {
		kc := cfg.kind(kind)
		if !cfg.Enabled {
			kc.MaxEntries = 0
		}
		opts := Options{
			Name:       kind.String(),
			MaxEntries: kc.MaxEntries,
			MaxAge:     kc.MaxAge,
			Clock:      clk,
		}
		switch kind {
		case entity.KindDomain:
			opts.AltKeys = domainAltKeys
		case entity.KindAccount, entity.KindGroup:
			opts.AltKeys = aliasAltKeys
		}
		s.caches[kind] = New(opts)

		tflog.SubsystemDebug(ctx, Subsystem, "Configured cache", map[string]any{
			"kind":        kind.String(),
			"max_entries": opts.MaxEntries,
			"max_age":     opts.MaxAge.String(),
		})
	}

	if cfg.Enabled {
		s.ForeignNameMisses = NewNegative(cfg.DomainForeignNameMisses.MaxEntries, cfg.DomainForeignNameMisses.MaxAge, clk)
		s.VirtualHostnameMisses = NewNegative(cfg.DomainVirtualHostnameMisses.MaxEntries, cfg.DomainVirtualHostnameMisses.MaxAge, clk)
	}
	return s
}

// For returns the cache of a kind. Unknown kinds get a disabled cache.
func (s *Set) For(kind entity.Kind) Cache {
	if c, ok := s.caches[kind]; ok {
		return c
	}
	return Disabled(kind.String())
}

// Stats returns the statistics of every cache in kind order.
func (s *Set) Stats() []Stats {
	out := make([]Stats, 0, len(s.caches))
	for _, kind := range entity.AllKinds.Split() {
		if c, ok := s.caches[kind]; ok {
			st := c.Stats()
			st.Name = kind.String()
			out = append(out, st)
		}
	}
	return out
}

// Clear empties every cache, including the negative caches.
func (s *Set) Clear() {
	for _, c := range s.caches {
		c.Clear()
	}
	s.ForeignNameMisses.Clear()
	s.VirtualHostnameMisses.Clear()
}
