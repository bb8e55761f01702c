// Copyright 2024-2026 Aiku AI

package connector

import (
	"fmt"
	"os"
	"strings"

	"go.mau.fi/util/ptr"
	"gopkg.in/yaml.v3"
)

const (
	// PluginID is the channel identifier under which this integration
	// registers with the host.
	PluginID = "discord-user"

	// DefaultAccountID is the reserved account key synthesized when only
	// a top-level or environment token exists.
	DefaultAccountID = "default"

	// TokenEnvVar is the fallback token source for the default account.
	// Non-default accounts never read it.
	TokenEnvVar = "DISCORD_USER_TOKEN"
)

// Hardcoded policy defaults applied when neither the account nor the
// channel layer sets a field.
const (
	defaultDMPolicy     = DMPolicyPairing
	defaultGroupPolicy  = GroupPolicyAllowlist
	defaultMediaMaxMB   = 25
	defaultHistoryLimit = 10
)

// GuildRule scopes dispatch inside one guild. Keys of Channels may be
// literal snowflakes, prefixed forms or the wildcard "*".
type GuildRule struct {
	Enabled  *bool           `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Channels map[string]bool `yaml:"channels,omitempty" json:"channels,omitempty"`
}

// AccountConfig is the per-account configuration shape. The same shape
// doubles as the channel-level layer; per-account values override
// channel-level ones field by field.
type AccountConfig struct {
	Name         string               `yaml:"name,omitempty" json:"name,omitempty"`
	Token        string               `yaml:"token,omitempty" json:"token,omitempty"`
	Enabled      *bool                `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	DMPolicy     DMPolicy             `yaml:"dmPolicy,omitempty" json:"dmPolicy,omitempty"`
	AllowFrom    []string             `yaml:"allowFrom,omitempty" json:"allowFrom,omitempty"`
	GroupPolicy  GroupPolicy          `yaml:"groupPolicy,omitempty" json:"groupPolicy,omitempty"`
	Guilds       map[string]GuildRule `yaml:"guilds,omitempty" json:"guilds,omitempty"`
	MediaMaxMB   *int                 `yaml:"mediaMaxMb,omitempty" json:"mediaMaxMb,omitempty"`
	HistoryLimit *int                 `yaml:"historyLimit,omitempty" json:"historyLimit,omitempty"`
}

// ChannelConfig is the channels."discord-user" subtree: channel-level
// defaults inline plus the per-account override map.
type ChannelConfig struct {
	AccountConfig `yaml:",inline" json:",inline"`
	Accounts      map[string]AccountConfig `yaml:"accounts,omitempty" json:"accounts,omitempty"`
}

// ChannelDefaults carries the host-wide channel defaults this plugin
// consults for operator warnings.
type ChannelDefaults struct {
	GroupPolicy GroupPolicy `yaml:"groupPolicy,omitempty" json:"groupPolicy,omitempty"`
}

// ChannelsConfig is the channels section of the host config tree, sliced
// down to what this plugin consumes.
type ChannelsConfig struct {
	Defaults    ChannelDefaults `yaml:"defaults,omitempty" json:"defaults,omitempty"`
	DiscordUser ChannelConfig   `yaml:"discord-user,omitempty" json:"discord-user,omitempty"`
}

// Config is the slice of the host configuration tree this plugin reads.
// It is consumed, not owned: resolution never mutates it, and the
// mutating operations return fresh trees.
type Config struct {
	Channels ChannelsConfig `yaml:"channels" json:"channels"`
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// TokenSource records where an account's token came from. Operators
// need this to know whether a token can be rotated via config.
type TokenSource string

const (
	TokenSourceConfig TokenSource = "config"
	TokenSourceEnv    TokenSource = "env"
	TokenSourceNone   TokenSource = "none"
)

// ResolvedAccount is the effective configuration for one account,
// produced fresh on every resolution call by merging channel-level and
// account-level layers. It is a pure projection of configuration state.
type ResolvedAccount struct {
	AccountID    string
	Name         string
	Enabled      bool
	Token        string
	TokenSource  TokenSource
	DMPolicy     DMPolicy
	AllowFrom    []string
	GroupPolicy  GroupPolicy
	Guilds       map[string]GuildRule
	MediaMaxMB   int
	HistoryLimit int
}

// Configured reports whether the account has a usable token.
func (a ResolvedAccount) Configured() bool {
	return strings.TrimSpace(a.Token) != ""
}

// ListAccountIDs enumerates configured account IDs. When no accounts
// map exists but a token is present via config or environment, the
// default account is synthesized; when accounts exist and a top-level
// or environment token is present as well, the default account is
// prepended unless already listed.
func ListAccountIDs(cfg *Config) []string {
	channel := channelConfig(cfg)
	hasBaseToken := channel.Token != "" || os.Getenv(TokenEnvVar) != ""

	if len(channel.Accounts) == 0 {
		if hasBaseToken {
			return []string{DefaultAccountID}
		}
		return nil
	}

	ids := sortedKeys(channel.Accounts)
	if hasBaseToken {
		for _, id := range ids {
			if id == DefaultAccountID {
				return ids
			}
		}
		ids = append([]string{DefaultAccountID}, ids...)
	}
	return ids
}

// DefaultAccountIDFor returns the account ID a bare reference resolves
// to: the first listed account, or the reserved default.
func DefaultAccountIDFor(cfg *Config) string {
	if ids := ListAccountIDs(cfg); len(ids) > 0 {
		return ids[0]
	}
	return DefaultAccountID
}

// ResolveAccount merges the configuration layers into one effective
// account view. An empty accountID resolves to the default account.
//
// Token precedence for the default account is account config, then
// channel config, then the DISCORD_USER_TOKEN environment variable.
// Non-default accounts only honor their own config token.
func ResolveAccount(cfg *Config, accountID string) ResolvedAccount {
	if accountID == "" {
		accountID = DefaultAccountID
	}
	channel := channelConfig(cfg)
	account := channel.Accounts[accountID]

	token := ""
	source := TokenSourceNone
	if accountID == DefaultAccountID {
		switch {
		case account.Token != "":
			token, source = account.Token, TokenSourceConfig
		case channel.Token != "":
			token, source = channel.Token, TokenSourceConfig
		case os.Getenv(TokenEnvVar) != "":
			token, source = os.Getenv(TokenEnvVar), TokenSourceEnv
		}
	} else if account.Token != "" {
		token, source = account.Token, TokenSourceConfig
	}

	name := account.Name
	if name == "" {
		name = channel.Name
	}

	guilds := account.Guilds
	if guilds == nil {
		guilds = channel.Guilds
	}

	allowFrom := account.AllowFrom
	if allowFrom == nil {
		allowFrom = channel.AllowFrom
	}
	if allowFrom == nil {
		allowFrom = []string{}
	}

	// Explicit false at either layer disables; absence means enabled.
	enabled := ptr.Val(account.Enabled) || account.Enabled == nil
	if channel.Enabled != nil && !*channel.Enabled {
		enabled = false
	}

	return ResolvedAccount{
		AccountID:    accountID,
		Name:         name,
		Enabled:      enabled,
		Token:        token,
		TokenSource:  source,
		DMPolicy:     firstDMPolicy(account.DMPolicy, channel.DMPolicy, defaultDMPolicy),
		AllowFrom:    allowFrom,
		GroupPolicy:  firstGroupPolicy(account.GroupPolicy, channel.GroupPolicy, defaultGroupPolicy),
		Guilds:       cloneGuilds(guilds),
		MediaMaxMB:   firstInt(account.MediaMaxMB, channel.MediaMaxMB, defaultMediaMaxMB),
		HistoryLimit: firstInt(account.HistoryLimit, channel.HistoryLimit, defaultHistoryLimit),
	}
}

// SetAccountEnabled returns a new configuration tree with the account's
// enabled flag set. The input tree is never mutated.
func SetAccountEnabled(cfg *Config, accountID string, enabled bool) *Config {
	if accountID == "" {
		accountID = DefaultAccountID
	}
	out := cloneConfig(cfg)
	if out.Channels.DiscordUser.Accounts == nil {
		out.Channels.DiscordUser.Accounts = make(map[string]AccountConfig)
	}
	account := out.Channels.DiscordUser.Accounts[accountID]
	account.Enabled = ptr.Ptr(enabled)
	out.Channels.DiscordUser.Accounts[accountID] = account
	return out
}

// DeleteAccount returns a new configuration tree with the account
// removed. Removing the last account drops the accounts map entirely.
func DeleteAccount(cfg *Config, accountID string) *Config {
	if accountID == "" {
		accountID = DefaultAccountID
	}
	out := cloneConfig(cfg)
	delete(out.Channels.DiscordUser.Accounts, accountID)
	if len(out.Channels.DiscordUser.Accounts) == 0 {
		out.Channels.DiscordUser.Accounts = nil
	}
	return out
}

// AllowFromPath returns the config path operators edit to approve a
// sender for the given account.
func AllowFromPath(cfg *Config, accountID string) string {
	if accountID == "" {
		accountID = DefaultAccountID
	}
	if _, ok := channelConfig(cfg).Accounts[accountID]; ok {
		return fmt.Sprintf("channels.%s.accounts.%s.", PluginID, accountID)
	}
	return fmt.Sprintf("channels.%s.", PluginID)
}

// FormatAllowFrom canonicalizes an allowFrom list for display and
// comparison: trimmed, lowercased, empties dropped.
func FormatAllowFrom(allowFrom []string) []string {
	out := make([]string, 0, len(allowFrom))
	for _, entry := range allowFrom {
		trimmed := strings.TrimSpace(entry)
		if trimmed == "" {
			continue
		}
		out = append(out, strings.ToLower(trimmed))
	}
	return out
}

func channelConfig(cfg *Config) ChannelConfig {
	if cfg == nil {
		return ChannelConfig{}
	}
	return cfg.Channels.DiscordUser
}

func firstDMPolicy(values ...DMPolicy) DMPolicy {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstGroupPolicy(values ...GroupPolicy) GroupPolicy {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstInt(account, channel *int, fallback int) int {
	if account != nil {
		return *account
	}
	if channel != nil {
		return *channel
	}
	return fallback
}

func cloneGuilds(guilds map[string]GuildRule) map[string]GuildRule {
	if guilds == nil {
		return nil
	}
	out := make(map[string]GuildRule, len(guilds))
	for key, rule := range guilds {
		cloned := GuildRule{Enabled: ptr.Clone(rule.Enabled)}
		if rule.Channels != nil {
			cloned.Channels = make(map[string]bool, len(rule.Channels))
			for ch, allowed := range rule.Channels {
				cloned.Channels[ch] = allowed
			}
		}
		out[key] = cloned
	}
	return out
}

func cloneAccountConfig(account AccountConfig) AccountConfig {
	out := account
	out.Enabled = ptr.Clone(account.Enabled)
	out.MediaMaxMB = ptr.Clone(account.MediaMaxMB)
	out.HistoryLimit = ptr.Clone(account.HistoryLimit)
	if account.AllowFrom != nil {
		out.AllowFrom = append([]string(nil), account.AllowFrom...)
	}
	out.Guilds = cloneGuilds(account.Guilds)
	return out
}

func cloneConfig(cfg *Config) *Config {
	out := &Config{}
	if cfg == nil {
		return out
	}
	out.Channels.Defaults = cfg.Channels.Defaults
	out.Channels.DiscordUser.AccountConfig = cloneAccountConfig(cfg.Channels.DiscordUser.AccountConfig)
	if cfg.Channels.DiscordUser.Accounts != nil {
		out.Channels.DiscordUser.Accounts = make(map[string]AccountConfig, len(cfg.Channels.DiscordUser.Accounts))
		for id, account := range cfg.Channels.DiscordUser.Accounts {
			out.Channels.DiscordUser.Accounts[id] = cloneAccountConfig(account)
		}
	}
	return out
}
