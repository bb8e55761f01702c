// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aiku/clawdbot-discord-user/pkg/plugin"
)

// DiscordUserConnector bridges Discord user-account sessions into the
// host's channel-plugin contract. One connector instance manages all
// configured accounts; each started account gets its own gateway
// session tracked in the registry.
type DiscordUserConnector struct {
	cfgMu sync.RWMutex
	cfg   *Config

	dispatcher plugin.Dispatcher
	registry   *Registry
	bridge     *inboundBridge
	log        zerolog.Logger
}

var _ plugin.Channel = (*DiscordUserConnector)(nil)

// NewConnector wires a connector to the host's inbound dispatcher. The
// dispatcher is mandatory: without it admitted messages would vanish
// silently.
func NewConnector(cfg *Config, dispatcher plugin.Dispatcher, log zerolog.Logger) (*DiscordUserConnector, error) {
	if dispatcher == nil {
		return nil, ErrNilDispatcher
	}
	if cfg == nil {
		cfg = &Config{}
	}
	c := &DiscordUserConnector{
		cfg:        cfg,
		dispatcher: dispatcher,
		registry:   NewRegistry(),
		log:        log.With().Str("channel", PluginID).Logger(),
	}
	c.bridge = newInboundBridge(c.currentConfig, dispatcher, c.registry, c.log)
	return c, nil
}

// currentConfig returns the live configuration tree. Inbound handling
// and actions call it per event so ReplaceConfig takes effect without a
// restart.
func (c *DiscordUserConnector) currentConfig() *Config {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	return c.cfg
}

// ReplaceConfig swaps the configuration tree. Running sessions keep
// their token; policy changes apply from the next message.
func (c *DiscordUserConnector) ReplaceConfig(cfg *Config) {
	if cfg == nil {
		cfg = &Config{}
	}
	c.cfgMu.Lock()
	c.cfg = cfg
	c.cfgMu.Unlock()
}

func (c *DiscordUserConnector) ID() string {
	return PluginID
}

func (c *DiscordUserConnector) Meta() plugin.Meta {
	return plugin.Meta{
		ID:             PluginID,
		Label:          "Discord (user)",
		SelectionLabel: "Discord user account",
		DocsPath:       "/channels/discord-user",
		Blurb:          "Run the agent on a personal Discord account via the user gateway.",
		Aliases:        []string{"discord-selfbot"},
	}
}

func (c *DiscordUserConnector) Capabilities() plugin.Capabilities {
	return plugin.Capabilities{
		ChatTypes: []string{"direct", "group", "thread"},
		Reactions: true,
		Threads:   true,
		Media:     true,
	}
}

func (c *DiscordUserConnector) ListAccountIDs() []string {
	return ListAccountIDs(c.currentConfig())
}

func (c *DiscordUserConnector) DefaultAccountID() string {
	return DefaultAccountIDFor(c.currentConfig())
}

// StartAccount resolves the account and opens its gateway session. A
// session already running for the account is stopped and replaced.
func (c *DiscordUserConnector) StartAccount(ctx context.Context, accountID string) error {
	account := ResolveAccount(c.currentConfig(), accountID)
	accountID = account.AccountID
	log := c.log.With().Str("account_id", accountID).Logger()

	if !account.Enabled {
		return fmt.Errorf("account %s is disabled", accountID)
	}
	if !account.Configured() {
		return fmt.Errorf("%w for account %s (set %s or channels.%s.token)", ErrNoToken, accountID, TokenEnvVar, PluginID)
	}

	if prev := c.registry.Remove(accountID); prev != nil && prev.client != nil {
		log.Info().Msg("Replacing running session")
		if err := prev.client.Stop(); err != nil {
			log.Warn().Err(err).Msg("Failed to stop previous session")
		}
	}

	client, err := NewDiscordClient(accountID, account.Token, c.bridge, c.log)
	if err != nil {
		return err
	}
	rt := &accountRuntime{client: client}
	c.registry.Put(accountID, rt)
	if err = client.Start(ctx); err != nil {
		rt.recordError(err)
		c.registry.Remove(accountID)
		return err
	}
	rt.markRunning(true)
	log.Info().Str("token_source", string(account.TokenSource)).Msg("Account started")
	return nil
}

// StopAccount closes the account's gateway session if one is running.
func (c *DiscordUserConnector) StopAccount(accountID string) error {
	if accountID == "" {
		accountID = c.DefaultAccountID()
	}
	rt := c.registry.Remove(accountID)
	if rt == nil {
		return nil
	}
	rt.markRunning(false)
	if rt.client == nil {
		return nil
	}
	if err := rt.client.Stop(); err != nil {
		return fmt.Errorf("failed to stop account %s: %w", accountID, err)
	}
	c.log.Info().Str("account_id", accountID).Msg("Account stopped")
	return nil
}

// StopAll shuts down every running session, for process shutdown.
func (c *DiscordUserConnector) StopAll() {
	for accountID, rt := range c.registry.Drain() {
		rt.markRunning(false)
		if rt.client == nil {
			continue
		}
		if err := rt.client.Stop(); err != nil {
			c.log.Warn().Err(err).Str("account_id", accountID).Msg("Failed to stop session")
		}
	}
}

// SendText delivers text to a target. Targets may be a raw channel
// snowflake, a channel:/group: prefixed ID, a <#id> mention, or a
// user:/discord: prefixed ID which routes through a direct message.
func (c *DiscordUserConnector) SendText(ctx context.Context, accountID, to, text, replyToID string) plugin.SendResult {
	client, channelID, err := c.resolveSendTarget(ctx, accountID, to)
	if err != nil {
		return plugin.SendResult{Channel: PluginID, Error: err.Error()}
	}
	msg, err := client.SendText(ctx, channelID, text, replyToID)
	if err != nil {
		return plugin.SendResult{Channel: PluginID, Error: err.Error()}
	}
	result := plugin.SendResult{Channel: PluginID, OK: true}
	if msg != nil {
		result.MessageID = msg.ID
	}
	return result
}

// SendMedia fetches mediaURL and delivers it as an attachment, bounded
// by the account's mediaMaxMb setting.
func (c *DiscordUserConnector) SendMedia(ctx context.Context, accountID, to, text, mediaURL, replyToID string) plugin.SendResult {
	client, channelID, err := c.resolveSendTarget(ctx, accountID, to)
	if err != nil {
		return plugin.SendResult{Channel: PluginID, Error: err.Error()}
	}
	account := ResolveAccount(c.currentConfig(), accountID)
	maxBytes := int64(account.MediaMaxMB) * 1024 * 1024
	msg, err := client.SendMedia(ctx, channelID, text, mediaURL, replyToID, maxBytes)
	if err != nil {
		return plugin.SendResult{Channel: PluginID, Error: err.Error()}
	}
	result := plugin.SendResult{Channel: PluginID, OK: true}
	if msg != nil {
		result.MessageID = msg.ID
	}
	return result
}

// resolveSendTarget maps a target reference to a concrete channel ID on
// a running client. User targets open a DM channel first.
func (c *DiscordUserConnector) resolveSendTarget(ctx context.Context, accountID, to string) (*DiscordClient, string, error) {
	if accountID == "" {
		accountID = c.DefaultAccountID()
	}
	client := c.registry.Client(accountID)
	if client == nil {
		return nil, "", fmt.Errorf("%w (account %s)", ErrNotRunning, accountID)
	}

	target := strings.TrimSpace(to)
	if target == "" {
		return nil, "", fmt.Errorf("%w: empty send target", ErrInvalidIdentifier)
	}

	lower := strings.ToLower(target)
	if strings.HasPrefix(lower, "user:") || strings.HasPrefix(lower, "discord:") || strings.HasPrefix(lower, "discord-user:") {
		userID, err := RequireUserID(target)
		if err != nil {
			return nil, "", err
		}
		channelID, err := client.CreateDM(ctx, userID)
		if err != nil {
			return nil, "", err
		}
		return client, channelID, nil
	}

	channelID, err := RequireChannelID(target)
	if err != nil {
		return nil, "", err
	}
	return client, channelID, nil
}

// NormalizeTarget canonicalizes a send-target reference, or returns it
// unchanged when it is not recognizable.
func (c *DiscordUserConnector) NormalizeTarget(raw string) string {
	lower := strings.ToLower(strings.TrimSpace(raw))
	if strings.HasPrefix(lower, "user:") || strings.HasPrefix(lower, "discord:") || strings.HasPrefix(lower, "discord-user:") {
		if id, ok := NormalizeUserID(raw); ok {
			return "user:" + id
		}
		return raw
	}
	if id, ok := NormalizeChannelID(raw); ok {
		return id
	}
	return raw
}

// LooksLikeTargetID reports whether raw is a plausible send target for
// this channel.
func (c *DiscordUserConnector) LooksLikeTargetID(raw string) bool {
	if _, ok := NormalizeChannelID(raw); ok {
		return true
	}
	lower := strings.ToLower(strings.TrimSpace(raw))
	if strings.HasPrefix(lower, "user:") || strings.HasPrefix(lower, "discord:") || strings.HasPrefix(lower, "discord-user:") {
		_, ok := NormalizeUserID(raw)
		return ok
	}
	return false
}

// TargetHint is shown to operators when a send target fails to parse.
func (c *DiscordUserConnector) TargetHint() string {
	return "<channelId|user:ID|channel:ID>"
}

// ResolveDMPolicy tells the host how to gate direct messages for the
// account, including where in the config tree the allow list lives.
func (c *DiscordUserConnector) ResolveDMPolicy(accountID string) plugin.DMPolicySpec {
	cfg := c.currentConfig()
	account := ResolveAccount(cfg, accountID)
	pathPrefix := AllowFromPath(cfg, account.AccountID)
	return plugin.DMPolicySpec{
		Policy:        string(account.DMPolicy),
		AllowFrom:     FormatAllowFrom(account.AllowFrom),
		AllowFromPath: pathPrefix + "allowFrom",
		ApproveHint:   fmt.Sprintf("Add the sender's ID to %sallowFrom (user IDs, <@id> mentions and user: prefixes are accepted).", pathPrefix),
	}
}

// ResolveRequireMention reports whether guild messages must mention the
// account before dispatch.
func (c *DiscordUserConnector) ResolveRequireMention(accountID string) bool {
	account := ResolveAccount(c.currentConfig(), accountID)
	return RequireMention(account.GroupPolicy)
}

// ResolveToolPolicy maps the account's group policy onto the host's
// tool-exposure levels: open guilds get the full toolset, everything
// else the conservative default.
func (c *DiscordUserConnector) ResolveToolPolicy(accountID string) string {
	account := ResolveAccount(c.currentConfig(), accountID)
	if account.GroupPolicy == GroupPolicyOpen {
		return "full"
	}
	return "default"
}

// MentionStripPatterns returns regex patterns the host removes from
// message content before prompting the agent.
func (c *DiscordUserConnector) MentionStripPatterns() []string {
	return []string{`<@!?\d+>`}
}

// Self returns the directory entry for the account's own user, when the
// session has seen a ready event.
func (c *DiscordUserConnector) Self(accountID string) *plugin.Peer {
	if accountID == "" {
		accountID = c.DefaultAccountID()
	}
	rt := c.registry.Get(accountID)
	if rt == nil {
		return nil
	}
	_, _, _, _, self := rt.snapshot()
	if self == nil {
		return nil
	}
	return &plugin.Peer{Kind: "user", ID: self.ID, Name: self.Username, Tag: self.Tag}
}
