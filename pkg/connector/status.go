// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"

	"github.com/aiku/clawdbot-discord-user/pkg/plugin"
)

// BuildAccountSnapshot assembles the operator status view for one
// account: resolved configuration plus live session state.
func (c *DiscordUserConnector) BuildAccountSnapshot(accountID string) plugin.AccountSnapshot {
	account := ResolveAccount(c.currentConfig(), accountID)
	snapshot := plugin.AccountSnapshot{
		AccountID:   account.AccountID,
		Name:        account.Name,
		Enabled:     account.Enabled,
		Configured:  account.Configured(),
		TokenSource: string(account.TokenSource),
	}
	rt := c.registry.Get(account.AccountID)
	if rt == nil {
		return snapshot
	}
	running, connected, lastConnectedAt, lastError, self := rt.snapshot()
	snapshot.Running = running
	snapshot.Connected = connected
	snapshot.LastConnectedAt = lastConnectedAt
	snapshot.LastError = lastError
	if self != nil {
		snapshot.User = &plugin.Peer{Kind: "user", ID: self.ID, Name: self.Username, Tag: self.Tag}
	}
	return snapshot
}

// BuildChannelSummary aggregates the default account into the host's
// channel status listing.
func (c *DiscordUserConnector) BuildChannelSummary() plugin.ChannelSummary {
	snapshot := c.BuildAccountSnapshot(c.DefaultAccountID())
	return plugin.ChannelSummary{
		Configured:      snapshot.Configured,
		TokenSource:     snapshot.TokenSource,
		Running:         snapshot.Running,
		Connected:       snapshot.Connected,
		LastConnectedAt: snapshot.LastConnectedAt,
		LastError:       snapshot.LastError,
	}
}

// CollectStatusIssues reports per-account operational problems for the
// status surface.
func (c *DiscordUserConnector) CollectStatusIssues(accountID string) []plugin.StatusIssue {
	account := ResolveAccount(c.currentConfig(), accountID)
	var issues []plugin.StatusIssue
	if !account.Configured() {
		issues = append(issues, plugin.StatusIssue{
			Level:   "error",
			Message: fmt.Sprintf("No token for account %s: set %s or channels.%s.token.", account.AccountID, TokenEnvVar, PluginID),
		})
	}
	if !account.Enabled {
		issues = append(issues, plugin.StatusIssue{
			Level:   "info",
			Message: fmt.Sprintf("Account %s is disabled.", account.AccountID),
		})
	}
	snapshot := c.BuildAccountSnapshot(account.AccountID)
	if account.Enabled && account.Configured() && !snapshot.Running {
		issues = append(issues, plugin.StatusIssue{
			Level:   "warn",
			Message: fmt.Sprintf("Account %s is configured but not running.", account.AccountID),
		})
	}
	if snapshot.LastError != "" {
		issues = append(issues, plugin.StatusIssue{
			Level:   "warn",
			Message: fmt.Sprintf("Last session error for %s: %s", account.AccountID, snapshot.LastError),
		})
	}
	return issues
}

// CollectWarnings reports configuration hazards: an effectively open
// group policy and malformed or ambiguous guild rules.
func (c *DiscordUserConnector) CollectWarnings(accountID string) []plugin.StatusIssue {
	cfg := c.currentConfig()
	account := ResolveAccount(cfg, accountID)
	var warnings []plugin.StatusIssue

	// Look at the raw layers: the resolved account always carries a
	// concrete policy, but when neither layer sets one and the host-wide
	// default is open, operators usually expect open behavior and should
	// hear about the mismatch.
	channel := channelConfig(cfg)
	rawPolicy := channel.Accounts[account.AccountID].GroupPolicy
	if rawPolicy == "" {
		rawPolicy = channel.GroupPolicy
	}
	if rawPolicy == "" {
		rawPolicy = cfg.Channels.Defaults.GroupPolicy
	}
	if account.GroupPolicy == GroupPolicyOpen || rawPolicy == GroupPolicyOpen {
		warnings = append(warnings, plugin.StatusIssue{
			Level: "warn",
			Message: fmt.Sprintf(
				"groupPolicy=open for account %s: the agent will respond in any guild channel it can read. Set channels.%s.groupPolicy to \"allowlist\" to restrict it.",
				account.AccountID, PluginID),
		})
	}
	for _, problem := range ValidateGuildRules(account.Guilds) {
		warnings = append(warnings, plugin.StatusIssue{Level: "warn", Message: problem})
	}
	return warnings
}

// ProbeAccount validates the account's token against the Discord API
// without starting a session, returning the identity it authenticates
// as.
func (c *DiscordUserConnector) ProbeAccount(ctx context.Context, accountID string) (*plugin.Peer, error) {
	account := ResolveAccount(c.currentConfig(), accountID)
	self, err := ProbeToken(ctx, account.Token)
	if err != nil {
		return nil, err
	}
	return &plugin.Peer{Kind: "user", ID: self.ID, Name: self.Username, Tag: self.Tag}, nil
}
