// Copyright 2024-2026 Aiku AI

package connector

import (
	"fmt"
	"sort"
)

// DMPolicy governs which direct-message senders may trigger dispatch.
// The DM gate itself is applied by the host; the connector only resolves
// and reports the policy.
type DMPolicy string

const (
	DMPolicyOpen      DMPolicy = "open"
	DMPolicyPairing   DMPolicy = "pairing"
	DMPolicyAllowlist DMPolicy = "allowlist"
)

// GroupPolicy governs which guild channels and threads may trigger
// dispatch.
type GroupPolicy string

const (
	// GroupPolicyOpen admits any guild channel unless explicitly
	// excluded: trust by default, block specific channels.
	GroupPolicyOpen GroupPolicy = "open"
	// GroupPolicyAllowlist denies everything not explicitly included:
	// deny by default, open specific channels.
	GroupPolicyAllowlist GroupPolicy = "allowlist"
	// GroupPolicyDisabled denies all guild traffic unconditionally.
	GroupPolicyDisabled GroupPolicy = "disabled"
)

// GuildMessageAllowed is the single decision point for whether an
// inbound guild message may be forwarded to the agent. It is a pure
// function of the resolved policy, the guild rule map and the message's
// guild/channel origin; mention gating is applied separately.
func GuildMessageAllowed(policy GroupPolicy, guilds map[string]GuildRule, guildID, channelID string) bool {
	// A message with no guild or channel origin never reaches
	// guild-gating logic.
	if guildID == "" || channelID == "" {
		return false
	}
	if policy == GroupPolicyDisabled {
		return false
	}

	rule, found := lookupGuildRule(guilds, guildID)

	if policy == GroupPolicyOpen {
		if !found {
			return true
		}
		if rule.Enabled != nil && !*rule.Enabled {
			return false
		}
		return resolveChannelAllowed(rule.Channels, channelID, true)
	}

	// Allowlist: nothing configured denies everything.
	if len(guilds) == 0 || !found {
		return false
	}
	if rule.Enabled != nil && !*rule.Enabled {
		return false
	}
	// A guild entry without channel narrowing is a guild-level allow.
	if rule.Channels == nil {
		return true
	}
	return resolveChannelAllowed(rule.Channels, channelID, false)
}

// resolveChannelAllowed resolves the per-channel boolean for channelID
// in a rule map. An exact key match always overrides a wildcard entry
// regardless of where either appears in the map; with neither present
// the fallback applies.
func resolveChannelAllowed(channels map[string]bool, channelID string, fallback bool) bool {
	if len(channels) == 0 {
		return fallback
	}
	for _, key := range sortedKeys(channels) {
		if norm, ok := NormalizeChannelKey(key); ok && norm == channelID {
			return channels[key]
		}
	}
	if allowed, ok := channels[Wildcard]; ok {
		return allowed
	}
	for _, key := range sortedKeys(channels) {
		if norm, ok := NormalizeChannelKey(key); ok && norm == Wildcard {
			return channels[key]
		}
	}
	return fallback
}

// lookupGuildRule finds the rule for guildID: an exact normalized key
// match wins, then a wildcard-keyed entry. The literal "*" key takes
// precedence over prefixed wildcard forms; remaining ties resolve in
// key order. Go maps carry no insertion order, so the tie-break is
// deterministic rather than first-written-wins.
func lookupGuildRule(guilds map[string]GuildRule, guildID string) (GuildRule, bool) {
	if len(guilds) == 0 {
		return GuildRule{}, false
	}
	keys := sortedKeys(guilds)
	for _, key := range keys {
		if norm, ok := NormalizeGuildKey(key); ok && norm == guildID {
			return guilds[key], true
		}
	}
	if rule, ok := guilds[Wildcard]; ok {
		return rule, true
	}
	for _, key := range keys {
		if norm, ok := NormalizeGuildKey(key); ok && norm == Wildcard {
			return guilds[key], true
		}
	}
	return GuildRule{}, false
}

// RequireMention reports whether non-DM messages must mention the
// account before they are forwarded. DMs are never mention-gated.
func RequireMention(policy GroupPolicy) bool {
	return policy != GroupPolicyOpen
}

// MessageAuthorized combines guild gating and mention gating for one
// inbound message. DMs pass unconditionally here; the DM policy is
// enforced upstream by the host.
func MessageAuthorized(account ResolvedAccount, isDM bool, guildID, channelID string, mentioned bool) bool {
	if isDM {
		return true
	}
	if !GuildMessageAllowed(account.GroupPolicy, account.Guilds, guildID, channelID) {
		return false
	}
	if RequireMention(account.GroupPolicy) && !mentioned {
		return false
	}
	return true
}

// ValidateGuildRules reports config-level problems in a guild rule map:
// unparseable keys and maps with more than one effective wildcard entry.
// The wildcard ambiguity is a configuration error rather than a silent
// tie-break surprise.
func ValidateGuildRules(guilds map[string]GuildRule) []string {
	var problems []string
	wildcards := 0
	for _, key := range sortedKeys(guilds) {
		norm, ok := NormalizeGuildKey(key)
		if !ok {
			problems = append(problems, fmt.Sprintf("guild key %q is not a guild ID or wildcard", key))
			continue
		}
		if norm == Wildcard {
			wildcards++
		}
		chWildcards := 0
		for _, chKey := range sortedKeys(guilds[key].Channels) {
			chNorm, chOK := NormalizeChannelKey(chKey)
			if !chOK {
				problems = append(problems, fmt.Sprintf("channel key %q under guild %q is not a channel ID or wildcard", chKey, key))
				continue
			}
			if chNorm == Wildcard {
				chWildcards++
			}
		}
		if chWildcards > 1 {
			problems = append(problems, fmt.Sprintf("guild %q has %d wildcard channel entries; only one is honored", key, chWildcards))
		}
	}
	if wildcards > 1 {
		problems = append(problems, fmt.Sprintf("guild map has %d wildcard entries; only one is honored", wildcards))
	}
	return problems
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
