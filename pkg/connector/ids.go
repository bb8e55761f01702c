// Copyright 2024-2026 Aiku AI

package connector

import (
	"fmt"
	"regexp"
	"strings"
)

// Wildcard is the rule-map key meaning "any entity not otherwise
// listed". It is a distinct sentinel, never a valid snowflake, and only
// accepted by the *Key normalizers.
const Wildcard = "*"

// Discord snowflakes are 64-bit integers transmitted as decimal digit
// strings; every current ID falls in the 17-20 digit range.
var (
	snowflakeRegex      = regexp.MustCompile(`^[0-9]{17,20}$`)
	userMentionRegex    = regexp.MustCompile(`^<@!?([0-9]{17,20})>$`)
	channelMentionRegex = regexp.MustCompile(`^<#([0-9]{17,20})>$`)
	roleMentionRegex    = regexp.MustCompile(`^<@&([0-9]{17,20})>$`)
)

// normalizeID strips an optional mention wrapper and known prefixes from
// raw identifier text and returns the canonical snowflake. Prefixes must
// be listed longest first so "discord-user:" wins over "discord:".
// Returns ok=false for anything that is not a snowflake afterwards.
func normalizeID(raw string, mention *regexp.Regexp, prefixes ...string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	if mention != nil {
		if m := mention.FindStringSubmatch(s); m != nil {
			return m[1], true
		}
	}
	lower := strings.ToLower(s)
	for _, p := range prefixes {
		if strings.HasPrefix(lower, p+":") {
			s = strings.TrimSpace(s[len(p)+1:])
			break
		}
	}
	if snowflakeRegex.MatchString(s) {
		return s, true
	}
	return "", false
}

// normalizeKey is normalizeID extended with wildcard support for rule-map
// keys: the literal "*", bare or behind a recognized prefix, normalizes
// to Wildcard.
func normalizeKey(raw string, mention *regexp.Regexp, prefixes ...string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == Wildcard {
		return Wildcard, true
	}
	lower := strings.ToLower(s)
	for _, p := range prefixes {
		if strings.HasPrefix(lower, p+":") && strings.TrimSpace(lower[len(p)+1:]) == Wildcard {
			return Wildcard, true
		}
	}
	return normalizeID(raw, mention, prefixes...)
}

// NormalizeUserID canonicalizes user identifier text: a raw snowflake, a
// <@id> or <@!id> mention, or a discord-user:/discord:/user: prefixed
// form.
func NormalizeUserID(raw string) (string, bool) {
	return normalizeID(raw, userMentionRegex, "discord-user", "discord", "user")
}

// NormalizeChannelID canonicalizes channel identifier text: a raw
// snowflake, a <#id> mention, or a channel:/group: prefixed form.
func NormalizeChannelID(raw string) (string, bool) {
	return normalizeID(raw, channelMentionRegex, "channel", "group")
}

// NormalizeGuildID canonicalizes guild identifier text: a raw snowflake
// or a guild:/server: prefixed form.
func NormalizeGuildID(raw string) (string, bool) {
	return normalizeID(raw, nil, "guild", "server")
}

// NormalizeRoleID canonicalizes role identifier text: a raw snowflake, a
// <@&id> mention, or a role: prefixed form.
func NormalizeRoleID(raw string) (string, bool) {
	return normalizeID(raw, roleMentionRegex, "role")
}

// NormalizeGuildKey is NormalizeGuildID plus wildcard acceptance, for
// guild rule-map keys.
func NormalizeGuildKey(raw string) (string, bool) {
	return normalizeKey(raw, nil, "guild", "server")
}

// NormalizeChannelKey is NormalizeChannelID plus wildcard acceptance,
// for channel rule-map keys.
func NormalizeChannelKey(raw string) (string, bool) {
	return normalizeKey(raw, channelMentionRegex, "channel", "group")
}

// NormalizeAllowEntry canonicalizes an allowFrom entry. Wildcard entries
// are accepted and mean "any sender".
func NormalizeAllowEntry(raw string) (string, bool) {
	return normalizeKey(raw, userMentionRegex, "discord-user", "discord", "user")
}

// RequireUserID is the action-context variant of NormalizeUserID: a
// malformed identifier is the caller's error, not a policy fallback.
func RequireUserID(raw string) (string, error) {
	id, ok := NormalizeUserID(raw)
	if !ok {
		return "", fmt.Errorf("%w: %q is not a user ID", ErrInvalidIdentifier, raw)
	}
	return id, nil
}

// RequireChannelID is the action-context variant of NormalizeChannelID.
func RequireChannelID(raw string) (string, error) {
	id, ok := NormalizeChannelID(raw)
	if !ok {
		return "", fmt.Errorf("%w: %q is not a channel ID", ErrInvalidIdentifier, raw)
	}
	return id, nil
}

// RequireGuildID is the action-context variant of NormalizeGuildID.
func RequireGuildID(raw string) (string, error) {
	id, ok := NormalizeGuildID(raw)
	if !ok {
		return "", fmt.Errorf("%w: %q is not a guild ID", ErrInvalidIdentifier, raw)
	}
	return id, nil
}

// RequireRoleID is the action-context variant of NormalizeRoleID.
func RequireRoleID(raw string) (string, error) {
	id, ok := NormalizeRoleID(raw)
	if !ok {
		return "", fmt.Errorf("%w: %q is not a role ID", ErrInvalidIdentifier, raw)
	}
	return id, nil
}
