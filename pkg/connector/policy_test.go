// Copyright 2024-2026 Aiku AI

package connector

import (
	"testing"

	"go.mau.fi/util/ptr"
)

const (
	testGuild   = "987654321098765432"
	testChannel = "111111111111111111"
	otherChan   = "222222222222222222"
)

func TestGuildMessageAllowed_Disabled(t *testing.T) {
	t.Parallel()
	guilds := map[string]GuildRule{testGuild: {}}
	if GuildMessageAllowed(GroupPolicyDisabled, guilds, testGuild, testChannel) {
		t.Error("disabled policy must deny even explicitly listed guilds")
	}
}

func TestGuildMessageAllowed_EmptyOrigin(t *testing.T) {
	t.Parallel()
	if GuildMessageAllowed(GroupPolicyOpen, nil, "", testChannel) {
		t.Error("empty guild ID must deny")
	}
	if GuildMessageAllowed(GroupPolicyOpen, nil, testGuild, "") {
		t.Error("empty channel ID must deny")
	}
}

func TestGuildMessageAllowed_Open(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		guilds    map[string]GuildRule
		guildID   string
		channelID string
		want      bool
	}{
		{"no rules allows", nil, testGuild, testChannel, true},
		{"unlisted guild allows", map[string]GuildRule{"333333333333333333": {}}, testGuild, testChannel, true},
		{"guild disabled denies", map[string]GuildRule{testGuild: {Enabled: ptr.Ptr(false)}}, testGuild, testChannel, false},
		{"channel excluded denies", map[string]GuildRule{testGuild: {Channels: map[string]bool{testChannel: false}}}, testGuild, testChannel, false},
		{"unlisted channel allows", map[string]GuildRule{testGuild: {Channels: map[string]bool{otherChan: false}}}, testGuild, testChannel, true},
		{"wildcard deny with exact allow", map[string]GuildRule{testGuild: {Channels: map[string]bool{"*": false, testChannel: true}}}, testGuild, testChannel, true},
		{"wildcard deny blocks others", map[string]GuildRule{testGuild: {Channels: map[string]bool{"*": false, testChannel: true}}}, testGuild, otherChan, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := GuildMessageAllowed(GroupPolicyOpen, tt.guilds, tt.guildID, tt.channelID)
			if got != tt.want {
				t.Errorf("GuildMessageAllowed(open) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGuildMessageAllowed_Allowlist(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		guilds    map[string]GuildRule
		guildID   string
		channelID string
		want      bool
	}{
		{"no rules denies", nil, testGuild, testChannel, false},
		{"empty map denies", map[string]GuildRule{}, testGuild, testChannel, false},
		{"unlisted guild denies", map[string]GuildRule{"333333333333333333": {}}, testGuild, testChannel, false},
		{"listed guild no channels allows", map[string]GuildRule{testGuild: {}}, testGuild, testChannel, true},
		{"guild disabled denies", map[string]GuildRule{testGuild: {Enabled: ptr.Ptr(false)}}, testGuild, testChannel, false},
		{"channel allowed", map[string]GuildRule{testGuild: {Channels: map[string]bool{testChannel: true}}}, testGuild, testChannel, true},
		{"channel not listed denies", map[string]GuildRule{testGuild: {Channels: map[string]bool{testChannel: true}}}, testGuild, otherChan, false},
		{"channel explicitly false denies", map[string]GuildRule{testGuild: {Channels: map[string]bool{testChannel: false}}}, testGuild, testChannel, false},
		{"empty channels map denies", map[string]GuildRule{testGuild: {Channels: map[string]bool{}}}, testGuild, testChannel, false},
		{"wildcard allow with exact deny", map[string]GuildRule{testGuild: {Channels: map[string]bool{"*": true, testChannel: false}}}, testGuild, testChannel, false},
		{"wildcard allow admits others", map[string]GuildRule{testGuild: {Channels: map[string]bool{"*": true, testChannel: false}}}, testGuild, otherChan, true},
		{"wildcard guild entry", map[string]GuildRule{"*": {Channels: map[string]bool{testChannel: true}}}, testGuild, testChannel, true},
		{"exact guild beats wildcard", map[string]GuildRule{"*": {}, testGuild: {Enabled: ptr.Ptr(false)}}, testGuild, testChannel, false},
		{"prefixed guild key", map[string]GuildRule{"guild:" + testGuild: {}}, testGuild, testChannel, true},
		{"prefixed channel key", map[string]GuildRule{testGuild: {Channels: map[string]bool{"channel:" + testChannel: true}}}, testGuild, testChannel, true},
		{"channel mention key", map[string]GuildRule{testGuild: {Channels: map[string]bool{"<#" + testChannel + ">": true}}}, testGuild, testChannel, true},
		{"unparseable channel key ignored", map[string]GuildRule{testGuild: {Channels: map[string]bool{"bogus": true}}}, testGuild, testChannel, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := GuildMessageAllowed(GroupPolicyAllowlist, tt.guilds, tt.guildID, tt.channelID)
			if got != tt.want {
				t.Errorf("GuildMessageAllowed(allowlist) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRequireMention(t *testing.T) {
	t.Parallel()
	if RequireMention(GroupPolicyOpen) {
		t.Error("open policy must not require a mention")
	}
	if !RequireMention(GroupPolicyAllowlist) {
		t.Error("allowlist policy must require a mention")
	}
	if !RequireMention(GroupPolicyDisabled) {
		t.Error("disabled policy must require a mention")
	}
}

func TestMessageAuthorized(t *testing.T) {
	t.Parallel()
	account := ResolvedAccount{
		GroupPolicy: GroupPolicyAllowlist,
		Guilds:      map[string]GuildRule{testGuild: {}},
	}

	if !MessageAuthorized(account, true, "", "", false) {
		t.Error("DMs bypass guild and mention gating")
	}
	if !MessageAuthorized(account, false, testGuild, testChannel, true) {
		t.Error("mentioned message in allowed guild should pass")
	}
	if MessageAuthorized(account, false, testGuild, testChannel, false) {
		t.Error("unmentioned message under allowlist should be dropped")
	}
	if MessageAuthorized(account, false, "333333333333333333", testChannel, true) {
		t.Error("message from unlisted guild should be dropped")
	}

	open := ResolvedAccount{GroupPolicy: GroupPolicyOpen}
	if !MessageAuthorized(open, false, testGuild, testChannel, false) {
		t.Error("open policy admits unmentioned messages")
	}
}

func TestValidateGuildRules(t *testing.T) {
	t.Parallel()
	problems := ValidateGuildRules(map[string]GuildRule{
		"bogus": {},
		"*":     {},
		"guild:*": {Channels: map[string]bool{
			"*":         true,
			"channel:*": false,
			"junk":      true,
		}},
	})
	if len(problems) != 4 {
		t.Fatalf("want 4 problems (bad guild key, bad channel key, channel wildcards, guild wildcards), got %d: %v",
			len(problems), problems)
	}

	if got := ValidateGuildRules(nil); got != nil {
		t.Errorf("nil guild map should produce no problems, got %v", got)
	}
	if got := ValidateGuildRules(map[string]GuildRule{testGuild: {Channels: map[string]bool{"*": false}}}); got != nil {
		t.Errorf("single wildcard is fine, got %v", got)
	}
}
