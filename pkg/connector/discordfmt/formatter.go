// Copyright 2024-2026 Aiku AI

// Package discordfmt converts Discord wire-format message content into
// text suitable for an agent prompt, and splits outbound text at
// Discord's message length cap.
package discordfmt

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
)

// MaxMessageLength is Discord's hard cap on message content.
const MaxMessageLength = 2000

var (
	userMentionRegex = regexp.MustCompile(`<@!?([0-9]{17,20})>`)
	roleMentionRegex = regexp.MustCompile(`<@&[0-9]{17,20}>`)
)

// ReplaceMentions rewrites <@id> and <@!id> tokens as @username using
// the mention list the gateway delivered with the message. Mentions of
// users not in the list are left untouched.
func ReplaceMentions(content string, mentions []*discordgo.User) string {
	if content == "" || len(mentions) == 0 {
		return content
	}
	names := make(map[string]string, len(mentions))
	for _, u := range mentions {
		if u != nil {
			names[u.ID] = u.Username
		}
	}
	return userMentionRegex.ReplaceAllStringFunc(content, func(token string) string {
		id := userMentionRegex.FindStringSubmatch(token)[1]
		if name, ok := names[id]; ok {
			return "@" + name
		}
		return token
	})
}

// StripMention removes mention tokens for one user (typically the
// account itself) and collapses the surrounding whitespace.
func StripMention(content, userID string) string {
	if content == "" || userID == "" {
		return content
	}
	stripped := strings.ReplaceAll(content, "<@"+userID+">", "")
	stripped = strings.ReplaceAll(stripped, "<@!"+userID+">", "")
	return strings.TrimSpace(strings.Join(strings.Fields(stripped), " "))
}

// StripRoleMentions removes all role mention tokens.
func StripRoleMentions(content string) string {
	return roleMentionRegex.ReplaceAllString(content, "")
}

// Chunk splits content into pieces no longer than limit bytes,
// preferring newline boundaries and never cutting inside a UTF-8 rune.
// Empty content yields no chunks.
func Chunk(content string, limit int) []string {
	if limit <= 0 {
		limit = MaxMessageLength
	}
	if content == "" {
		return nil
	}
	var chunks []string
	remaining := content
	for len(remaining) > limit {
		cut := limit
		if idx := strings.LastIndex(remaining[:limit], "\n"); idx > 0 {
			cut = idx
		} else {
			cut = runeBoundary(remaining, limit)
			if cut == 0 {
				// A single rune wider than the limit; emit it whole.
				_, size := utf8.DecodeRuneInString(remaining)
				cut = size
			}
		}
		chunks = append(chunks, remaining[:cut])
		remaining = strings.TrimLeft(remaining[cut:], "\n")
	}
	if remaining != "" {
		chunks = append(chunks, remaining)
	}
	return chunks
}

// Truncate caps content at limit bytes, backing up to the nearest rune
// boundary.
func Truncate(content string, limit int) string {
	if limit <= 0 {
		limit = MaxMessageLength
	}
	if len(content) <= limit {
		return content
	}
	return content[:runeBoundary(content, limit)]
}

// runeBoundary backs cut up until s[:cut] ends on a complete rune.
func runeBoundary(s string, cut int) int {
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return cut
}
