// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"
	"sort"

	"github.com/bwmarrin/discordgo"
)

// historyPageSize is Discord's per-request cap on channel history.
const historyPageSize = 100

// FetchHistory pages backwards through a channel's history until
// maxCount messages are collected or the channel is exhausted, and
// returns them oldest first. System messages (joins, pins, boosts) are
// skipped. An empty beforeID starts from the newest message.
func (c *DiscordClient) FetchHistory(ctx context.Context, channelID string, maxCount int, beforeID string) ([]*discordgo.Message, error) {
	if maxCount <= 0 {
		maxCount = historyPageSize
	}

	var collected []*discordgo.Message
	cursor := beforeID
	for len(collected) < maxCount {
		perPage := maxCount - len(collected)
		if perPage > historyPageSize {
			perPage = historyPageSize
		}
		page, err := c.rest.ChannelMessages(channelID, perPage, cursor, "", "", discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("failed to fetch history for %s: %w", channelID, err)
		}
		if len(page) == 0 {
			break
		}
		for _, msg := range page {
			if msg == nil {
				continue
			}
			if msg.Type != discordgo.MessageTypeDefault && msg.Type != discordgo.MessageTypeReply {
				continue
			}
			collected = append(collected, msg)
		}
		// Pages come newest first; the last entry is the next cursor.
		cursor = page[len(page)-1].ID
		if len(page) < perPage {
			break
		}
	}

	if len(collected) > maxCount {
		collected = collected[:maxCount]
	}
	sort.Slice(collected, func(i, j int) bool {
		return collected[i].Timestamp.Before(collected[j].Timestamp)
	})
	return collected, nil
}
