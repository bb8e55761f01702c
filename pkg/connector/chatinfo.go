// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/aiku/clawdbot-discord-user/pkg/plugin"
)

// dmChannelToPeer converts a DM or group-DM channel into a directory
// peer. Returns nil for channels that are neither.
func dmChannelToPeer(ch *discordgo.Channel) *plugin.Peer {
	if ch == nil {
		return nil
	}
	switch ch.Type {
	case discordgo.ChannelTypeDM:
		for _, recipient := range ch.Recipients {
			if recipient == nil {
				continue
			}
			return &plugin.Peer{
				Kind: "user",
				ID:   recipient.ID,
				Name: recipient.Username,
				Tag:  userTag(recipient),
			}
		}
		return nil
	case discordgo.ChannelTypeGroupDM:
		name := ch.Name
		if name == "" {
			name = "Group DM"
		}
		return &plugin.Peer{Kind: "group", ID: ch.ID, Name: name}
	default:
		return nil
	}
}

// guildToPeer converts a guild membership into a directory group entry.
func guildToPeer(g *discordgo.UserGuild) *plugin.Peer {
	if g == nil {
		return nil
	}
	return &plugin.Peer{Kind: "guild", ID: g.ID, Name: g.Name}
}

// ListPeers enumerates the account's open direct conversations for the
// host's contact directory.
func (c *DiscordUserConnector) ListPeers(ctx context.Context, accountID string) ([]plugin.Peer, error) {
	if accountID == "" {
		accountID = c.DefaultAccountID()
	}
	client := c.registry.Client(accountID)
	if client == nil {
		return nil, fmt.Errorf("%w (account %s)", ErrNotRunning, accountID)
	}
	channels, err := client.ListDMs()
	if err != nil {
		return nil, err
	}
	peers := make([]plugin.Peer, 0, len(channels))
	for _, ch := range channels {
		if peer := dmChannelToPeer(ch); peer != nil {
			peers = append(peers, *peer)
		}
	}
	return peers, nil
}

// ListGroups enumerates the account's guilds for the host's group
// directory.
func (c *DiscordUserConnector) ListGroups(ctx context.Context, accountID string) ([]plugin.Peer, error) {
	if accountID == "" {
		accountID = c.DefaultAccountID()
	}
	client := c.registry.Client(accountID)
	if client == nil {
		return nil, fmt.Errorf("%w (account %s)", ErrNotRunning, accountID)
	}
	guilds, err := client.ListGuilds(ctx)
	if err != nil {
		return nil, err
	}
	groups := make([]plugin.Peer, 0, len(guilds))
	for _, g := range guilds {
		if peer := guildToPeer(g); peer != nil {
			groups = append(groups, *peer)
		}
	}
	return groups, nil
}
