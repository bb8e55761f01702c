// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/aiku/clawdbot-discord-user/pkg/connector/discordfmt"
	"github.com/aiku/clawdbot-discord-user/pkg/plugin"
)

// thinkingPlaceholder is posted while the agent works on a reply and
// deleted once the real answer lands.
const thinkingPlaceholder = "…"

// dispatchTimeout bounds one inbound dispatch round trip.
const dispatchTimeout = 5 * time.Minute

// inboundBridge turns raw gateway events into host envelopes. It
// resolves the account configuration fresh for every message so config
// edits take effect without a session restart.
type inboundBridge struct {
	config     func() *Config
	dispatcher plugin.Dispatcher
	registry   *Registry
	log        zerolog.Logger
}

var _ EventSink = (*inboundBridge)(nil)

func newInboundBridge(config func() *Config, dispatcher plugin.Dispatcher, registry *Registry, log zerolog.Logger) *inboundBridge {
	return &inboundBridge{
		config:     config,
		dispatcher: dispatcher,
		registry:   registry,
		log:        log.With().Str("component", "inbound_bridge").Logger(),
	}
}

func (b *inboundBridge) HandleReady(accountID string, self SelfUser) {
	if rt := b.registry.Get(accountID); rt != nil {
		rt.markConnected(&self)
	}
}

func (b *inboundBridge) HandleDisconnect(accountID string) {
	if rt := b.registry.Get(accountID); rt != nil {
		rt.markDisconnected()
	}
}

func (b *inboundBridge) HandleError(accountID string, err error) {
	if rt := b.registry.Get(accountID); rt != nil {
		rt.recordError(err)
	}
}

// HandleMessage gates one inbound message and, when admitted, forwards
// it to the host dispatcher. Runs on the gateway event goroutine; the
// dispatch itself is handed off so a slow agent never stalls the
// websocket reader.
func (b *inboundBridge) HandleMessage(accountID string, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil || m.Author == nil {
		return
	}
	log := b.log.With().
		Str("account_id", accountID).
		Str("channel_id", m.ChannelID).
		Str("message_id", m.ID).
		Logger()

	rt := b.registry.Get(accountID)
	if rt == nil {
		log.Debug().Msg("Dropping message for unknown account")
		return
	}
	_, _, _, _, self := rt.snapshot()
	if self != nil && m.Author.ID == self.ID {
		return
	}

	account := ResolveAccount(b.config(), accountID)
	if !account.Enabled {
		log.Debug().Msg("Dropping message for disabled account")
		return
	}

	isDM := m.GuildID == ""
	mentioned := messageMentions(m.Message, self)
	if !MessageAuthorized(account, isDM, m.GuildID, m.ChannelID, mentioned) {
		log.Debug().
			Str("guild_id", m.GuildID).
			Bool("mentioned", mentioned).
			Msg("Message rejected by access policy")
		return
	}

	client := b.registry.Client(accountID)
	if client == nil {
		log.Warn().Msg("Admitted message but no running client")
		return
	}

	env := plugin.Envelope{
		Channel:   PluginID,
		AccountID: accountID,
		Message:   b.messageToInbound(client, m, isDM),
	}
	go b.dispatch(log, client, env, m)
}

// dispatch posts the typing indicator and thinking placeholder, then
// hands the envelope to the host. The placeholder is cleaned up on the
// first reply, or after dispatch returns without one.
func (b *inboundBridge) dispatch(log zerolog.Logger, client *DiscordClient, env plugin.Envelope, m *discordgo.MessageCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	if err := client.Typing(ctx, m.ChannelID); err != nil {
		log.Debug().Err(err).Msg("Failed to send typing indicator")
	}
	var placeholderID string
	if ph, err := client.SendText(ctx, m.ChannelID, thinkingPlaceholder, m.ID); err != nil {
		log.Debug().Err(err).Msg("Failed to post placeholder")
	} else if ph != nil {
		placeholderID = ph.ID
	}

	var cleanup sync.Once
	deletePlaceholder := func(ctx context.Context) {
		if placeholderID == "" {
			return
		}
		cleanup.Do(func() {
			if err := client.DeleteMessage(ctx, m.ChannelID, placeholderID); err != nil {
				log.Debug().Err(err).Msg("Failed to delete placeholder")
			}
		})
	}

	reply := func(ctx context.Context, text string) error {
		deletePlaceholder(ctx)
		_, err := client.SendText(ctx, m.ChannelID, text, m.ID)
		return err
	}

	if err := b.dispatcher.DispatchInbound(ctx, env, reply); err != nil {
		log.Error().Err(err).Msg("Inbound dispatch failed")
	}
	deletePlaceholder(ctx)
}

// messageToInbound normalizes a gateway message into the host's shape.
// Channel metadata is enriched best-effort; a failed lookup degrades to
// bare IDs rather than dropping the message.
func (b *inboundBridge) messageToInbound(client *DiscordClient, m *discordgo.MessageCreate, isDM bool) plugin.InboundMessage {
	msg := plugin.InboundMessage{
		ID:          m.ID,
		ChannelID:   m.ChannelID,
		GuildID:     m.GuildID,
		AuthorID:    m.Author.ID,
		AuthorName:  m.Author.Username,
		AuthorTag:   userTag(m.Author),
		Content:     discordfmt.ReplaceMentions(m.Content, m.Mentions),
		Timestamp:   m.Timestamp,
		Attachments: []plugin.Attachment{},
		Mentions:    []plugin.Mention{},
		IsBot:       m.Author.Bot,
		IsDM:        isDM,
	}
	if m.MessageReference != nil {
		msg.ReplyToID = m.MessageReference.MessageID
	}
	for _, a := range m.Attachments {
		if a == nil {
			continue
		}
		msg.Attachments = append(msg.Attachments, plugin.Attachment{
			ID:          a.ID,
			URL:         a.URL,
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Size:        a.Size,
		})
	}
	for _, u := range m.Mentions {
		if u == nil {
			continue
		}
		msg.Mentions = append(msg.Mentions, plugin.Mention{ID: u.ID, Username: u.Username})
	}
	if !isDM {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if ch, err := client.ChannelInfo(ctx, m.ChannelID); err == nil && ch != nil {
			msg.ChannelName = ch.Name
			if ch.IsThread() {
				msg.IsThread = true
				msg.ThreadName = ch.Name
			}
		}
		if g, err := client.GuildInfo(ctx, m.GuildID); err == nil && g != nil {
			msg.GuildName = g.Name
		}
	}
	return msg
}

// messageMentions reports whether the message addresses the account: an
// explicit user mention, or a reply to one of the account's messages.
func messageMentions(m *discordgo.Message, self *SelfUser) bool {
	if self == nil {
		return false
	}
	for _, u := range m.Mentions {
		if u != nil && u.ID == self.ID {
			return true
		}
	}
	if m.ReferencedMessage != nil && m.ReferencedMessage.Author != nil {
		return m.ReferencedMessage.Author.ID == self.ID
	}
	return false
}
