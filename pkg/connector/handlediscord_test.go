// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"go.mau.fi/util/ptr"

	"github.com/aiku/clawdbot-discord-user/pkg/plugin"
)

const dispatchWait = 2 * time.Second

func openConfig() *Config {
	return &Config{Channels: ChannelsConfig{DiscordUser: ChannelConfig{
		AccountConfig: AccountConfig{
			Token:       "tok",
			GroupPolicy: GroupPolicyOpen,
		},
	}}}
}

func guildMessage(authorID, guildID, channelID, content string) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "inbound-1",
		ChannelID: channelID,
		GuildID:   guildID,
		Content:   content,
		Timestamp: time.Now(),
		Author:    &discordgo.User{ID: authorID, Username: "sender", Discriminator: "0"},
	}}
}

func dmMessage(authorID, content string) *discordgo.MessageCreate {
	return guildMessage(authorID, "", "dm-chan", content)
}

func TestHandleMessage_DMDispatched(t *testing.T) {
	mock := newMockSession()
	conn, dispatcher := newTestConnector(openConfig(), DefaultAccountID, mock)

	conn.bridge.HandleMessage(DefaultAccountID, dmMessage("user-1", "hi there"))

	if !dispatcher.Wait(dispatchWait) {
		t.Fatal("message was never dispatched")
	}
	envs := dispatcher.Envelopes()
	if len(envs) != 1 {
		t.Fatalf("got %d envelopes", len(envs))
	}
	env := envs[0]
	if env.Channel != PluginID || env.AccountID != DefaultAccountID {
		t.Errorf("envelope origin = %q/%q", env.Channel, env.AccountID)
	}
	msg := env.Message
	if !msg.IsDM || msg.GuildID != "" || msg.Content != "hi there" || msg.AuthorID != "user-1" {
		t.Errorf("message = %+v", msg)
	}
}

func TestHandleMessage_SelfSkipped(t *testing.T) {
	mock := newMockSession()
	conn, dispatcher := newTestConnector(openConfig(), DefaultAccountID, mock)

	// The test runtime's self user is "self-id".
	conn.bridge.HandleMessage(DefaultAccountID, dmMessage("self-id", "talking to myself"))

	if dispatcher.Wait(100 * time.Millisecond) {
		t.Fatal("own message must never be dispatched")
	}
}

func TestHandleMessage_DisabledAccountDropped(t *testing.T) {
	cfg := openConfig()
	cfg.Channels.DiscordUser.Enabled = ptr.Ptr(false)
	mock := newMockSession()
	conn, dispatcher := newTestConnector(cfg, DefaultAccountID, mock)

	conn.bridge.HandleMessage(DefaultAccountID, dmMessage("user-1", "hello"))

	if dispatcher.Wait(100 * time.Millisecond) {
		t.Fatal("disabled account must drop messages")
	}
}

func TestHandleMessage_GuildGating(t *testing.T) {
	cfg := &Config{Channels: ChannelsConfig{DiscordUser: ChannelConfig{
		AccountConfig: AccountConfig{
			Token:       "tok",
			GroupPolicy: GroupPolicyAllowlist,
			Guilds:      map[string]GuildRule{testGuild: {}},
		},
	}}}
	mock := newMockSession()
	conn, dispatcher := newTestConnector(cfg, DefaultAccountID, mock)

	// Allowed guild but no mention: allowlist requires a mention.
	conn.bridge.HandleMessage(DefaultAccountID, guildMessage("user-1", testGuild, testChannel, "hello"))
	if dispatcher.Wait(100 * time.Millisecond) {
		t.Fatal("unmentioned guild message must be dropped under allowlist")
	}

	// Mentioned in an allowed guild: dispatched.
	msg := guildMessage("user-1", testGuild, testChannel, "<@self-id> hello")
	msg.Mentions = []*discordgo.User{{ID: "self-id", Username: "selfuser"}}
	conn.bridge.HandleMessage(DefaultAccountID, msg)
	if !dispatcher.Wait(dispatchWait) {
		t.Fatal("mentioned message in allowed guild should dispatch")
	}

	// Mentioned in an unlisted guild: dropped.
	msg = guildMessage("user-1", "333333333333333333", testChannel, "<@self-id> hello")
	msg.Mentions = []*discordgo.User{{ID: "self-id", Username: "selfuser"}}
	conn.bridge.HandleMessage(DefaultAccountID, msg)
	if dispatcher.Wait(100 * time.Millisecond) {
		t.Fatal("message from unlisted guild must be dropped")
	}
}

func TestHandleMessage_ReplyCountsAsMention(t *testing.T) {
	cfg := &Config{Channels: ChannelsConfig{DiscordUser: ChannelConfig{
		AccountConfig: AccountConfig{
			Token:       "tok",
			GroupPolicy: GroupPolicyAllowlist,
			Guilds:      map[string]GuildRule{testGuild: {}},
		},
	}}}
	mock := newMockSession()
	conn, dispatcher := newTestConnector(cfg, DefaultAccountID, mock)

	msg := guildMessage("user-1", testGuild, testChannel, "replying to you")
	msg.ReferencedMessage = &discordgo.Message{
		ID:     "orig-1",
		Author: &discordgo.User{ID: "self-id"},
	}
	conn.bridge.HandleMessage(DefaultAccountID, msg)
	if !dispatcher.Wait(dispatchWait) {
		t.Fatal("a reply to the account's message should count as a mention")
	}
}

func TestHandleMessage_PlaceholderLifecycle(t *testing.T) {
	mock := newMockSession()
	cfg := openConfig()
	dispatcher := newRecordingDispatcher()
	dispatcher.Reply = func(ctx context.Context, reply plugin.ReplyFunc) {
		if err := reply(ctx, "the answer"); err != nil {
			t.Errorf("reply: %v", err)
		}
	}
	conn, err := NewConnector(cfg, dispatcher, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewConnector: %v", err)
	}
	client := newTestClient(DefaultAccountID, mock, conn.bridge)
	rt := &accountRuntime{client: client}
	rt.markRunning(true)
	rt.markConnected(&SelfUser{ID: "self-id", Username: "selfuser"})
	conn.registry.Put(DefaultAccountID, rt)

	conn.bridge.HandleMessage(DefaultAccountID, dmMessage("user-1", "question"))
	if !dispatcher.Wait(dispatchWait) {
		t.Fatal("message was never dispatched")
	}

	// Expect: typing, placeholder send, placeholder delete, reply send.
	var sends, deletes int
	for _, call := range mock.Calls() {
		switch call.Method {
		case "ChannelMessageSendComplex":
			sends++
		case "ChannelMessageDelete":
			deletes++
		}
	}
	if sends != 2 {
		t.Errorf("want placeholder + reply sends, got %d", sends)
	}
	if deletes != 1 {
		t.Errorf("want exactly one placeholder delete, got %d", deletes)
	}
	if !mock.Called("ChannelTyping") {
		t.Error("typing indicator was never sent")
	}
}

func TestHandleMessage_GuildMetadataEnriched(t *testing.T) {
	mock := newMockSession()
	mock.Channels[testChannel] = &discordgo.Channel{
		ID:      testChannel,
		GuildID: testGuild,
		Name:    "general",
		Type:    discordgo.ChannelTypeGuildText,
	}
	mock.GuildInfos[testGuild] = &discordgo.Guild{ID: testGuild, Name: "Test Guild"}
	conn, dispatcher := newTestConnector(openConfig(), DefaultAccountID, mock)

	conn.bridge.HandleMessage(DefaultAccountID, guildMessage("user-1", testGuild, testChannel, "hello"))
	if !dispatcher.Wait(dispatchWait) {
		t.Fatal("message was never dispatched")
	}
	got := dispatcher.Envelopes()[0].Message
	if got.ChannelName != "general" {
		t.Errorf("ChannelName = %q", got.ChannelName)
	}
	if got.GuildName != "Test Guild" {
		t.Errorf("GuildName = %q", got.GuildName)
	}
}

func TestHandleMessage_MentionsReplacedInContent(t *testing.T) {
	mock := newMockSession()
	conn, dispatcher := newTestConnector(openConfig(), DefaultAccountID, mock)

	msg := dmMessage("user-1", "hey <@444444444444444444>, look")
	msg.Mentions = []*discordgo.User{{ID: "444444444444444444", Username: "bob"}}
	conn.bridge.HandleMessage(DefaultAccountID, msg)

	if !dispatcher.Wait(dispatchWait) {
		t.Fatal("message was never dispatched")
	}
	got := dispatcher.Envelopes()[0].Message
	if got.Content != "hey @bob, look" {
		t.Errorf("Content = %q", got.Content)
	}
	if len(got.Mentions) != 1 || got.Mentions[0].ID != "444444444444444444" {
		t.Errorf("Mentions = %+v", got.Mentions)
	}
}

func TestHandleMessage_ConfigHotReload(t *testing.T) {
	mock := newMockSession()
	conn, dispatcher := newTestConnector(openConfig(), DefaultAccountID, mock)

	conn.bridge.HandleMessage(DefaultAccountID, dmMessage("user-1", "first"))
	if !dispatcher.Wait(dispatchWait) {
		t.Fatal("first message should dispatch")
	}

	disabled := openConfig()
	disabled.Channels.DiscordUser.Enabled = ptr.Ptr(false)
	conn.ReplaceConfig(disabled)

	conn.bridge.HandleMessage(DefaultAccountID, dmMessage("user-1", "second"))
	if dispatcher.Wait(100 * time.Millisecond) {
		t.Fatal("config reload should apply to the next message")
	}
}

func TestHandleReadyAndDisconnect(t *testing.T) {
	mock := newMockSession()
	conn, _ := newTestConnector(openConfig(), DefaultAccountID, mock)

	conn.bridge.HandleDisconnect(DefaultAccountID)
	_, connected, _, _, _ := conn.registry.Get(DefaultAccountID).snapshot()
	if connected {
		t.Error("disconnect should clear connected")
	}

	conn.bridge.HandleReady(DefaultAccountID, SelfUser{ID: "self-id", Username: "selfuser"})
	_, connected, lastConnectedAt, _, _ := conn.registry.Get(DefaultAccountID).snapshot()
	if !connected || lastConnectedAt == nil {
		t.Error("ready should mark connected with a timestamp")
	}
}
