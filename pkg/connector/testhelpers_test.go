// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/aiku/clawdbot-discord-user/pkg/plugin"
)

// recordedCall captures one REST call for test assertions.
type recordedCall struct {
	Method string
	Args   []string
}

// mockSession is an in-memory stand-in for the Discord REST API. It
// records calls and serves canned responses.
type mockSession struct {
	mu    sync.Mutex
	calls []recordedCall

	// Messages maps "channelID/messageID" to canned messages.
	Messages map[string]*discordgo.Message
	// ChannelHistory maps channel ID to the newest-first page served by
	// ChannelMessages.
	ChannelHistory map[string][]*discordgo.Message
	// Channels maps channel ID to channel metadata.
	Channels map[string]*discordgo.Channel
	// DMChannels maps recipient user ID to the DM channel opened for it.
	DMChannels map[string]*discordgo.Channel
	// Guilds is served by UserGuilds.
	Guilds []*discordgo.UserGuild
	// GuildInfos maps guild ID to guild metadata served by Guild.
	GuildInfos map[string]*discordgo.Guild
	// Roles maps guild ID to role list.
	Roles map[string][]*discordgo.Role
	// Err, when set, is returned by every call.
	Err error

	nextID int
}

func newMockSession() *mockSession {
	return &mockSession{
		Messages:       make(map[string]*discordgo.Message),
		ChannelHistory: make(map[string][]*discordgo.Message),
		Channels:       make(map[string]*discordgo.Channel),
		DMChannels:     make(map[string]*discordgo.Channel),
		GuildInfos:     make(map[string]*discordgo.Guild),
		Roles:          make(map[string][]*discordgo.Role),
	}
}

func (m *mockSession) record(method string, args ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, recordedCall{Method: method, Args: args})
}

func (m *mockSession) Calls() []recordedCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]recordedCall, len(m.calls))
	copy(cp, m.calls)
	return cp
}

func (m *mockSession) Called(method string) bool {
	for _, c := range m.Calls() {
		if c.Method == method {
			return true
		}
	}
	return false
}

func (m *mockSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.record("ChannelMessageSendComplex", channelID, data.Content)
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.mu.Unlock()
	return &discordgo.Message{ID: testMessageID(id), ChannelID: channelID, Content: data.Content}, nil
}

func (m *mockSession) ChannelMessageEdit(channelID, messageID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.record("ChannelMessageEdit", channelID, messageID, content)
	if m.Err != nil {
		return nil, m.Err
	}
	return &discordgo.Message{ID: messageID, ChannelID: channelID, Content: content}, nil
}

func (m *mockSession) ChannelMessageDelete(channelID, messageID string, _ ...discordgo.RequestOption) error {
	m.record("ChannelMessageDelete", channelID, messageID)
	return m.Err
}

func (m *mockSession) ChannelMessage(channelID, messageID string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.record("ChannelMessage", channelID, messageID)
	if m.Err != nil {
		return nil, m.Err
	}
	if msg, ok := m.Messages[channelID+"/"+messageID]; ok {
		return msg, nil
	}
	return &discordgo.Message{ID: messageID, ChannelID: channelID}, nil
}

func (m *mockSession) ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, _ ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	m.record("ChannelMessages", channelID, beforeID, afterID, aroundID)
	if m.Err != nil {
		return nil, m.Err
	}
	page := m.ChannelHistory[channelID]
	// Emulate the before cursor over the canned newest-first page.
	if beforeID != "" {
		start := len(page)
		for i, msg := range page {
			if msg.ID == beforeID {
				start = i + 1
				break
			}
		}
		page = page[start:]
	}
	if len(page) > limit {
		page = page[:limit]
	}
	return page, nil
}

func (m *mockSession) ChannelTyping(channelID string, _ ...discordgo.RequestOption) error {
	m.record("ChannelTyping", channelID)
	return m.Err
}

func (m *mockSession) Channel(channelID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	m.record("Channel", channelID)
	if m.Err != nil {
		return nil, m.Err
	}
	if ch, ok := m.Channels[channelID]; ok {
		return ch, nil
	}
	return &discordgo.Channel{ID: channelID, Type: discordgo.ChannelTypeGuildText}, nil
}

func (m *mockSession) MessageReactionAdd(channelID, messageID, emojiID string, _ ...discordgo.RequestOption) error {
	m.record("MessageReactionAdd", channelID, messageID, emojiID)
	return m.Err
}

func (m *mockSession) MessageReactionRemove(channelID, messageID, emojiID, userID string, _ ...discordgo.RequestOption) error {
	m.record("MessageReactionRemove", channelID, messageID, emojiID, userID)
	return m.Err
}

func (m *mockSession) UserChannelCreate(recipientID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	m.record("UserChannelCreate", recipientID)
	if m.Err != nil {
		return nil, m.Err
	}
	if ch, ok := m.DMChannels[recipientID]; ok {
		return ch, nil
	}
	return &discordgo.Channel{ID: "dm-" + recipientID, Type: discordgo.ChannelTypeDM}, nil
}

func (m *mockSession) UserGuilds(limit int, beforeID, afterID string, withCounts bool, _ ...discordgo.RequestOption) ([]*discordgo.UserGuild, error) {
	m.record("UserGuilds")
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Guilds, nil
}

func (m *mockSession) Guild(guildID string, _ ...discordgo.RequestOption) (*discordgo.Guild, error) {
	m.record("Guild", guildID)
	if m.Err != nil {
		return nil, m.Err
	}
	if g, ok := m.GuildInfos[guildID]; ok {
		return g, nil
	}
	return &discordgo.Guild{ID: guildID}, nil
}

func (m *mockSession) GuildLeave(guildID string, _ ...discordgo.RequestOption) error {
	m.record("GuildLeave", guildID)
	return m.Err
}

func (m *mockSession) GuildRoles(guildID string, _ ...discordgo.RequestOption) ([]*discordgo.Role, error) {
	m.record("GuildRoles", guildID)
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Roles[guildID], nil
}

func (m *mockSession) GuildRoleCreate(guildID string, data *discordgo.RoleParams, _ ...discordgo.RequestOption) (*discordgo.Role, error) {
	m.record("GuildRoleCreate", guildID, data.Name)
	if m.Err != nil {
		return nil, m.Err
	}
	return &discordgo.Role{ID: "role-new", Name: data.Name}, nil
}

func (m *mockSession) GuildRoleEdit(guildID, roleID string, data *discordgo.RoleParams, _ ...discordgo.RequestOption) (*discordgo.Role, error) {
	m.record("GuildRoleEdit", guildID, roleID, data.Name)
	if m.Err != nil {
		return nil, m.Err
	}
	return &discordgo.Role{ID: roleID, Name: data.Name}, nil
}

func (m *mockSession) GuildRoleDelete(guildID, roleID string, _ ...discordgo.RequestOption) error {
	m.record("GuildRoleDelete", guildID, roleID)
	return m.Err
}

func (m *mockSession) GuildMemberRoleAdd(guildID, userID, roleID string, _ ...discordgo.RequestOption) error {
	m.record("GuildMemberRoleAdd", guildID, userID, roleID)
	return m.Err
}

func (m *mockSession) GuildMemberRoleRemove(guildID, userID, roleID string, _ ...discordgo.RequestOption) error {
	m.record("GuildMemberRoleRemove", guildID, userID, roleID)
	return m.Err
}

func (m *mockSession) GuildMemberEdit(guildID, userID string, data *discordgo.GuildMemberParams, _ ...discordgo.RequestOption) (*discordgo.Member, error) {
	m.record("GuildMemberEdit", guildID, userID)
	if m.Err != nil {
		return nil, m.Err
	}
	return &discordgo.Member{GuildID: guildID}, nil
}

func (m *mockSession) GuildMemberTimeout(guildID, userID string, until *time.Time, _ ...discordgo.RequestOption) error {
	if until != nil {
		m.record("GuildMemberTimeout", guildID, userID, until.Format(time.RFC3339))
	} else {
		m.record("GuildMemberTimeout", guildID, userID, "clear")
	}
	return m.Err
}

func (m *mockSession) GuildMemberDelete(guildID, userID string, _ ...discordgo.RequestOption) error {
	m.record("GuildMemberDelete", guildID, userID)
	return m.Err
}

func (m *mockSession) GuildBanCreateWithReason(guildID, userID, reason string, days int, _ ...discordgo.RequestOption) error {
	m.record("GuildBanCreateWithReason", guildID, userID, reason)
	return m.Err
}

func (m *mockSession) GuildBanDelete(guildID, userID string, _ ...discordgo.RequestOption) error {
	m.record("GuildBanDelete", guildID, userID)
	return m.Err
}

func (m *mockSession) GuildChannels(guildID string, _ ...discordgo.RequestOption) ([]*discordgo.Channel, error) {
	m.record("GuildChannels", guildID)
	if m.Err != nil {
		return nil, m.Err
	}
	var channels []*discordgo.Channel
	for _, ch := range m.Channels {
		if ch.GuildID == guildID {
			channels = append(channels, ch)
		}
	}
	return channels, nil
}

func (m *mockSession) GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	m.record("GuildChannelCreateComplex", guildID, data.Name)
	if m.Err != nil {
		return nil, m.Err
	}
	return &discordgo.Channel{ID: "chan-new", GuildID: guildID, Name: data.Name, Type: data.Type}, nil
}

func (m *mockSession) ChannelEditComplex(channelID string, data *discordgo.ChannelEdit, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	m.record("ChannelEditComplex", channelID, data.Name)
	if m.Err != nil {
		return nil, m.Err
	}
	return &discordgo.Channel{ID: channelID, Name: data.Name}, nil
}

func (m *mockSession) ChannelDelete(channelID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	m.record("ChannelDelete", channelID)
	if m.Err != nil {
		return nil, m.Err
	}
	return &discordgo.Channel{ID: channelID}, nil
}

func (m *mockSession) InviteAccept(code string, _ ...discordgo.RequestOption) (*discordgo.Invite, error) {
	m.record("InviteAccept", code)
	if m.Err != nil {
		return nil, m.Err
	}
	return &discordgo.Invite{Code: code, Guild: &discordgo.Guild{ID: "joined-guild", Name: "Joined"}}, nil
}

func (m *mockSession) ChannelVoiceJoin(guildID, channelID string, mute, deaf bool) (*discordgo.VoiceConnection, error) {
	m.record("ChannelVoiceJoin", guildID, channelID)
	if m.Err != nil {
		return nil, m.Err
	}
	return &discordgo.VoiceConnection{}, nil
}

func testMessageID(n int) string {
	return "msg-" + string(rune('0'+n%10))
}

// recordingDispatcher captures dispatched envelopes for assertions.
type recordingDispatcher struct {
	mu        sync.Mutex
	envelopes []plugin.Envelope
	// Reply, when set, is invoked with the reply function for each
	// envelope.
	Reply func(ctx context.Context, reply plugin.ReplyFunc)
	// done is closed after each dispatch so tests can wait for the
	// asynchronous pipeline.
	done chan struct{}
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{done: make(chan struct{}, 16)}
}

func (d *recordingDispatcher) DispatchInbound(ctx context.Context, env plugin.Envelope, reply plugin.ReplyFunc) error {
	d.mu.Lock()
	d.envelopes = append(d.envelopes, env)
	d.mu.Unlock()
	if d.Reply != nil {
		d.Reply(ctx, reply)
	}
	d.done <- struct{}{}
	return nil
}

func (d *recordingDispatcher) Envelopes() []plugin.Envelope {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := make([]plugin.Envelope, len(d.envelopes))
	copy(cp, d.envelopes)
	return cp
}

// Wait blocks until one dispatch completes or the timeout elapses.
func (d *recordingDispatcher) Wait(timeout time.Duration) bool {
	select {
	case <-d.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// newTestClient builds a DiscordClient wired to a mock session, without
// a gateway connection.
func newTestClient(accountID string, mock *mockSession, sink EventSink) *DiscordClient {
	if sink == nil {
		sink = &nopSink{}
	}
	return &DiscordClient{
		accountID: accountID,
		rest:      mock,
		sink:      sink,
		log:       zerolog.Nop(),
	}
}

type nopSink struct{}

func (nopSink) HandleReady(string, SelfUser)                   {}
func (nopSink) HandleMessage(string, *discordgo.MessageCreate) {}
func (nopSink) HandleDisconnect(string)                        {}
func (nopSink) HandleError(string, error)                      {}

// newTestConnector builds a connector with a recording dispatcher and
// one running account backed by a mock session.
func newTestConnector(cfg *Config, accountID string, mock *mockSession) (*DiscordUserConnector, *recordingDispatcher) {
	dispatcher := newRecordingDispatcher()
	conn, err := NewConnector(cfg, dispatcher, zerolog.Nop())
	if err != nil {
		panic(err)
	}
	client := newTestClient(accountID, mock, conn.bridge)
	rt := &accountRuntime{client: client}
	rt.markRunning(true)
	rt.markConnected(&SelfUser{ID: "self-id", Username: "selfuser", Tag: "selfuser"})
	conn.registry.Put(accountID, rt)
	return conn, dispatcher
}
