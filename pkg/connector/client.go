// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/aiku/clawdbot-discord-user/pkg/connector/discordfmt"
)

// mediaFetchTimeout bounds the download of an outbound attachment.
const mediaFetchTimeout = 60 * time.Second

// SelfUser identifies the account a session is authenticated as.
type SelfUser struct {
	ID       string
	Username string
	Tag      string
}

// session is the slice of the Discord REST surface this connector uses.
// *discordgo.Session satisfies it; tests substitute a mock.
type session interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
	MessageReactionRemove(channelID, messageID, emojiID, userID string, options ...discordgo.RequestOption) error
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	UserGuilds(limit int, beforeID, afterID string, withCounts bool, options ...discordgo.RequestOption) ([]*discordgo.UserGuild, error)
	Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)
	GuildLeave(guildID string, options ...discordgo.RequestOption) error
	GuildRoles(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Role, error)
	GuildRoleCreate(guildID string, data *discordgo.RoleParams, options ...discordgo.RequestOption) (*discordgo.Role, error)
	GuildRoleEdit(guildID, roleID string, data *discordgo.RoleParams, options ...discordgo.RequestOption) (*discordgo.Role, error)
	GuildRoleDelete(guildID, roleID string, options ...discordgo.RequestOption) error
	GuildMemberRoleAdd(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	GuildMemberRoleRemove(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	GuildMemberEdit(guildID, userID string, data *discordgo.GuildMemberParams, options ...discordgo.RequestOption) (*discordgo.Member, error)
	GuildMemberTimeout(guildID, userID string, until *time.Time, options ...discordgo.RequestOption) error
	GuildMemberDelete(guildID, userID string, options ...discordgo.RequestOption) error
	GuildBanCreateWithReason(guildID, userID, reason string, days int, options ...discordgo.RequestOption) error
	GuildBanDelete(guildID, userID string, options ...discordgo.RequestOption) error
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelEditComplex(channelID string, data *discordgo.ChannelEdit, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelDelete(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	InviteAccept(code string, options ...discordgo.RequestOption) (*discordgo.Invite, error)
	ChannelVoiceJoin(guildID, channelID string, mute, deaf bool) (*discordgo.VoiceConnection, error)
}

// EventSink receives gateway events from a client. The inbound bridge
// implements it; tests substitute recorders.
type EventSink interface {
	HandleReady(accountID string, self SelfUser)
	HandleMessage(accountID string, msg *discordgo.MessageCreate)
	HandleDisconnect(accountID string)
	HandleError(accountID string, err error)
}

// DiscordClient wraps one authenticated user-account gateway session.
// REST calls go through the narrow session interface; gateway lifecycle
// and presence updates use the underlying *discordgo.Session.
type DiscordClient struct {
	accountID string
	rest      session
	gw        *discordgo.Session
	sink      EventSink
	log       zerolog.Logger
	httpc     *http.Client
}

// NewDiscordClient builds a client for a user-account token. The token
// is passed verbatim: user accounts authenticate without the "Bot "
// prefix bots use. The session is not opened until Start.
func NewDiscordClient(accountID, token string, sink EventSink, log zerolog.Logger) (*DiscordClient, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrNoToken
	}
	if sink == nil {
		return nil, fmt.Errorf("event sink must be provided")
	}
	gw, err := discordgo.New(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	// Present as a first-party desktop client; the default identify
	// properties advertise a library and get user accounts flagged.
	gw.Identify.Properties = discordgo.IdentifyProperties{
		OS:      "Windows",
		Browser: "Discord Client",
		Device:  "",
	}
	return &DiscordClient{
		accountID: accountID,
		rest:      gw,
		gw:        gw,
		sink:      sink,
		log:       log.With().Str("component", "discord_client").Str("account_id", accountID).Logger(),
		httpc:     &http.Client{Timeout: mediaFetchTimeout},
	}, nil
}

// Start registers gateway handlers and opens the websocket connection.
func (c *DiscordClient) Start(ctx context.Context) error {
	if c.gw == nil {
		return ErrNotRunning
	}
	c.gw.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		self := SelfUser{}
		if r.User != nil {
			self = SelfUser{
				ID:       r.User.ID,
				Username: r.User.Username,
				Tag:      userTag(r.User),
			}
		}
		c.log.Info().Str("user_id", self.ID).Str("username", self.Username).Msg("Gateway ready")
		c.sink.HandleReady(c.accountID, self)
	})
	c.gw.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		c.sink.HandleMessage(c.accountID, m)
	})
	c.gw.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		c.log.Warn().Msg("Gateway disconnected")
		c.sink.HandleDisconnect(c.accountID)
	})
	if err := c.gw.Open(); err != nil {
		c.sink.HandleError(c.accountID, err)
		return fmt.Errorf("failed to open discord gateway: %w", err)
	}
	return nil
}

// Stop closes the gateway connection. Safe to call on a never-started
// client.
func (c *DiscordClient) Stop() error {
	if c.gw == nil {
		return nil
	}
	return c.gw.Close()
}

// Self returns the authenticated user as known to the gateway state.
func (c *DiscordClient) Self() *SelfUser {
	if c.gw == nil || c.gw.State == nil || c.gw.State.User == nil {
		return nil
	}
	u := c.gw.State.User
	return &SelfUser{ID: u.ID, Username: u.Username, Tag: userTag(u)}
}

// ListDMs enumerates the account's open DM and group-DM channels from
// gateway state; the Ready payload for user accounts carries them.
func (c *DiscordClient) ListDMs() ([]*discordgo.Channel, error) {
	if c.gw == nil || c.gw.State == nil {
		return nil, ErrNotRunning
	}
	c.gw.State.RLock()
	channels := make([]*discordgo.Channel, len(c.gw.State.PrivateChannels))
	copy(channels, c.gw.State.PrivateChannels)
	c.gw.State.RUnlock()
	return channels, nil
}

// CreateDM opens (or reuses) the direct-message channel with a user and
// returns its channel ID.
func (c *DiscordClient) CreateDM(ctx context.Context, userID string) (string, error) {
	ch, err := c.rest.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to open DM with %s: %w", userID, err)
	}
	return ch.ID, nil
}

// SendText delivers content to a channel, splitting at Discord's length
// cap. When replyToID is set the first chunk is sent as a reply. The
// last created message is returned. Empty content is a no-op: the API
// rejects bodiless messages without an attachment.
func (c *DiscordClient) SendText(ctx context.Context, channelID, content, replyToID string) (*discordgo.Message, error) {
	chunks := discordfmt.Chunk(content, discordfmt.MaxMessageLength)
	if len(chunks) == 0 {
		return nil, nil
	}
	var last *discordgo.Message
	for i, chunk := range chunks {
		data := &discordgo.MessageSend{Content: chunk}
		if i == 0 && replyToID != "" {
			data.Reference = &discordgo.MessageReference{MessageID: replyToID, ChannelID: channelID}
		}
		msg, err := c.rest.ChannelMessageSendComplex(channelID, data, discordgo.WithContext(ctx))
		if err != nil {
			return last, fmt.Errorf("failed to send message to %s: %w", channelID, err)
		}
		last = msg
	}
	return last, nil
}

// SendMedia downloads mediaURL (subject to maxBytes) and delivers it as
// an attachment with optional caption text.
func (c *DiscordClient) SendMedia(ctx context.Context, channelID, content, mediaURL, replyToID string, maxBytes int64) (*discordgo.Message, error) {
	body, filename, contentType, err := c.fetchMedia(ctx, mediaURL, maxBytes)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data := &discordgo.MessageSend{
		Content: discordfmt.Truncate(content, discordfmt.MaxMessageLength),
		Files: []*discordgo.File{{
			Name:        filename,
			ContentType: contentType,
			Reader:      body,
		}},
	}
	if replyToID != "" {
		data.Reference = &discordgo.MessageReference{MessageID: replyToID, ChannelID: channelID}
	}
	msg, err := c.rest.ChannelMessageSendComplex(channelID, data, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to send media to %s: %w", channelID, err)
	}
	return msg, nil
}

func (c *DiscordClient) fetchMedia(ctx context.Context, mediaURL string, maxBytes int64) (io.ReadCloser, string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, "", "", fmt.Errorf("invalid media URL: %w", err)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, "", "", fmt.Errorf("failed to fetch media: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, "", "", fmt.Errorf("failed to fetch media: unexpected status %d", resp.StatusCode)
	}
	if maxBytes > 0 && resp.ContentLength > maxBytes {
		resp.Body.Close()
		return nil, "", "", fmt.Errorf("media exceeds %d byte limit", maxBytes)
	}

	limited := io.Reader(resp.Body)
	if maxBytes > 0 {
		buf, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
		resp.Body.Close()
		if err != nil {
			return nil, "", "", fmt.Errorf("failed to read media: %w", err)
		}
		if int64(len(buf)) > maxBytes {
			return nil, "", "", fmt.Errorf("media exceeds %d byte limit", maxBytes)
		}
		limited = strings.NewReader(string(buf))
	}

	contentType := resp.Header.Get("Content-Type")
	filename := mediaFilename(mediaURL, contentType)
	return io.NopCloser(limited), filename, contentType, nil
}

// mediaFilename derives an attachment name from the URL path, falling
// back to a content-type extension when the path has none.
func mediaFilename(mediaURL, contentType string) string {
	name := path.Base(strings.SplitN(mediaURL, "?", 2)[0])
	if name == "" || name == "." || name == "/" {
		name = "attachment"
	}
	if path.Ext(name) == "" && contentType != "" {
		if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
			name += exts[0]
		}
	}
	return name
}

// React adds an emoji reaction to a message.
func (c *DiscordClient) React(ctx context.Context, channelID, messageID, emoji string) error {
	return c.rest.MessageReactionAdd(channelID, messageID, emoji, discordgo.WithContext(ctx))
}

// Unreact removes the account's own reaction from a message.
func (c *DiscordClient) Unreact(ctx context.Context, channelID, messageID, emoji string) error {
	return c.rest.MessageReactionRemove(channelID, messageID, emoji, "@me", discordgo.WithContext(ctx))
}

// EditMessage rewrites the content of a message the account authored.
func (c *DiscordClient) EditMessage(ctx context.Context, channelID, messageID, content string) (*discordgo.Message, error) {
	return c.rest.ChannelMessageEdit(channelID, messageID, discordfmt.Truncate(content, discordfmt.MaxMessageLength), discordgo.WithContext(ctx))
}

// DeleteMessage removes a message.
func (c *DiscordClient) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return c.rest.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx))
}

// Typing posts a typing indicator to a channel. The indicator expires
// server-side after a few seconds.
func (c *DiscordClient) Typing(ctx context.Context, channelID string) error {
	return c.rest.ChannelTyping(channelID, discordgo.WithContext(ctx))
}

// FetchMessages pages a channel's recent history. Exactly one of
// before/after/around may be set.
func (c *DiscordClient) FetchMessages(ctx context.Context, channelID string, limit int, before, after, around string) ([]*discordgo.Message, error) {
	return c.rest.ChannelMessages(channelID, limit, before, after, around, discordgo.WithContext(ctx))
}

// FetchMessage retrieves a single message.
func (c *DiscordClient) FetchMessage(ctx context.Context, channelID, messageID string) (*discordgo.Message, error) {
	return c.rest.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
}

// ChannelInfo retrieves channel metadata.
func (c *DiscordClient) ChannelInfo(ctx context.Context, channelID string) (*discordgo.Channel, error) {
	return c.rest.Channel(channelID, discordgo.WithContext(ctx))
}

// SetStatus publishes a presence activity. Kind is one of "playing",
// "watching", "listening" or "streaming"; empty text clears the
// activity.
func (c *DiscordClient) SetStatus(kind, text, url string) error {
	if c.gw == nil {
		return ErrNotRunning
	}
	switch kind {
	case "", "playing":
		return c.gw.UpdateGameStatus(0, text)
	case "watching":
		return c.gw.UpdateWatchStatus(0, text)
	case "listening":
		return c.gw.UpdateListeningStatus(text)
	case "streaming":
		return c.gw.UpdateStreamingStatus(0, text, url)
	default:
		return fmt.Errorf("unknown activity kind %q", kind)
	}
}

// ListGuilds enumerates the guilds the account belongs to.
func (c *DiscordClient) ListGuilds(ctx context.Context) ([]*discordgo.UserGuild, error) {
	return c.rest.UserGuilds(200, "", "", false, discordgo.WithContext(ctx))
}

// GuildInfo retrieves guild metadata.
func (c *DiscordClient) GuildInfo(ctx context.Context, guildID string) (*discordgo.Guild, error) {
	return c.rest.Guild(guildID, discordgo.WithContext(ctx))
}

// LeaveGuild removes the account from a guild.
func (c *DiscordClient) LeaveGuild(ctx context.Context, guildID string) error {
	return c.rest.GuildLeave(guildID, discordgo.WithContext(ctx))
}

// AcceptInvite joins a guild via an invite code.
func (c *DiscordClient) AcceptInvite(ctx context.Context, code string) (*discordgo.Invite, error) {
	return c.rest.InviteAccept(code, discordgo.WithContext(ctx))
}

// ListRoles enumerates a guild's roles.
func (c *DiscordClient) ListRoles(ctx context.Context, guildID string) ([]*discordgo.Role, error) {
	return c.rest.GuildRoles(guildID, discordgo.WithContext(ctx))
}

// CreateRole adds a role to a guild.
func (c *DiscordClient) CreateRole(ctx context.Context, guildID string, params *discordgo.RoleParams) (*discordgo.Role, error) {
	return c.rest.GuildRoleCreate(guildID, params, discordgo.WithContext(ctx))
}

// EditRole updates a guild role.
func (c *DiscordClient) EditRole(ctx context.Context, guildID, roleID string, params *discordgo.RoleParams) (*discordgo.Role, error) {
	return c.rest.GuildRoleEdit(guildID, roleID, params, discordgo.WithContext(ctx))
}

// DeleteRole removes a guild role.
func (c *DiscordClient) DeleteRole(ctx context.Context, guildID, roleID string) error {
	return c.rest.GuildRoleDelete(guildID, roleID, discordgo.WithContext(ctx))
}

// AddRole assigns a role to a guild member.
func (c *DiscordClient) AddRole(ctx context.Context, guildID, userID, roleID string) error {
	return c.rest.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx))
}

// RemoveRole removes a role from a guild member.
func (c *DiscordClient) RemoveRole(ctx context.Context, guildID, userID, roleID string) error {
	return c.rest.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithContext(ctx))
}

// SetMemberRoles replaces a member's role set wholesale. An empty slice
// strips every role.
func (c *DiscordClient) SetMemberRoles(ctx context.Context, guildID, userID string, roleIDs []string) error {
	_, err := c.rest.GuildMemberEdit(guildID, userID, &discordgo.GuildMemberParams{Roles: &roleIDs}, discordgo.WithContext(ctx))
	return err
}

// SetNickname changes a member's nickname. userID "@me" targets the
// account itself.
func (c *DiscordClient) SetNickname(ctx context.Context, guildID, userID, nick string) error {
	_, err := c.rest.GuildMemberEdit(guildID, userID, &discordgo.GuildMemberParams{Nick: nick}, discordgo.WithContext(ctx))
	return err
}

// Kick removes a member from a guild.
func (c *DiscordClient) Kick(ctx context.Context, guildID, userID string) error {
	return c.rest.GuildMemberDelete(guildID, userID, discordgo.WithContext(ctx))
}

// Ban bans a user from a guild, optionally deleting their recent
// messages.
func (c *DiscordClient) Ban(ctx context.Context, guildID, userID, reason string, deleteDays int) error {
	return c.rest.GuildBanCreateWithReason(guildID, userID, reason, deleteDays, discordgo.WithContext(ctx))
}

// Unban lifts a guild ban.
func (c *DiscordClient) Unban(ctx context.Context, guildID, userID string) error {
	return c.rest.GuildBanDelete(guildID, userID, discordgo.WithContext(ctx))
}

// Timeout sets a member's communication-disabled-until timestamp. A nil
// until clears an existing timeout.
func (c *DiscordClient) Timeout(ctx context.Context, guildID, userID string, until *time.Time) error {
	return c.rest.GuildMemberTimeout(guildID, userID, until, discordgo.WithContext(ctx))
}

// ListChannels enumerates a guild's channels.
func (c *DiscordClient) ListChannels(ctx context.Context, guildID string) ([]*discordgo.Channel, error) {
	return c.rest.GuildChannels(guildID, discordgo.WithContext(ctx))
}

// CreateChannel adds a channel to a guild.
func (c *DiscordClient) CreateChannel(ctx context.Context, guildID string, data discordgo.GuildChannelCreateData) (*discordgo.Channel, error) {
	return c.rest.GuildChannelCreateComplex(guildID, data, discordgo.WithContext(ctx))
}

// EditChannel updates channel settings.
func (c *DiscordClient) EditChannel(ctx context.Context, channelID string, data *discordgo.ChannelEdit) (*discordgo.Channel, error) {
	return c.rest.ChannelEditComplex(channelID, data, discordgo.WithContext(ctx))
}

// DeleteChannel removes a channel.
func (c *DiscordClient) DeleteChannel(ctx context.Context, channelID string) error {
	_, err := c.rest.ChannelDelete(channelID, discordgo.WithContext(ctx))
	return err
}

// JoinVoice connects the account to a guild voice channel.
func (c *DiscordClient) JoinVoice(guildID, channelID string, mute, deaf bool) error {
	_, err := c.rest.ChannelVoiceJoin(guildID, channelID, mute, deaf)
	return err
}

// LeaveVoice disconnects the account from a guild's voice channel.
func (c *DiscordClient) LeaveVoice(guildID string) error {
	vc, err := c.voiceConnection(guildID)
	if err != nil {
		return err
	}
	return vc.Disconnect()
}

// SetVoiceState updates the mute/deaf flags of an active voice
// connection by re-issuing the voice state update for its channel.
func (c *DiscordClient) SetVoiceState(guildID string, mute, deaf bool) error {
	vc, err := c.voiceConnection(guildID)
	if err != nil {
		return err
	}
	vc.RLock()
	channelID := vc.ChannelID
	vc.RUnlock()
	_, err = c.rest.ChannelVoiceJoin(guildID, channelID, mute, deaf)
	return err
}

// voiceConnection looks up the guild's voice connection. The gateway
// mutates VoiceConnections from its event goroutine, so reads take the
// session lock.
func (c *DiscordClient) voiceConnection(guildID string) (*discordgo.VoiceConnection, error) {
	if c.gw == nil {
		return nil, ErrNotRunning
	}
	c.gw.RLock()
	vc := c.gw.VoiceConnections[guildID]
	c.gw.RUnlock()
	if vc == nil {
		return nil, fmt.Errorf("no voice connection in guild %s", guildID)
	}
	return vc, nil
}

// VoiceStatus lists guild IDs with an active voice connection.
func (c *DiscordClient) VoiceStatus() []string {
	if c.gw == nil {
		return nil
	}
	c.gw.RLock()
	guilds := make([]string, 0, len(c.gw.VoiceConnections))
	for guildID := range c.gw.VoiceConnections {
		guilds = append(guilds, guildID)
	}
	c.gw.RUnlock()
	return guilds
}

// ProbeToken validates a token by fetching the account identity over
// REST, without opening a gateway session.
func ProbeToken(ctx context.Context, token string) (*SelfUser, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrNoToken
	}
	s, err := discordgo.New(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	u, err := s.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("token check failed: %w", err)
	}
	return &SelfUser{ID: u.ID, Username: u.Username, Tag: userTag(u)}, nil
}

// userTag renders the legacy name#discriminator form, or the bare
// username for accounts migrated to unique usernames.
func userTag(u *discordgo.User) string {
	if u == nil {
		return ""
	}
	if u.Discriminator == "" || u.Discriminator == "0" {
		return u.Username
	}
	return u.Username + "#" + u.Discriminator
}

