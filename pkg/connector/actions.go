// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/aiku/clawdbot-discord-user/pkg/plugin"
)

// actionFunc executes one administrative action against a running
// client. The returned payload lands in ActionResult.Data.
type actionFunc func(ctx context.Context, c *DiscordUserConnector, client *DiscordClient, account ResolvedAccount, params map[string]any) (any, error)

// actionHandlers is the full action surface of the channel. Keys are
// the action names the host routes by.
var actionHandlers = map[string]actionFunc{
	"react":            actionReact,
	"unreact":          actionUnreact,
	"edit-message":     actionEditMessage,
	"delete-message":   actionDeleteMessage,
	"send-typing":      actionSendTyping,
	"set-status":       actionSetStatus,
	"fetch-messages":   actionFetchMessages,
	"fetch-history":    actionFetchHistory,
	"fetch-message":    actionFetchMessage,
	"channel-info":     actionChannelInfo,
	"list-guilds":      actionListGuilds,
	"leave-guild":      actionLeaveGuild,
	"join-guild":       actionJoinGuild,
	"list-roles":       actionListRoles,
	"create-role":      actionCreateRole,
	"edit-role":        actionEditRole,
	"delete-role":      actionDeleteRole,
	"add-role":         actionAddRole,
	"remove-role":      actionRemoveRole,
	"set-member-roles": actionSetMemberRoles,
	"set-nickname":     actionSetNickname,
	"kick":             actionKick,
	"ban":              actionBan,
	"unban":            actionUnban,
	"timeout":          actionTimeout,
	"list-channels":    actionListChannels,
	"create-channel":   actionCreateChannel,
	"edit-channel":     actionEditChannel,
	"delete-channel":   actionDeleteChannel,
	"join-voice":       actionJoinVoice,
	"leave-voice":      actionLeaveVoice,
	"set-voice-state":  actionSetVoiceState,
	"voice-status":     actionVoiceStatus,
}

// ListActions enumerates the supported action names.
func (c *DiscordUserConnector) ListActions() []string {
	return sortedKeys(actionHandlers)
}

// SupportsAction reports whether the action name is in the dispatch
// table.
func (c *DiscordUserConnector) SupportsAction(action string) bool {
	_, ok := actionHandlers[action]
	return ok
}

// HandleAction routes one administrative action. Failures come back as
// structured results; nothing escapes as a panic or raw error.
func (c *DiscordUserConnector) HandleAction(ctx context.Context, accountID, action string, params map[string]any) (result plugin.ActionResult) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Str("action", action).Interface("panic", r).Msg("Action handler panicked")
			result = plugin.ActionError(fmt.Errorf("action %s failed: %v", action, r))
		}
	}()

	handler, ok := actionHandlers[action]
	if !ok {
		return plugin.ActionError(fmt.Errorf("%w: %q", ErrUnknownAction, action))
	}
	account := ResolveAccount(c.currentConfig(), accountID)
	client := c.registry.Client(account.AccountID)
	if client == nil {
		return plugin.ActionError(fmt.Errorf("%w (account %s)", ErrNotRunning, account.AccountID))
	}
	data, err := handler(ctx, c, client, account, params)
	if err != nil {
		c.log.Warn().Err(err).Str("action", action).Str("account_id", account.AccountID).Msg("Action failed")
		return plugin.ActionError(err)
	}
	return plugin.ActionOK(data)
}

func stringParam(params map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := params[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func requireStringParam(params map[string]any, keys ...string) (string, error) {
	if s := stringParam(params, keys...); s != "" {
		return s, nil
	}
	return "", fmt.Errorf("%w: %s", ErrMissingParameter, keys[0])
}

func intParam(params map[string]any, fallback int, keys ...string) int {
	for _, key := range keys {
		switch v := params[key].(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return fallback
}

func boolParam(params map[string]any, fallback bool, keys ...string) bool {
	for _, key := range keys {
		if v, ok := params[key].(bool); ok {
			return v
		}
	}
	return fallback
}

func channelParam(params map[string]any) (string, error) {
	raw, err := requireStringParam(params, "channelId", "channel")
	if err != nil {
		return "", err
	}
	return RequireChannelID(raw)
}

func guildParam(params map[string]any) (string, error) {
	raw, err := requireStringParam(params, "guildId", "guild")
	if err != nil {
		return "", err
	}
	return RequireGuildID(raw)
}

func userParam(params map[string]any) (string, error) {
	raw, err := requireStringParam(params, "userId", "user")
	if err != nil {
		return "", err
	}
	return RequireUserID(raw)
}

func roleParam(params map[string]any) (string, error) {
	raw, err := requireStringParam(params, "roleId", "role")
	if err != nil {
		return "", err
	}
	return RequireRoleID(raw)
}

// roleListParam decodes and normalizes the roleIds list. An empty list
// is valid and distinct from a missing one.
func roleListParam(params map[string]any) ([]string, error) {
	for _, key := range []string{"roleIds", "roles"} {
		v, ok := params[key]
		if !ok {
			continue
		}
		var raws []string
		switch list := v.(type) {
		case []string:
			raws = list
		case []any:
			for _, item := range list {
				s, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("%w: %v is not a role ID", ErrInvalidIdentifier, item)
				}
				raws = append(raws, s)
			}
		default:
			return nil, fmt.Errorf("%w: %s must be a list", ErrMissingParameter, key)
		}
		ids := make([]string, 0, len(raws))
		for _, raw := range raws {
			id, err := RequireRoleID(raw)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return ids, nil
	}
	return nil, fmt.Errorf("%w: roleIds", ErrMissingParameter)
}

func actionReact(ctx context.Context, _ *DiscordUserConnector, client *DiscordClient, _ ResolvedAccount, params map[string]any) (any, error) {
	channelID, err := channelParam(params)
	if err != nil {
		return nil, err
	}
	messageID, err := requireStringParam(params, "messageId")
	if err != nil {
		return nil, err
	}
	emoji, err := requireStringParam(params, "emoji")
	if err != nil {
		return nil, err
	}
	return nil, client.React(ctx, channelID, messageID, emoji)
}

func actionUnreact(ctx context.Context, _ *DiscordUserConnector, client *DiscordClient, _ ResolvedAccount, params map[string]any) (any, error) {
	channelID, err := channelParam(params)
	if err != nil {
		return nil, err
	}
	messageID, err := requireStringParam(params, "messageId")
	if err != nil {
		return nil, err
	}
	emoji, err := requireStringParam(params, "emoji")
	if err != nil {
		return nil, err
	}
	return nil, client.Unreact(ctx, channelID, messageID, emoji)
}

func actionEditMessage(ctx context.Context, _ *DiscordUserConnector, client *DiscordClient, _ ResolvedAccount, params map[string]any) (any, error) {
	channelID, err := channelParam(params)
	if err != nil {
		return nil, err
	}
	messageID, err := requireStringParam(params, "messageId")
	if err != nil {
		return nil, err
	}
	content, err := requireStringParam(params, "content", "text")
	if err != nil {
		return nil, err
	}
	msg, err := client.EditMessage(ctx, channelID, messageID, content)
	if err != nil {
		return nil, err
	}
	return messagePayload(msg), nil
}

func actionDeleteMessage(ctx context.Context, _ *DiscordUserConnector, client *DiscordClient, _ ResolvedAccount, params map[string]any) (any, error) {
	channelID, err := channelParam(params)
	if err != nil {
		return nil, err
	}
	messageID, err := requireStringParam(params, "messageId")
	if err != nil {
		return nil, err
	}
	return nil, client.DeleteMessage(ctx, channelID, messageID)
}

func actionSendTyping(ctx context.Context, _ *DiscordUserConnector, client *DiscordClient, _ ResolvedAccount, params map[string]any) (any, error) {
	channelID, err := channelParam(params)
	if err != nil {
		return nil, err
	}
	return nil, client.Typing(ctx, channelID)
}

func actionSetStatus(_ context.Context, _ *DiscordUserConnector, client *DiscordClient, _ ResolvedAccount, params map[string]any) (any, error) {
	kind := stringParam(params, "kind", "type")
	text := stringParam(params, "text", "status")
	url := stringParam(params, "url")
	return nil, client.SetStatus(kind, text, url)
}

func actionFetchMessages(ctx context.Context, _ *DiscordUserConnector, client *DiscordClient, account ResolvedAccount, params map[string]any) (any, error) {
	channelID, err := channelParam(params)
	if err != nil {
		return nil, err
	}
	limit := intParam(params, account.HistoryLimit, "limit")
	msgs, err := client.FetchMessages(ctx, channelID, limit,
		stringParam(params, "before"), stringParam(params, "after"), stringParam(params, "around"))
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messagePayload(m))
	}
	return map[string]any{"messages": out}, nil
}

func actionFetchHistory(ctx context.Context, _ *DiscordUserConnector, client *DiscordClient, account ResolvedAccount, params map[string]any) (any, error) {
	channelID, err := channelParam(params)
	if err != nil {
		return nil, err
	}
	limit := intParam(params, account.HistoryLimit, "limit")
	msgs, err := client.FetchHistory(ctx, channelID, limit, stringParam(params, "before"))
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messagePayload(m))
	}
	return map[string]any{"messages": out}, nil
}

func actionFetchMessage(ctx context.Context, _ *DiscordUserConnector, client *DiscordClient, _ ResolvedAccount, params map[string]any) (any, error) {
	channelID, err := channelParam(params)
	if err != nil {
		return nil, err
	}
	messageID, err := requireStringParam(params, "messageId")
	if err != nil {
		return nil, err
	}
	msg, err := client.FetchMessage(ctx, channelID, messageID)
	if err != nil {
		return nil, err
	}
	return messagePayload(msg), nil
}

func actionChannelInfo(ctx context.Context, _ *DiscordUserConnector, client *DiscordClient, _ ResolvedAccount, params map[string]any) (any, error) {
	channelID, err := channelParam(params)
	if err != nil {
		return nil, err
	}
	ch, err := client.ChannelInfo(ctx, channelID)
	if err != nil {
		return nil, err
	}
	return channelPayload(ch), nil
}

func actionListGuilds(ctx context.Context, _ *DiscordUserConnector, client *DiscordClient, _ ResolvedAccount, _ map[string]any) (any, error) {
	guilds, err := client.ListGuilds(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(guilds))
	for _, g := range guilds {
		out = append(out, map[string]any{"id": g.ID, "name": g.Name, "owner": g.Owner})
	}
	return map[string]any{"guilds": out}, nil
}

func actionLeaveGuild(ctx context.Context, _ *DiscordUserConnector, client *DiscordClient, _ ResolvedAccount, params map[string]any) (any, error) {
	guildID, err := guildParam(params)
	if err != nil {
		return nil, err
	}
	return nil, client.LeaveGuild(ctx, guildID)
}

func actionJoinGuild(ctx context.Context, _ *DiscordUserConnector, client *DiscordClient, _ ResolvedAccount, params map[string]any) (any, error) {
	code, err := requireStringParam(params, "invite", "code")
	if err != nil {
		return nil, err
	}
	invite, err := client.AcceptInvite(ctx, code)
	if err != nil {
		return nil, err
	}
	data := map[string]any{"code": code}
	if invite != nil && invite.Guild != nil {
		data["guildId"] = invite.Guild.ID
		data["guildName"] = invite.Guild.Name
	}
	return data, nil
}

func actionListRoles(ctx context.Context, _ *DiscordUserConnector, client *DiscordClient, _ ResolvedAccount, params map[string]any) (any, error) {
	guildID, err := guildParam(params)
	if err != nil {
		return nil, err
	}
	roles, err := client.ListRoles(ctx, guildID)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(roles))
	for _, r := range roles {
		out = append(out, map[string]any{
			"id":       r.ID,
			"name":     r.Name,
			"color":    r.Color,
			"position": r.Position,
		})
	}
	return map[string]any{"roles": out}, nil
}

func roleParamsFrom(params map[string]any) *discordgo.RoleParams {
	rp := &discordgo.RoleParams{Name: stringParam(params, "name")}
	if v, ok := params["color"]; ok {
		color := intParam(map[string]any{"color": v}, 0, "color")
		rp.Color = &color
	}
	if v, ok := params["hoist"].(bool); ok {
		rp.Hoist = &v
	}
	if v, ok := params["mentionable"].(bool); ok {
		rp.Mentionable = &v
	}
	return rp
}

func actionCreateRole(ctx context.Context, _ *DiscordUserConnector, client *DiscordClient, _ ResolvedAccount, params map[string]any) (any, error) {
	guildID, err := guildParam(params)
	if err != nil {
		return nil, err
	}
	if _, err = requireStringParam(params, "name"); err != nil {
		return nil, err
	}
	role, err := client.CreateRole(ctx, guildID, roleParamsFrom(params))
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": role.ID, "name": role.Name}, nil
}

func actionEditRole(ctx context.Context, _ *DiscordUserConnector, client *DiscordClient, _ ResolvedAccount, params map[string]any) (any, error) {
	guildID, err := guildParam(params)
	if err != nil {
		return nil, err
	}
	roleID, err := roleParam(params)
	if err != nil {
		return nil, err
	}
	role, err := client.EditRole(ctx, guildID, roleID, roleParamsFrom(params))
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": role.ID, "name": role.Name}, nil
}

func actionDeleteRole(ctx context.Context, _ *DiscordUserConnector, client *DiscordClient, _ ResolvedAccount, params map[string]any) (any, error) {
	guildID, err := guildParam(params)
	if err != nil {
		return nil, err
	}
	roleID, err := roleParam(params)
	if err != nil {
		return nil, err
	}
	return nil, client.DeleteRole(ctx, guildID, roleID)
}

func actionAddRole(ctx context.Context, _ *DiscordUserConnector, client *DiscordClient, _ ResolvedAccount, params map[string]any) (any, error) {
	guildID, err := guildParam(params)
	if err != nil {
		return nil, err
	}
	userID, err := userParam(params)
	if err != nil {
		return nil, err
	}
	roleID, err := roleParam(params)
	if err != nil {
		return nil, err
	}
	return nil, client.AddRole(ctx, guildID, userID, roleID)
}

func actionRemoveRole(ctx context.Context, _ *DiscordUserConnector, client *DiscordClient, _ ResolvedAccount, params map[string]any) (any, error) {
	guildID, err := guildParam(params)
	if err != nil {
		return nil, err
	}
	userID, err := userParam(params)
	if err != nil {
		return nil, err
	}
	roleID, err := roleParam(params)
	if err != nil {
		return nil, err
	}
	return nil, client.RemoveRole(ctx, guildID, userID, roleID)
}

func actionSetMemberRoles(ctx context.Context, _ *DiscordUserConnector, client *DiscordClient, _ ResolvedAccount, params map[string]any) (any, error) {
	guildID, err := guildParam(params)
	if err != nil {
		return nil, err
	}
	userID, err := userParam(params)
	if err != nil {
		return nil, err
	}
	roleIDs, err := roleListParam(params)
	if err != nil {
		return nil, err
	}
	return nil, client.SetMemberRoles(ctx, guildID, userID, roleIDs)
}

func actionSetNickname(ctx context.Context, _ *DiscordUserConnector, client *DiscordClient, _ ResolvedAccount, params map[string]any) (any, error) {
	guildID, err := guildParam(params)
	if err != nil {
		return nil, err
	}
	userID := "@me"
	if raw := stringParam(params, "userId", "user"); raw != "" {
		userID, err = RequireUserID(raw)
		if err != nil {
			return nil, err
		}
	}
	return nil, client.SetNickname(ctx, guildID, userID, stringParam(params, "nick", "nickname"))
}

func actionKick(ctx context.Context, _ *DiscordUserConnector, client *DiscordClient, _ ResolvedAccount, params map[string]any) (any, error) {
	guildID, err := guildParam(params)
	if err != nil {
		return nil, err
	}
	userID, err := userParam(params)
	if err != nil {
		return nil, err
	}
	return nil, client.Kick(ctx, guildID, userID)
}

func actionBan(ctx context.Context, _ *DiscordUserConnector, client *DiscordClient, _ ResolvedAccount, params map[string]any) (any, error) {
	guildID, err := guildParam(params)
	if err != nil {
		return nil, err
	}
	userID, err := userParam(params)
	if err != nil {
		return nil, err
	}
	return nil, client.Ban(ctx, guildID, userID, stringParam(params, "reason"), intParam(params, 0, "deleteDays", "days"))
}

func actionUnban(ctx context.Context, _ *DiscordUserConnector, client *DiscordClient, _ ResolvedAccount, params map[string]any) (any, error) {
	guildID, err := guildParam(params)
	if err != nil {
		return nil, err
	}
	userID, err := userParam(params)
	if err != nil {
		return nil, err
	}
	return nil, client.Unban(ctx, guildID, userID)
}

func actionTimeout(ctx context.Context, _ *DiscordUserConnector, client *DiscordClient, _ ResolvedAccount, params map[string]any) (any, error) {
	guildID, err := guildParam(params)
	if err != nil {
		return nil, err
	}
	userID, err := userParam(params)
	if err != nil {
		return nil, err
	}
	// Zero minutes clears an existing timeout.
	var until *time.Time
	if minutes := intParam(params, 0, "durationMinutes", "minutes"); minutes > 0 {
		t := time.Now().UTC().Add(time.Duration(minutes) * time.Minute)
		until = &t
	}
	return nil, client.Timeout(ctx, guildID, userID, until)
}

func actionListChannels(ctx context.Context, _ *DiscordUserConnector, client *DiscordClient, _ ResolvedAccount, params map[string]any) (any, error) {
	guildID, err := guildParam(params)
	if err != nil {
		return nil, err
	}
	channels, err := client.ListChannels(ctx, guildID)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(channels))
	for _, ch := range channels {
		out = append(out, channelPayload(ch))
	}
	return map[string]any{"channels": out}, nil
}

func actionCreateChannel(ctx context.Context, _ *DiscordUserConnector, client *DiscordClient, _ ResolvedAccount, params map[string]any) (any, error) {
	guildID, err := guildParam(params)
	if err != nil {
		return nil, err
	}
	name, err := requireStringParam(params, "name")
	if err != nil {
		return nil, err
	}
	chType := discordgo.ChannelTypeGuildText
	if stringParam(params, "type") == "voice" {
		chType = discordgo.ChannelTypeGuildVoice
	}
	ch, err := client.CreateChannel(ctx, guildID, discordgo.GuildChannelCreateData{
		Name:     name,
		Type:     chType,
		Topic:    stringParam(params, "topic"),
		ParentID: stringParam(params, "parentId"),
	})
	if err != nil {
		return nil, err
	}
	return channelPayload(ch), nil
}

func actionEditChannel(ctx context.Context, _ *DiscordUserConnector, client *DiscordClient, _ ResolvedAccount, params map[string]any) (any, error) {
	channelID, err := channelParam(params)
	if err != nil {
		return nil, err
	}
	edit := &discordgo.ChannelEdit{}
	patched := false
	if name := stringParam(params, "name"); name != "" {
		edit.Name = name
		patched = true
	}
	if topic := stringParam(params, "topic"); topic != "" {
		edit.Topic = topic
		patched = true
	}
	if parent := stringParam(params, "parentId", "parent"); parent != "" {
		parentID, err := RequireChannelID(parent)
		if err != nil {
			return nil, err
		}
		edit.ParentID = parentID
		patched = true
	}
	if v, ok := params["nsfw"].(bool); ok {
		edit.NSFW = &v
		patched = true
	}
	if _, ok := params["position"]; ok {
		position := intParam(params, 0, "position")
		edit.Position = &position
		patched = true
	}
	if _, ok := params["rateLimitPerUser"]; ok {
		rateLimit := intParam(params, 0, "rateLimitPerUser")
		edit.RateLimitPerUser = &rateLimit
		patched = true
	}
	if _, ok := params["bitrate"]; ok {
		edit.Bitrate = intParam(params, 0, "bitrate")
		patched = true
	}
	if _, ok := params["userLimit"]; ok {
		edit.UserLimit = intParam(params, 0, "userLimit")
		patched = true
	}
	if !patched {
		return nil, fmt.Errorf("%w: no editable channel fields", ErrMissingParameter)
	}
	ch, err := client.EditChannel(ctx, channelID, edit)
	if err != nil {
		return nil, err
	}
	return channelPayload(ch), nil
}

func actionDeleteChannel(ctx context.Context, _ *DiscordUserConnector, client *DiscordClient, _ ResolvedAccount, params map[string]any) (any, error) {
	channelID, err := channelParam(params)
	if err != nil {
		return nil, err
	}
	return nil, client.DeleteChannel(ctx, channelID)
}

func actionJoinVoice(_ context.Context, _ *DiscordUserConnector, client *DiscordClient, _ ResolvedAccount, params map[string]any) (any, error) {
	guildID, err := guildParam(params)
	if err != nil {
		return nil, err
	}
	channelID, err := channelParam(params)
	if err != nil {
		return nil, err
	}
	mute := boolParam(params, true, "mute")
	deaf := boolParam(params, true, "deaf")
	return nil, client.JoinVoice(guildID, channelID, mute, deaf)
}

func actionLeaveVoice(_ context.Context, _ *DiscordUserConnector, client *DiscordClient, _ ResolvedAccount, params map[string]any) (any, error) {
	guildID, err := guildParam(params)
	if err != nil {
		return nil, err
	}
	return nil, client.LeaveVoice(guildID)
}

func actionSetVoiceState(_ context.Context, _ *DiscordUserConnector, client *DiscordClient, _ ResolvedAccount, params map[string]any) (any, error) {
	guildID, err := guildParam(params)
	if err != nil {
		return nil, err
	}
	mute := boolParam(params, false, "mute", "selfMute")
	deaf := boolParam(params, false, "deaf", "selfDeaf")
	return nil, client.SetVoiceState(guildID, mute, deaf)
}

func actionVoiceStatus(_ context.Context, _ *DiscordUserConnector, client *DiscordClient, _ ResolvedAccount, _ map[string]any) (any, error) {
	return map[string]any{"connectedGuilds": client.VoiceStatus()}, nil
}

func messagePayload(m *discordgo.Message) map[string]any {
	if m == nil {
		return nil
	}
	payload := map[string]any{
		"id":        m.ID,
		"channelId": m.ChannelID,
		"content":   m.Content,
		"timestamp": m.Timestamp,
	}
	if m.Author != nil {
		payload["authorId"] = m.Author.ID
		payload["authorName"] = m.Author.Username
	}
	return payload
}

func channelPayload(ch *discordgo.Channel) map[string]any {
	if ch == nil {
		return nil
	}
	return map[string]any{
		"id":       ch.ID,
		"name":     ch.Name,
		"type":     int(ch.Type),
		"guildId":  ch.GuildID,
		"topic":    ch.Topic,
		"parentId": ch.ParentID,
		"isThread": ch.IsThread(),
	}
}
