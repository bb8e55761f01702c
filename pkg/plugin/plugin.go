// Copyright 2024-2026 Aiku AI

// Package plugin defines the channel-plugin contract between the host
// chatbot runtime and channel integrations. A channel integration (such
// as the Discord user-account connector in pkg/connector) implements
// [Channel]; the host implements [Dispatcher] and hands it to the
// integration at construction time. The integration never probes for
// host internals at runtime: a missing Dispatcher is a construction
// error, not a silent no-op.
package plugin

import (
	"context"
	"time"
)

// Meta describes a channel integration for directory and docs surfaces.
type Meta struct {
	ID             string   `json:"id"`
	Label          string   `json:"label"`
	SelectionLabel string   `json:"selectionLabel,omitempty"`
	DocsPath       string   `json:"docsPath,omitempty"`
	Blurb          string   `json:"blurb,omitempty"`
	Aliases        []string `json:"aliases,omitempty"`
}

// Capabilities advertises what a channel integration can do so the host
// can route features accordingly.
type Capabilities struct {
	ChatTypes      []string `json:"chatTypes"`
	Polls          bool     `json:"polls"`
	Reactions      bool     `json:"reactions"`
	Threads        bool     `json:"threads"`
	Media          bool     `json:"media"`
	NativeCommands bool     `json:"nativeCommands"`
}

// Attachment is a normalized inbound file attachment.
type Attachment struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType,omitempty"`
	Size        int    `json:"size"`
}

// Mention identifies a user mentioned in an inbound message.
type Mention struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// InboundMessage is the normalized record a channel integration builds
// from a raw network event before handing it to the host.
type InboundMessage struct {
	ID          string       `json:"id"`
	ChannelID   string       `json:"channelId"`
	GuildID     string       `json:"guildId,omitempty"`
	AuthorID    string       `json:"authorId"`
	AuthorName  string       `json:"authorName"`
	AuthorTag   string       `json:"authorTag"`
	Content     string       `json:"content"`
	Timestamp   time.Time    `json:"timestamp"`
	ReplyToID   string       `json:"replyToId,omitempty"`
	Attachments []Attachment `json:"attachments"`
	Mentions    []Mention    `json:"mentions"`
	IsBot       bool         `json:"isBot"`
	IsDM        bool         `json:"isDM"`
	IsThread    bool         `json:"isThread"`
	ThreadName  string       `json:"threadName,omitempty"`
	GuildName   string       `json:"guildName,omitempty"`
	ChannelName string       `json:"channelName,omitempty"`
}

// Envelope wraps an inbound message with its channel and account origin.
type Envelope struct {
	Channel   string         `json:"channel"`
	AccountID string         `json:"accountId"`
	Message   InboundMessage `json:"message"`
}

// ReplyFunc delivers a reply back to the conversation an envelope came
// from. The integration owns delivery details (chunking, reply
// threading, placeholder cleanup).
type ReplyFunc func(ctx context.Context, text string) error

// Dispatcher is the host's inbound pipeline. Implementations decide
// whether and how to answer; they call reply zero or more times.
type Dispatcher interface {
	DispatchInbound(ctx context.Context, env Envelope, reply ReplyFunc) error
}

// SendResult reports the outcome of an outbound send.
type SendResult struct {
	Channel   string `json:"channel"`
	OK        bool   `json:"ok"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ActionResult is the structured outcome of an administrative action.
// Integrations return it instead of propagating errors across the
// plugin boundary.
type ActionResult struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// ActionOK builds a successful ActionResult with optional payload.
func ActionOK(data any) ActionResult {
	return ActionResult{OK: true, Data: data}
}

// ActionError builds a failed ActionResult from an error.
func ActionError(err error) ActionResult {
	return ActionResult{OK: false, Error: err.Error()}
}

// StatusIssue is an operator-facing problem detected during status
// collection. Level is "error", "warn" or "info".
type StatusIssue struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Peer describes a user or group in a channel directory.
type Peer struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
	Name string `json:"name"`
	Tag  string `json:"tag,omitempty"`
}

// AccountSnapshot is the status view of a single account.
type AccountSnapshot struct {
	AccountID       string     `json:"accountId"`
	Name            string     `json:"name,omitempty"`
	Enabled         bool       `json:"enabled"`
	Configured      bool       `json:"configured"`
	TokenSource     string     `json:"tokenSource"`
	Running         bool       `json:"running"`
	Connected       bool       `json:"connected"`
	LastConnectedAt *time.Time `json:"lastConnectedAt"`
	LastError       string     `json:"lastError,omitempty"`
	User            *Peer      `json:"user,omitempty"`
}

// ChannelSummary aggregates an account snapshot into the host's channel
// status listing.
type ChannelSummary struct {
	Configured      bool       `json:"configured"`
	TokenSource     string     `json:"tokenSource"`
	Running         bool       `json:"running"`
	Connected       bool       `json:"connected"`
	LastConnectedAt *time.Time `json:"lastConnectedAt"`
	LastError       string     `json:"lastError,omitempty"`
}

// DMPolicySpec tells the host how to gate direct-message senders for an
// account and where the allow list lives in the config tree.
type DMPolicySpec struct {
	Policy        string   `json:"policy"`
	AllowFrom     []string `json:"allowFrom"`
	AllowFromPath string   `json:"allowFromPath"`
	ApproveHint   string   `json:"approveHint"`
}

// Channel is the contract every channel integration implements. The
// host calls these directly; none of them may panic across the
// boundary.
type Channel interface {
	ID() string
	Meta() Meta
	Capabilities() Capabilities

	ListAccountIDs() []string
	DefaultAccountID() string

	StartAccount(ctx context.Context, accountID string) error
	StopAccount(accountID string) error

	SendText(ctx context.Context, accountID, to, text, replyToID string) SendResult
	SendMedia(ctx context.Context, accountID, to, text, mediaURL, replyToID string) SendResult

	ListActions() []string
	SupportsAction(action string) bool
	HandleAction(ctx context.Context, accountID, action string, params map[string]any) ActionResult
}
