// Copyright 2024-2026 Aiku AI

// Package connector implements the discord-user channel integration: it
// runs a chatbot agent on a personal Discord account over the user
// gateway and bridges inbound messages into the host's channel-plugin
// contract.
//
// The package has three layers. The policy layer (ids.go, policy.go,
// config.go) is pure: identifier normalization, layered account
// resolution with token provenance, and the guild/channel access gate
// that decides whether an inbound message may reach the agent. The
// session layer (client.go, registry.go, history.go) wraps one
// bwmarrin/discordgo session per started account behind a narrow REST
// interface. The bridge layer (connector.go, handlediscord.go,
// actions.go, status.go) implements plugin.Channel on top of both:
// inbound gating and dispatch, outbound sends, the administrative
// action table, and operator status surfaces.
//
// Access control fails closed: malformed identifiers, unknown guilds
// under an allowlist policy, and missing configuration all resolve to
// deny. Account configuration is re-resolved on every inbound message,
// so config edits apply without restarting sessions.
package connector
