// Copyright 2024-2026 Aiku AI

package connector

import "errors"

// Sentinel errors surfaced across the action/bridge boundary. They are
// converted to structured results before reaching the host; nothing in
// this package is fatal to the host process.
var (
	// ErrInvalidIdentifier indicates malformed identifier text in a
	// context where the identifier is required. Policy-resolution code
	// never returns it; it falls back to deny instead.
	ErrInvalidIdentifier = errors.New("invalid Discord identifier")

	// ErrMissingParameter indicates an action was invoked without a
	// required field.
	ErrMissingParameter = errors.New("missing required parameter")

	// ErrNotRunning indicates an action or send targeted an account
	// with no live gateway session.
	ErrNotRunning = errors.New("discord user client not running")

	// ErrNoToken indicates an account start was attempted without a
	// resolvable token.
	ErrNoToken = errors.New("no Discord user token configured")

	// ErrNilDispatcher indicates the connector was constructed without
	// the host's inbound dispatcher. Inbound handling never degrades to
	// a silent no-op.
	ErrNilDispatcher = errors.New("inbound dispatcher must be provided")

	// ErrUnknownAction indicates the requested action is not in the
	// dispatch table.
	ErrUnknownAction = errors.New("action is not supported for discord-user")
)
