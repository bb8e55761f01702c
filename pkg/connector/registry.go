// Copyright 2024-2026 Aiku AI

package connector

import (
	"sync"
	"time"
)

// accountRuntime is the live state of one started account: the gateway
// client plus connection bookkeeping updated from event handlers.
type accountRuntime struct {
	client *DiscordClient

	mu              sync.Mutex
	running         bool
	connected       bool
	lastConnectedAt *time.Time
	lastError       string
	self            *SelfUser
}

func (rt *accountRuntime) markRunning(running bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.running = running
	if !running {
		rt.connected = false
	}
}

func (rt *accountRuntime) markConnected(self *SelfUser) {
	now := time.Now().UTC()
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.connected = true
	rt.lastConnectedAt = &now
	rt.lastError = ""
	if self != nil {
		rt.self = self
	}
}

func (rt *accountRuntime) markDisconnected() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.connected = false
}

func (rt *accountRuntime) recordError(err error) {
	if err == nil {
		return
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.lastError = err.Error()
}

// snapshot copies the bookkeeping fields under the lock.
func (rt *accountRuntime) snapshot() (running, connected bool, lastConnectedAt *time.Time, lastError string, self *SelfUser) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.lastConnectedAt != nil {
		t := *rt.lastConnectedAt
		lastConnectedAt = &t
	}
	return rt.running, rt.connected, lastConnectedAt, rt.lastError, rt.self
}

// Registry tracks the runtime state of started accounts. It is an
// explicit object owned by the connector, not package-global state, so
// independent connector instances never share sessions.
type Registry struct {
	mu       sync.RWMutex
	accounts map[string]*accountRuntime
}

func NewRegistry() *Registry {
	return &Registry{accounts: make(map[string]*accountRuntime)}
}

// Get returns the runtime for accountID, or nil when the account was
// never started.
func (r *Registry) Get(accountID string) *accountRuntime {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.accounts[accountID]
}

// Client returns the live client for accountID, or nil when the account
// has no running session.
func (r *Registry) Client(accountID string) *DiscordClient {
	rt := r.Get(accountID)
	if rt == nil {
		return nil
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if !rt.running {
		return nil
	}
	return rt.client
}

// Put registers the runtime for accountID, replacing any previous
// entry. The caller is responsible for stopping a replaced client.
func (r *Registry) Put(accountID string, rt *accountRuntime) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[accountID] = rt
}

// Remove deletes and returns the runtime for accountID.
func (r *Registry) Remove(accountID string) *accountRuntime {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt := r.accounts[accountID]
	delete(r.accounts, accountID)
	return rt
}

// Drain empties the registry and returns all runtimes, for shutdown.
func (r *Registry) Drain() map[string]*accountRuntime {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.accounts
	r.accounts = make(map[string]*accountRuntime)
	return out
}

// IDs lists the account IDs currently tracked.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.accounts)
}
