// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package passkey

import (
	"context"
	"sync"
)

// MemorySessionBinder is an in-memory SessionBinder that records the last
// bound identity. This is intended for development and testing; a real
// deployment binds into its session/cookie layer via SessionBinderFunc or
// its own implementation.
type MemorySessionBinder struct {
	mu            sync.RWMutex
	authenticated bool
	userID        string
	username      string
}

// NewMemorySessionBinder creates a new in-memory session binder.
func NewMemorySessionBinder() *MemorySessionBinder {
	return &MemorySessionBinder{}
}

// BindAuthenticated marks the session authenticated as the given user.
func (b *MemorySessionBinder) BindAuthenticated(ctx context.Context, userID, username string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.authenticated = true
	b.userID = userID
	b.username = username
	return nil
}

// Authenticated reports whether an identity has been bound.
func (b *MemorySessionBinder) Authenticated() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.authenticated
}

// Identity returns the bound user ID and username.
func (b *MemorySessionBinder) Identity() (string, string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.userID, b.username
}

// Clear resets the binder to the unauthenticated state (logout).
func (b *MemorySessionBinder) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.authenticated = false
	b.userID = ""
	b.username = ""
}
