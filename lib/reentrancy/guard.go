// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reentrancy

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// ErrEmptyGroup is returned by Enter for the empty group name.
var ErrEmptyGroup = errors.New("reentrancy: lock group name is empty")

// ReentrantCallError reports an attempt to enter a group that is
// already held.
type ReentrantCallError struct {
	Group string
}

func (e *ReentrantCallError) Error() string {
	return fmt.Sprintf("reentrancy: lock group %q is already held", e.Group)
}

// IsReentrantCall reports whether err is or wraps a ReentrantCallError.
func IsReentrantCall(err error) bool {
	var target *ReentrantCallError
	return errors.As(err, &target)
}

// Guard holds the lock state of every group for one unit. The zero
// value is not usable; call New.
type Guard struct {
	mu     sync.Mutex
	held   map[string]struct{}
	logger *slog.Logger
}

// New returns a Guard with every group idle.
func New(logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Guard{
		held:   make(map[string]struct{}),
		logger: logger,
	}
}

// Enter locks group. The returned Lock must be released on every exit
// path, normally with defer.
func (g *Guard) Enter(group string) (*Lock, error) {
	if group == "" {
		return nil, ErrEmptyGroup
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, held := g.held[group]; held {
		g.logger.Debug("reentrant call rejected", "group", group)
		return nil, &ReentrantCallError{Group: group}
	}
	g.held[group] = struct{}{}
	return &Lock{guard: g, group: group}, nil
}

// Locked reports whether group is currently held.
func (g *Guard) Locked(group string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, held := g.held[group]
	return held
}

// Held returns the names of all held groups, sorted.
func (g *Guard) Held() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	groups := make([]string, 0, len(g.held))
	for group := range g.held {
		groups = append(groups, group)
	}
	slices.Sort(groups)
	return groups
}

func (g *Guard) release(group string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.held, group)
}

// Lock is a held lock group.
type Lock struct {
	guard *Guard
	group string
	once  sync.Once
}

// Group returns the name of the locked group.
func (l *Lock) Group() string { return l.group }

// Release returns the group to idle. Calls after the first have no
// effect, so a deferred Release is safe alongside an explicit one.
func (l *Lock) Release() {
	l.once.Do(func() { l.guard.release(l.group) })
}
