// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package unit

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/warden/lib/access"
	"github.com/bureau-foundation/warden/lib/executor"
	"github.com/bureau-foundation/warden/lib/guard"
	"github.com/bureau-foundation/warden/lib/principal"
)

// Handler is an entrypoint body. args and the result are opaque to the
// unit.
type Handler func(call *Call, args any) (any, error)

type entrypoint struct {
	chain   *guard.Chain
	handler Handler
}

// liveState forwards guard checks to the unit's current access and
// pause state, which only exist once the unit has started.
type liveState struct{ unit *Unit }

func (s liveState) RequireCapability(caller principal.Principal, capability access.Capability) error {
	state := s.unit.Access()
	if state == nil {
		return ErrNotReady
	}
	return state.RequireCapability(caller, capability)
}

func (s liveState) WhenNotPaused() error {
	state := s.unit.Pause()
	if state == nil {
		return ErrNotReady
	}
	return state.WhenNotPaused()
}

func (s liveState) WhenPaused() error {
	state := s.unit.Pause()
	if state == nil {
		return ErrNotReady
	}
	return state.WhenPaused()
}

// Register adds an entrypoint. guards are compiled once here and
// applied to every external and internal call of name.
func (u *Unit) Register(name string, guards []string, handler Handler) error {
	if name == "" {
		return fmt.Errorf("unit: entrypoint name is empty")
	}
	if handler == nil {
		return fmt.Errorf("unit: entrypoint %s has no handler", name)
	}
	state := liveState{unit: u}
	chain, err := guard.Compile(&guard.Env{
		Access:     state,
		Pause:      state,
		Reentrancy: u.reentrancy,
		Metrics:    u.options.Metrics,
		Logger:     u.logger,
	}, name, guards)
	if err != nil {
		return fmt.Errorf("unit: %w", err)
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if _, exists := u.entrypoints[name]; exists {
		return fmt.Errorf("unit: entrypoint %s already registered", name)
	}
	u.entrypoints[name] = &entrypoint{chain: chain, handler: handler}
	u.logger.Debug("entrypoint registered", "entrypoint", name, "guards", guards)
	return nil
}

// Entrypoints returns the registered guard chains keyed by name.
func (u *Unit) Entrypoints() map[string][]guard.Spec {
	u.mu.RLock()
	defer u.mu.RUnlock()
	result := make(map[string][]guard.Spec, len(u.entrypoints))
	for name, entry := range u.entrypoints {
		result[name] = entry.chain.Guards()
	}
	return result
}

func (u *Unit) lookup(name string) (*entrypoint, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if !u.ready {
		return nil, ErrNotReady
	}
	entry, ok := u.entrypoints[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntrypoint, name)
	}
	return entry, nil
}

// Call runs an external call of entrypoint name on behalf of caller.
// It waits for the execution slot, evaluates the entrypoint's guards,
// and runs the handler. A rejected call returns a *guard.RejectedError.
func (u *Unit) Call(ctx context.Context, caller principal.Principal, name string, args any) (any, error) {
	entry, err := u.lookup(name)
	if err != nil {
		return nil, err
	}
	var result any
	err = u.executor.Run(ctx, func(ctx context.Context, task *executor.Task) error {
		call := &Call{ctx: ctx, unit: u, task: task, caller: caller, entrypoint: name}
		var callErr error
		result, callErr = call.run(entry, args)
		return callErr
	})
	return result, err
}

// Call is the context of one running entrypoint.
type Call struct {
	ctx        context.Context
	unit       *Unit
	task       *executor.Task
	caller     principal.Principal
	entrypoint string
}

func (c *Call) run(entry *entrypoint, args any) (any, error) {
	var result any
	err := entry.chain.Run(c.caller, func() error {
		var err error
		result, err = entry.handler(c, args)
		return err
	})
	return result, err
}

// Context returns the call's context.
func (c *Call) Context() context.Context { return c.ctx }

// Caller returns the principal the call runs on behalf of.
func (c *Call) Caller() principal.Principal { return c.caller }

// Entrypoint returns the name of the running entrypoint.
func (c *Call) Entrypoint() string { return c.entrypoint }

// Unit returns the unit the call runs in.
func (c *Call) Unit() *Unit { return c.unit }

// Invoke calls another entrypoint from inside this one, on behalf of
// the same caller. The target's guards apply exactly as for an
// external call; in particular a target sharing a held reentrancy
// group is rejected.
func (c *Call) Invoke(name string, args any) (any, error) {
	entry, err := c.unit.lookup(name)
	if err != nil {
		return nil, err
	}
	inner := &Call{ctx: c.ctx, unit: c.unit, task: c.task, caller: c.caller, entrypoint: name}
	return inner.run(entry, args)
}

// Await suspends the call while fn runs, letting other calls execute.
// Reentrancy locks taken by this call stay held across the suspension.
func (c *Call) Await(fn func(ctx context.Context) error) error {
	return c.task.Await(c.ctx, fn)
}
