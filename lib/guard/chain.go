// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package guard

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/bureau-foundation/warden/lib/access"
	"github.com/bureau-foundation/warden/lib/principal"
	"github.com/bureau-foundation/warden/lib/reentrancy"
)

// Authorizer checks a caller's capability. *access.State implements it.
type Authorizer interface {
	RequireCapability(caller principal.Principal, capability access.Capability) error
}

// PauseState reports the pause switch. *pausable.State implements it.
type PauseState interface {
	WhenNotPaused() error
	WhenPaused() error
}

// Env is the unit state guards are evaluated against.
type Env struct {
	Access     Authorizer
	Pause      PauseState
	Reentrancy *reentrancy.Guard
	Metrics    *Metrics
	Logger     *slog.Logger
}

// check evaluates one guard. A non-nil release must be called when the
// guarded body finishes.
type check func(caller principal.Principal) (release func(), err error)

type step struct {
	name  string
	check check
}

// Chain is the compiled guard chain of one entrypoint.
type Chain struct {
	entrypoint string
	specs      []Spec
	steps      []step
	metrics    *Metrics
	logger     *slog.Logger
}

// Compile parses names and binds them to env in the order access,
// pause, reentrancy. Listing a guard twice, or both not-paused and
// when-paused, is an error.
func Compile(env *Env, entrypoint string, names []string) (*Chain, error) {
	logger := env.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	specs := make([]Spec, 0, len(names))
	seen := make(map[string]bool, len(names))
	var pause pauseMode
	for _, name := range names {
		spec, err := Parse(name)
		if err != nil {
			return nil, fmt.Errorf("entrypoint %s: %w", entrypoint, err)
		}
		if seen[name] {
			return nil, fmt.Errorf("entrypoint %s: guard %q listed twice", entrypoint, name)
		}
		seen[name] = true
		if spec.pause != 0 {
			if pause != 0 {
				return nil, fmt.Errorf("entrypoint %s: not-paused and when-paused are exclusive", entrypoint)
			}
			pause = spec.pause
		}
		specs = append(specs, spec)
	}
	slices.SortStableFunc(specs, func(a, b Spec) int { return int(a.Stage) - int(b.Stage) })

	chain := &Chain{
		entrypoint: entrypoint,
		specs:      specs,
		metrics:    env.Metrics,
		logger:     logger.With("entrypoint", entrypoint),
	}
	for _, spec := range specs {
		bound, err := bind(env, spec)
		if err != nil {
			return nil, fmt.Errorf("entrypoint %s: %w", entrypoint, err)
		}
		chain.steps = append(chain.steps, step{name: spec.Name, check: bound})
	}
	return chain, nil
}

func bind(env *Env, spec Spec) (check, error) {
	switch spec.Stage {
	case StageAccess:
		if env.Access == nil {
			return nil, fmt.Errorf("guard %s needs access control state", spec.Name)
		}
		capability := spec.capability
		return func(caller principal.Principal) (func(), error) {
			return nil, env.Access.RequireCapability(caller, capability)
		}, nil
	case StagePause:
		if env.Pause == nil {
			return nil, fmt.Errorf("guard %s needs pause state", spec.Name)
		}
		if spec.pause == requirePaused {
			return func(principal.Principal) (func(), error) {
				return nil, env.Pause.WhenPaused()
			}, nil
		}
		return func(principal.Principal) (func(), error) {
			return nil, env.Pause.WhenNotPaused()
		}, nil
	case StageReentrancy:
		if env.Reentrancy == nil {
			return nil, fmt.Errorf("guard %s needs a reentrancy guard", spec.Name)
		}
		group := spec.group
		return func(principal.Principal) (func(), error) {
			lock, err := env.Reentrancy.Enter(group)
			if err != nil {
				return nil, err
			}
			return lock.Release, nil
		}, nil
	default:
		return nil, fmt.Errorf("guard %s: unknown stage %s", spec.Name, spec.Stage)
	}
}

// Entrypoint returns the name the chain was compiled for.
func (c *Chain) Entrypoint() string { return c.entrypoint }

// Guards returns the parsed guards in evaluation order.
func (c *Chain) Guards() []Spec { return slices.Clone(c.specs) }

// Run evaluates the guards for caller and, if all pass, runs body.
// Locks taken by reentrancy guards are released when body returns or
// panics, in reverse order of acquisition.
func (c *Chain) Run(caller principal.Principal, body func() error) error {
	var releases []func()
	defer func() {
		for _, release := range slices.Backward(releases) {
			release()
		}
	}()

	for _, step := range c.steps {
		release, err := step.check(caller)
		if err != nil {
			c.logger.Debug("guard rejected call",
				"guard", step.name,
				"caller", caller.String(),
				"error", err,
			)
			c.metrics.rejected(c.entrypoint, step.name)
			return &RejectedError{Entrypoint: c.entrypoint, Guard: step.name, Err: err}
		}
		if release != nil {
			releases = append(releases, release)
		}
	}

	start := time.Now()
	returned := false
	defer func() {
		outcome := outcomeAllowed
		if !returned {
			outcome = outcomePanicked
		}
		c.metrics.finished(c.entrypoint, outcome, time.Since(start))
	}()
	err := body()
	returned = true
	return err
}
