// Package actions runs the scrape, csv and build phases in their fixed order.
package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Action is one phase of a run.
type Action string

const (
	Scrape Action = "scrape"
	CSV    Action = "csv"
	Build  Action = "build"
)

// canonicalOrder is the order actions always run in.
var canonicalOrder = []Action{Scrape, CSV, Build}

var (
	// ErrUnknownAction is returned for a token outside {scrape, csv, build}.
	ErrUnknownAction = errors.New("unknown action")
	// ErrNoActions is returned when a run is requested with an empty set.
	ErrNoActions = errors.New("no actions given")
	// ErrNotImplemented is returned by the build action.
	ErrNotImplemented = errors.New("not implemented")
)

// All returns every action in execution order.
func All() []Action {
	out := make([]Action, len(canonicalOrder))
	copy(out, canonicalOrder)
	return out
}

// Set is an unordered collection of actions.
type Set struct {
	members map[Action]struct{}
}

// ParseSet builds a Set from command-line tokens. Tokens are case-insensitive
// and duplicates are ignored.
func ParseSet(tokens []string) (Set, error) {
	set := Set{members: make(map[Action]struct{}, len(tokens))}
	for _, token := range tokens {
		a := Action(strings.ToLower(strings.TrimSpace(token)))
		if !a.valid() {
			return Set{}, fmt.Errorf("%w %q (valid: scrape, csv, build)", ErrUnknownAction, token)
		}
		set.members[a] = struct{}{}
	}
	return set, nil
}

// Has reports whether a is in the set.
func (s Set) Has(a Action) bool {
	_, ok := s.members[a]
	return ok
}

// Len returns the number of distinct actions.
func (s Set) Len() int {
	return len(s.members)
}

// Ordered returns the members in execution order: scrape, csv, build.
func (s Set) Ordered() []Action {
	var out []Action
	for _, a := range canonicalOrder {
		if s.Has(a) {
			out = append(out, a)
		}
	}
	return out
}

func (a Action) valid() bool {
	for _, known := range canonicalOrder {
		if a == known {
			return true
		}
	}
	return false
}

// Handler performs one action.
type Handler func(ctx context.Context) error

// Sequencer dispatches actions to handlers in canonical order.
type Sequencer struct {
	handlers map[Action]Handler
}

// NewSequencer copies handlers into an immutable lookup table. Every action
// must have a handler.
func NewSequencer(handlers map[Action]Handler) (*Sequencer, error) {
	table := make(map[Action]Handler, len(canonicalOrder))
	for _, a := range canonicalOrder {
		h, ok := handlers[a]
		if !ok || h == nil {
			return nil, fmt.Errorf("no handler for action %q", a)
		}
		table[a] = h
	}
	return &Sequencer{handlers: table}, nil
}

// Run executes the actions in set, stopping at the first failure.
func (s *Sequencer) Run(ctx context.Context, set Set) error {
	if set.Len() == 0 {
		return ErrNoActions
	}
	for _, a := range set.Ordered() {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		slog.Info("action started", slog.String("action", string(a)))
		if err := s.handlers[a](ctx); err != nil {
			return fmt.Errorf("%s: %w", a, err)
		}
		slog.Info("action finished",
			slog.String("action", string(a)),
			slog.Duration("elapsed", time.Since(start)),
		)
	}
	return nil
}
