// Package ingest turns candidates found under a tag into stored releases and
// deliveries, one tag at a time.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tagwatch/internal/components/assert"
	"tagwatch/internal/components/chrono"
	"tagwatch/internal/release"
	"tagwatch/internal/store"
)

// ErrNoIdentity is returned for a candidate that has neither a link nor a slug.
var ErrNoIdentity = errors.New("candidate has no identity")

type Outcome int

const (
	// OutcomeKnown means the identity is already in the store, in any state.
	OutcomeKnown Outcome = iota
	OutcomeNew
	// OutcomeBlacklisted is a new identity seen under a blacklisted tag.
	OutcomeBlacklisted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeKnown:
		return "known"
	case OutcomeNew:
		return "new"
	case OutcomeBlacklisted:
		return "blacklisted"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

type Classification struct {
	Outcome Outcome
	// Release is only set when the outcome is not OutcomeKnown.
	Release release.Release
}

// Engine decides whether a candidate is new, already known or blacklisted.
type Engine struct {
	store     store.Store
	time      chrono.TimeAPI
	blacklist map[string]struct{}
}

func NewEngine(s store.Store, clock chrono.TimeAPI, blacklist []string) Engine {
	assert.NotNil(s, "store")
	assert.NotNil(clock, "clock")

	set := make(map[string]struct{}, len(blacklist))
	for _, tag := range blacklist {
		set[normalizeTag(tag)] = struct{}{}
	}
	return Engine{
		store:     s,
		time:      clock,
		blacklist: set,
	}
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

func (e Engine) IsBlacklisted(tag string) bool {
	_, ok := e.blacklist[normalizeTag(tag)]
	return ok
}

func (e Engine) Classify(ctx context.Context, tag string, rec release.RawRecord) (Classification, error) {
	identity := release.Identity(rec)
	if identity == "" {
		return Classification{}, ErrNoIdentity
	}

	exists, err := e.store.Exists(ctx, identity)
	if err != nil {
		return Classification{}, err
	}
	if exists {
		return Classification{Outcome: OutcomeKnown}, nil
	}

	blacklisted := e.IsBlacklisted(tag)
	outcome := OutcomeNew
	if blacklisted {
		outcome = OutcomeBlacklisted
	}
	return Classification{
		Outcome: outcome,
		Release: release.New(rec, tag, blacklisted, e.time.Now()),
	}, nil
}
