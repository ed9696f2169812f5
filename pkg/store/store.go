// Package store is the persistence collaborator for contract rules,
// agreements, and per-rule usage counters. Soft deletion is an explicit
// status column filtered here — callers never rely on hidden query-time
// filtering.
package store

import (
	"context"
	"errors"

	"github.com/datasphere-labs/connector/pkg/contracts"
)

// ErrNotFound is returned when an entity does not exist (or is
// superseded, for rule lookups).
var ErrNotFound = errors.New("store: not found")

// ErrAlreadyConfirmed is returned on a second confirmation attempt; an
// agreement confirms exactly once.
var ErrAlreadyConfirmed = errors.New("store: agreement already confirmed")

// RuleStore persists contract rules.
type RuleStore interface {
	// LoadRule returns the active rule with the given id.
	LoadRule(ctx context.Context, id string) (*contracts.Rule, error)
	// SaveRule persists a new rule version.
	SaveRule(ctx context.Context, rule *contracts.Rule) error
	// SupersedeRule marks a rule superseded. The record is kept.
	SupersedeRule(ctx context.Context, id string) error
}

// AgreementStore persists negotiation outcomes.
type AgreementStore interface {
	SaveAgreement(ctx context.Context, a *contracts.Agreement) error
	// ConfirmAgreement flips the confirmed flag true, exactly once.
	ConfirmAgreement(ctx context.Context, id string) error
	GetAgreement(ctx context.Context, id string) (*contracts.Agreement, error)
}
