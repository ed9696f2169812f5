// Package enforce evaluates a contract rule's usage-control pattern
// against the current request context and returns an allow/deny decision
// with a machine-checkable reason. The engine is fail-closed: absence of
// an explicit permission is never an implicit grant.
package enforce

import (
	"context"
	"log/slog"
	"time"

	"github.com/datasphere-labs/connector/pkg/contracts"
	"github.com/datasphere-labs/connector/pkg/policy"
)

// UsageCounter tracks per-rule usage. CheckAndIncrement must be atomic:
// concurrent attempts against the same rule must never both succeed past
// the limit.
type UsageCounter interface {
	// CheckAndIncrement increments the rule's counter iff it is below
	// max, returning the resulting count and whether the slot was
	// granted.
	CheckAndIncrement(ctx context.Context, ruleID string, max int64) (int64, bool, error)
}

// RequestContext carries the request-time facts relevant to enforcement.
type RequestContext struct {
	Consumer string
	Profile  policy.Profile
	Now      time.Time // zero means wall-clock now
}

// Engine is the policy enforcement engine.
type Engine struct {
	counter UsageCounter
	logger  *slog.Logger
	clock   func() time.Time
}

// NewEngine creates an engine over the given usage counter.
func NewEngine(counter UsageCounter, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{counter: counter, logger: logger, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// Decide computes the enforcement decision for one access attempt.
// Decisions are computed fresh per call and never cached. The returned
// error is non-nil only when the usage-counter backend fails; the
// decision is a deny in that case regardless.
func (e *Engine) Decide(ctx context.Context, rule *contracts.Rule, req RequestContext) (policy.Decision, error) {
	if rule == nil || len(rule.Definition) == 0 {
		return policy.Denied(policy.ReasonNoPolicy), nil
	}

	pattern, err := policy.Parse(rule.Definition)
	if err != nil {
		// An unparseable definition means the rule has no valid policy.
		e.logger.Warn("rule definition unparsable, denying",
			"rule", rule.ID, "error", err)
		return policy.Denied(policy.ReasonNoPolicy), nil
	}

	now := req.Now
	if now.IsZero() {
		now = e.clock()
	}
	evalCtx := policy.Context{
		Now:         now,
		RuleCreated: rule.CreatedAt,
		Consumer:    req.Consumer,
		Profile:     req.Profile,
	}

	// Count-based patterns go through the atomic counter: the check and
	// the increment must be one operation per rule.
	if pattern.Kind == policy.KindUsageCount {
		count, granted, err := e.counter.CheckAndIncrement(ctx, rule.ID, pattern.MaxCount)
		if err != nil {
			e.logger.Error("usage counter unavailable, denying",
				"rule", rule.ID, "error", err)
			return policy.Denied(policy.ReasonCountExceeded), err
		}
		if !granted {
			return policy.Denied(policy.ReasonCountExceeded), nil
		}
		e.logger.Debug("usage slot granted", "rule", rule.ID, "count", count, "max", pattern.MaxCount)
		return policy.Allowed(), nil
	}

	decision := pattern.Evaluate(evalCtx)
	if !decision.Allow {
		e.logger.Info("access denied by policy",
			"rule", rule.ID, "pattern", string(pattern.Kind), "reason", decision.Reason)
	}
	return decision, nil
}
