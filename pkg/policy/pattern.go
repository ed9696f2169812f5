// Package policy models usage-control patterns: the parsed, typed
// representation of a contract rule's restriction logic. The pattern set
// is closed; classification and evaluation dispatch over an explicit kind
// tag, never open-ended discovery.
package policy

import (
	"time"

	"github.com/datasphere-labs/connector/pkg/canonicalize"
)

// Kind tags a pattern variant.
type Kind string

const (
	KindProvideAccess       Kind = "PROVIDE_ACCESS"
	KindProhibitAccess      Kind = "PROHIBIT_ACCESS"
	KindDuration            Kind = "DURATION_USAGE"
	KindInterval            Kind = "USAGE_DURING_INTERVAL"
	KindUsageCount          Kind = "N_TIMES_USAGE"
	KindConnectorRestricted Kind = "CONNECTOR_RESTRICTED_USAGE"
	KindSecurityProfile     Kind = "SECURITY_PROFILE_RESTRICTED_USAGE"
	KindCustom              Kind = "CUSTOM_CONSTRAINT"
)

// Deny reason codes. Machine-checkable; surfaced to requesters without
// leaking rule internals.
const (
	ReasonExpired               = "EXPIRED"
	ReasonOutOfInterval         = "OUT_OF_INTERVAL"
	ReasonCountExceeded         = "COUNT_EXCEEDED"
	ReasonConnectorNotPermitted = "CONNECTOR_NOT_PERMITTED"
	ReasonProfileInsufficient   = "PROFILE_INSUFFICIENT"
	ReasonProhibited            = "PROHIBITED"
	ReasonConstraintFailed      = "CONSTRAINT_FAILED"
	ReasonNoPolicy              = "NO_POLICY"
)

// Decision is an allow/deny verdict with a machine-checkable reason.
// Computed fresh per access attempt; never cached.
type Decision struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason,omitempty"`
}

// Allowed is the affirmative decision.
func Allowed() Decision { return Decision{Allow: true} }

// Denied constructs a deny decision with the given reason code.
func Denied(reason string) Decision { return Decision{Reason: reason} }

// Profile is an attested connector security profile. Profiles form a
// total order: base < trust < trust+. Unknown profiles rank below base
// and never satisfy a requirement.
type Profile string

const (
	ProfileBase      Profile = "BASE_SECURITY_PROFILE"
	ProfileTrust     Profile = "TRUST_SECURITY_PROFILE"
	ProfileTrustPlus Profile = "TRUST_PLUS_SECURITY_PROFILE"
)

var profileRank = map[Profile]int{
	ProfileBase:      0,
	ProfileTrust:     1,
	ProfileTrustPlus: 2,
}

// Satisfies reports whether p meets or exceeds the required profile.
func (p Profile) Satisfies(required Profile) bool {
	got, ok := profileRank[p]
	if !ok {
		return false
	}
	want, ok := profileRank[required]
	if !ok {
		return false
	}
	return got >= want
}

// Context carries the request-time facts a pattern is evaluated against.
type Context struct {
	Now         time.Time
	RuleCreated time.Time
	Consumer    string
	Profile     Profile
	PriorUsage  int64
}

// Pattern is one parsed usage-control pattern. Only the fields relevant
// to Kind are populated; the zero values of the rest are not meaningful.
type Pattern struct {
	Kind Kind `json:"kind"`

	Duration          time.Duration `json:"duration,omitempty"`
	NotBefore         time.Time     `json:"notBefore,omitempty"`
	NotAfter          time.Time     `json:"notAfter,omitempty"`
	MaxCount          int64         `json:"maxCount,omitempty"`
	AllowedConnectors []string      `json:"allowedConnectors,omitempty"`
	RequiredProfile   Profile       `json:"requiredProfile,omitempty"`
	Expression        string        `json:"expression,omitempty"`

	program celProgram
}

// Fingerprint returns a canonical content hash of the pattern. Two parses
// of the same definition produce equal fingerprints.
func (p *Pattern) Fingerprint() (string, error) {
	return canonicalize.CanonicalHash(p)
}

// Evaluate judges the pattern against the request context. Pure; no I/O.
// The usage-count variant compares against ctx.PriorUsage — the engine,
// not the pattern, owns the atomic increment.
func (p *Pattern) Evaluate(ctx Context) Decision {
	switch p.Kind {
	case KindProvideAccess:
		return Allowed()

	case KindProhibitAccess:
		return Denied(ReasonProhibited)

	case KindDuration:
		if ctx.Now.After(ctx.RuleCreated.Add(p.Duration)) {
			return Denied(ReasonExpired)
		}
		return Allowed()

	case KindInterval:
		if ctx.Now.Before(p.NotBefore) {
			return Denied(ReasonOutOfInterval)
		}
		if ctx.Now.After(p.NotAfter) {
			return Denied(ReasonExpired)
		}
		return Allowed()

	case KindUsageCount:
		if ctx.PriorUsage >= p.MaxCount {
			return Denied(ReasonCountExceeded)
		}
		return Allowed()

	case KindConnectorRestricted:
		for _, id := range p.AllowedConnectors {
			if id == ctx.Consumer {
				return Allowed()
			}
		}
		return Denied(ReasonConnectorNotPermitted)

	case KindSecurityProfile:
		if !ctx.Profile.Satisfies(p.RequiredProfile) {
			return Denied(ReasonProfileInsufficient)
		}
		return Allowed()

	case KindCustom:
		return p.evaluateExpression(ctx)
	}

	// Unknown kinds cannot grant anything.
	return Denied(ReasonNoPolicy)
}
