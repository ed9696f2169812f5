package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var (
	created = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

func TestProvideAccessAlwaysAllows(t *testing.T) {
	p := &Pattern{Kind: KindProvideAccess}
	assert.True(t, p.Evaluate(Context{}).Allow)
}

func TestProhibitAccessAlwaysDenies(t *testing.T) {
	p := &Pattern{Kind: KindProhibitAccess}
	d := p.Evaluate(Context{})
	assert.False(t, d.Allow)
	assert.Equal(t, ReasonProhibited, d.Reason)
}

func TestDurationBoundary(t *testing.T) {
	p := &Pattern{Kind: KindDuration, Duration: time.Hour}

	justInside := p.Evaluate(Context{RuleCreated: created, Now: created.Add(time.Hour - time.Second)})
	assert.True(t, justInside.Allow)

	atBound := p.Evaluate(Context{RuleCreated: created, Now: created.Add(time.Hour)})
	assert.True(t, atBound.Allow)

	justPast := p.Evaluate(Context{RuleCreated: created, Now: created.Add(time.Hour + time.Second)})
	assert.False(t, justPast.Allow)
	assert.Equal(t, ReasonExpired, justPast.Reason)
}

func TestIntervalBounds(t *testing.T) {
	p := &Pattern{
		Kind:      KindInterval,
		NotBefore: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		NotAfter:  time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
	}

	within := p.Evaluate(Context{Now: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)})
	assert.True(t, within.Allow)

	early := p.Evaluate(Context{Now: time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)})
	assert.Equal(t, ReasonOutOfInterval, early.Reason)

	late := p.Evaluate(Context{Now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)})
	assert.Equal(t, ReasonExpired, late.Reason)
}

func TestUsageCountComparesPriorUsage(t *testing.T) {
	p := &Pattern{Kind: KindUsageCount, MaxCount: 3}

	assert.True(t, p.Evaluate(Context{PriorUsage: 2}).Allow)
	denied := p.Evaluate(Context{PriorUsage: 3})
	assert.Equal(t, ReasonCountExceeded, denied.Reason)
}

func TestConnectorRestriction(t *testing.T) {
	p := &Pattern{Kind: KindConnectorRestricted, AllowedConnectors: []string{"https://a.example", "https://b.example"}}

	assert.True(t, p.Evaluate(Context{Consumer: "https://b.example"}).Allow)
	denied := p.Evaluate(Context{Consumer: "https://c.example"})
	assert.Equal(t, ReasonConnectorNotPermitted, denied.Reason)
}

func TestSecurityProfileOrdering(t *testing.T) {
	p := &Pattern{Kind: KindSecurityProfile, RequiredProfile: ProfileTrust}

	assert.True(t, p.Evaluate(Context{Profile: ProfileTrust}).Allow)
	assert.True(t, p.Evaluate(Context{Profile: ProfileTrustPlus}).Allow)

	base := p.Evaluate(Context{Profile: ProfileBase})
	assert.Equal(t, ReasonProfileInsufficient, base.Reason)

	// Unknown profiles rank below base.
	unknown := p.Evaluate(Context{Profile: Profile("SELF_DECLARED")})
	assert.Equal(t, ReasonProfileInsufficient, unknown.Reason)
}

func TestCustomPatternWithoutProgramDenies(t *testing.T) {
	// A Pattern literal never carries a compiled program; it must not grant.
	p := &Pattern{Kind: KindCustom, Expression: "true"}
	d := p.Evaluate(Context{})
	assert.Equal(t, ReasonNoPolicy, d.Reason)
}

func TestUnknownKindDenies(t *testing.T) {
	p := &Pattern{Kind: Kind("MYSTERY")}
	d := p.Evaluate(Context{})
	assert.False(t, d.Allow)
	assert.Equal(t, ReasonNoPolicy, d.Reason)
}
